// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package monitor speaks the QEMU human monitor protocol (HMP) over loopback TCP.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Prompt is the token QEMU prints when it is ready for the next command.
const Prompt = "(qemu)"

var (
	// ErrUnavailable is returned when the monitor cannot be reached within the dial policy.
	ErrUnavailable = errors.New("monitor: control channel unavailable")
	// ErrProtocol wraps socket failures and unexpected stream endings.
	ErrProtocol = errors.New("monitor: control channel failure")
	// ErrCommandFailed is returned when QEMU answers a command with an error line.
	ErrCommandFailed = errors.New("monitor: command failed")
)

// Options is the dial and command policy.
type Options struct {
	ConnectAttempts int
	RetryInterval   time.Duration
	// CommandTimeout bounds each read-until-prompt. A ctx deadline that is sooner wins.
	CommandTimeout time.Duration
	// NoWaitReadTimeout bounds the single read performed for fire-and-forget commands.
	NoWaitReadTimeout time.Duration
}

// DefaultOptions retries for roughly ten seconds.
func DefaultOptions() Options {
	return Options{
		ConnectAttempts:   40,
		RetryInterval:     250 * time.Millisecond,
		CommandTimeout:    10 * time.Minute,
		NoWaitReadTimeout: 2 * time.Second,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = d.ConnectAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.NoWaitReadTimeout <= 0 {
		o.NoWaitReadTimeout = d.NoWaitReadTimeout
	}
	return o
}

// Conn is a single monitor session. It is not safe for concurrent use.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options
	banner string
}

// Dial connects to addr, retrying refused connections per opts, and consumes
// output up to the first prompt.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.normalized()

	var (
		dialer  net.Dialer
		lastErr error
	)
	for attempt := 1; attempt <= opts.ConnectAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			c := &Conn{conn: conn, reader: bufio.NewReader(conn), opts: opts}
			banner, err := c.readUntilPrompt(ctx)
			if err != nil {
				_ = conn.Close()
				return nil, err
			}
			c.banner = banner
			return c, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == opts.ConnectAttempts {
			break
		}
		timer := time.NewTimer(opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, addr, opts.ConnectAttempts, lastErr)
}

// Banner returns the text QEMU printed before the first prompt.
func (c *Conn) Banner() string {
	return c.banner
}

// Execute sends command. With wait it blocks until QEMU prints the next prompt
// and returns the output in between. Without wait it performs one bounded read
// and returns; EOF, reset and timeout are expected there because the remote
// side may already be exiting.
func (c *Conn) Execute(ctx context.Context, command string, wait bool) (string, error) {
	if strings.ContainsAny(command, "\r\n") {
		return "", fmt.Errorf("monitor: command %q must be a single line", command)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.SetWriteDeadline(c.deadline(ctx, c.opts.CommandTimeout)); err != nil {
		return "", fmt.Errorf("%w: set write deadline: %v", ErrProtocol, err)
	}
	if _, err := io.WriteString(c.conn, command+"\n"); err != nil {
		return "", c.wrapIOError(ctx, "write "+command, err)
	}

	if !wait {
		c.readOnce(ctx)
		return "", nil
	}

	out, err := c.readUntilPrompt(ctx)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), command))
	if line, ok := errorLine(out); ok {
		return out, fmt.Errorf("%w: %s: %s", ErrCommandFailed, command, line)
	}
	return out, nil
}

// Close ends the session.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) readUntilPrompt(ctx context.Context) (string, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx, c.opts.CommandTimeout)); err != nil {
		return "", fmt.Errorf("%w: set read deadline: %v", ErrProtocol, err)
	}
	var buf strings.Builder
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return buf.String(), c.wrapIOError(ctx, "read until prompt", err)
		}
		buf.WriteByte(b)
		if b == ')' && strings.HasSuffix(buf.String(), Prompt) {
			return strings.TrimSuffix(buf.String(), Prompt), nil
		}
	}
}

func (c *Conn) readOnce(ctx context.Context) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx, c.opts.NoWaitReadTimeout)); err != nil {
		return
	}
	scratch := make([]byte, 4096)
	_, _ = c.reader.Read(scratch)
}

func (c *Conn) deadline(ctx context.Context, limit time.Duration) time.Time {
	deadline := time.Now().Add(limit)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func (c *Conn) wrapIOError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("monitor: %s: %w", op, ctxErr)
	}
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %s: connection closed by qemu", ErrProtocol, op)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %s: timed out after %s", ErrProtocol, op, c.opts.CommandTimeout)
	case errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: %s: connection reset", ErrProtocol, op)
	default:
		return fmt.Errorf("%w: %s: %v", ErrProtocol, op, err)
	}
}

func errorLine(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Error") {
			return line, true
		}
	}
	return "", false
}
