// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package monitor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Client issues monitor commands against a fixed address. Every command runs
// in its own session: connect, prompt, command, completion prompt, close.
type Client struct {
	addr string
	opts Options
}

// NewClient targets the monitor listening on 127.0.0.1:port.
func NewClient(port int, opts Options) *Client {
	return &Client{
		addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		opts: opts.normalized(),
	}
}

// Addr returns the dialed address.
func (c *Client) Addr() string {
	return c.addr
}

// Execute runs command in a fresh session.
func (c *Client) Execute(ctx context.Context, command string, wait bool) (string, error) {
	conn, err := Dial(ctx, c.addr, c.opts)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.Execute(ctx, command, wait)
}

// Pause halts guest vCPUs.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.Execute(ctx, "stop", true)
	return err
}

// SaveSnapshot records a full VM snapshot under name inside the writable disk.
func (c *Client) SaveSnapshot(ctx context.Context, name string) error {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("monitor: invalid snapshot name %q", name)
	}
	_, err := c.Execute(ctx, "savevm "+name, true)
	return err
}

// Commit flushes pending writes of every block device to its backing image.
func (c *Client) Commit(ctx context.Context) error {
	_, err := c.Execute(ctx, "commit all", true)
	return err
}

// Quit asks QEMU to exit without waiting for a reply.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Execute(ctx, "quit", false)
	return err
}
