// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package qemu starts qemu-system processes for reanaconda handles.
package qemu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/volantvm/reanaconda/internal/orchestrator/runtime"
)

const (
	defaultStopGrace = 30 * time.Second
	netdevID         = "net0"
)

// Launcher knows how to start QEMU with a monitor and a guest forward.
type Launcher struct {
	Binary string
	// ForwardHelper is the host command QEMU spawns per guest connection; it
	// is given the loopback address and responder port.
	ForwardHelper string
	Stdin         io.Reader
	Stdout        io.Writer
	Stderr        io.Writer
	StopGrace     time.Duration
	Logger        *slog.Logger
}

// New returns a Launcher that inherits the terminal for QEMU output.
func New(binary, forwardHelper string, logger *slog.Logger) *Launcher {
	return &Launcher{
		Binary:        binary,
		ForwardHelper: forwardHelper,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		StopGrace:     defaultStopGrace,
		Logger:        logger,
	}
}

// Args returns the full argv (without the binary) for spec using monitorPort.
func (l *Launcher) Args(spec runtime.LaunchSpec, monitorPort int) []string {
	args := slices.Clone(spec.Args)
	args = append(args,
		"-monitor", fmt.Sprintf("tcp:127.0.0.1:%d,server,nowait,nodelay", monitorPort),
		"-device", "virtio-net,netdev="+netdevID,
		"-netdev", fmt.Sprintf("user,id=%s,guestfwd=%s", netdevID, l.guestForward(spec.Forward)),
	)
	if spec.LoadSnapshot != "" {
		args = append(args, "-loadvm", spec.LoadSnapshot)
	}
	return args
}

func (l *Launcher) guestForward(fwd runtime.Forward) string {
	guestAddr := fwd.GuestAddr
	if guestAddr == "" {
		guestAddr = runtime.DefaultGuestAddr
	}
	guestPort := fwd.GuestPort
	if guestPort == 0 {
		guestPort = 80
	}
	helper := l.ForwardHelper
	if helper == "" {
		helper = "nc"
	}
	return fmt.Sprintf("tcp:%s:%d-cmd:%s 127.0.0.1 %d", guestAddr, guestPort, helper, fwd.HostPort)
}

// Launch starts a QEMU process for spec.
func (l *Launcher) Launch(ctx context.Context, spec runtime.LaunchSpec) (runtime.Instance, error) {
	if l.Binary == "" {
		return nil, errors.New("qemu: binary path required")
	}
	if spec.Forward.HostPort <= 0 {
		return nil, errors.New("qemu: forward host port required")
	}

	monitorPort := spec.MonitorPort
	if monitorPort == 0 {
		port, err := FreePort()
		if err != nil {
			return nil, err
		}
		monitorPort = port
	}

	args := l.Args(spec, monitorPort)
	cmd := exec.CommandContext(ctx, l.Binary, args...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	grouped := !spec.Interactive
	if spec.Interactive {
		cmd.Stdin = l.Stdin
	} else {
		// A foreground stdin reader cannot live in its own process group.
		cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	}

	inst := &instance{cmd: cmd, grouped: grouped, monitorPort: monitorPort, grace: l.grace()}
	cmd.Cancel = func() error {
		return inst.signal(unix.SIGTERM)
	}
	cmd.WaitDelay = inst.grace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("qemu: start: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		inst.mu.Lock()
		stopping := inst.stopping
		inst.mu.Unlock()
		if stopping {
			err = nil
		}
		done <- err
		close(done)
	}()
	inst.done = done

	if l.Logger != nil {
		l.Logger.Info("qemu started",
			"pid", cmd.Process.Pid,
			"monitor_port", monitorPort,
			"forward_port", spec.Forward.HostPort,
			"loadvm", spec.LoadSnapshot,
		)
		l.Logger.Debug("qemu argv", "binary", l.Binary, "args", args)
	}
	return inst, nil
}

func (l *Launcher) grace() time.Duration {
	if l.StopGrace > 0 {
		return l.StopGrace
	}
	return defaultStopGrace
}

type instance struct {
	cmd         *exec.Cmd
	grouped     bool
	monitorPort int
	grace       time.Duration
	done        <-chan error

	mu       sync.Mutex
	stopping bool
}

func (i *instance) PID() int           { return i.cmd.Process.Pid }
func (i *instance) MonitorPort() int   { return i.monitorPort }
func (i *instance) Wait() <-chan error { return i.done }

// Stop sends SIGTERM to QEMU (and its forward helpers when grouped) and
// escalates to SIGKILL after the grace period.
func (i *instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	i.stopping = true
	i.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, i.grace)
	defer cancel()

	if err := i.signal(unix.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("qemu: signal term: %w", err)
	}

	select {
	case err, ok := <-i.done:
		if ok && err != nil {
			return fmt.Errorf("qemu: wait: %w", err)
		}
	case <-stopCtx.Done():
		_ = i.signal(unix.SIGKILL)
		if err, ok := <-i.done; ok && err != nil {
			return fmt.Errorf("qemu: wait after kill: %w", err)
		}
	}
	return nil
}

func (i *instance) signal(sig unix.Signal) error {
	if i.cmd.Process == nil {
		return nil
	}
	if i.grouped {
		return unix.Kill(-i.cmd.Process.Pid, sig)
	}
	return i.cmd.Process.Signal(sig)
}

// FreePort asks the kernel for an unused loopback TCP port. The port is
// released before returning, so another process may still claim it.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("qemu: pick monitor port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

var _ runtime.Launcher = (*Launcher)(nil)
var _ runtime.Instance = (*instance)(nil)
