// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package runtime

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// DefaultGuestAddr is the address the installer is pointed at for updates.
const DefaultGuestAddr = "10.0.2.22"

// ErrReservedArg is returned when caller arguments collide with flags the launcher owns.
var ErrReservedArg = errors.New("runtime: argument is managed by reanaconda")

var reservedArgs = []string{"-monitor", "-loadvm", "-append", "-qmp"}

// Handle is the durable descriptor of a primed VM. It never holds a live
// connection; monitor sessions are dialed from MonitorPort on demand.
type Handle struct {
	Args         []string `json:"args"`
	MonitorPort  int      `json:"monitor_port"`
	SnapshotName string   `json:"snapshot_name"`
}

// NewHandle copies args and appends the boot command line. This is the only
// place the template grows after construction.
func NewHandle(args []string, cmdline, snapshotName string) *Handle {
	full := slices.Clone(args)
	full = append(full, "-append", cmdline)
	return &Handle{Args: full, SnapshotName: snapshotName}
}

// BootCmdline builds the kernel command line that points the installer at the
// guest forward. extra is appended after a single space when non-empty.
func BootCmdline(guestAddr, extra string) string {
	cmdline := "inst.updates=http://" + guestAddr
	if extra = strings.TrimSpace(extra); extra != "" {
		cmdline += " " + extra
	}
	return cmdline
}

// CheckUserArgs rejects flags that the launcher emits itself.
func CheckUserArgs(args []string) error {
	for _, arg := range args {
		// QEMU accepts every option with one or two leading dashes.
		name := arg
		if strings.HasPrefix(name, "--") {
			name = name[1:]
		}
		if slices.Contains(reservedArgs, name) {
			return fmt.Errorf("%w: %s", ErrReservedArg, arg)
		}
	}
	return nil
}

// Cmdline returns the stored boot command line, if any.
func (h *Handle) Cmdline() string {
	for i := len(h.Args) - 2; i >= 0; i-- {
		if h.Args[i] == "-append" {
			return h.Args[i+1]
		}
	}
	return ""
}

// LaunchSpec derives the spec for one launch. The forward always targets
// hostPort, so every launch gets exactly one rule for the current responder.
func (h *Handle) LaunchSpec(guestAddr string, hostPort int, restore, interactive bool) LaunchSpec {
	spec := LaunchSpec{
		Args: slices.Clone(h.Args),
		Forward: Forward{
			GuestAddr: guestAddr,
			GuestPort: 80,
			HostPort:  hostPort,
		},
		Interactive: interactive,
	}
	if restore {
		spec.LoadSnapshot = h.SnapshotName
	}
	return spec
}

// Validate checks that the handle can be relaunched.
func (h *Handle) Validate() error {
	if len(h.Args) == 0 {
		return errors.New("runtime: handle has no launch arguments")
	}
	if h.Cmdline() == "" {
		return errors.New("runtime: handle has no boot command line")
	}
	if h.SnapshotName == "" || strings.ContainsAny(h.SnapshotName, " \t\r\n") {
		return fmt.Errorf("runtime: invalid snapshot name %q", h.SnapshotName)
	}
	return nil
}
