// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package runtime

import "context"

// LaunchSpec contains the information required to start the VM process once.
type LaunchSpec struct {
	// Args is the stored handle template. Launchers append their own
	// monitor, network and snapshot flags after it.
	Args []string
	// MonitorPort pins the monitor port. Zero lets the launcher choose.
	MonitorPort int
	Forward     Forward
	// LoadSnapshot restores the named internal snapshot at boot when set.
	LoadSnapshot string
	// Interactive attaches the controlling terminal's stdin to the VM.
	Interactive bool
}

// Forward routes guest connections for GuestAddr:GuestPort to a loopback port on the host.
type Forward struct {
	GuestAddr string
	GuestPort int
	HostPort  int
}

// Instance represents a running hypervisor process.
type Instance interface {
	PID() int
	MonitorPort() int
	Stop(ctx context.Context) error
	Wait() <-chan error
}

// Launcher is responsible for starting the VM process for a spec.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Instance, error)
}
