// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package preflight inspects the host for what prime and updates need.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const defaultKVMDevice = "/dev/kvm"

// Options controls which checks run.
type Options struct {
	// QEMUBinary is probed for its version string.
	QEMUBinary string
	// Binaries must all be resolvable on PATH.
	Binaries []string
	// KVMDevice is checked for read/write access. Empty means /dev/kvm.
	KVMDevice string
	// Workspace is reported as primed or empty.
	Workspace string
}

// Check is the outcome of one probe. Failed advisory checks do not fail the run.
type Check struct {
	Name     string
	OK       bool
	Advisory bool
	Detail   string
}

// Result collects check outcomes in execution order.
type Result struct {
	Checks []Check
}

// OK reports whether every required check passed.
func (r *Result) OK() bool {
	for _, c := range r.Checks {
		if !c.OK && !c.Advisory {
			return false
		}
	}
	return true
}

// Run executes the checks. It never mutates the host.
func Run(ctx context.Context, opts Options) *Result {
	res := &Result{}

	binaries := opts.Binaries
	if opts.QEMUBinary != "" && !contains(binaries, opts.QEMUBinary) {
		binaries = append([]string{opts.QEMUBinary}, binaries...)
	}
	for _, name := range binaries {
		res.Checks = append(res.Checks, checkBinary(ctx, name, name == opts.QEMUBinary))
	}

	device := opts.KVMDevice
	if device == "" {
		device = defaultKVMDevice
	}
	res.Checks = append(res.Checks, checkKVM(device))

	if opts.Workspace != "" {
		res.Checks = append(res.Checks, checkWorkspace(opts.Workspace))
	}
	return res
}

func checkBinary(ctx context.Context, name string, probeVersion bool) Check {
	check := Check{Name: "binary " + name}
	path, err := exec.LookPath(name)
	if err != nil {
		check.Detail = fmt.Sprintf("required binary %s not found in PATH", name)
		return check
	}
	check.OK = true
	check.Detail = path
	if probeVersion {
		if version := binaryVersion(ctx, path); version != "" {
			check.Detail = fmt.Sprintf("%s (%s)", path, version)
		}
	}
	return check
}

func binaryVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}

func checkKVM(device string) Check {
	check := Check{Name: "kvm " + device, Advisory: true}
	if err := unix.Access(device, unix.R_OK|unix.W_OK); err != nil {
		check.Detail = fmt.Sprintf("no read/write access (%v); --sensible and -enable-kvm will fail", err)
		return check
	}
	check.OK = true
	check.Detail = "accessible"
	return check
}

func checkWorkspace(path string) Check {
	check := Check{Name: "workspace " + path, Advisory: true, OK: true}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		check.Detail = "primed (run cleanup before priming again)"
	case err == nil:
		check.OK = false
		check.Detail = "exists but is not a directory"
	case os.IsNotExist(err):
		check.Detail = "empty"
	default:
		check.OK = false
		check.Detail = err.Error()
	}
	return check
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
