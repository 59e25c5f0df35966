// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package provision prepares the workspace artifacts a primed VM boots from.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DiskProvisioner creates the writable disk image the snapshot is stored in.
type DiskProvisioner interface {
	CreateDisk(ctx context.Context, path string) error
}

// QEMUImg creates qcow2 images with qemu-img. qcow2 is required because
// internal snapshots live inside the image.
type QEMUImg struct {
	Binary string
	Size   string
}

// CreateDisk runs `qemu-img create -f qcow2 <path> <size>`.
func (q *QEMUImg) CreateDisk(ctx context.Context, path string) error {
	if q.Binary == "" {
		return errors.New("provision: qemu-img binary required")
	}
	if q.Size == "" {
		return errors.New("provision: disk size required")
	}
	cmd := exec.CommandContext(ctx, q.Binary, "create", "-f", "qcow2", path, q.Size)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("provision: qemu-img create %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DiskArgs returns the QEMU flags attaching the writable disk.
func DiskArgs(path string) []string {
	return []string{"-drive", fmt.Sprintf("file=%s,cache=unsafe,if=virtio", path)}
}

var _ DiskProvisioner = (*QEMUImg)(nil)
