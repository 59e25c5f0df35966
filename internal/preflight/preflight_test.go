// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+script), 0o755))
}

func TestRunReportsBinariesAndVersion(t *testing.T) {
	bin := t.TempDir()
	fakeBinary(t, bin, "qemu-system-x86_64", "echo 'QEMU emulator version 8.2.0'\n")
	fakeBinary(t, bin, "qemu-img", "exit 0\n")
	t.Setenv("PATH", bin)

	res := Run(context.Background(), Options{
		QEMUBinary: "qemu-system-x86_64",
		Binaries:   []string{"qemu-img", "nc"},
		KVMDevice:  filepath.Join(t.TempDir(), "kvm"),
	})

	require.Len(t, res.Checks, 4)
	assert.True(t, res.Checks[0].OK)
	assert.Contains(t, res.Checks[0].Detail, "QEMU emulator version 8.2.0")
	assert.True(t, res.Checks[1].OK)
	assert.False(t, res.Checks[2].OK)
	assert.Contains(t, res.Checks[2].Detail, "nc")
	assert.False(t, res.Checks[3].OK)
	assert.True(t, res.Checks[3].Advisory)
	assert.False(t, res.OK())
}

func TestRunAdvisoryFailuresDoNotFail(t *testing.T) {
	bin := t.TempDir()
	fakeBinary(t, bin, "nc", "exit 0\n")
	t.Setenv("PATH", bin)

	ws := filepath.Join(t.TempDir(), "reanaconda")
	require.NoError(t, os.Mkdir(ws, 0o755))

	res := Run(context.Background(), Options{
		Binaries:  []string{"nc"},
		KVMDevice: filepath.Join(t.TempDir(), "kvm"),
		Workspace: ws,
	})

	assert.True(t, res.OK())
	last := res.Checks[len(res.Checks)-1]
	assert.Contains(t, last.Detail, "primed")
}
