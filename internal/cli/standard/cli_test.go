// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantvm/reanaconda/internal/orchestrator"
)

// isolate runs the command in an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("REANACONDA_CONFIG", "")
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "reanaconda dev\n", out)
}

func TestStatusOnEmptyWorkspace(t *testing.T) {
	dir := isolate(t)

	out, _, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State: empty")
	assert.Contains(t, out, filepath.Join(dir, "reanaconda"))

	out, _, err = run(t, "status", "--json")
	require.NoError(t, err)
	var view statusView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "empty", view.State)
	assert.Empty(t, view.Sessions)
}

func TestCleanupIsIdempotent(t *testing.T) {
	dir := isolate(t)
	ws := filepath.Join(dir, "custom-ws")
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "disk.img"), []byte("x"), 0o644))

	_, _, err := run(t, "cleanup", "-w", ws)
	require.NoError(t, err)
	assert.NoDirExists(t, ws)

	_, _, err = run(t, "cleanup", "-w", ws)
	require.NoError(t, err)
}

func TestUpdatesRequiresPrimedWorkspace(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "updates")
	require.ErrorIs(t, err, orchestrator.ErrNotPrimed)
}

func TestUpdatesRejectsExtraArgs(t *testing.T) {
	isolate(t)

	_, _, err := run(t, "updates", "a.img", "b.img")
	require.Error(t, err)
}

func TestPrimeRequestAppendsSensibleArgsAfterPassthrough(t *testing.T) {
	req := primeRequest([]string{"-cdrom", "boot.iso"}, true, "inst.text", "", "ks.cfg")

	require.Len(t, req.QEMUArgs, 2+len(sensibleArgs))
	assert.Equal(t, []string{"-cdrom", "boot.iso"}, req.QEMUArgs[:2])
	assert.Equal(t, sensibleArgs, req.QEMUArgs[2:])
	assert.Equal(t, "inst.text", req.Append)
	assert.Equal(t, "ks.cfg", req.Kickstart)

	plain := primeRequest([]string{"-m", "1G"}, false, "", "", "")
	assert.Equal(t, []string{"-m", "1G"}, plain.QEMUArgs)
}

func TestPrimeRejectsReservedArgsWithoutCreatingWorkspace(t *testing.T) {
	dir := isolate(t)

	_, _, err := run(t, "prime", "--", "-monitor", "stdio")
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "reanaconda"))
}

func TestCheckReportsMissingAndPresentTools(t *testing.T) {
	dir := isolate(t)
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	}
	write("qemu-system-x86_64", `echo "QEMU emulator version 9.0.0"`)
	write("qemu-img", "exit 0")
	t.Setenv("PATH", bin)

	out, _, err := run(t, "check")
	require.Error(t, err)
	assert.Contains(t, out, "QEMU emulator version 9.0.0")
	assert.Contains(t, out, "binary nc")
	assert.Contains(t, out, "[FAIL]")

	write("nc", "exit 0")
	out, _, err = run(t, "check")
	require.NoError(t, err)
	assert.NotContains(t, out, "[FAIL]")
}
