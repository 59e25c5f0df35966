// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "reanaconda", cfg.Workspace)
	assert.Equal(t, "qemu-system-x86_64", cfg.QEMU.Binary)
	assert.Equal(t, "preupdates", cfg.QEMU.SnapshotName)
	assert.Equal(t, "10.0.2.22", cfg.QEMU.GuestAddr)
	assert.Equal(t, 40, cfg.Monitor.ConnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.RetryInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Timing.TriggerSettle)
	assert.False(t, cfg.Provision.Strict)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte("workspace: /var/tmp/ws\nprovision:\n  strict: true\ntiming:\n  trigger_settle: 2s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reanaconda.yaml"), yaml, 0o644))
	t.Setenv("REANACONDA_QEMU_BINARY", "/opt/qemu/bin/qemu-system-x86_64")
	t.Setenv("REANACONDA_MONITOR_CONNECT_ATTEMPTS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/ws", cfg.Workspace)
	assert.True(t, cfg.Provision.Strict)
	assert.Equal(t, 2*time.Second, cfg.Timing.TriggerSettle)
	assert.Equal(t, "/opt/qemu/bin/qemu-system-x86_64", cfg.QEMU.Binary)
	assert.Equal(t, 5, cfg.Monitor.ConnectAttempts)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadMonitorPolicy(t *testing.T) {
	cfg := Default()
	cfg.Monitor.ConnectAttempts = 0
	cfg.QEMU.SnapshotName = "two words"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.connect_attempts")
	assert.Contains(t, err.Error(), "snapshot_name")
}
