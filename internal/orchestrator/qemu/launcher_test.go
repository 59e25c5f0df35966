// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package qemu

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantvm/reanaconda/internal/orchestrator/runtime"
)

func countGuestForwards(args []string) int {
	n := 0
	for _, arg := range args {
		n += strings.Count(arg, "guestfwd=")
	}
	return n
}

func TestArgsAddsMonitorAndSingleForward(t *testing.T) {
	l := &Launcher{Binary: "qemu-system-x86_64", ForwardHelper: "nc"}
	handle := runtime.NewHandle([]string{"-m", "2G"}, runtime.BootCmdline(runtime.DefaultGuestAddr, ""), "preupdates")

	args := l.Args(handle.LaunchSpec(runtime.DefaultGuestAddr, 41000, false, false), 42000)

	assert.Equal(t, []string{
		"-m", "2G",
		"-append", "inst.updates=http://10.0.2.22",
		"-monitor", "tcp:127.0.0.1:42000,server,nowait,nodelay",
		"-device", "virtio-net,netdev=net0",
		"-netdev", "user,id=net0,guestfwd=tcp:10.0.2.22:80-cmd:nc 127.0.0.1 41000",
	}, args)
}

func TestArgsRewriteForwardOnRelaunch(t *testing.T) {
	l := &Launcher{Binary: "qemu-system-x86_64", ForwardHelper: "nc"}
	handle := runtime.NewHandle([]string{"-enable-kvm"}, runtime.BootCmdline(runtime.DefaultGuestAddr, ""), "preupdates")

	first := l.Args(handle.LaunchSpec(runtime.DefaultGuestAddr, 41000, false, false), 42000)
	second := l.Args(handle.LaunchSpec(runtime.DefaultGuestAddr, 43000, true, true), 44000)

	assert.Equal(t, 1, countGuestForwards(first))
	assert.Equal(t, 1, countGuestForwards(second))
	assert.Contains(t, second, "user,id=net0,guestfwd=tcp:10.0.2.22:80-cmd:nc 127.0.0.1 43000")
	assert.NotContains(t, strings.Join(second, " "), "41000")
	assert.Equal(t, []string{"-loadvm", "preupdates"}, second[len(second)-2:])
	assert.Equal(t, 0, countGuestForwards(handle.Args))
}

func writeFakeQEMU(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qemu-system-x86_64")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestLaunchRunsBinaryAndReportsExit(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "argv")
	binary := writeFakeQEMU(t, `printf '%s\n' "$@" > "`+argsFile+`"`+"\n")

	l := &Launcher{Binary: binary, ForwardHelper: "nc", Stdout: io.Discard, Stderr: io.Discard}
	inst, err := l.Launch(context.Background(), runtime.LaunchSpec{
		Args:        []string{"-m", "1G"},
		MonitorPort: 45000,
		Forward:     runtime.Forward{HostPort: 46000},
	})
	require.NoError(t, err)
	assert.Equal(t, 45000, inst.MonitorPort())
	assert.NotZero(t, inst.PID())

	select {
	case err := <-inst.Wait():
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fake qemu did not exit")
	}

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "tcp:127.0.0.1:45000,server,nowait,nodelay")
	assert.Contains(t, string(recorded), "guestfwd=tcp:10.0.2.22:80-cmd:nc 127.0.0.1 46000")
}

func TestStopTerminatesProcessGroup(t *testing.T) {
	binary := writeFakeQEMU(t, "exec sleep 30\n")

	l := &Launcher{Binary: binary, Stdout: io.Discard, Stderr: io.Discard, StopGrace: 2 * time.Second}
	inst, err := l.Launch(context.Background(), runtime.LaunchSpec{Forward: runtime.Forward{HostPort: 46001}})
	require.NoError(t, err)

	require.NoError(t, inst.Stop(context.Background()))

	_, open := <-inst.Wait()
	assert.False(t, open)
}

func TestLaunchRequiresForwardPort(t *testing.T) {
	l := &Launcher{Binary: "qemu-system-x86_64"}
	_, err := l.Launch(context.Background(), runtime.LaunchSpec{})
	require.Error(t, err)
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}
