// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package provision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQEMUImgCreateDiskInvokesBinary(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "argv")
	binary := filepath.Join(dir, "qemu-img")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"" + argsFile + "\"\n: > \"$4\"\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))

	disk := filepath.Join(dir, "disk.img")
	q := &QEMUImg{Binary: binary, Size: "20G"}
	require.NoError(t, q.CreateDisk(context.Background(), disk))

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "-f", "qcow2", disk, "20G"}, strings.Fields(string(recorded)))
	assert.FileExists(t, disk)
}

func TestQEMUImgCreateDiskSurfacesOutput(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "qemu-img")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\necho 'Could not create image' >&2\nexit 1\n"), 0o755))

	q := &QEMUImg{Binary: binary, Size: "20G"}
	err := q.CreateDisk(context.Background(), filepath.Join(dir, "disk.img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not create image")
}

func TestDiskArgs(t *testing.T) {
	assert.Equal(t, []string{"-drive", "file=/ws/disk.img,cache=unsafe,if=virtio"}, DiskArgs("/ws/disk.img"))
}

func TestHTTPFetcherDownloadsKernelAndInitrd(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/os/isolinux/vmlinuz":
			_, _ = w.Write([]byte("kernel-bytes"))
		case "/os/isolinux/initrd.img":
			_, _ = w.Write([]byte("initrd-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	artifacts, err := NewHTTPFetcher(nil).FetchBootArtifacts(context.Background(), srv.URL+"/os/", dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"/os/isolinux/vmlinuz", "/os/isolinux/initrd.img"}, paths)
	kernel, err := os.ReadFile(artifacts.Kernel)
	require.NoError(t, err)
	assert.Equal(t, "kernel-bytes", string(kernel))
	initrd, err := os.ReadFile(artifacts.Initrd)
	require.NoError(t, err)
	assert.Equal(t, "initrd-bytes", string(initrd))
	assert.Equal(t, []string{"-kernel", filepath.Join(dir, "vmlinuz"), "-initrd", filepath.Join(dir, "initrd.img")}, artifacts.Args())
}

func TestHTTPFetcherFailsOnMissingArtifact(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHTTPFetcher(nil).FetchBootArtifacts(context.Background(), srv.URL, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
