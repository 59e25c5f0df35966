// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package kickstart builds the OEMDRV volume Anaconda scans for ks.cfg.
package kickstart

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	diskpkg "github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
)

const (
	// VolumeLabel is the label Anaconda probes for an automatic kickstart.
	VolumeLabel = "OEMDRV"
	// FileName is the kickstart file name at the volume root.
	FileName = "ks.cfg"

	// minVolumeSize keeps the image large enough for a FAT32 layout.
	minVolumeSize = 64 << 20
)

// Input describes the documents placed on the volume.
type Input struct {
	Kickstart []byte
	// Extra files are written next to ks.cfg at the volume root.
	Extra map[string][]byte
}

// FromFile reads a kickstart from path.
func FromFile(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("kickstart: read %s: %w", path, err)
	}
	return Input{Kickstart: data}, nil
}

// Build writes a FAT32 image labelled OEMDRV to dest holding ks.cfg and any
// extra files. The image grows past its minimum size to fit the input. dest
// is replaced only once the volume is complete.
func Build(ctx context.Context, input Input, dest string) error {
	if strings.TrimSpace(dest) == "" {
		return errors.New("kickstart: destination path required")
	}
	if len(strings.TrimSpace(string(input.Kickstart))) == 0 {
		return errors.New("kickstart: empty kickstart")
	}
	names := slices.Sorted(maps.Keys(input.Extra))
	total := int64(len(input.Kickstart))
	for _, name := range names {
		if name == "" || name == FileName || strings.ContainsAny(name, "/\\") {
			return fmt.Errorf("kickstart: invalid extra file name %q", name)
		}
		total += int64(len(input.Extra[name]))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("kickstart: ensure destination directory: %w", err)
	}

	staging := dest + ".partial"
	if err := os.Remove(staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kickstart: clear %s: %w", staging, err)
	}
	disk, err := diskfs.Create(staging, volumeSize(total), diskfs.SectorSize512)
	if err != nil {
		return fmt.Errorf("kickstart: create volume: %w", err)
	}
	fs, err := disk.CreateFilesystem(diskpkg.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: VolumeLabel,
	})
	if err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("kickstart: format %s volume: %w", VolumeLabel, err)
	}

	err = writeFile(fs, FileName, input.Kickstart)
	for _, name := range names {
		if err != nil {
			break
		}
		if err = ctx.Err(); err == nil {
			err = writeFile(fs, name, input.Extra[name])
		}
	}
	if closeErr := fs.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("kickstart: close volume: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(staging)
		return err
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("kickstart: install volume: %w", err)
	}
	return nil
}

// DriveArgs returns the QEMU flags attaching the volume read-only.
func DriveArgs(path string) []string {
	return []string{"-drive", fmt.Sprintf("file=%s,format=raw,if=virtio,readonly=on", path)}
}

// volumeSize leaves room for FAT overhead and rounds up to a whole MiB.
func volumeSize(payload int64) int64 {
	const mib = 1 << 20
	size := max(minVolumeSize, 2*payload+minVolumeSize/2)
	return (size + mib - 1) / mib * mib
}

func writeFile(fs filesystem.FileSystem, name string, data []byte) error {
	f, err := fs.OpenFile("/"+name, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("kickstart: create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("kickstart: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("kickstart: close %s: %w", name, err)
	}
	return nil
}
