// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	kernelName = "vmlinuz"
	initrdName = "initrd.img"
)

// BootArtifacts are the kernel and initrd fetched from an install tree.
type BootArtifacts struct {
	Kernel string
	Initrd string
}

// Args returns the QEMU direct-boot flags.
func (b BootArtifacts) Args() []string {
	return []string{"-kernel", b.Kernel, "-initrd", b.Initrd}
}

// TreeFetcher downloads boot artifacts from an install tree.
type TreeFetcher interface {
	FetchBootArtifacts(ctx context.Context, treeURL, dir string) (BootArtifacts, error)
}

// HTTPFetcher fetches <tree>/isolinux/{vmlinuz,initrd.img} over HTTP.
type HTTPFetcher struct {
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPFetcher returns a fetcher with a generous overall timeout.
func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{Timeout: 30 * time.Minute},
		Logger: logger,
	}
}

// FetchBootArtifacts downloads the kernel and initrd into dir.
func (f *HTTPFetcher) FetchBootArtifacts(ctx context.Context, treeURL, dir string) (BootArtifacts, error) {
	base := strings.TrimRight(strings.TrimSpace(treeURL), "/")
	if base == "" {
		return BootArtifacts{}, errors.New("provision: tree url required")
	}

	artifacts := BootArtifacts{
		Kernel: filepath.Join(dir, kernelName),
		Initrd: filepath.Join(dir, initrdName),
	}
	downloads := []struct{ url, dest string }{
		{base + "/isolinux/" + kernelName, artifacts.Kernel},
		{base + "/isolinux/" + initrdName, artifacts.Initrd},
	}
	for _, d := range downloads {
		if err := f.download(ctx, d.url, d.dest); err != nil {
			return BootArtifacts{}, err
		}
	}
	return artifacts, nil
}

func (f *HTTPFetcher) download(ctx context.Context, url, dest string) error {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("provision: build request %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("provision: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provision: download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("provision: temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("provision: download %s: %w", url, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("provision: place %s: %w", dest, err)
	}

	if f.Logger != nil {
		f.Logger.Info("boot artifact downloaded", "url", url, "path", dest, "bytes", n, "duration", time.Since(start))
	}
	return nil
}

var _ TreeFetcher = (*HTTPFetcher)(nil)
