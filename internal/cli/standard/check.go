// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/volantvm/reanaconda/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the host for the tools prime and updates need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			workspace, err := filepath.Abs(cfg.Workspace)
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			res := preflight.Run(ctx, preflight.Options{
				QEMUBinary: cfg.QEMU.Binary,
				Binaries:   []string{cfg.QEMU.ImgBinary, cfg.QEMU.ForwardHelper},
				Workspace:  workspace,
			})

			out := cmd.OutOrStdout()
			for _, c := range res.Checks {
				mark := "ok"
				switch {
				case !c.OK && c.Advisory:
					mark = "warn"
				case !c.OK:
					mark = "FAIL"
				}
				fmt.Fprintf(out, "[%-4s] %s: %s\n", mark, c.Name, c.Detail)
			}
			if !res.OK() {
				return errors.New("host is missing required tools")
			}
			return nil
		},
	}
}
