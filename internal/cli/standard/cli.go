// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...standard.version=...".
var version = "dev"

// Execute runs the Cobra-based CLI entry point.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the CLI with ctx propagated to every command.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reanaconda",
		Short: "Snapshot an Anaconda install right before it fetches updates",
		Long: "reanaconda boots an installer VM once, checkpoints it at the moment it asks for\n" +
			"an updates image, and later resumes that checkpoint serving a fresh updates.img.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", envOrDefault("REANACONDA_CONFIG", ""), "path to a reanaconda.yaml config file")
	flags.StringP("workspace", "w", "", "workspace directory (default ./reanaconda)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newPrimeCmd())
	cmd.AddCommand(newUpdatesCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the reanaconda version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reanaconda %s\n", version)
		},
	}
}
