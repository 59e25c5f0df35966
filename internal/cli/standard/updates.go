// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/volantvm/reanaconda/internal/eventbus/memory"
	"github.com/volantvm/reanaconda/internal/orchestrator"
)

const defaultPayload = "updates.img"

func newUpdatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates [updates.img]",
		Short: "Resume the primed installer and serve it an updates image",
		Long: "updates restores the 'preupdates' snapshot and answers the installer's pending\n" +
			"updates request with the given image (default ./updates.img). The command\n" +
			"returns when QEMU exits.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := defaultPayload
			if len(args) == 1 {
				payload = args[0]
			}

			bus := memory.New()
			orch, _, err := orchestratorFromCmd(cmd, bus)
			if err != nil {
				return err
			}
			stop, err := followProgress(cmd.OutOrStdout(), bus)
			if err != nil {
				return err
			}
			defer stop()

			return orch.Resume(cmd.Context(), orchestrator.ResumeRequest{
				Payload:     payload,
				Interactive: term.IsTerminal(int(os.Stdin.Fd())),
			})
		},
	}
	return cmd
}
