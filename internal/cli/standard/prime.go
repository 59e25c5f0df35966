// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/volantvm/reanaconda/internal/eventbus/memory"
	"github.com/volantvm/reanaconda/internal/orchestrator"
)

// sensibleArgs is a reasonable KVM machine for current installers.
var sensibleArgs = []string{
	"-enable-kvm",
	"-machine", "q35",
	"-cpu", "host",
	"-smp", "2",
	"-m", "2G",
	"-object", "rng-random,id=rng0,filename=/dev/urandom",
	"-device", "virtio-rng-pci,rng=rng0",
}

func newPrimeCmd() *cobra.Command {
	var (
		treeURL   string
		appendArg string
		sensible  bool
		ksPath    string
	)

	cmd := &cobra.Command{
		Use:   "prime [flags] [-- qemu-args...]",
		Short: "Boot the installer and checkpoint it when it asks for updates",
		Long: "prime boots QEMU with the given arguments, waits for the installer to request\n" +
			"inst.updates, then pauses the VM, saves the 'preupdates' snapshot and stores the\n" +
			"launch arguments in the workspace. Pass QEMU arguments after '--'.",
		Example: "  reanaconda prime --sensible -- -cdrom Fedora-Everything-netinst.iso\n" +
			"  reanaconda prime --sensible --tree https://dl.fedoraproject.org/pub/fedora/linux/releases/40/Everything/x86_64/os",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			req := primeRequest(args, sensible, appendArg, treeURL, ksPath)
			if err := orch.Prime(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Primed %s. Run 'reanaconda updates' to resume with an updates image.\n", orch.Workspace())
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&treeURL, "tree", "", "install tree URL to boot kernel and initrd from")
	cmd.Flags().StringVar(&appendArg, "append", "", "extra kernel command line arguments")
	cmd.Flags().BoolVar(&sensible, "sensible", false, "add a sensible KVM machine configuration")
	cmd.Flags().StringVar(&ksPath, "kickstart", "", "kickstart file to expose on an OEMDRV volume")
	return cmd
}

func primeRequest(qemuArgs []string, sensible bool, appendArg, treeURL, ksPath string) orchestrator.PrimeRequest {
	args := slices.Clone(qemuArgs)
	if sensible {
		args = append(args, sensibleArgs...)
	}
	return orchestrator.PrimeRequest{
		QEMUArgs:  args,
		Append:    appendArg,
		TreeURL:   treeURL,
		Kickstart: ksPath,
	}
}
