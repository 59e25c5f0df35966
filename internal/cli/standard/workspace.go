// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/volantvm/reanaconda/internal/eventbus/memory"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the workspace, including the disk and snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := orchestratorFromCmd(cmd, memory.New())
			if err != nil {
				return err
			}
			if err := orch.Cleanup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", orch.Workspace())
			return nil
		},
	}
}

type statusView struct {
	Workspace   string          `json:"workspace"`
	State       string          `json:"state"`
	Snapshot    string          `json:"snapshot,omitempty"`
	MonitorPort int             `json:"monitor_port,omitempty"`
	Cmdline     string          `json:"cmdline,omitempty"`
	Args        []string        `json:"args,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
	Sessions    []sessionStatus `json:"sessions,omitempty"`
}

type sessionStatus struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Payload    string     `json:"payload"`
	SHA256     string     `json:"sha256"`
	Size       int64      `json:"size"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the workspace state, stored handle and recent update sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := orchestratorFromCmd(cmd, memory.New())
			if err != nil {
				return err
			}
			status, err := orch.Status(cmd.Context())
			if err != nil {
				return err
			}

			view := statusView{Workspace: status.Workspace, State: string(status.State)}
			if h := status.Handle; h != nil {
				view.Snapshot = h.SnapshotName
				view.MonitorPort = h.MonitorPort
				view.Cmdline = h.Cmdline()
				view.Args = h.Args
				updated := status.HandleUpdatedAt
				view.UpdatedAt = &updated
			}
			for _, s := range status.Sessions {
				view.Sessions = append(view.Sessions, sessionStatus{
					ID:         s.ID,
					Status:     string(s.Status),
					Payload:    s.PayloadPath,
					SHA256:     s.PayloadSHA256,
					Size:       s.PayloadSize,
					StartedAt:  s.StartedAt,
					FinishedAt: s.FinishedAt,
					Error:      s.Error,
				})
			}

			if asJSON {
				return encodeAsJSON(cmd.OutOrStdout(), view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workspace: %s\nState: %s\n", view.Workspace, view.State)
			if view.Snapshot != "" {
				fmt.Fprintf(out, "Snapshot: %s\nMonitor port (last): %d\nCmdline: %s\nArgs: %s\n", view.Snapshot, view.MonitorPort, view.Cmdline, quoteArgs(view.Args))
			}
			if len(view.Sessions) > 0 {
				fmt.Fprintf(out, "%-36s %-8s %-20s %s\n", "SESSION", "STATUS", "STARTED", "PAYLOAD")
				for _, s := range view.Sessions {
					fmt.Fprintf(out, "%-36s %-8s %-20s %s\n", s.ID, s.Status, s.StartedAt.Local().Format(time.DateTime), s.Payload)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"'") {
			quoted[i] = strconv.Quote(arg)
			continue
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}
