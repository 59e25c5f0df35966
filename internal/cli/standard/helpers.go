// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package standard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/volantvm/reanaconda/internal/config"
	"github.com/volantvm/reanaconda/internal/db"
	"github.com/volantvm/reanaconda/internal/db/sqlite"
	"github.com/volantvm/reanaconda/internal/eventbus"
	"github.com/volantvm/reanaconda/internal/monitor"
	"github.com/volantvm/reanaconda/internal/orchestrator"
	orchestratorevents "github.com/volantvm/reanaconda/internal/orchestrator/events"
	"github.com/volantvm/reanaconda/internal/orchestrator/provision"
	"github.com/volantvm/reanaconda/internal/orchestrator/qemu"
	"github.com/volantvm/reanaconda/internal/shared/logging"
)

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func encodeAsJSON(out io.Writer, payload interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// configFromCmd loads configuration and applies persistent flag overrides.
func configFromCmd(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("workspace") {
		ws, _ := cmd.Flags().GetString("workspace")
		cfg.Workspace = ws
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loggerFromConfig(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.NewWithOptions("reanaconda", logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
}

// orchestratorFromCmd wires the production orchestrator for a command.
func orchestratorFromCmd(cmd *cobra.Command, bus eventbus.Bus) (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}

	orch, err := orchestrator.New(orchestrator.Params{
		Workspace: cfg.Workspace,
		Logger:    logger,
		Launcher:  qemu.New(cfg.QEMU.Binary, cfg.QEMU.ForwardHelper, logger.With("component", "qemu")),
		Disks:     &provision.QEMUImg{Binary: cfg.QEMU.ImgBinary, Size: cfg.QEMU.DiskSize},
		Fetcher:   provision.NewHTTPFetcher(logger.With("component", "provision")),
		OpenStore: func(ctx context.Context, path string) (db.Store, error) {
			return sqlite.Open(ctx, path)
		},
		Bus: bus,
		Monitor: monitor.Options{
			ConnectAttempts: cfg.Monitor.ConnectAttempts,
			RetryInterval:   cfg.Monitor.RetryInterval,
			CommandTimeout:  cfg.Monitor.CommandTimeout,
		},
		SnapshotName:       cfg.QEMU.SnapshotName,
		GuestAddr:          cfg.QEMU.GuestAddr,
		StrictProvisioning: cfg.Provision.Strict,
		TriggerSettle:      cfg.Timing.TriggerSettle,
		ResponderWarmup:    cfg.Timing.ResponderWarmup,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, cfg, nil
}

// followProgress prints orchestrator events as "==> message" lines until the
// returned stop function is called.
func followProgress(out io.Writer, bus eventbus.Bus) (func(), error) {
	ch := make(chan any, 64)
	unsubscribe, err := bus.Subscribe(orchestratorevents.TopicCheckpoint, ch)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range ch {
			if ev, ok := payload.(orchestratorevents.Event); ok && ev.Message != "" {
				fmt.Fprintf(out, "==> %s\n", ev.Message)
			}
		}
	}()
	return func() {
		unsubscribe()
		close(ch)
		<-done
	}, nil
}
