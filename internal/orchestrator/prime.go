// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/volantvm/reanaconda/internal/monitor"
	orchestratorevents "github.com/volantvm/reanaconda/internal/orchestrator/events"
	"github.com/volantvm/reanaconda/internal/orchestrator/kickstart"
	"github.com/volantvm/reanaconda/internal/orchestrator/provision"
	"github.com/volantvm/reanaconda/internal/orchestrator/runtime"
	"github.com/volantvm/reanaconda/internal/responder"
	"github.com/volantvm/reanaconda/internal/shared/oneshot"
)

// PrimeRequest captures the inputs of a prime.
type PrimeRequest struct {
	// QEMUArgs are passed through to QEMU ahead of the managed flags.
	QEMUArgs []string
	// Append is extra kernel command line text.
	Append string
	// TreeURL, when set, boots the kernel and initrd of that install tree.
	TreeURL string
	// Kickstart is a path to a ks.cfg to expose on an OEMDRV volume.
	Kickstart string
}

// Prime boots the installer until it first asks for updates, then pauses it,
// saves an internal snapshot, commits the disk, quits QEMU and stores the
// handle. It returns once the handle is durable and QEMU has exited.
func (o *Orchestrator) Prime(ctx context.Context, req PrimeRequest) error {
	if err := runtime.CheckUserArgs(req.QEMUArgs); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	var ks *kickstart.Input
	if path := strings.TrimSpace(req.Kickstart); path != "" {
		input, err := kickstart.FromFile(path)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		ks = &input
	}
	if o.workspaceExists() {
		return fmt.Errorf("%w: %s (run cleanup first)", ErrWorkspaceExists, o.workspace)
	}

	log := o.logger.With("operation", "prime")
	if err := os.MkdirAll(o.workspace, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create workspace: %w", err)
	}
	log.Info("workspace created", "workspace", o.workspace)

	handle, err := o.buildHandle(ctx, log, req, ks)
	if err != nil {
		return err
	}

	trigger := oneshot.New()
	srv, err := responder.Start(o.logger, responder.NewRejectHandler(o.logger.With("component", "responder", "mode", "reject"), trigger.Fire))
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer o.closeResponder(srv)

	inst, err := o.launcher.Launch(ctx, handle.LaunchSpec(o.guestAddr, srv.Port(), false, false))
	if err != nil {
		return fmt.Errorf("orchestrator: launch: %w", err)
	}
	handle.MonitorPort = inst.MonitorPort()
	log = log.With("pid", inst.PID(), "monitor_port", handle.MonitorPort)
	log.Info("waiting for installer to request updates", "responder_port", srv.Port())
	o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseLaunched, "installer booting, waiting for updates request", srv.Port(), inst.PID())

	select {
	case <-trigger.Done():
	case err := <-inst.Wait():
		return fmt.Errorf("%w: %s", ErrVMExited, exitDetail(err))
	case <-ctx.Done():
		o.stopInstance(inst)
		return ctx.Err()
	}
	log.Info("updates requested")
	o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseTriggered, "installer requested updates", 0, 0)

	if err := sleepContext(ctx, o.settle); err != nil {
		o.stopInstance(inst)
		return err
	}
	if err := o.checkpoint(ctx, log, handle); err != nil {
		o.stopInstance(inst)
		return err
	}
	if err := o.persistHandle(ctx, handle); err != nil {
		o.stopInstance(inst)
		return err
	}
	log.Info("handle persisted", "path", o.statePath())
	o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhasePersisted, "primed", 0, 0)

	o.awaitExit(ctx, log, inst)
	return nil
}

func (o *Orchestrator) buildHandle(ctx context.Context, log *slog.Logger, req PrimeRequest, ks *kickstart.Input) (*runtime.Handle, error) {
	disk := o.diskPath()
	if err := o.disks.CreateDisk(ctx, disk); err != nil {
		if o.strict {
			return nil, fmt.Errorf("orchestrator: provision disk: %w", err)
		}
		log.Warn("disk provisioning failed, continuing", "path", disk, "error", err)
	} else {
		o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseProvisioned, "created "+disk, 0, 0)
	}

	args := slices.Clone(req.QEMUArgs)
	args = append(args, provision.DiskArgs(disk)...)

	extra := strings.TrimSpace(req.Append)
	if tree := strings.TrimSpace(req.TreeURL); tree != "" {
		artifacts, err := o.fetcher.FetchBootArtifacts(ctx, tree, o.workspace)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: fetch install tree: %w", err)
		}
		args = append(args, artifacts.Args()...)
		extra = strings.TrimSpace(extra + " inst.stage2=" + tree)
		o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseDownloaded, "fetched kernel and initrd from "+tree, 0, 0)
	}

	if ks != nil {
		path := o.oemdrvPath()
		if err := kickstart.Build(ctx, *ks, path); err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		args = append(args, kickstart.DriveArgs(path)...)
		o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseKickstart, "attached "+path, 0, 0)
	}

	return runtime.NewHandle(args, runtime.BootCmdline(o.guestAddr, extra), o.snapshotName), nil
}

// checkpoint runs pause, savevm, commit and quit strictly in that order, each
// over its own monitor session and each waiting for completion before the next.
func (o *Orchestrator) checkpoint(ctx context.Context, log *slog.Logger, handle *runtime.Handle) error {
	client := monitor.NewClient(handle.MonitorPort, o.monitorOpts)
	steps := []struct {
		phase orchestratorevents.Phase
		desc  string
		run   func(context.Context) error
	}{
		{orchestratorevents.PhasePaused, "vm paused", client.Pause},
		{orchestratorevents.PhaseSnapshotSaved, "snapshot " + handle.SnapshotName + " saved", func(ctx context.Context) error {
			return client.SaveSnapshot(ctx, handle.SnapshotName)
		}},
		{orchestratorevents.PhaseCommitted, "disk committed", client.Commit},
		{orchestratorevents.PhaseQuit, "qemu asked to quit", client.Quit},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("orchestrator: checkpoint %s: %w", step.phase, err)
		}
		log.Info(step.desc)
		o.publishEvent(ctx, orchestratorevents.TypePrime, step.phase, step.desc, handle.MonitorPort, 0)
	}
	return nil
}

func (o *Orchestrator) awaitExit(ctx context.Context, log *slog.Logger, inst runtime.Instance) {
	select {
	case err := <-inst.Wait():
		if err != nil {
			log.Warn("qemu exited with error after quit", "error", err)
		}
	case <-time.After(o.exitTimeout):
		log.Warn("qemu still running after quit, stopping", "timeout", o.exitTimeout)
		o.stopInstance(inst)
	case <-ctx.Done():
		o.stopInstance(inst)
	}
	o.publishEvent(ctx, orchestratorevents.TypePrime, orchestratorevents.PhaseExited, "qemu exited", 0, inst.PID())
}
