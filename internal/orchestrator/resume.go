// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/volantvm/reanaconda/internal/db"
	orchestratorevents "github.com/volantvm/reanaconda/internal/orchestrator/events"
	"github.com/volantvm/reanaconda/internal/responder"
)

// ResumeRequest captures the inputs of a resume.
type ResumeRequest struct {
	// Payload is the updates image served to the installer.
	Payload string
	// Interactive attaches stdin to QEMU.
	Interactive bool
}

// Resume restores the primed snapshot with a responder serving Payload and
// blocks until QEMU exits. The stored handle is reused unchanged apart from
// its last-known monitor port.
func (o *Orchestrator) Resume(ctx context.Context, req ResumeRequest) error {
	if !o.workspaceExists() {
		return fmt.Errorf("%w: %s does not exist (run prime first)", ErrNotPrimed, o.workspace)
	}
	if !fileExists(o.statePath()) {
		return fmt.Errorf("%w: %s is missing, prime did not finish (run cleanup, then prime)", ErrNotPrimed, o.statePath())
	}
	payload, err := filepath.Abs(req.Payload)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve payload: %w", err)
	}
	if !fileExists(payload) {
		return fmt.Errorf("%w: %s", ErrPayloadNotFound, payload)
	}

	store, err := o.openStore(ctx, o.statePath())
	if err != nil {
		return fmt.Errorf("orchestrator: open state: %w", err)
	}
	defer o.closeStore(store)

	handle, err := o.loadHandle(ctx, store)
	if err != nil {
		return err
	}

	digest, size, err := digestFile(payload)
	if err != nil {
		return fmt.Errorf("orchestrator: read payload: %w", err)
	}

	log := o.logger.With("operation", "resume", "payload", payload)
	srv, err := responder.Start(o.logger, responder.NewSingleFileHandler(o.logger.With("component", "responder", "mode", "payload"), payload))
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	defer o.closeResponder(srv)
	o.publishEvent(ctx, orchestratorevents.TypeResume, orchestratorevents.PhaseServing, "serving "+payload, srv.Port(), 0)

	if err := sleepContext(ctx, o.warmup); err != nil {
		return err
	}

	inst, err := o.launcher.Launch(ctx, handle.LaunchSpec(o.guestAddr, srv.Port(), true, req.Interactive))
	if err != nil {
		return fmt.Errorf("orchestrator: launch: %w", err)
	}
	log = log.With("pid", inst.PID(), "monitor_port", inst.MonitorPort())
	log.Info("snapshot restored", "snapshot", handle.SnapshotName, "responder_port", srv.Port())
	o.publishEvent(ctx, orchestratorevents.TypeResume, orchestratorevents.PhaseLaunched, "resumed snapshot "+handle.SnapshotName, srv.Port(), inst.PID())

	session := &db.Session{
		ID:            uuid.NewString(),
		PayloadPath:   payload,
		PayloadSHA256: digest,
		PayloadSize:   size,
		ResponderPort: srv.Port(),
		MonitorPort:   inst.MonitorPort(),
		Status:        db.SessionStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	if err := store.WithTx(ctx, func(q db.Queries) error {
		if err := q.Sessions().Create(ctx, session); err != nil {
			return err
		}
		return q.Handles().UpdateMonitorPort(ctx, inst.MonitorPort())
	}); err != nil {
		log.Warn("record resume session", "error", err)
	}

	var runErr error
	select {
	case runErr = <-inst.Wait():
	case <-ctx.Done():
		o.stopInstance(inst)
		runErr = ctx.Err()
	}

	status, message := db.SessionStatusExited, ""
	if runErr != nil {
		status, message = db.SessionStatusFailed, runErr.Error()
	}
	if err := store.Queries().Sessions().Finish(context.WithoutCancel(ctx), session.ID, status, message, time.Now().UTC()); err != nil {
		log.Warn("finish resume session", "session", session.ID, "error", err)
	}
	log.Info("qemu exited", "session", session.ID, "status", status)
	o.publishEvent(ctx, orchestratorevents.TypeResume, orchestratorevents.PhaseExited, exitDetail(runErr), 0, inst.PID())

	if runErr != nil {
		return fmt.Errorf("orchestrator: vm session: %w", runErr)
	}
	return nil
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
