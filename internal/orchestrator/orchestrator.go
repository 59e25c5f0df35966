// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package orchestrator primes an installer VM up to its updates fetch,
// snapshots it there, and later resumes that snapshot with a payload.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/volantvm/reanaconda/internal/db"
	"github.com/volantvm/reanaconda/internal/eventbus"
	"github.com/volantvm/reanaconda/internal/monitor"
	orchestratorevents "github.com/volantvm/reanaconda/internal/orchestrator/events"
	"github.com/volantvm/reanaconda/internal/orchestrator/provision"
	"github.com/volantvm/reanaconda/internal/orchestrator/runtime"
	"github.com/volantvm/reanaconda/internal/responder"
)

const (
	diskFileName   = "disk.img"
	stateFileName  = "state.db"
	oemdrvFileName = "oemdrv.img"

	defaultExitTimeout    = 30 * time.Second
	defaultSnapshotName   = "preupdates"
	responderCloseTimeout = 5 * time.Second
	recentSessionLimit    = 10
)

var (
	// ErrWorkspaceExists is returned by Prime when a previous prime was not cleaned up.
	ErrWorkspaceExists = errors.New("orchestrator: workspace already exists")
	// ErrNotPrimed is returned by Resume when there is no usable handle.
	ErrNotPrimed = errors.New("orchestrator: not primed")
	// ErrPayloadNotFound is returned by Resume when the payload file is missing.
	ErrPayloadNotFound = errors.New("orchestrator: payload not found")
	// ErrVMExited is returned by Prime when QEMU exits before the guest asks for updates.
	ErrVMExited = errors.New("orchestrator: vm exited before requesting updates")
)

// State is the persisted lifecycle state of the workspace.
type State string

const (
	StateEmpty  State = "empty"
	StatePrimed State = "primed"
)

// OpenStoreFunc opens the workspace state database.
type OpenStoreFunc func(ctx context.Context, path string) (db.Store, error)

// Params wires dependencies for the orchestrator.
type Params struct {
	Workspace string
	Logger    *slog.Logger
	Launcher  runtime.Launcher
	Disks     provision.DiskProvisioner
	Fetcher   provision.TreeFetcher
	OpenStore OpenStoreFunc
	Bus       eventbus.Bus

	Monitor      monitor.Options
	SnapshotName string
	GuestAddr    string
	// StrictProvisioning makes a failed disk creation abort the prime.
	StrictProvisioning bool
	TriggerSettle      time.Duration
	ResponderWarmup    time.Duration
	// ExitTimeout bounds the wait for QEMU to exit after quit.
	ExitTimeout time.Duration
}

// Orchestrator drives prime, resume and cleanup against one workspace.
type Orchestrator struct {
	workspace    string
	logger       *slog.Logger
	launcher     runtime.Launcher
	disks        provision.DiskProvisioner
	fetcher      provision.TreeFetcher
	openStore    OpenStoreFunc
	bus          eventbus.Bus
	monitorOpts  monitor.Options
	snapshotName string
	guestAddr    string
	strict       bool
	settle       time.Duration
	warmup       time.Duration
	exitTimeout  time.Duration
}

// New constructs an orchestrator.
func New(params Params) (*Orchestrator, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("orchestrator: logger is required")
	}
	if params.Launcher == nil {
		return nil, fmt.Errorf("orchestrator: launcher is required")
	}
	if params.Disks == nil {
		return nil, fmt.Errorf("orchestrator: disk provisioner is required")
	}
	if params.OpenStore == nil {
		return nil, fmt.Errorf("orchestrator: store opener is required")
	}
	workspace := strings.TrimSpace(params.Workspace)
	if workspace == "" {
		return nil, fmt.Errorf("orchestrator: workspace is required")
	}
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve workspace: %w", err)
	}
	if params.Fetcher == nil {
		params.Fetcher = provision.NewHTTPFetcher(params.Logger)
	}
	if params.SnapshotName == "" {
		params.SnapshotName = defaultSnapshotName
	}
	if params.GuestAddr == "" {
		params.GuestAddr = runtime.DefaultGuestAddr
	}
	if params.ExitTimeout <= 0 {
		params.ExitTimeout = defaultExitTimeout
	}

	return &Orchestrator{
		workspace:    workspace,
		logger:       params.Logger.With("component", "orchestrator"),
		launcher:     params.Launcher,
		disks:        params.Disks,
		fetcher:      params.Fetcher,
		openStore:    params.OpenStore,
		bus:          params.Bus,
		monitorOpts:  params.Monitor,
		snapshotName: params.SnapshotName,
		guestAddr:    params.GuestAddr,
		strict:       params.StrictProvisioning,
		settle:       params.TriggerSettle,
		warmup:       params.ResponderWarmup,
		exitTimeout:  params.ExitTimeout,
	}, nil
}

// Workspace returns the absolute workspace path.
func (o *Orchestrator) Workspace() string {
	return o.workspace
}

// State reports Primed when the workspace exists.
func (o *Orchestrator) State() State {
	if o.workspaceExists() {
		return StatePrimed
	}
	return StateEmpty
}

// Cleanup removes the workspace. Removing a missing workspace is not an error.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	if err := os.RemoveAll(o.workspace); err != nil {
		return fmt.Errorf("orchestrator: remove workspace %s: %w", o.workspace, err)
	}
	o.logger.Info("workspace removed", "workspace", o.workspace)
	o.publishEvent(ctx, orchestratorevents.TypeCleanup, orchestratorevents.PhaseCleaned, "removed "+o.workspace, 0, 0)
	return nil
}

// Status describes the workspace for humans.
type Status struct {
	State           State
	Workspace       string
	Handle          *runtime.Handle
	HandleUpdatedAt time.Time
	Sessions        []db.Session
}

// Status reads the workspace without modifying it.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	status := &Status{State: o.State(), Workspace: o.workspace}
	if status.State == StateEmpty || !fileExists(o.statePath()) {
		return status, nil
	}

	store, err := o.openStore(ctx, o.statePath())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open state: %w", err)
	}
	defer o.closeStore(store)

	record, err := store.Queries().Handles().Get(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("orchestrator: load handle: %w", err)
	default:
		status.Handle = handleFromRecord(record)
		status.HandleUpdatedAt = record.UpdatedAt
	}

	sessions, err := store.Queries().Sessions().ListRecent(ctx, recentSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list sessions: %w", err)
	}
	status.Sessions = sessions
	return status, nil
}

func (o *Orchestrator) diskPath() string   { return filepath.Join(o.workspace, diskFileName) }
func (o *Orchestrator) statePath() string  { return filepath.Join(o.workspace, stateFileName) }
func (o *Orchestrator) oemdrvPath() string { return filepath.Join(o.workspace, oemdrvFileName) }

func (o *Orchestrator) workspaceExists() bool {
	_, err := os.Lstat(o.workspace)
	return err == nil
}

func (o *Orchestrator) loadHandle(ctx context.Context, store db.Store) (*runtime.Handle, error) {
	record, err := store.Queries().Handles().Get(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: no handle stored in %s", ErrNotPrimed, o.statePath())
		}
		return nil, fmt.Errorf("orchestrator: load handle: %w", err)
	}
	handle := handleFromRecord(record)
	if err := handle.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPrimed, err)
	}
	return handle, nil
}

func (o *Orchestrator) persistHandle(ctx context.Context, handle *runtime.Handle) error {
	store, err := o.openStore(ctx, o.statePath())
	if err != nil {
		return fmt.Errorf("orchestrator: open state: %w", err)
	}
	defer o.closeStore(store)

	record := &db.Handle{
		Args:         handle.Args,
		MonitorPort:  handle.MonitorPort,
		SnapshotName: handle.SnapshotName,
	}
	if err := store.WithTx(ctx, func(q db.Queries) error {
		return q.Handles().Put(ctx, record)
	}); err != nil {
		return fmt.Errorf("orchestrator: persist handle: %w", err)
	}
	return nil
}

func (o *Orchestrator) closeStore(store db.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		o.logger.Warn("close state store", "error", err)
	}
}

func (o *Orchestrator) closeResponder(srv *responder.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), responderCloseTimeout)
	defer cancel()
	if err := srv.Close(ctx); err != nil {
		o.logger.Warn("close responder", "port", srv.Port(), "error", err)
	}
}

func (o *Orchestrator) stopInstance(inst runtime.Instance) {
	if err := inst.Stop(context.Background()); err != nil {
		o.logger.Warn("stop qemu", "pid", inst.PID(), "error", err)
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, typ string, phase orchestratorevents.Phase, message string, port, pid int) {
	if o.bus == nil {
		return
	}
	event := orchestratorevents.Event{
		Type:      typ,
		Phase:     phase,
		Message:   message,
		Port:      port,
		PID:       pid,
		Timestamp: time.Now().UTC(),
	}
	if err := o.bus.Publish(context.WithoutCancel(ctx), orchestratorevents.TopicCheckpoint, event); err != nil {
		o.logger.Error("publish event", "type", typ, "phase", phase, "error", err)
	}
}

func handleFromRecord(record *db.Handle) *runtime.Handle {
	return &runtime.Handle{
		Args:         record.Args,
		MonitorPort:  record.MonitorPort,
		SnapshotName: record.SnapshotName,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func exitDetail(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
