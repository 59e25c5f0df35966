// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("db: record not found")

// Handle is the stored form of a primed VM descriptor. There is at most one.
type Handle struct {
	Args         []string
	MonitorPort  int
	SnapshotName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionStatus tracks the outcome of one resume.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusFailed  SessionStatus = "failed"
)

// Session records a single `updates` run against the primed VM.
type Session struct {
	ID            string
	PayloadPath   string
	PayloadSHA256 string
	PayloadSize   int64
	ResponderPort int
	MonitorPort   int
	Status        SessionStatus
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Store describes the persistence surface consumed by the orchestrator.
type Store interface {
	Close(ctx context.Context) error
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Queries exposes repository accessors bound to a specific connection scope
// (root connection or transaction).
type Queries interface {
	Handles() HandleRepository
	Sessions() SessionRepository
}

// HandleRepository persists the singleton VM handle.
type HandleRepository interface {
	// Put replaces the stored handle.
	Put(ctx context.Context, handle *Handle) error
	// Get returns ErrNotFound when nothing has been stored.
	Get(ctx context.Context) (*Handle, error)
	UpdateMonitorPort(ctx context.Context, port int) error
}

// SessionRepository persists resume bookkeeping.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Finish(ctx context.Context, id string, status SessionStatus, errMsg string, finishedAt time.Time) error
	Get(ctx context.Context, id string) (*Session, error)
	ListRecent(ctx context.Context, limit int) ([]Session, error)
}
