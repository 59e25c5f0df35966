// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package events

import "time"

// Phase names a step of prime or resume.
type Phase string

const (
	PhaseProvisioned   Phase = "provisioned"
	PhaseDownloaded    Phase = "downloaded"
	PhaseKickstart     Phase = "kickstart"
	PhaseLaunched      Phase = "launched"
	PhaseTriggered     Phase = "triggered"
	PhasePaused        Phase = "paused"
	PhaseSnapshotSaved Phase = "snapshot_saved"
	PhaseCommitted     Phase = "committed"
	PhaseQuit          Phase = "quit"
	PhasePersisted     Phase = "persisted"
	PhaseServing       Phase = "serving"
	PhaseExited        Phase = "exited"
	PhaseCleaned       Phase = "cleaned"
)

// Event describes a step taken by the orchestrator.
type Event struct {
	Type      string    `json:"type"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message,omitempty"`
	Port      int       `json:"port,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TypePrime   = "PRIME"
	TypeResume  = "RESUME"
	TypeCleanup = "CLEANUP"
)

// TopicCheckpoint is the event bus topic for orchestrator progress.
const TopicCheckpoint = "reanaconda.checkpoint.events"
