// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package oneshot provides a signal that resolves exactly once and can be
// fired from any goroutine.
package oneshot

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal resolves on the first Fire. Later fires are counted but otherwise ignored.
type Signal struct {
	once  sync.Once
	ch    chan struct{}
	fires atomic.Int64
}

// New returns an unresolved signal.
func New() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire resolves the signal. Safe for concurrent use.
func (s *Signal) Fire() {
	s.fires.Add(1)
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once the signal has resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has resolved.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Count returns how many times Fire was called.
func (s *Signal) Count() int64 {
	return s.fires.Load()
}

// Wait blocks until the signal resolves or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
