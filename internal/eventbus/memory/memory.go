// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package memory is the in-process event bus used by a single CLI invocation.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/volantvm/reanaconda/internal/eventbus"
)

type subscription struct {
	ch chan<- any
}

// Bus delivers each payload to every subscriber of its topic. A subscriber
// whose channel is full misses the payload and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	dropped atomic.Uint64
}

var _ eventbus.Bus = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[*subscription]struct{})}
}

// Publish never blocks on a subscriber. It only fails when ctx is done.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers ch for topic. The returned func removes it and is safe
// to call more than once; after it returns no further sends reach ch.
func (b *Bus) Subscribe(topic string, ch chan<- any) (func(), error) {
	if ch == nil {
		return nil, errors.New("eventbus: channel must not be nil")
	}
	sub := &subscription{ch: ch}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], sub)
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}, nil
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
