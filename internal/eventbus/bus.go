// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package eventbus decouples orchestrator progress from how it is rendered.
package eventbus

import "context"

// Bus carries lifecycle events from the orchestrator to listeners such as
// the CLI progress printer. Publish must not block on slow listeners.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, ch chan<- any) (unsubscribe func(), err error)
}
