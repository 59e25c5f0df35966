// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package oneshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalResolvesOnceUnderConcurrentFires(t *testing.T) {
	sig := New()
	assert.False(t, sig.Fired())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Fire()
		}()
	}
	wg.Wait()

	assert.True(t, sig.Fired())
	assert.EqualValues(t, 16, sig.Count())
	require.NoError(t, sig.Wait(context.Background()))
}

func TestSignalWaitHonorsContext(t *testing.T) {
	sig := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sig.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sig.Fired())
}
