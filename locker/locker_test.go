// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockMutualExclusion(t *testing.T) {
	svc := NewInMemoryLocker()
	ctx := context.Background()

	const goroutines = 50
	const increments = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				err := svc.WithLock(ctx, "counter", func() error {
					counter++
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*increments, counter)
}

func TestWithLockDistinctKeysDoNotBlock(t *testing.T) {
	svc := NewInMemoryLocker()
	ctx := context.Background()

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = svc.WithLock(ctx, "a", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// must complete while "a" is still held
	err := svc.WithLock(ctx, "b", func() error { return nil })
	require.NoError(t, err)
	close(release)
}

func TestWithLockPropagatesError(t *testing.T) {
	svc := NewInMemoryLocker()
	wantErr := errors.New("boom")

	err := svc.WithLock(context.Background(), "k", func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	// lock is released after an error
	err = svc.WithLock(context.Background(), "k", func() error { return nil })
	assert.NoError(t, err)
}

func TestLockEntriesAreReclaimed(t *testing.T) {
	svc := NewInMemoryLocker().(*inMemoryLocker)

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.WithLock(context.Background(), "transient", func() error { return nil }))
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Empty(t, svc.locks)
}
