// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"sync"
)

// Service provides mutual exclusion keyed by arbitrary strings. The engine
// uses it to linearize gateway hit-accounting per (process instance, gateway).
type Service interface {
	// WithLock runs fn while holding the lock for key.
	WithLock(ctx context.Context, key string, fn func() error) error
}

// inMemoryLocker is a reference-counted keyed mutex. Entries are removed once
// the last holder releases, so the map does not grow with key cardinality.
type inMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewInMemoryLocker() Service {
	return &inMemoryLocker{
		locks: map[string]*lockEntry{},
	}
}

func (l *inMemoryLocker) WithLock(_ context.Context, key string, fn func() error) error {
	entry := l.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(key, entry)
	}()
	return fn()
}

func (l *inMemoryLocker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *inMemoryLocker) release(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
