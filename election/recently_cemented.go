// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"container/list"
	"sync"
)

// RecentlyCemented keeps the status snapshots of the latest confirmed
// elections, bounded by the confirmation history size. RPC surfaces read
// it; the core only appends.
type RecentlyCemented struct {
	mu      sync.Mutex
	entries *list.List
	maxSize int
}

// NewRecentlyCemented returns a history bounded at maxSize snapshots.
func NewRecentlyCemented(maxSize int) *RecentlyCemented {
	return &RecentlyCemented{
		entries: list.New(),
		maxSize: maxSize,
	}
}

// Put appends a confirmed election status.
func (r *RecentlyCemented) Put(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.PushBack(status)
	for r.entries.Len() > r.maxSize {
		r.entries.Remove(r.entries.Front())
	}
}

// List snapshots the history, oldest first.
func (r *RecentlyCemented) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, r.entries.Len())
	for e := r.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Status))
	}
	return out
}

// Size returns the number of retained snapshots.
func (r *RecentlyCemented) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}
