// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"sync"

	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/linked"
)

// RecentlyConfirmed remembers (qualified root, winner hash) pairs of
// finished elections so the router can report late votes as replays
// instead of indeterminate. Bounded, oldest evicted first.
type RecentlyConfirmed struct {
	mu      sync.Mutex
	byRoot  *linked.Hashmap[types.QualifiedRoot, types.Hash]
	byHash  map[types.Hash]types.QualifiedRoot
	maxSize int
}

// NewRecentlyConfirmed returns a cache bounded at maxSize pairs.
func NewRecentlyConfirmed(maxSize int) *RecentlyConfirmed {
	return &RecentlyConfirmed{
		byRoot:  linked.NewHashmap[types.QualifiedRoot, types.Hash](),
		byHash:  make(map[types.Hash]types.QualifiedRoot),
		maxSize: maxSize,
	}
}

// Put records a confirmed pair.
func (r *RecentlyConfirmed) Put(root types.QualifiedRoot, hash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.byRoot.Get(root); ok {
		delete(r.byHash, previous)
	}
	r.byRoot.Put(root, hash)
	r.byHash[hash] = root
	for r.byRoot.Len() > r.maxSize {
		_, evicted, _ := r.byRoot.PopOldest()
		delete(r.byHash, evicted)
	}
}

// ExistsHash reports whether the hash won a recent election.
func (r *RecentlyConfirmed) ExistsHash(hash types.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byHash[hash]
	return ok
}

// ExistsRoot reports whether the qualified root recently confirmed.
func (r *RecentlyConfirmed) ExistsRoot(root types.QualifiedRoot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byRoot.Get(root)
	return ok
}

// Size returns the number of remembered pairs.
func (r *RecentlyConfirmed) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRoot.Len()
}
