// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package voting produces the local representative votes: spacing-gated,
// history-cached, batched and signed.
package voting

import (
	"sync"
	"time"

	"github.com/lattice/consensus/types"
)

type spacingEntry struct {
	hash types.Hash
	time time.Time
}

// Spacing enforces the per-root vote cooldown: within the delay window a
// root may only be voted for with the hash it was last voted for.
// Switching forks too quickly is suppressed.
type Spacing struct {
	delay time.Duration
	now   func() time.Time

	mu     sync.Mutex
	recent map[types.Root][]spacingEntry
	size   int
}

// NewSpacing returns a spacing gate with the given window.
func NewSpacing(delay time.Duration, now func() time.Time) *Spacing {
	if now == nil {
		now = time.Now
	}
	return &Spacing{
		delay:  delay,
		now:    now,
		recent: make(map[types.Root][]spacingEntry),
	}
}

// Votable reports whether a vote for (root, hash) passes the gate: no
// recent vote for the root, or only recent votes for the same hash.
func (s *Spacing) Votable(root types.Root, hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.delay)
	for _, entry := range s.recent[root] {
		if entry.time.After(cutoff) && entry.hash != hash {
			return false
		}
	}
	return true
}

// Flag records that (root, hash) was just voted for.
func (s *Spacing) Flag(root types.Root, hash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked()
	s.recent[root] = append(s.recent[root], spacingEntry{hash: hash, time: s.now()})
	s.size++
}

// Size returns the number of tracked entries.
func (s *Spacing) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Spacing) trimLocked() {
	cutoff := s.now().Add(-s.delay)
	for root, entries := range s.recent {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.time.After(cutoff) {
				kept = append(kept, entry)
			}
		}
		s.size -= len(entries) - len(kept)
		if len(kept) == 0 {
			delete(s.recent, root)
		} else {
			s.recent[root] = kept
		}
	}
}
