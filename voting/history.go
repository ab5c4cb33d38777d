// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"sync"

	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/linked"
)

type localVote struct {
	hash types.Hash
	vote *types.Vote
}

// History caches the votes this node has signed, per root. Cached votes
// answer confirm_req replies without re-signing and suppress duplicate
// generation.
type History struct {
	maxCache int

	mu      sync.Mutex
	history *linked.Hashmap[types.Root, []localVote]
}

// NewHistory returns a history bounded at maxCache roots.
func NewHistory(maxCache int) *History {
	return &History{
		maxCache: maxCache,
		history:  linked.NewHashmap[types.Root, []localVote](),
	}
}

// Add records a signed vote for (root, hash). Votes for a different hash
// on the same root are dropped first: the node switched forks, and the
// old votes must not be served any more.
func (h *History) Add(root types.Root, hash types.Hash, vote *types.Vote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, _ := h.history.Get(root)
	kept := entries[:0]
	for _, entry := range entries {
		if entry.hash == hash {
			kept = append(kept, entry)
		}
	}
	kept = append(kept, localVote{hash: hash, vote: vote})
	h.history.Put(root, kept)

	for h.history.Len() > h.maxCache {
		h.history.PopOldest()
	}
}

// Erase drops the cached votes for a root.
func (h *History) Erase(root types.Root) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history.Delete(root)
}

// Votes returns the cached votes for (root, hash) with the requested
// finality.
func (h *History) Votes(root types.Root, hash types.Hash, isFinal bool) []*types.Vote {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, _ := h.history.Get(root)
	var out []*types.Vote
	for _, entry := range entries {
		if entry.hash == hash && entry.vote.IsFinal() == isFinal {
			out = append(out, entry.vote)
		}
	}
	return out
}

// Exists reports whether any votes are cached for the root.
func (h *History) Exists(root types.Root) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.history.Get(root)
	return ok
}

// Size returns the number of cached votes.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	h.history.ForEach(func(_ types.Root, entries []localVote) bool {
		total += len(entries)
		return true
	})
	return total
}
