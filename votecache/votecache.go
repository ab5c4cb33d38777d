// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package votecache retains votes for blocks that have no election yet.
// New elections are seeded from it, and the hinted scheduler mines it for
// hashes that already carry meaningful weight.
package votecache

import (
	"sync"

	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/linked"
)

// maxVoters bounds the voters tracked per hash.
const maxVoters = 80

// CachedVote is one cached (representative, timestamp, weight) triple.
type CachedVote struct {
	Representative types.Account
	Timestamp      uint64
	Weight         types.Amount
}

// Entry aggregates the cached votes for one hash.
type Entry struct {
	Hash       types.Hash
	Voters     []CachedVote
	Tally      types.Amount
	FinalTally types.Amount
}

func (e *Entry) vote(rep types.Account, timestamp uint64, weight types.Amount) {
	for i := range e.Voters {
		if e.Voters[i].Representative == rep {
			// Already counted; only the timestamp can advance.
			if timestamp > e.Voters[i].Timestamp {
				if types.IsFinalTimestamp(timestamp) && !types.IsFinalTimestamp(e.Voters[i].Timestamp) {
					e.FinalTally = types.AddAmounts(e.FinalTally, e.Voters[i].Weight)
				}
				e.Voters[i].Timestamp = timestamp
			}
			return
		}
	}
	if len(e.Voters) >= maxVoters {
		return
	}
	e.Voters = append(e.Voters, CachedVote{Representative: rep, Timestamp: timestamp, Weight: weight})
	e.Tally = types.AddAmounts(e.Tally, weight)
	if types.IsFinalTimestamp(timestamp) {
		e.FinalTally = types.AddAmounts(e.FinalTally, weight)
	}
}

// Cache is the bounded hash → cached votes map. The linked hashmap keeps
// insertion order so overflow evicts the oldest entry.
type Cache struct {
	mu      sync.Mutex
	entries *linked.Hashmap[types.Hash, *Entry]
	maxSize int
}

// New returns a cache bounded at maxSize entries.
func New(maxSize int) *Cache {
	return &Cache{
		entries: linked.NewHashmap[types.Hash, *Entry](),
		maxSize: maxSize,
	}
}

// Insert caches the vote under every listed hash. When results are given,
// only hashes reported indeterminate are cached — the others already have
// an election or are finished.
func (c *Cache) Insert(vote *types.Vote, weight types.Amount, results map[types.Hash]types.VoteCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hash := range vote.Hashes {
		if results != nil {
			if code, ok := results[hash]; !ok || code != types.VoteIndeterminate {
				continue
			}
		}
		entry, ok := c.entries.Get(hash)
		if !ok {
			entry = &Entry{Hash: hash}
			c.entries.Put(hash, entry)
			for c.entries.Len() > c.maxSize {
				c.entries.PopOldest()
			}
		}
		entry.vote(vote.Account, vote.Timestamp, weight)
	}
}

// Find returns the cached entry for a hash.
func (c *Cache) Find(hash types.Hash) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries.Get(hash); ok {
		return *entry, true
	}
	return Entry{}, false
}

// Exists reports whether any votes are cached for the hash.
func (c *Cache) Exists(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries.Get(hash)
	return ok
}

// Erase removes the cached entry for a hash.
func (c *Cache) Erase(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Delete(hash)
}

// Size returns the number of cached hashes.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Top lists entries whose tally is at least minTally, heaviest first.
func (c *Cache) Top(minTally types.Amount) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	c.entries.ForEach(func(_ types.Hash, entry *Entry) bool {
		if entry.Tally.Cmp(&minTally) >= 0 {
			out = append(out, *entry)
		}
		return true
	})
	// Heaviest first; insertion order breaks ties.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Tally.Cmp(&out[j-1].Tally) > 0; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
