// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package backlog bounds the pool of unconfirmed work: when too many
// blocks await confirmation, the newest work (highest priority timestamp)
// in the fullest buckets is rolled back.
package backlog

import (
	"sort"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/types"
)

// Entry tracks one account with unconfirmed blocks.
type Entry struct {
	Account     types.Account
	Bucket      buckets.Index
	Priority    uint64
	Head        types.Hash
	Unconfirmed uint64
}

// index is the backlog bookkeeping: per-account entries plus per-bucket
// unconfirmed counters. Mutations update both under the backlog mutex.
type index struct {
	accounts map[types.Account]*Entry

	unconfirmedByBucket map[buckets.Index]uint64
	sizeByBucket        map[buckets.Index]int
	backlogCounter      uint64
}

func newIndex() *index {
	return &index{
		accounts:            make(map[types.Account]*Entry),
		unconfirmedByBucket: make(map[buckets.Index]uint64),
		sizeByBucket:        make(map[buckets.Index]int),
	}
}

func (i *index) update(account types.Account, head types.Hash, bucket buckets.Index, priority uint64, unconfirmed uint64) {
	if existing, ok := i.accounts[account]; ok {
		i.backlogCounter -= existing.Unconfirmed
		i.unconfirmedByBucket[existing.Bucket] -= existing.Unconfirmed
		i.sizeByBucket[existing.Bucket]--
	}
	i.accounts[account] = &Entry{
		Account:     account,
		Bucket:      bucket,
		Priority:    priority,
		Head:        head,
		Unconfirmed: unconfirmed,
	}
	i.backlogCounter += unconfirmed
	i.unconfirmedByBucket[bucket] += unconfirmed
	i.sizeByBucket[bucket]++
}

func (i *index) erase(account types.Account) bool {
	existing, ok := i.accounts[account]
	if !ok {
		return false
	}
	i.backlogCounter -= existing.Unconfirmed
	i.unconfirmedByBucket[existing.Bucket] -= existing.Unconfirmed
	i.sizeByBucket[existing.Bucket]--
	delete(i.accounts, account)
	return true
}

func (i *index) head(account types.Account) (types.Hash, bool) {
	if existing, ok := i.accounts[account]; ok {
		return existing.Head, true
	}
	return types.Hash{}, false
}

func (i *index) unconfirmed(bucket buckets.Index) uint64 {
	return i.unconfirmedByBucket[bucket]
}

func (i *index) backlogSize() uint64 {
	return i.backlogCounter
}

// top returns up to count entries of the bucket in descending priority
// order (highest priority timestamp first), filtered.
func (i *index) top(bucket buckets.Index, count int, filter func(types.Hash) bool) []Entry {
	var entries []Entry
	for _, entry := range i.accounts {
		if entry.Bucket == bucket {
			entries = append(entries, *entry)
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Priority > entries[b].Priority
	})

	var out []Entry
	for _, entry := range entries {
		if len(out) >= count {
			break
		}
		if filter(entry.Head) {
			out = append(out, entry)
		}
	}
	return out
}
