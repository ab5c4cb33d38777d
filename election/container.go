// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/types"
)

// Priority is the intra-bucket ordering value of an active election.
// Lower is better; eviction targets the highest.
type Priority = uint64

type containerEntry struct {
	election *Election
	root     types.QualifiedRoot
	behavior types.Behavior
	bucket   buckets.Index
	priority Priority
	seq      uint64
}

type behaviorBucket struct {
	behavior types.Behavior
	bucket   buckets.Index
}

// container is the multi-indexed registry behind ActiveElections: by
// insertion order, by qualified root and by (behavior, bucket, priority).
// All mutations happen under the ActiveElections mutex and update every
// index together.
type container struct {
	order    []*containerEntry
	byRoot   map[types.QualifiedRoot]*containerEntry
	byBucket map[behaviorBucket]map[*containerEntry]struct{}

	sizeByBehavior map[types.Behavior]int
	nextSeq        uint64
}

func newContainer() *container {
	return &container{
		byRoot:         make(map[types.QualifiedRoot]*containerEntry),
		byBucket:       make(map[behaviorBucket]map[*containerEntry]struct{}),
		sizeByBehavior: make(map[types.Behavior]int),
	}
}

func (c *container) insert(election *Election, behavior types.Behavior, bucket buckets.Index, priority Priority) {
	entry := &containerEntry{
		election: election,
		root:     election.QualifiedRoot(),
		behavior: behavior,
		bucket:   bucket,
		priority: priority,
		seq:      c.nextSeq,
	}
	c.nextSeq++

	c.order = append(c.order, entry)
	c.byRoot[entry.root] = entry

	key := behaviorBucket{behavior, bucket}
	group, ok := c.byBucket[key]
	if !ok {
		group = make(map[*containerEntry]struct{})
		c.byBucket[key] = group
	}
	group[entry] = struct{}{}

	c.sizeByBehavior[behavior]++
}

func (c *container) erase(root types.QualifiedRoot) (*containerEntry, bool) {
	entry, ok := c.byRoot[root]
	if !ok {
		return nil, false
	}
	delete(c.byRoot, root)

	for i, e := range c.order {
		if e == entry {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	key := behaviorBucket{entry.behavior, entry.bucket}
	if group, ok := c.byBucket[key]; ok {
		delete(group, entry)
		if len(group) == 0 {
			delete(c.byBucket, key)
		}
	}

	c.sizeByBehavior[entry.behavior]--
	return entry, true
}

func (c *container) exists(root types.QualifiedRoot) bool {
	_, ok := c.byRoot[root]
	return ok
}

func (c *container) election(root types.QualifiedRoot) (*Election, bool) {
	if entry, ok := c.byRoot[root]; ok {
		return entry.election, true
	}
	return nil, false
}

func (c *container) size() int {
	return len(c.order)
}

func (c *container) sizeBehavior(behavior types.Behavior) int {
	return c.sizeByBehavior[behavior]
}

func (c *container) sizeBucket(behavior types.Behavior, bucket buckets.Index) int {
	return len(c.byBucket[behaviorBucket{behavior, bucket}])
}

// top returns the entry with the highest priority number in the bucket;
// ties resolve to the oldest insertion. The result is the eviction
// candidate, not the best election.
func (c *container) top(behavior types.Behavior, bucket buckets.Index) (*Election, Priority, bool) {
	group, ok := c.byBucket[behaviorBucket{behavior, bucket}]
	if !ok || len(group) == 0 {
		return nil, 0, false
	}
	var best *containerEntry
	for entry := range group {
		if best == nil ||
			entry.priority > best.priority ||
			(entry.priority == best.priority && entry.seq < best.seq) {
			best = entry
		}
	}
	return best.election, best.priority, true
}

// oldest returns the earliest-inserted entry.
func (c *container) oldest() (*containerEntry, bool) {
	if len(c.order) == 0 {
		return nil, false
	}
	return c.order[0], true
}

// list snapshots the elections in insertion order.
func (c *container) list() []*Election {
	out := make([]*Election, 0, len(c.order))
	for _, entry := range c.order {
		out = append(out, entry.election)
	}
	return out
}

func (c *container) clear() {
	c.order = nil
	c.byRoot = make(map[types.QualifiedRoot]*containerEntry)
	c.byBucket = make(map[behaviorBucket]map[*containerEntry]struct{})
	c.sizeByBehavior = make(map[types.Behavior]int)
}
