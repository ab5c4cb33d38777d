// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bag provides a weighted multiset used for stake tallies.
package bag

import (
	"bytes"

	"github.com/luxfi/ids"

	"github.com/lattice/consensus/types"
)

// Bag tracks the summed stake weight behind each ID.
type Bag struct {
	weights map[ids.ID]types.Amount
	total   types.Amount
}

// New returns an empty bag.
func New() *Bag {
	return &Bag{weights: make(map[ids.ID]types.Amount)}
}

// Add accumulates weight behind the given ID.
func (b *Bag) Add(id ids.ID, weight types.Amount) {
	b.weights[id] = types.AddAmounts(b.weights[id], weight)
	b.total = types.AddAmounts(b.total, weight)
}

// Weight returns the summed weight behind the ID.
func (b *Bag) Weight(id ids.ID) types.Amount {
	return b.weights[id]
}

// Total returns the sum of all weights.
func (b *Bag) Total() types.Amount {
	return b.total
}

// Len returns the number of distinct IDs.
func (b *Bag) Len() int {
	return len(b.weights)
}

// List returns the distinct IDs, in no particular order.
func (b *Bag) List() []ids.ID {
	list := make([]ids.ID, 0, len(b.weights))
	for id := range b.weights {
		list = append(list, id)
	}
	return list
}

// Heaviest returns the ID with the greatest weight. Ties break to the
// numerically smallest ID so that every caller resolves them identically.
func (b *Bag) Heaviest() (ids.ID, bool) {
	var (
		best   ids.ID
		bestW  types.Amount
		found  bool
	)
	for id, w := range b.weights {
		switch cmp := w.Cmp(&bestW); {
		case !found, cmp > 0:
			best, bestW, found = id, w, true
		case cmp == 0 && bytes.Compare(id[:], best[:]) < 0:
			best = id
		}
	}
	return best, found
}

// AnyAtLeast returns some ID whose weight is >= threshold.
func (b *Bag) AnyAtLeast(threshold types.Amount) (ids.ID, bool) {
	for id, w := range b.weights {
		if w.Cmp(&threshold) >= 0 {
			return id, true
		}
	}
	return ids.ID{}, false
}

// Map returns a copy of the weight map.
func (b *Bag) Map() map[ids.ID]types.Amount {
	out := make(map[ids.ID]types.Amount, len(b.weights))
	for id, w := range b.weights {
		out[id] = w
	}
	return out
}
