// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package buckets partitions the balance domain into priority strata.
// Elections and backlog entries are assigned to exactly one bucket; each
// bucket receives an equal reserved share of the active-elections space.
package buckets

import (
	"github.com/lattice/consensus/types"
)

// Index identifies one bucket.
type Index = uint64

// Bucketing maps a priority balance to its bucket: the highest minimum
// threshold not exceeding the balance.
type Bucketing struct {
	minimums []types.Amount
}

// New builds the standard partition: a zero bucket, densely divided
// regions around the common balance magnitudes and a top bucket.
func New() *Bucketing {
	b := &Bucketing{}
	push := func(a types.Amount) { b.minimums = append(b.minimums, a) }

	buildRegion := func(beginBits, endBits uint, count uint64) {
		begin := types.AmountShift(beginBits)
		end := types.AmountShift(endBits)
		var width types.Amount
		width.Sub(&end, &begin)
		var divisor types.Amount
		divisor.SetUint64(count)
		width.Div(&width, &divisor)
		for i := uint64(0); i < count; i++ {
			var offset types.Amount
			offset.SetUint64(i)
			offset.Mul(&offset, &width)
			offset.Add(&offset, &begin)
			push(offset)
		}
	}

	push(types.ZeroAmount())
	buildRegion(79, 88, 1)
	buildRegion(88, 92, 2)
	buildRegion(92, 96, 4)
	buildRegion(96, 100, 8)
	buildRegion(100, 104, 16)
	buildRegion(104, 108, 16)
	buildRegion(108, 112, 8)
	buildRegion(112, 116, 4)
	buildRegion(116, 120, 2)
	push(types.AmountShift(120))

	return b
}

// Index returns the bucket of the given priority balance.
func (b *Bucketing) Index(balance types.Amount) Index {
	// The zero bucket guarantees a match.
	idx := Index(0)
	for i := range b.minimums {
		if balance.Cmp(&b.minimums[i]) >= 0 {
			idx = Index(i)
		} else {
			break
		}
	}
	return idx
}

// Size returns the number of buckets.
func (b *Bucketing) Size() int {
	return len(b.minimums)
}

// Indices lists every bucket index.
func (b *Bucketing) Indices() []Index {
	out := make([]Index, len(b.minimums))
	for i := range out {
		out[i] = Index(i)
	}
	return out
}

// Minimum returns the lower balance bound of a bucket.
func (b *Bucketing) Minimum(index Index) types.Amount {
	return b.minimums[index]
}
