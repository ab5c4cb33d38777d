// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package buckets

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/types"
)

func TestBucketCount(t *testing.T) {
	require := require.New(t)

	b := New()
	// 1 + 1 + 2 + 4 + 8 + 16 + 16 + 8 + 4 + 2 + 1 strata.
	require.Equal(63, b.Size())
	require.Len(b.Indices(), 63)
}

func TestIndexBoundaries(t *testing.T) {
	require := require.New(t)

	b := New()

	// Everything below 2^79 lands in the zero bucket.
	require.Equal(Index(0), b.Index(types.ZeroAmount()))
	require.Equal(Index(0), b.Index(types.AmountFromUint64(1)))

	// The first threshold is inclusive.
	require.Equal(Index(1), b.Index(types.AmountShift(79)))

	// The top bucket catches everything from 2^120 up.
	top := Index(b.Size() - 1)
	require.Equal(top, b.Index(types.AmountShift(120)))
	require.Equal(top, b.Index(types.AmountShift(127)))
}

func TestIndexMonotonic(t *testing.T) {
	require := require.New(t)

	b := New()
	prev := Index(0)
	for bits := uint(70); bits <= 127; bits++ {
		idx := b.Index(types.AmountShift(bits))
		require.GreaterOrEqual(idx, prev)
		prev = idx
	}
}
