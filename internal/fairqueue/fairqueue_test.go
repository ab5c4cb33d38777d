// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fairqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/transport/transporttest"
)

type source int

const (
	sourceLive source = iota
	sourceBootstrap
	sourceUnchecked
)

func TestConstruction(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	require.Zero(queue.TotalSize())
	require.True(queue.Empty())
}

func TestProcessOne(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	queue.PriorityQuery = func(Origin[source]) int { return 1 }
	queue.MaxSizeQuery = func(Origin[source]) int { return 1 }

	require.True(queue.Push(7, sourceLive, nil))
	require.Equal(1, queue.TotalSize())
	require.Equal(1, queue.QueuesSize())
	require.Equal(1, queue.Size(sourceLive, nil))
	require.Zero(queue.Size(sourceBootstrap, nil))

	item, ok := queue.Next()
	require.True(ok)
	require.Equal(7, item.Request)
	require.Equal(sourceLive, item.Origin.Source)
	require.Nil(item.Origin.Channel)

	require.True(queue.Empty())
}

func TestProcessMany(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	queue.PriorityQuery = func(Origin[source]) int { return 1 }

	require.True(queue.Push(7, sourceLive, nil))
	require.True(queue.Push(8, sourceBootstrap, nil))
	require.True(queue.Push(9, sourceUnchecked, nil))
	require.Equal(3, queue.TotalSize())
	require.Equal(3, queue.QueuesSize())

	var got []int
	for range 3 {
		item, ok := queue.Next()
		require.True(ok)
		got = append(got, item.Request)
	}
	require.Equal([]int{7, 8, 9}, got)
	require.True(queue.Empty())
}

func TestMaxQueueSize(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	queue.MaxSizeQuery = func(Origin[source]) int { return 2 }

	require.True(queue.Push(7, sourceLive, nil))
	require.True(queue.Push(8, sourceLive, nil))
	require.False(queue.Push(9, sourceLive, nil))
	require.Equal(2, queue.TotalSize())
	require.Equal(1, queue.QueuesSize())
	require.Equal(2, queue.Size(sourceLive, nil))
}

// Sources with priorities 1/2/3 interleave as L B B U U U L B L.
func TestRoundRobinWithPriority(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	queue.MaxSizeQuery = func(Origin[source]) int { return 999 }
	queue.PriorityQuery = func(origin Origin[source]) int {
		switch origin.Source {
		case sourceLive:
			return 1
		case sourceBootstrap:
			return 2
		default:
			return 3
		}
	}

	for _, v := range []int{7, 8, 9} {
		require.True(queue.Push(v, sourceLive, nil))
	}
	for _, v := range []int{10, 11, 12} {
		require.True(queue.Push(v, sourceBootstrap, nil))
	}
	for _, v := range []int{13, 14, 15} {
		require.True(queue.Push(v, sourceUnchecked, nil))
	}

	var sources []source
	for range 9 {
		item, ok := queue.Next()
		require.True(ok)
		sources = append(sources, item.Origin.Source)
	}
	require.Equal([]source{
		sourceLive,
		sourceBootstrap, sourceBootstrap,
		sourceUnchecked, sourceUnchecked, sourceUnchecked,
		sourceLive,
		sourceBootstrap,
		sourceLive,
	}, sources)

	_, ok := queue.Next()
	require.False(ok)
	require.True(queue.Empty())
}

func TestCleanupDeadChannels(t *testing.T) {
	require := require.New(t)

	alive := &transporttest.Channel{}
	dead := &transporttest.Channel{Dead: true}

	queue := New[source, int]()
	require.True(queue.Push(1, sourceLive, alive))
	require.True(queue.Push(2, sourceLive, dead))
	require.Equal(2, queue.QueuesSize())

	queue.Cleanup()
	require.Equal(1, queue.QueuesSize())
	require.Equal(1, queue.Size(sourceLive, alive))
	require.Zero(queue.Size(sourceLive, dead))
}

func TestNextBatch(t *testing.T) {
	require := require.New(t)

	queue := New[source, int]()
	for v := range 5 {
		require.True(queue.Push(v, sourceLive, nil))
	}

	batch := queue.NextBatch(3)
	require.Len(batch, 3)
	require.Equal(2, queue.TotalSize())
}
