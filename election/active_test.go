// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/consensus"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

type activeFixture struct {
	*fixture
	cache  *votecache.Cache
	router *Router
	active *ActiveElections
}

func newActiveFixture(t *testing.T, delta uint64) *activeFixture {
	t.Helper()
	f := newFixture(t, delta)
	cache := votecache.New(1024)
	router := NewRouter(cache, f.recently, f.store, f.deps.Metrics, log.NewNoOpLogger())
	active := NewActiveElections(f.deps, cache, router, func() CycleSolicitor {
		return &recordingSolicitor{}
	})
	return &activeFixture{fixture: f, cache: cache, router: router, active: active}
}

func TestInsertIdempotentOnRoot(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	block := testBlock(10)

	first := f.active.Insert(block, types.BehaviorPriority, 0, 1)
	require.True(first.Inserted)
	require.NotNil(first.Election)
	require.Equal(1, f.active.Size())

	// Same root again: merged, same election returned.
	fork := forkOf(block, 5)
	second := f.active.Insert(fork, types.BehaviorPriority, 0, 1)
	require.False(second.Inserted)
	require.Equal(first.Election, second.Election)
	require.Equal(1, f.active.Size())
	require.True(first.Election.Contains(fork.Hash()))
}

func TestInsertConnectsRouter(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	block := testBlock(10)
	result := f.active.Insert(block, types.BehaviorPriority, 0, 1)
	require.True(result.Inserted)
	require.True(f.router.Active(block.Hash()))
}

func TestInsertSeedsFromVoteCache(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 60)
	rep := f.rep(t, 70)
	block := testBlock(10)

	// Votes arrived before the block: cached only.
	vote := &types.Vote{Account: rep, Timestamp: 100, Hashes: []types.Hash{block.Hash()}}
	f.cache.Insert(vote, f.store.Weight(rep), nil)

	result := f.active.Insert(block, types.BehaviorPriority, 0, 1)
	require.True(result.Inserted)

	// The cached vote reached quorum immediately on seeding.
	info, ok := result.Election.FindVote(rep)
	require.True(ok)
	require.Equal(block.Hash(), info.Hash)
	require.Equal(consensus.QuorumReached, result.Election.ConsensusState())
}

func TestBehaviorLimits(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	f.active.deps.Config.Active.Size = 10
	f.active.deps.Config.Active.HintedLimitPercentage = 20

	require.Equal(2, f.active.Limit(types.BehaviorHinted))
	require.Equal(1, f.active.Limit(types.BehaviorOptimistic))
	require.Equal(10, f.active.Limit(types.BehaviorPriority))
	require.Equal(2, f.active.Vacancy(types.BehaviorHinted))

	require.True(f.active.Insert(testBlock(1), types.BehaviorHinted, 0, 1).Inserted)
	require.True(f.active.Insert(testBlock(2), types.BehaviorHinted, 0, 2).Inserted)
	require.Equal(0, f.active.Vacancy(types.BehaviorHinted))
	require.Equal(2, f.active.SizeBehavior(types.BehaviorHinted))
}

func TestHardOverfillCap(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	f.active.deps.Config.Active.Size = 4

	// Priority elections respect the soft cap.
	for i := range 4 {
		require.True(f.active.Insert(testBlock(uint64(i+1)), types.BehaviorPriority, 0, 1).Inserted)
	}
	require.False(f.active.Insert(testBlock(50), types.BehaviorPriority, 0, 1).Inserted)

	// Manual elections may overfill, but never past size + size/4.
	require.True(f.active.Insert(testBlock(60), types.BehaviorManual, 0, 0).Inserted)
	refused := f.active.Insert(testBlock(70), types.BehaviorManual, 0, 0)
	require.False(refused.Inserted)
	require.Nil(refused.Election)
	require.Equal(5, f.active.Size())
}

func TestTopPrefersHighestPriority(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	low := f.active.Insert(testBlock(1), types.BehaviorPriority, 3, 10)
	high := f.active.Insert(testBlock(2), types.BehaviorPriority, 3, 99)
	require.True(low.Inserted)
	require.True(high.Inserted)

	top, priority, ok := f.active.Top(types.BehaviorPriority, 3)
	require.True(ok)
	require.Equal(high.Election, top)
	require.Equal(Priority(99), priority)

	_, _, ok = f.active.Top(types.BehaviorPriority, 4)
	require.False(ok)
}

func TestEraseOldest(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	first := f.active.Insert(testBlock(1), types.BehaviorPriority, 0, 1)
	second := f.active.Insert(testBlock(2), types.BehaviorPriority, 0, 2)

	require.True(f.active.EraseOldest())
	require.Equal(1, f.active.Size())
	require.False(f.active.Active(first.Election.QualifiedRoot()))
	require.True(f.active.Active(second.Election.QualifiedRoot()))
	require.True(first.Election.Finished())
}

func TestTickCleansUpFinishedElections(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 50)
	rep := f.rep(t, 60)
	block := testBlock(10)

	result := f.active.Insert(block, types.BehaviorPriority, 0, 1)
	require.True(result.Inserted)

	var stoppedStatus *Status
	f.active.OnStopped(func(_ *Election, status Status) {
		stoppedStatus = &status
	})

	// Confirm via final quorum, then tick: confirmed -> expired_confirmed
	// and cleaned up.
	result.Election.Vote(rep, types.FinalTimestamp, block.Hash(), types.VoteSourceLive)
	require.True(result.Election.Confirmed())

	f.active.Tick()
	require.Zero(f.active.Size())
	require.False(f.router.Active(block.Hash()))
	require.NotNil(stoppedStatus)
	require.Equal(StatusConfirmedQuorum, stoppedStatus.Type)
	require.Equal(1, f.active.RecentlyCemented.Size())

	// Late votes for the winner read as replay (recently-confirmed).
	router := f.router
	late := &types.Vote{Account: rep, Timestamp: 1, Hashes: []types.Hash{block.Hash()}}
	results := router.Vote(late, types.VoteSourceLive, types.Hash{})
	require.Equal(types.VoteReplay, results[block.Hash()])
}

func TestEraseByRoot(t *testing.T) {
	require := require.New(t)

	f := newActiveFixture(t, 1000)
	block := testBlock(10)
	result := f.active.Insert(block, types.BehaviorPriority, 0, 1)
	require.True(result.Inserted)

	require.True(f.active.Erase(block.QualifiedRoot()))
	require.Zero(f.active.Size())
	require.False(f.active.Erase(block.QualifiedRoot()))
}
