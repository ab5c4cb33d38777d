// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/consensus"
	"github.com/lattice/consensus/ledger/ledgertest"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

// recordingGenerator captures candidates handed to a vote generator.
type recordingGenerator struct {
	mu    sync.Mutex
	added []types.Hash
}

func (g *recordingGenerator) Add(_ types.Root, hash types.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, hash)
}

func (g *recordingGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.added)
}

// recordingSolicitor captures broadcast and request calls.
type recordingSolicitor struct {
	mu         sync.Mutex
	broadcasts []types.Hash
	requests   []types.Hash
}

func (s *recordingSolicitor) Broadcast(block *types.Block, _ map[types.Account]consensus.VoteInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, block.Hash())
	return true
}

func (s *recordingSolicitor) Request(block *types.Block, _ map[types.Account]consensus.VoteInfo) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, block.Hash())
	return 1
}

func (s *recordingSolicitor) Flush() {}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Unix(1_700_000_000, 0)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store          *ledgertest.Store
	wallets        *ledgertest.Wallets
	processor      *ledgertest.BlockProcessor
	confirmingSet  *ledgertest.ConfirmingSet
	recently       *RecentlyConfirmed
	generator      *recordingGenerator
	finalGenerator *recordingGenerator
	clock          *clock
	deps           Deps
}

func newFixture(t *testing.T, delta uint64) *fixture {
	t.Helper()
	f := &fixture{
		store:          ledgertest.NewStore(),
		wallets:        ledgertest.NewWallets(),
		processor:      &ledgertest.BlockProcessor{},
		confirmingSet:  &ledgertest.ConfirmingSet{},
		recently:       NewRecentlyConfirmed(64),
		generator:      &recordingGenerator{},
		finalGenerator: &recordingGenerator{},
		clock:          newClock(),
	}
	f.wallets.AddRep()
	f.deps = Deps{
		Config: config.DevNet(),
		Ledger: f.store,
		OnlineReps: ledgertest.OnlineReps{
			DeltaAmount:   types.AmountFromUint64(delta),
			TrendedAmount: types.AmountFromUint64(delta),
		},
		Wallets:           f.wallets,
		BlockProcessor:    f.processor,
		ConfirmingSet:     f.confirmingSet,
		RecentlyConfirmed: f.recently,
		Generator:         f.generator,
		FinalGenerator:    f.finalGenerator,
		Logger:            log.NewNoOpLogger(),
		Metrics:           NewNoOpMetrics(),
		Async:             func(fn func()) { fn() },
		Now:               f.clock.Now,
	}
	return f
}

func (f *fixture) rep(t *testing.T, weight uint64) types.Account {
	t.Helper()
	account := ids.GenerateTestID()
	f.store.SetWeight(account, types.AmountFromUint64(weight))
	return account
}

func testBlock(balance uint64) *types.Block {
	return types.NewBlock(types.Block{
		Account:  ids.GenerateTestID(),
		Previous: ids.GenerateTestID(),
		Balance:  types.AmountFromUint64(balance),
		Sideband: types.Sideband{Height: 2, Timestamp: 1},
	})
}

func forkOf(block *types.Block, balance uint64) *types.Block {
	return types.NewBlock(types.Block{
		Account:  block.Account,
		Previous: block.Previous,
		Balance:  types.AmountFromUint64(balance),
		Sideband: block.Sideband,
	})
}

func TestValidChangeTable(t *testing.T) {
	require := require.New(t)

	require.True(ValidChange(StatePassive, StateActive))
	require.True(ValidChange(StatePassive, StateConfirmed))
	require.True(ValidChange(StatePassive, StateExpiredUnconfirmed))
	require.True(ValidChange(StatePassive, StateCancelled))
	require.False(ValidChange(StatePassive, StateExpiredConfirmed))

	require.True(ValidChange(StateActive, StateConfirmed))
	require.False(ValidChange(StateActive, StatePassive))

	require.True(ValidChange(StateConfirmed, StateExpiredConfirmed))
	require.False(ValidChange(StateConfirmed, StateExpiredUnconfirmed))

	for _, terminal := range []State{StateExpiredConfirmed, StateExpiredUnconfirmed, StateCancelled} {
		for _, to := range []State{StatePassive, StateActive, StateConfirmed, StateExpiredConfirmed, StateExpiredUnconfirmed, StateCancelled} {
			require.False(ValidChange(terminal, to))
		}
	}
}

// Scenario: three reps (50/30/20), delta 67. Normal quorum locks the
// candidate; two final votes reach final quorum and confirm.
func TestElectionConfirmation(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 67)
	r1 := f.rep(t, 50)
	r2 := f.rep(t, 30)
	r3 := f.rep(t, 20)

	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	hash := block.Hash()

	require.Equal(types.VoteNew, e.Vote(r1, 100, hash, types.VoteSourceLive))
	require.Equal(types.VoteNew, e.Vote(r2, 100, hash, types.VoteSourceLive))
	require.Equal(types.VoteNew, e.Vote(r3, 100, hash, types.VoteSourceLive))
	require.Equal(consensus.QuorumReached, e.ConsensusState())
	require.False(e.Confirmed())

	require.Equal(types.VoteNew, e.Vote(r1, types.FinalTimestamp, hash, types.VoteSourceLive))
	require.Equal(types.VoteNew, e.Vote(r2, types.FinalTimestamp, hash, types.VoteSourceLive))

	require.Equal(consensus.FinalQuorumReached, e.ConsensusState())
	require.True(e.Confirmed())
	require.Equal(StateConfirmed, e.CurrentState())

	status := e.CurrentStatus()
	require.NotNil(status.Winner)
	require.Equal(hash, status.Winner.Hash())

	require.True(f.recently.ExistsHash(hash))
	require.True(f.recently.ExistsRoot(block.QualifiedRoot()))
	require.True(f.confirmingSet.Exists(hash))
}

// Replaying a vote yields replay; an older timestamp also yields replay.
func TestElectionVoteReplay(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	rep := f.rep(t, 10)
	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)

	require.Equal(types.VoteNew, e.Vote(rep, 100, block.Hash(), types.VoteSourceLive))
	require.Equal(types.VoteReplay, e.Vote(rep, 100, block.Hash(), types.VoteSourceLive))
	require.Equal(types.VoteReplay, e.Vote(rep, 50, block.Hash(), types.VoteSourceLive))
	require.Equal(types.VoteNew, e.Vote(rep, 101, block.Hash(), types.VoteSourceLive))
}

// A fork that wins quorum while not in the ledger is forced into the
// block processor.
func TestElectionForcesWinningFork(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 60)
	rep := f.rep(t, 70)

	block := testBlock(10)
	fork := forkOf(block, 5)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	require.True(e.Process(fork, types.BlockFork))

	require.Equal(types.VoteNew, e.Vote(rep, 100, fork.Hash(), types.VoteSourceLive))
	require.Positive(f.processor.ForcedCount())
}

func TestElectionConfirmationActionRuns(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 50)
	rep := f.rep(t, 60)
	block := testBlock(10)

	var confirmed *types.Block
	e := NewElection(f.deps, block, types.BehaviorManual, func(b *types.Block) { confirmed = b }, nil)
	e.Vote(rep, types.FinalTimestamp, block.Hash(), types.VoteSourceLive)

	require.NotNil(confirmed)
	require.Equal(block.Hash(), confirmed.Hash())
}

func TestElectionLifecycleTick(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 67)
	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	solicitor := &recordingSolicitor{}

	// Passive until the passive window elapses.
	require.False(e.TransitionTime(solicitor))
	require.Equal(StatePassive, e.CurrentState())

	f.clock.Advance(6 * f.deps.Config.BaseLatency())
	require.False(e.TransitionTime(solicitor))
	require.Equal(StateActive, e.CurrentState())

	// Active ticks vote, broadcast and request confirmations.
	require.False(e.TransitionTime(solicitor))
	require.NotEmpty(solicitor.broadcasts)
	require.NotEmpty(solicitor.requests)
	require.Positive(f.generator.count())
}

func TestElectionConfirmedTickFinishes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 50)
	rep := f.rep(t, 60)
	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	e.Vote(rep, types.FinalTimestamp, block.Hash(), types.VoteSourceLive)
	require.Equal(StateConfirmed, e.CurrentState())

	done := e.TransitionTime(&recordingSolicitor{})
	require.True(done)
	require.Equal(StateExpiredConfirmed, e.CurrentState())
	require.True(e.Finished())
	// The confirmed winner was voted on finally.
	require.Positive(f.finalGenerator.count())
}

// At exactly TTL the election lives; past it, it expires.
func TestElectionTimeToLive(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 67)
	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorHinted, nil, nil)
	solicitor := &recordingSolicitor{}

	f.clock.Advance(30 * time.Second)
	require.False(e.TransitionTime(solicitor))
	require.False(e.Failed())

	f.clock.Advance(time.Millisecond)
	require.True(e.TransitionTime(solicitor))
	require.True(e.Failed())
	require.Equal(StateExpiredUnconfirmed, e.CurrentState())
}

func TestElectionCancel(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 67)
	e := NewElection(f.deps, testBlock(10), types.BehaviorManual, nil, nil)
	e.Cancel()
	require.True(e.Finished())
	require.True(e.TransitionTime(&recordingSolicitor{}))
}

func TestRecentlyConfirmedEviction(t *testing.T) {
	require := require.New(t)

	cache := NewRecentlyConfirmed(2)
	roots := make([]types.QualifiedRoot, 3)
	hashes := make([]types.Hash, 3)
	for i := range roots {
		roots[i] = types.QualifiedRoot{Root: ids.GenerateTestID(), Previous: ids.GenerateTestID()}
		hashes[i] = ids.GenerateTestID()
		cache.Put(roots[i], hashes[i])
	}
	require.Equal(2, cache.Size())
	require.False(cache.ExistsHash(hashes[0]))
	require.True(cache.ExistsHash(hashes[1]))
	require.True(cache.ExistsHash(hashes[2]))
	require.False(cache.ExistsRoot(roots[0]))
}

/*
 * Router
 */

func newRouter(f *fixture, cache *votecache.Cache) *Router {
	return NewRouter(cache, f.recently, f.store, f.deps.Metrics, log.NewNoOpLogger())
}

func TestRouterVoteThenReplay(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	rep := f.rep(t, 10)
	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	router.Connect(block.Hash(), e)

	vote := &types.Vote{Account: rep, Timestamp: 100, Hashes: []types.Hash{block.Hash()}}
	first := router.Vote(vote, types.VoteSourceLive, types.Hash{})
	require.Equal(types.VoteNew, first[block.Hash()])

	second := router.Vote(vote, types.VoteSourceLive, types.Hash{})
	require.Equal(types.VoteReplay, second[block.Hash()])
}

func TestRouterIndeterminateAndCacheOffer(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	rep := f.rep(t, 10)
	hash := ids.GenerateTestID()
	vote := &types.Vote{Account: rep, Timestamp: 100, Hashes: []types.Hash{hash}}

	results := router.Vote(vote, types.VoteSourceLive, types.Hash{})
	require.Equal(types.VoteIndeterminate, results[hash])
	require.True(cache.Exists(hash))
}

// Scenario: a vote arriving right after confirmation reports replay even
// though the election is torn down.
func TestRouterRecentlyConfirmedReplay(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	hash := ids.GenerateTestID()
	f.recently.Put(types.QualifiedRoot{Root: ids.GenerateTestID()}, hash)

	vote := &types.Vote{Account: f.rep(t, 10), Timestamp: 1, Hashes: []types.Hash{hash}}
	results := router.Vote(vote, types.VoteSourceLive, types.Hash{})
	require.Equal(types.VoteReplay, results[hash])
	// Replays are not offered to the vote cache.
	require.False(cache.Exists(hash))
}

func TestRouterFilter(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	hashA := ids.GenerateTestID()
	hashB := ids.GenerateTestID()
	vote := &types.Vote{Account: f.rep(t, 10), Timestamp: 1, Hashes: []types.Hash{hashA, hashB}}

	results := router.Vote(vote, types.VoteSourceLive, hashA)
	require.Contains(results, hashA)
	require.NotContains(results, hashB)
}

func TestRouterActiveAndReap(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	block := testBlock(10)
	e := NewElection(f.deps, block, types.BehaviorPriority, nil, nil)
	router.Connect(block.Hash(), e)

	require.True(router.Active(block.Hash()))
	require.True(router.ActiveRoot(block.QualifiedRoot()))
	require.Equal(1, router.Size())

	e.Cancel()
	require.False(router.Active(block.Hash()))
	router.reap()
	require.Zero(router.Size())
}

func TestRouterObserver(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	cache := votecache.New(64)
	router := newRouter(f, cache)

	var observed map[types.Hash]types.VoteCode
	router.OnVoteProcessed(func(_ *types.Vote, _ types.VoteSource, results map[types.Hash]types.VoteCode) {
		observed = results
	})

	hash := ids.GenerateTestID()
	router.Vote(&types.Vote{Account: f.rep(t, 1), Timestamp: 1, Hashes: []types.Hash{hash}}, types.VoteSourceLive, types.Hash{})
	require.NotNil(observed)
	require.Equal(types.VoteIndeterminate, observed[hash])
}
