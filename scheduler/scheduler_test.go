// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/consensus"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/ledger/ledgertest"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

type noopSolicitor struct{}

func (noopSolicitor) Broadcast(*types.Block, map[types.Account]consensus.VoteInfo) bool { return false }
func (noopSolicitor) Request(*types.Block, map[types.Account]consensus.VoteInfo) int    { return 0 }
func (noopSolicitor) Flush()                                                            {}

type noopGenerator struct{}

func (noopGenerator) Add(types.Root, types.Hash) {}

type fixture struct {
	cfg           config.Config
	store         *ledgertest.Store
	cache         *votecache.Cache
	recently      *election.RecentlyConfirmed
	confirmingSet *ledgertest.ConfirmingSet
	router        *election.Router
	active        *election.ActiveElections
	bucketing     *buckets.Bucketing
}

func newFixture(t *testing.T, delta uint64) *fixture {
	return newFixtureCfg(t, delta, nil)
}

func newFixtureCfg(t *testing.T, delta uint64, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DevNet()
	if mutate != nil {
		mutate(&cfg)
	}
	store := ledgertest.NewStore()
	cache := votecache.New(1024)
	recently := election.NewRecentlyConfirmed(1024)
	confirmingSet := &ledgertest.ConfirmingSet{}
	metrics := election.NewNoOpMetrics()
	router := election.NewRouter(cache, recently, store, metrics, log.NewNoOpLogger())
	wallets := ledgertest.NewWallets()
	deps := election.Deps{
		Config: cfg,
		Ledger: store,
		OnlineReps: ledgertest.OnlineReps{
			DeltaAmount:   types.AmountFromUint64(delta),
			TrendedAmount: types.AmountFromUint64(delta),
		},
		Wallets:           wallets,
		BlockProcessor:    &ledgertest.BlockProcessor{},
		ConfirmingSet:     confirmingSet,
		RecentlyConfirmed: recently,
		Generator:         noopGenerator{},
		FinalGenerator:    noopGenerator{},
		Logger:            log.NewNoOpLogger(),
		Metrics:           metrics,
	}
	active := election.NewActiveElections(deps, cache, router, func() election.CycleSolicitor {
		return noopSolicitor{}
	})
	return &fixture{
		cfg:           cfg,
		store:         store,
		cache:         cache,
		recently:      recently,
		confirmingSet: confirmingSet,
		router:        router,
		active:        active,
		bucketing:     buckets.New(),
	}
}

// putChain stores an open block for a fresh account and returns it; the
// account has one unconfirmed block.
func (f *fixture) putOpenBlock(timestamp uint64) *types.Block {
	block := types.NewBlock(types.Block{
		Account:  ids.GenerateTestID(),
		Balance:  types.AmountFromUint64(100),
		Sideband: types.Sideband{Height: 1, Timestamp: timestamp},
	})
	f.store.PutBlock(block)
	f.store.SetConfirmation(block.Account, ledger.ConfirmationInfo{Height: 0})
	return block
}

func TestPriorityActivate(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	p := NewPriority(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	block := f.putOpenBlock(7)

	tx := f.store.TxBeginRead()
	activated, overflow := p.Activate(tx, block.Account)
	tx.Close()
	require.True(activated)
	require.False(overflow)
	require.Equal(1, p.Size())

	p.Tick()
	require.Zero(p.Size())
	require.Equal(1, f.active.Size())

	e, ok := f.active.Election(block.QualifiedRoot())
	require.True(ok)
	// Priority elections skip the passive phase.
	require.Equal(election.StateActive, e.CurrentState())
	require.Equal(types.BehaviorPriority, e.Behavior())
}

func TestPriorityActivateSkipsConfirmedAccounts(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	p := NewPriority(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	block := f.putOpenBlock(7)
	f.store.SetConfirmation(block.Account, ledger.ConfirmationInfo{
		Height:   1,
		Frontier: block.Hash(),
	})

	tx := f.store.TxBeginRead()
	activated, _ := p.Activate(tx, block.Account)
	tx.Close()
	require.False(activated)
}

func TestPriorityActivateSkipsUnconfirmedDependents(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	p := NewPriority(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	block := f.putOpenBlock(7)
	f.store.MarkDependentsUnconfirmed(block.Hash())

	tx := f.store.TxBeginRead()
	activated, _ := p.Activate(tx, block.Account)
	tx.Close()
	require.False(activated)
}

func TestPriorityPopsOldestFirst(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	p := NewPriority(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	newer := f.putOpenBlock(20)
	older := f.putOpenBlock(10)

	tx := f.store.TxBeginRead()
	p.Activate(tx, newer.Account)
	p.Activate(tx, older.Account)
	tx.Close()

	// Reserve only one slot per bucket so a single Tick pops one entry.
	p.mu.Lock()
	for _, q := range p.queues {
		q.reserved = 1
	}
	p.mu.Unlock()

	p.Tick()
	require.Equal(1, f.active.Size())
	require.True(f.active.Active(older.QualifiedRoot()))
	require.False(f.active.Active(newer.QualifiedRoot()))
}

func TestOptimisticGapThreshold(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	o := NewOptimistic(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	account := ids.GenerateTestID()
	shallow := ledger.AccountInfo{BlockCount: 10}
	deep := ledger.AccountInfo{BlockCount: 100}
	conf := ledger.ConfirmationInfo{Height: 1}

	require.False(o.Activate(account, shallow, conf))
	require.True(o.Activate(account, deep, conf))
	require.Equal(1, o.Size())
}

func TestOptimisticTickInsertsHead(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	o := NewOptimistic(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	block := f.putOpenBlock(3)
	info, _ := f.store.AccountGet(f.store.TxBeginRead(), block.Account)
	info.BlockCount = 100
	f.store.SetAccount(block.Account, info)

	require.True(o.Activate(block.Account, info, ledger.ConfirmationInfo{}))
	o.Tick()

	require.Equal(1, f.active.Size())
	e, ok := f.active.Election(block.QualifiedRoot())
	require.True(ok)
	require.Equal(types.BehaviorOptimistic, e.Behavior())
}

func TestOptimisticQueueBounded(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	f.cfg.Optimistic.MaxSize = 2
	o := NewOptimistic(f.cfg, f.store, f.active, f.bucketing, NewNoOpMetrics(), log.NewNoOpLogger())

	info := ledger.AccountInfo{BlockCount: 100}
	for range 5 {
		o.Activate(ids.GenerateTestID(), info, ledger.ConfirmationInfo{})
	}
	require.Equal(2, o.Size())
}

func TestManualPushAndTick(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 1000)
	m := NewManual(f.cfg, f.active, NewNoOpMetrics(), log.NewNoOpLogger())

	block := f.putOpenBlock(1)
	m.Push(block, nil, types.BehaviorManual, nil)
	require.Equal(1, m.Size())

	m.Tick()
	require.Zero(m.Size())
	require.Equal(1, f.active.Size())

	e, ok := f.active.Election(block.QualifiedRoot())
	require.True(ok)
	require.Equal(types.BehaviorManual, e.Behavior())
}

func TestManualOverfillEvictsOldest(t *testing.T) {
	require := require.New(t)

	f := newFixtureCfg(t, 1000, func(cfg *config.Config) {
		cfg.Active.Size = 8
	})
	m := NewManual(f.cfg, f.active, NewNoOpMetrics(), log.NewNoOpLogger())

	// Fill the container to its hard cap of size + size/4.
	oldest := f.active.Insert(f.putOpenBlock(1), types.BehaviorManual, 0, 0)
	require.True(oldest.Inserted)
	for range 9 {
		require.True(f.active.Insert(f.putOpenBlock(1), types.BehaviorManual, 0, 0).Inserted)
	}
	require.Equal(10, f.active.Size())

	m.Push(f.putOpenBlock(9), nil, types.BehaviorManual, nil)
	m.Tick()

	// The overfill path evicted the oldest election to make room.
	require.False(f.active.Active(oldest.Election.QualifiedRoot()))
	require.Equal(10, f.active.Size())
}

func TestHintedActivatesQuorumWeightHashes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 60)
	h := NewHinted(
		f.cfg, f.store, f.active, f.cache,
		ledgertest.OnlineReps{DeltaAmount: types.AmountFromUint64(60)},
		f.confirmingSet, f.recently, f.bucketing,
		NewNoOpMetrics(), log.NewNoOpLogger(),
	)

	block := f.putOpenBlock(1)
	rep := ids.GenerateTestID()
	f.store.SetWeight(rep, types.AmountFromUint64(70))
	vote := &types.Vote{Account: rep, Timestamp: 100, Hashes: []types.Hash{block.Hash()}}
	f.cache.Insert(vote, types.AmountFromUint64(70), nil)

	h.Tick()

	require.Equal(1, f.active.Size())
	e, ok := f.active.Election(block.QualifiedRoot())
	require.True(ok)
	require.Equal(types.BehaviorHinted, e.Behavior())
}

func TestHintedIgnoresLightHashes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 60)
	h := NewHinted(
		f.cfg, f.store, f.active, f.cache,
		ledgertest.OnlineReps{DeltaAmount: types.AmountFromUint64(60)},
		f.confirmingSet, f.recently, f.bucketing,
		NewNoOpMetrics(), log.NewNoOpLogger(),
	)

	block := f.putOpenBlock(1)
	vote := &types.Vote{Account: ids.GenerateTestID(), Timestamp: 100, Hashes: []types.Hash{block.Hash()}}
	f.cache.Insert(vote, types.AmountFromUint64(10), nil)

	h.Tick()
	require.Zero(f.active.Size())
}

func TestHintedSkipsConfirmingHashes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, 60)
	h := NewHinted(
		f.cfg, f.store, f.active, f.cache,
		ledgertest.OnlineReps{DeltaAmount: types.AmountFromUint64(60)},
		f.confirmingSet, f.recently, f.bucketing,
		NewNoOpMetrics(), log.NewNoOpLogger(),
	)

	block := f.putOpenBlock(1)
	f.confirmingSet.Add(block.Hash())
	vote := &types.Vote{Account: ids.GenerateTestID(), Timestamp: 100, Hashes: []types.Hash{block.Hash()}}
	f.cache.Insert(vote, types.AmountFromUint64(90), nil)

	h.Tick()
	require.Zero(f.active.Size())
	// The stale entry is dropped from the cache.
	require.False(f.cache.Exists(block.Hash()))
}
