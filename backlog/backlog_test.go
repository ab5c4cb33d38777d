// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backlog

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/ledger/ledgertest"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

type fixture struct {
	store         *ledgertest.Store
	cache         *votecache.Cache
	router        *election.Router
	recently      *election.RecentlyConfirmed
	confirmingSet *ledgertest.ConfirmingSet
	backlog       *Backlog
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()
	store := ledgertest.NewStore()
	cache := votecache.New(1024)
	recently := election.NewRecentlyConfirmed(1024)
	router := election.NewRouter(cache, recently, store, election.NewNoOpMetrics(), log.NewNoOpLogger())
	confirmingSet := &ledgertest.ConfirmingSet{}
	b := New(
		cfg, store, buckets.New(), cache, router, recently, confirmingSet,
		NewNoOpMetrics(), log.NewNoOpLogger(),
	)
	return &fixture{
		store:         store,
		cache:         cache,
		router:        router,
		recently:      recently,
		confirmingSet: confirmingSet,
		backlog:       b,
	}
}

// addUnconfirmed creates an account whose head is one unconfirmed block
// with the given arrival timestamp, and tracks it in the backlog.
func (f *fixture) addUnconfirmed(t *testing.T, timestamp uint64) *types.Block {
	t.Helper()
	block := types.NewBlock(types.Block{
		Account:  ids.GenerateTestID(),
		Previous: ids.GenerateTestID(),
		Balance:  types.AmountFromUint64(1),
		Sideband: types.Sideband{Height: 1, Timestamp: timestamp},
	})
	f.store.PutBlock(block)
	f.store.SetConfirmation(block.Account, ledger.ConfirmationInfo{Height: 0})

	tx := f.store.TxBeginRead()
	defer tx.Close()
	require.True(t, f.backlog.Update(tx, block.Account))
	return block
}

func TestUpdateAndErase(t *testing.T) {
	require := require.New(t)

	f := newFixture(t, config.DevNet())
	block := f.addUnconfirmed(t, 1)
	require.Equal(uint64(1), f.backlog.BacklogSize())

	// Confirming the head erases the entry.
	f.store.SetConfirmation(block.Account, ledger.ConfirmationInfo{
		Height:   1,
		Frontier: block.Hash(),
	})
	tx := f.store.TxBeginRead()
	defer tx.Close()
	f.backlog.Update(tx, block.Account)
	require.Zero(f.backlog.BacklogSize())
}

// Twenty single-block accounts in one bucket, max backlog ten: the ten
// newest-priority entries are rolled back and the backlog settles at the
// bound.
func TestRollbackToBound(t *testing.T) {
	require := require.New(t)

	cfg := config.DevNet()
	cfg.Backlog.MaxBacklog = 10
	cfg.Backlog.BucketThreshold = 5
	cfg.Backlog.BatchSize = 128
	f := newFixture(t, cfg)

	blocks := make(map[uint64]*types.Block)
	for ts := uint64(1); ts <= 20; ts++ {
		blocks[ts] = f.addUnconfirmed(t, ts)
	}
	require.Equal(uint64(20), f.backlog.BacklogSize())

	require.True(f.backlog.Tick())
	require.Equal(uint64(10), f.backlog.BacklogSize())

	// The highest priority timestamps went first.
	tx := f.store.TxBeginRead()
	defer tx.Close()
	for ts := uint64(11); ts <= 20; ts++ {
		require.False(f.store.BlockExists(tx, blocks[ts].Hash()), "timestamp %d", ts)
	}
	for ts := uint64(1); ts <= 10; ts++ {
		require.True(f.store.BlockExists(tx, blocks[ts].Hash()), "timestamp %d", ts)
	}
}

func TestProtectedHashesAreSkipped(t *testing.T) {
	require := require.New(t)

	cfg := config.DevNet()
	cfg.Backlog.MaxBacklog = 1
	cfg.Backlog.BucketThreshold = 0
	f := newFixture(t, cfg)

	protected := f.addUnconfirmed(t, 2)
	victim := f.addUnconfirmed(t, 1)
	f.confirmingSet.Add(protected.Hash())

	require.True(f.backlog.Tick())

	tx := f.store.TxBeginRead()
	defer tx.Close()
	require.True(f.store.BlockExists(tx, protected.Hash()))
	require.False(f.store.BlockExists(tx, victim.Hash()))
}

func TestNoEligibleTargets(t *testing.T) {
	require := require.New(t)

	cfg := config.DevNet()
	cfg.Backlog.MaxBacklog = 1
	cfg.Backlog.BucketThreshold = 0
	f := newFixture(t, cfg)

	first := f.addUnconfirmed(t, 1)
	second := f.addUnconfirmed(t, 2)
	f.confirmingSet.Add(first.Hash())
	f.confirmingSet.Add(second.Hash())

	// Everything is protected: the round finds nothing and the backlog
	// stays flat.
	require.False(f.backlog.Tick())
	require.Equal(uint64(2), f.backlog.BacklogSize())
}

func TestRollbackFailureLeavesEntry(t *testing.T) {
	require := require.New(t)

	cfg := config.DevNet()
	cfg.Backlog.MaxBacklog = 0
	cfg.Backlog.BucketThreshold = 0
	f := newFixture(t, cfg)

	block := f.addUnconfirmed(t, 1)
	f.store.FailRollback(block.Hash())

	require.True(f.backlog.Tick())
	// The failed rollback leaves the entry for another attempt.
	require.Equal(uint64(1), f.backlog.BacklogSize())
}
