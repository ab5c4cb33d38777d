// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

// Hinted activates hashes whose cached votes already carry quorum-level
// weight: the network clearly cares about them even though the local
// schedulers never picked them.
type Hinted struct {
	cfg               config.Config
	ledger            ledger.Ledger
	active            *election.ActiveElections
	voteCache         *votecache.Cache
	onlineReps        ledger.OnlineReps
	confirmingSet     ledger.ConfirmingSet
	recentlyConfirmed *election.RecentlyConfirmed
	bucketing         *buckets.Bucketing
	metrics           *Metrics
	logger            log.Logger

	mu     sync.Mutex
	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewHinted builds the hinted scheduler.
func NewHinted(
	cfg config.Config,
	ldgr ledger.Ledger,
	active *election.ActiveElections,
	voteCache *votecache.Cache,
	onlineReps ledger.OnlineReps,
	confirmingSet ledger.ConfirmingSet,
	recentlyConfirmed *election.RecentlyConfirmed,
	bucketing *buckets.Bucketing,
	metrics *Metrics,
	logger log.Logger,
) *Hinted {
	h := &Hinted{
		cfg:               cfg,
		ledger:            ldgr,
		active:            active,
		voteCache:         voteCache,
		onlineReps:        onlineReps,
		confirmingSet:     confirmingSet,
		recentlyConfirmed: recentlyConfirmed,
		bucketing:         bucketing,
		metrics:           metrics,
		logger:            logger,
		wake:              make(chan struct{}, 1),
	}
	active.OnVacancyUpdate(h.Notify)
	return h
}

// Notify wakes the pump.
func (h *Hinted) Notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Tick activates every cache entry at quorum weight, while hinted slots
// remain. Exposed for tests.
func (h *Hinted) Tick() {
	delta := h.onlineReps.Delta()
	if delta.IsZero() {
		return
	}

	for _, entry := range h.voteCache.Top(delta) {
		if h.active.Vacancy(types.BehaviorHinted) <= 0 {
			// Hinted elections matter; make room when badly overfilled.
			if h.active.TotalVacancy() <= -(h.cfg.Active.Size / 4) {
				h.metrics.overfillEvictions.Inc()
				h.active.EraseOldest()
			}
			return
		}
		h.activate(entry)
	}
}

func (h *Hinted) activate(entry votecache.Entry) {
	if h.confirmingSet.Exists(entry.Hash) || h.recentlyConfirmed.ExistsHash(entry.Hash) {
		h.voteCache.Erase(entry.Hash)
		return
	}

	tx := h.ledger.TxBeginRead()
	block, ok := h.ledger.BlockGet(tx, entry.Hash)
	tx.Close()
	if !ok {
		// The votes arrived before the block; nothing to start yet.
		return
	}

	bucket := h.bucketing.Index(block.Balance)
	result := h.active.Insert(block, types.BehaviorHinted, bucket, block.Sideband.Timestamp)
	if result.Inserted {
		h.metrics.activatedHinted.Inc()
		h.logger.Debug("hinted election started",
			zap.Stringer("hash", entry.Hash),
		)
	} else if result.Election == nil {
		h.metrics.insertFailed.Inc()
	}
}

// Start launches the pump.
func (h *Hinted) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil {
		return
	}
	h.stopCh = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(h.stopCh, h.done)
}

// Stop terminates the pump and waits for it.
func (h *Hinted) Stop() {
	h.mu.Lock()
	stopCh, done := h.stopCh, h.done
	h.stopCh, h.done = nil, nil
	h.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (h *Hinted) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-h.wake:
		case <-time.After(time.Second):
		}
		h.Tick()
	}
}
