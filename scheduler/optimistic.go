// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
)

// Optimistic activates the frontier of accounts whose unconfirmed height
// exceeds the gap threshold; the frontier confirming cements the whole
// chain below it.
type Optimistic struct {
	cfg       config.Config
	ledger    ledger.Ledger
	active    *election.ActiveElections
	bucketing *buckets.Bucketing
	metrics   *Metrics
	logger    log.Logger

	mu         sync.Mutex
	candidates []types.Account

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewOptimistic builds the optimistic scheduler.
func NewOptimistic(
	cfg config.Config,
	ldgr ledger.Ledger,
	active *election.ActiveElections,
	bucketing *buckets.Bucketing,
	metrics *Metrics,
	logger log.Logger,
) *Optimistic {
	o := &Optimistic{
		cfg:       cfg,
		ledger:    ldgr,
		active:    active,
		bucketing: bucketing,
		metrics:   metrics,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
	active.OnVacancyUpdate(o.Notify)
	return o
}

// Activate queues the account when its unconfirmed gap is large enough.
// The queue is bounded; the oldest candidate is dropped on overflow.
func (o *Optimistic) Activate(account types.Account, info ledger.AccountInfo, conf ledger.ConfirmationInfo) bool {
	if info.BlockCount-conf.Height <= o.cfg.Optimistic.GapThreshold {
		return false
	}

	o.mu.Lock()
	o.candidates = append(o.candidates, account)
	if len(o.candidates) > o.cfg.Optimistic.MaxSize {
		o.candidates = o.candidates[1:]
		o.metrics.queueDrops.Inc()
	}
	o.mu.Unlock()

	o.metrics.activatedOptimistic.Inc()
	o.Notify()
	return true
}

// Notify wakes the pump.
func (o *Optimistic) Notify() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Size returns the queued candidate count.
func (o *Optimistic) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.candidates)
}

func (o *Optimistic) predicate() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.candidates) > 0 && o.active.Vacancy(types.BehaviorOptimistic) > 0
}

// Tick activates one candidate. Exposed for tests.
func (o *Optimistic) Tick() {
	o.mu.Lock()
	if len(o.candidates) == 0 {
		o.mu.Unlock()
		return
	}
	account := o.candidates[0]
	o.candidates = o.candidates[1:]
	o.mu.Unlock()

	tx := o.ledger.TxBeginRead()
	defer tx.Close()

	info, ok := o.ledger.AccountGet(tx, account)
	if !ok {
		return
	}
	block, ok := o.ledger.BlockGet(tx, info.Head)
	if !ok {
		return
	}

	bucket := o.bucketing.Index(block.Balance)
	result := o.active.Insert(block, types.BehaviorOptimistic, bucket, block.Sideband.Timestamp)
	if !result.Inserted {
		o.metrics.insertFailed.Inc()
	}
}

// Start launches the pump.
func (o *Optimistic) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopCh != nil {
		return
	}
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	go o.run(o.stopCh, o.done)
}

// Stop terminates the pump and waits for it.
func (o *Optimistic) Stop() {
	o.mu.Lock()
	stopCh, done := o.stopCh, o.done
	o.stopCh, o.done = nil, nil
	o.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (o *Optimistic) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-o.wake:
		case <-time.After(time.Second):
		}
		for o.predicate() {
			o.Tick()
		}
	}
}
