// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package backlog

import (
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/math"
	"github.com/lattice/consensus/votecache"
)

// RolledBackObserver is notified with the accounts whose heads were
// rolled back.
type RolledBackObserver func(accounts []types.Account)

// Metrics counts backlog activity.
type Metrics struct {
	rollbacks      prometheus.Counter
	rollbackFailed prometheus.Counter
	missingBlock   prometheus.Counter
	noTargets      prometheus.Counter
	size           prometheus.Gauge
}

// NewMetrics registers the backlog counters.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backlog_rollbacks",
			Help: "Blocks rolled back to shrink the backlog",
		}),
		rollbackFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backlog_rollback_failed",
			Help: "Rollbacks refused by the ledger",
		}),
		missingBlock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backlog_rollback_missing_block",
			Help: "Rollback targets gone before the write lock",
		}),
		noTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backlog_no_targets",
			Help: "Rollback rounds that found no eligible victim",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backlog_size",
			Help: "Unconfirmed blocks tracked",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.rollbacks, m.rollbackFailed, m.missingBlock, m.noTargets, m.size,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNoOpMetrics returns unregistered counters for tests.
func NewNoOpMetrics() *Metrics {
	m, _ := NewMetrics(prometheus.NewRegistry())
	return m
}

type rollbackTarget struct {
	account types.Account
	head    types.Hash
}

// Backlog watches the unconfirmed-block count and rolls back the newest
// work (highest priority timestamp) in overfull buckets once the bound is
// exceeded.
type Backlog struct {
	cfg               config.Config
	ledger            ledger.Ledger
	bucketing         *buckets.Bucketing
	voteCache         *votecache.Cache
	router            *election.Router
	recentlyConfirmed *election.RecentlyConfirmed
	confirmingSet     ledger.ConfirmingSet
	metrics           *Metrics
	logger            log.Logger

	mu    sync.Mutex
	index *index

	observerMu sync.Mutex
	rolledBack []RolledBackObserver

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// New builds the bounded backlog.
func New(
	cfg config.Config,
	ldgr ledger.Ledger,
	bucketing *buckets.Bucketing,
	voteCache *votecache.Cache,
	router *election.Router,
	recentlyConfirmed *election.RecentlyConfirmed,
	confirmingSet ledger.ConfirmingSet,
	metrics *Metrics,
	logger log.Logger,
) *Backlog {
	return &Backlog{
		cfg:               cfg,
		ledger:            ldgr,
		bucketing:         bucketing,
		voteCache:         voteCache,
		router:            router,
		recentlyConfirmed: recentlyConfirmed,
		confirmingSet:     confirmingSet,
		metrics:           metrics,
		logger:            logger,
		index:             newIndex(),
		wake:              make(chan struct{}, 1),
	}
}

// OnRolledBack registers an observer for rollback batches.
func (b *Backlog) OnRolledBack(observer RolledBackObserver) {
	b.observerMu.Lock()
	defer b.observerMu.Unlock()
	b.rolledBack = append(b.rolledBack, observer)
}

// BacklogSize returns the tracked unconfirmed-block count.
func (b *Backlog) BacklogSize() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.backlogSize()
}

// Unconfirmed returns the tracked count for one bucket.
func (b *Backlog) Unconfirmed(bucket buckets.Index) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.unconfirmed(bucket)
}

// Update refreshes the backlog entry of an account after ledger progress
// or rollback: tracked while its head is above the confirmed frontier,
// erased otherwise.
func (b *Backlog) Update(tx ledger.ReadTx, account types.Account) bool {
	info, ok := b.ledger.AccountGet(tx, account)
	if !ok {
		return b.eraseAccount(account)
	}
	conf := b.ledger.ConfirmationGet(tx, account)
	if conf.Height >= info.BlockCount {
		return b.eraseAccount(account)
	}

	head := info.Head

	b.mu.Lock()
	if existing, ok := b.index.head(account); ok && existing == head {
		b.mu.Unlock()
		return false // Already tracked at this head.
	}
	b.mu.Unlock()

	block, ok := b.ledger.BlockGet(tx, head)
	if !ok {
		return b.eraseAccount(account)
	}

	priorityBalance := block.Balance
	if block.IsSend() {
		if previousBalance, ok := b.ledger.BlockBalance(tx, block.Previous); ok {
			priorityBalance = types.MaxAmount(priorityBalance, previousBalance)
		}
	}
	bucket := b.bucketing.Index(priorityBalance)
	unconfirmed := info.BlockCount - conf.Height

	b.mu.Lock()
	b.index.update(account, head, bucket, block.Sideband.Timestamp, unconfirmed)
	size := b.index.backlogSize()
	b.mu.Unlock()

	b.metrics.size.Set(float64(size))
	b.Notify()
	return true
}

func (b *Backlog) eraseAccount(account types.Account) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	erased := b.index.erase(account)
	b.metrics.size.Set(float64(b.index.backlogSize()))
	return erased
}

// Notify wakes the rollback pump.
func (b *Backlog) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Backlog) predicate() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.backlogSize() > b.cfg.Backlog.MaxBacklog
}

// shouldRollback refuses hashes the node is actively trying to confirm.
func (b *Backlog) shouldRollback(hash types.Hash) bool {
	if b.voteCache.Exists(hash) {
		return false
	}
	if b.router.Active(hash) {
		return false
	}
	if b.recentlyConfirmed.ExistsHash(hash) {
		return false
	}
	if b.confirmingSet.Exists(hash) {
		return false
	}
	return true
}

// gatherTargets picks victims from buckets above the per-bucket
// threshold, highest priority timestamp (newest unconfirmed work) first.
func (b *Backlog) gatherTargets(maxCount int) []rollbackTarget {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []rollbackTarget
	for _, bucket := range b.bucketing.Indices() {
		if b.index.unconfirmed(bucket) <= b.cfg.Backlog.BucketThreshold {
			continue
		}
		count := math.Min(maxCount, b.cfg.Backlog.BatchSize)
		for _, entry := range b.index.top(bucket, count, b.shouldRollback) {
			targets = append(targets, rollbackTarget{account: entry.Account, head: entry.Head})
		}
	}
	return targets
}

func (b *Backlog) performRollbacks(targets []rollbackTarget) {
	tx := b.ledger.TxBeginWrite(ledger.WriterBoundedBacklog)
	defer tx.Close()

	var accounts []types.Account
	for _, target := range targets {
		// Re-check under the write lock; state can move between gathering
		// and rolling back.
		if !b.ledger.BlockExists(tx, target.head) || !b.shouldRollback(target.head) {
			b.metrics.missingBlock.Inc()
			continue
		}
		b.logger.Debug("rolling back",
			zap.Stringer("hash", target.head),
			zap.Stringer("account", target.account),
		)
		if _, err := b.ledger.Rollback(tx, target.head); err != nil {
			b.metrics.rollbackFailed.Inc()
		} else {
			b.metrics.rollbacks.Inc()
			accounts = append(accounts, target.account)
		}
	}

	b.observerMu.Lock()
	observers := make([]RolledBackObserver, len(b.rolledBack))
	copy(observers, b.rolledBack)
	b.observerMu.Unlock()
	for _, observer := range observers {
		observer(accounts)
	}
}

// Tick runs one rollback round if the backlog exceeds the bound. Exposed
// for tests; the pump calls it continuously.
func (b *Backlog) Tick() bool {
	if !b.predicate() {
		return false
	}

	b.mu.Lock()
	backlog := b.index.backlogSize()
	b.mu.Unlock()

	targetCount := math.Min(int(backlog-b.cfg.Backlog.MaxBacklog), b.cfg.Backlog.BatchSize)

	targets := b.gatherTargets(targetCount)
	if len(targets) == 0 {
		b.metrics.noTargets.Inc()
		return false
	}
	if len(targets) > targetCount {
		targets = targets[:targetCount]
	}

	b.performRollbacks(targets)

	// Refresh the rolled-back accounts.
	tx := b.ledger.TxBeginRead()
	for _, target := range targets {
		b.Update(tx, target.account)
	}
	tx.Close()
	return true
}

// Start launches the rollback pump.
func (b *Backlog) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopCh != nil {
		return
	}
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stopCh, b.done)
}

// Stop terminates the pump and waits for it.
func (b *Backlog) Stop() {
	b.mu.Lock()
	stopCh, done := b.stopCh, b.done
	b.stopCh, b.done = nil, nil
	b.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (b *Backlog) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-b.wake:
		case <-time.After(time.Second):
		}
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if !b.Tick() {
				break
			}
		}
	}
}
