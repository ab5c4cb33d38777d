// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
)

// bucketMaxSize bounds each bucket queue; overflowing drops the entry
// with the worst (highest) timestamp.
const bucketMaxSize = 8192

type bucketEntry struct {
	timestamp uint64
	block     *types.Block
}

// bucketQueue holds activation candidates of one balance stratum, ordered
// by ascending account modification timestamp (oldest first).
type bucketQueue struct {
	entries  []bucketEntry
	reserved int
}

func (q *bucketQueue) push(timestamp uint64, block *types.Block) bool {
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].timestamp > timestamp
	})
	q.entries = append(q.entries, bucketEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = bucketEntry{timestamp: timestamp, block: block}

	if len(q.entries) > bucketMaxSize {
		q.entries = q.entries[:bucketMaxSize]
		return true // Overflowed
	}
	return false
}

func (q *bucketQueue) pop() (bucketEntry, bool) {
	if len(q.entries) == 0 {
		return bucketEntry{}, false
	}
	top := q.entries[0]
	q.entries = q.entries[1:]
	return top, true
}

// Priority activates the next-to-cement block of prioritized accounts,
// one reserved slot pool per balance bucket.
type Priority struct {
	cfg       config.Config
	ledger    ledger.Ledger
	active    *election.ActiveElections
	bucketing *buckets.Bucketing
	metrics   *Metrics
	logger    log.Logger

	mu     sync.Mutex
	queues []*bucketQueue

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewPriority builds the priority scheduler.
func NewPriority(
	cfg config.Config,
	ldgr ledger.Ledger,
	active *election.ActiveElections,
	bucketing *buckets.Bucketing,
	metrics *Metrics,
	logger log.Logger,
) *Priority {
	reserved := cfg.Active.Size / bucketing.Size()
	if reserved < 1 {
		reserved = 1
	}
	queues := make([]*bucketQueue, bucketing.Size())
	for i := range queues {
		queues[i] = &bucketQueue{reserved: reserved}
	}
	logger.Info("priority scheduler buckets",
		zap.Int("buckets", bucketing.Size()),
		zap.Int("reserved_per_bucket", reserved),
	)
	p := &Priority{
		cfg:       cfg,
		ledger:    ldgr,
		active:    active,
		bucketing: bucketing,
		metrics:   metrics,
		logger:    logger,
		queues:    queues,
		wake:      make(chan struct{}, 1),
	}
	active.OnVacancyUpdate(p.Notify)
	return p
}

// Activate queues the account's next unconfirmed block if its dependents
// are confirmed. Returns (activated, overflowed).
func (p *Priority) Activate(tx ledger.ReadTx, account types.Account) (bool, bool) {
	info, ok := p.ledger.AccountGet(tx, account)
	if !ok {
		return false, false
	}
	conf := p.ledger.ConfirmationGet(tx, account)
	if conf.Height >= info.BlockCount {
		return false, false
	}

	var hash types.Hash
	if conf.Height == 0 {
		hash = info.OpenBlock
	} else {
		// The next-to-cement block occupies the slot right above the
		// confirmed frontier.
		successor, ok := p.ledger.BlockSuccessor(tx, types.QualifiedRoot{
			Root:     conf.Frontier,
			Previous: conf.Frontier,
		})
		if !ok {
			return false, false
		}
		hash = successor
	}

	block, ok := p.ledger.BlockGet(tx, hash)
	if !ok {
		return false, false
	}
	if !p.ledger.DependentsConfirmed(tx, block) {
		return false, false
	}

	balance := block.Balance
	if previousBalance, ok := p.ledger.BlockBalance(tx, conf.Frontier); ok {
		balance = types.MaxAmount(balance, previousBalance)
	}
	bucket := p.bucketing.Index(balance)

	p.mu.Lock()
	overflow := p.queues[bucket].push(info.Modified, block)
	p.mu.Unlock()

	p.metrics.activatedPriority.Inc()
	if overflow {
		p.metrics.queueDrops.Inc()
	}
	p.logger.Debug("account activated",
		zap.Stringer("account", account),
		zap.Stringer("block", block.Hash()),
		zap.Uint64("bucket", bucket),
	)

	p.Notify()
	return true, overflow
}

// Notify wakes the pump.
func (p *Priority) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Size returns the number of queued candidates.
func (p *Priority) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, q := range p.queues {
		total += len(q.entries)
	}
	return total
}

// Empty reports whether nothing is queued.
func (p *Priority) Empty() bool {
	return p.Size() == 0
}

// predicate: some bucket has a candidate and reserved slots to spare.
func (p *Priority) predicate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for bucket, q := range p.queues {
		if len(q.entries) > 0 && p.available(buckets.Index(bucket), q) {
			return true
		}
	}
	return false
}

func (p *Priority) available(bucket buckets.Index, q *bucketQueue) bool {
	return p.active.SizeBucket(types.BehaviorPriority, bucket) < q.reserved
}

// Tick runs one scheduling round over all buckets. Exposed for tests.
func (p *Priority) Tick() {
	for bucket := range p.queues {
		idx := buckets.Index(bucket)

		p.mu.Lock()
		q := p.queues[bucket]
		if len(q.entries) == 0 || !p.available(idx, q) {
			p.mu.Unlock()
			continue
		}
		entry, _ := q.pop()
		p.mu.Unlock()

		result := p.active.Insert(entry.block, types.BehaviorPriority, idx, entry.timestamp)
		if result.Election != nil {
			result.Election.TransitionActive()
		}
		if !result.Inserted {
			p.metrics.insertFailed.Inc()
		}
	}
}

// Start launches the pump.
func (p *Priority) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stopCh, p.done)
}

// Stop terminates the pump and waits for it.
func (p *Priority) Stop() {
	p.mu.Lock()
	stopCh, done := p.stopCh, p.done
	p.stopCh, p.done = nil, nil
	p.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (p *Priority) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-p.wake:
		case <-time.After(time.Second):
		}
		for p.predicate() {
			p.Tick()
		}
	}
}
