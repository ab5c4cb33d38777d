// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package scheduler

import (
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/types"
)

type manualEntry struct {
	block              *types.Block
	previousBalance    *types.Amount
	behavior           types.Behavior
	confirmationAction func(*types.Block)
}

// Manual is the FIFO of externally submitted elections (RPC, tests,
// wallet operations). Entries are inserted without bucket or priority
// reasoning.
type Manual struct {
	cfg     config.Config
	active  *election.ActiveElections
	metrics *Metrics
	logger  log.Logger

	mu    sync.Mutex
	queue []manualEntry

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewManual builds the manual scheduler.
func NewManual(cfg config.Config, active *election.ActiveElections, metrics *Metrics, logger log.Logger) *Manual {
	return &Manual{
		cfg:     cfg,
		active:  active,
		metrics: metrics,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Push queues a block for manual election.
func (m *Manual) Push(block *types.Block, previousBalance *types.Amount, behavior types.Behavior, confirmationAction func(*types.Block)) {
	m.mu.Lock()
	m.queue = append(m.queue, manualEntry{
		block:              block,
		previousBalance:    previousBalance,
		behavior:           behavior,
		confirmationAction: confirmationAction,
	})
	m.mu.Unlock()
	m.Notify()
}

// Notify wakes the pump.
func (m *Manual) Notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Size returns the queued entry count.
func (m *Manual) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manual) predicate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue) > 0
}

// overfillPredicate allows the container to run up to 125% before the
// manual pump starts evicting; racing schedulers would otherwise churn.
func (m *Manual) overfillPredicate() bool {
	return m.active.TotalVacancy() <= -(m.cfg.Active.Size / 4)
}

// Tick inserts one queued entry. Exposed for tests.
func (m *Manual) Tick() {
	if m.overfillPredicate() {
		m.metrics.overfillEvictions.Inc()
		m.active.EraseOldest()
	}

	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	entry := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	result := m.active.InsertWithAction(entry.block, entry.behavior, 0, 0, entry.confirmationAction, nil)
	if result.Inserted {
		m.metrics.insertedManual.Inc()
	} else {
		m.metrics.insertFailed.Inc()
	}
}

// Start launches the pump.
func (m *Manual) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stopCh, m.done)
}

// Stop terminates the pump and waits for it.
func (m *Manual) Stop() {
	m.mu.Lock()
	stopCh, done := m.stopCh, m.done
	m.stopCh, m.done = nil, nil
	m.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (m *Manual) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-m.wake:
		case <-time.After(time.Second):
		}
		for m.predicate() {
			m.Tick()
		}
	}
}
