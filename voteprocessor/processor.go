// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package voteprocessor verifies incoming vote signatures in batches and
// applies weight-tiered admission under queue pressure before handing
// verified votes to the vote router.
package voteprocessor

import (
	"runtime"
	"sync"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/internal/fairqueue"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/types"
)

// maxBatch bounds how many votes one verification round takes.
const maxBatch = 1024

// Metrics counts processor events.
type Metrics struct {
	processed prometheus.Counter
	invalid   prometheus.Counter
	overflow  prometheus.Counter
}

// NewMetrics registers the processor counters.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_processor_processed",
			Help: "Votes verified and routed",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_processor_invalid",
			Help: "Votes dropped on signature failure",
		}),
		overflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_processor_overflow",
			Help: "Votes refused by tiered admission",
		}),
	}
	for _, c := range []prometheus.Collector{m.processed, m.invalid, m.overflow} {
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

// Processor is the admission and verification stage in front of the
// router. Incoming votes multiplex through a fair queue keyed by source
// and peer channel, so one chatty peer cannot starve the others.
type Processor struct {
	cfg        config.Config
	router     *election.Router
	ledger     ledger.Ledger
	onlineReps ledger.OnlineReps
	metrics    *Metrics
	logger     log.Logger

	mu    sync.Mutex
	queue *fairqueue.Queue[types.VoteSource, *types.Vote]

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}

	observerMu sync.Mutex
	observers  []election.VoteObserver
}

// New builds a processor feeding the given router.
func New(
	cfg config.Config,
	router *election.Router,
	ldgr ledger.Ledger,
	onlineReps ledger.OnlineReps,
	metrics *Metrics,
	logger log.Logger,
) *Processor {
	queue := fairqueue.New[types.VoteSource, *types.Vote]()
	queue.MaxSizeQuery = func(fairqueue.Origin[types.VoteSource]) int {
		return cfg.VoteProcessor.MaxQueue
	}
	queue.PriorityQuery = func(origin fairqueue.Origin[types.VoteSource]) int {
		if origin.Source == types.VoteSourceLive {
			return 4
		}
		return 1
	}
	return &Processor{
		cfg:        cfg,
		router:     router,
		ledger:     ldgr,
		onlineReps: onlineReps,
		metrics:    metrics,
		logger:     logger,
		queue:      queue,
		wake:       make(chan struct{}, 1),
	}
}

// OnVoteProcessed registers an observer for verification outcomes,
// including invalid votes the router never sees.
func (p *Processor) OnVoteProcessed(observer election.VoteObserver) {
	p.observerMu.Lock()
	defer p.observerMu.Unlock()
	p.observers = append(p.observers, observer)
}

// Vote submits a signed live vote message. It reports false when tiered
// admission refused it.
func (p *Processor) Vote(vote *types.Vote, channel transport.Channel) bool {
	return p.VoteWithSource(vote, channel, types.VoteSourceLive)
}

// VoteWithSource submits a vote with an explicit source tag.
func (p *Processor) VoteWithSource(vote *types.Vote, channel transport.Channel, source types.VoteSource) bool {
	p.mu.Lock()
	admit := p.shouldProcessLocked(vote.Account)
	if admit {
		admit = p.queue.Push(vote, source, channel)
	}
	p.mu.Unlock()
	if !admit {
		p.metrics.overflow.Inc()
		return false
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// shouldProcessLocked applies the admission tiers: as the queue fills,
// only increasingly heavy representatives are admitted.
func (p *Processor) shouldProcessLocked(representative types.Account) bool {
	size := p.queue.TotalSize()
	capacity := p.cfg.VoteProcessor.MaxQueue
	if size < capacity*6/9 {
		return true
	}
	if size >= capacity {
		return false
	}

	trended := p.onlineReps.Trended()
	weight := p.ledger.Weight(representative)

	var divisor uint64
	switch {
	case size < capacity*7/9:
		divisor = 1000 // reps above 0.1% of online stake
	case size < capacity*8/9:
		divisor = 100 // reps above 1%
	default:
		divisor = 20 // reps above 5%
	}
	d := types.AmountFromUint64(divisor)
	var threshold types.Amount
	threshold.Div(&trended, &d)
	return weight.Cmp(&threshold) > 0
}

// Start launches the verification workers.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stopCh, p.done)
}

// Stop terminates the workers and drops the queue.
func (p *Processor) Stop() {
	p.mu.Lock()
	stopCh, done := p.stopCh, p.done
	p.stopCh, p.done = nil, nil
	p.queue.Clear()
	p.mu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (p *Processor) run(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-p.wake:
			p.ProcessBatch()
			p.mu.Lock()
			remaining := p.queue.TotalSize()
			p.mu.Unlock()
			if remaining > 0 {
				select {
				case p.wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

// ProcessBatch drains and verifies the queue once. Exposed so tests can
// drive the processor deterministically.
func (p *Processor) ProcessBatch() {
	p.mu.Lock()
	batch := p.queue.NextBatch(maxBatch)
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	valid := p.verifyBatch(batch)
	for i, item := range batch {
		vote := item.Request
		source := item.Origin.Source
		if !valid[i] {
			p.metrics.invalid.Inc()
			p.logger.Debug("invalid vote signature",
				zap.Stringer("representative", vote.Account))
			p.notify(vote, source, invalidResults(vote))
			continue
		}
		p.metrics.processed.Inc()
		p.router.Vote(vote, source, types.Hash{})
	}
}

// verifyBatch checks signatures with a bounded worker fan-out.
func (p *Processor) verifyBatch(batch []fairqueue.Item[types.VoteSource, *types.Vote]) []bool {
	valid := make([]bool, len(batch))
	workers := p.cfg.VoteProcessor.Threads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var group errgroup.Group
	group.SetLimit(workers)
	for i := range batch {
		group.Go(func() error {
			valid[i] = batch[i].Request.Validate() == nil
			return nil
		})
	}
	_ = group.Wait()
	return valid
}

func invalidResults(vote *types.Vote) map[types.Hash]types.VoteCode {
	results := make(map[types.Hash]types.VoteCode, len(vote.Hashes))
	for _, hash := range vote.Hashes {
		results[hash] = types.VoteInvalid
	}
	return results
}

func (p *Processor) notify(vote *types.Vote, source types.VoteSource, results map[types.Hash]types.VoteCode) {
	p.observerMu.Lock()
	observers := make([]election.VoteObserver, len(p.observers))
	copy(observers, p.observers)
	p.observerMu.Unlock()
	for _, observer := range observers {
		observer(vote, source, results)
	}
}

// QueueSize returns the pending queue length.
func (p *Processor) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.TotalSize()
}
