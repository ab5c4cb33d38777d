// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

// routerCleanupInterval paces the reaper that drops routes to finished
// elections.
const routerCleanupInterval = 15 * time.Second

// VoteObserver receives the outcome map of every routed vote.
type VoteObserver func(vote *types.Vote, source types.VoteSource, results map[types.Hash]types.VoteCode)

type routeEntry struct {
	qualifiedRoot types.QualifiedRoot
	election      *Election
}

// Router dispatches incoming votes to the elections holding their hashes.
// It does not own elections; routes to finished elections are reaped
// periodically.
type Router struct {
	voteCache         *votecache.Cache
	recentlyConfirmed *RecentlyConfirmed
	ledger            ledger.Ledger
	metrics           *Metrics
	logger            log.Logger

	// mu guards elections for reads during dispatch and writes on
	// connect/disconnect/reap.
	mu        sync.RWMutex
	elections map[types.Hash]routeEntry

	observerMu sync.Mutex
	observers  []VoteObserver

	pumpMu sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewRouter returns a router over the given caches.
func NewRouter(
	voteCache *votecache.Cache,
	recentlyConfirmed *RecentlyConfirmed,
	ldgr ledger.Ledger,
	metrics *Metrics,
	logger log.Logger,
) *Router {
	return &Router{
		voteCache:         voteCache,
		recentlyConfirmed: recentlyConfirmed,
		ledger:            ldgr,
		metrics:           metrics,
		logger:            logger,
		elections:         make(map[types.Hash]routeEntry),
	}
}

// Connect adds a route from hash to election, replacing any existing one.
// The election must hold the block for the hash.
func (r *Router) Connect(hash types.Hash, election *Election) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elections[hash] = routeEntry{qualifiedRoot: election.QualifiedRoot(), election: election}
}

// Disconnect removes the route for one hash.
func (r *Router) Disconnect(hash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.elections, hash)
}

// DisconnectElection removes every route to the election.
func (r *Router) DisconnectElection(election *Election) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, entry := range r.elections {
		if entry.election == election {
			delete(r.elections, hash)
		}
	}
}

// OnVoteProcessed registers an observer for routed votes.
func (r *Router) OnVoteProcessed(observer VoteObserver) {
	r.observerMu.Lock()
	defer r.observerMu.Unlock()
	r.observers = append(r.observers, observer)
}

// Vote routes the vote to every election holding one of its hashes and
// returns the per-hash outcome. If filter is non-zero only that hash is
// considered; this avoids duplicate processing when replaying cached votes
// into a specific new election.
func (r *Router) Vote(vote *types.Vote, source types.VoteSource, filter types.Hash) map[types.Hash]types.VoteCode {
	results := make(map[types.Hash]types.VoteCode)
	process := make(map[types.Hash]*Election)

	r.mu.RLock()
	for _, hash := range vote.Hashes {
		if filter != (types.Hash{}) && hash != filter {
			continue
		}
		// Duplicate hashes in a vote resolve once.
		if _, seen := results[hash]; seen {
			continue
		}
		if _, seen := process[hash]; seen {
			continue
		}
		if entry, ok := r.elections[hash]; ok {
			process[hash] = entry.election
		} else if r.recentlyConfirmed.ExistsHash(hash) {
			results[hash] = types.VoteReplay
			r.metrics.routerReplay.Inc()
		} else {
			results[hash] = types.VoteIndeterminate
			r.metrics.routerIndeterminate.Inc()
		}
	}
	r.mu.RUnlock()

	for hash, election := range process {
		results[hash] = election.Vote(vote.Account, vote.Timestamp, hash, source)
	}

	// Cache whatever found no election, so a later election can be seeded.
	if source != types.VoteSourceCache {
		r.voteCache.Insert(vote, r.ledger.Weight(vote.Account), results)
	}

	r.observerMu.Lock()
	observers := make([]VoteObserver, len(r.observers))
	copy(observers, r.observers)
	r.observerMu.Unlock()
	for _, observer := range observers {
		observer(vote, source, results)
	}

	return results
}

// Active reports whether a live election holds the hash.
func (r *Router) Active(hash types.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.elections[hash]
	return ok && !entry.election.Finished()
}

// ActiveRoot reports whether a live election contests the qualified root.
func (r *Router) ActiveRoot(root types.QualifiedRoot) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.elections {
		if entry.qualifiedRoot == root && !entry.election.Finished() {
			return true
		}
	}
	return false
}

// Election returns the election routed for the hash.
func (r *Router) Election(hash types.Hash) (*Election, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.elections[hash]; ok && !entry.election.Finished() {
		return entry.election, true
	}
	return nil, false
}

// Size returns the number of routes.
func (r *Router) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.elections)
}

// Start launches the reaper.
func (r *Router) Start() {
	r.pumpMu.Lock()
	defer r.pumpMu.Unlock()
	if r.done != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(r.stopCh, r.done)
}

// Stop terminates the reaper and waits for it.
func (r *Router) Stop() {
	r.pumpMu.Lock()
	stopCh, done := r.stopCh, r.done
	r.stopCh, r.done = nil, nil
	r.pumpMu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (r *Router) run(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(routerCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.metrics.routerCleanup.Inc()
			r.reap()
		case <-stopCh:
			return
		}
	}
}

// reap drops routes whose election has finished.
func (r *Router) reap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, entry := range r.elections {
		if entry.election.Finished() {
			delete(r.elections, hash)
		}
	}
}
