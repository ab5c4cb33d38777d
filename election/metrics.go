// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lattice/consensus/types"
)

// Metrics aggregates the election and active-elections counters.
type Metrics struct {
	votesLive        prometheus.Counter
	votesRebroadcast prometheus.Counter
	votesCache       prometheus.Counter

	confirmOnce           prometheus.Counter
	confirmOnceFailed     prometheus.Counter
	expiredUnconfirmed    prometheus.Counter
	broadcastVoteNormal   prometheus.Counter
	broadcastVoteFinal    prometheus.Counter
	broadcastBlockInitial prometheus.Counter
	broadcastBlockRepeat  prometheus.Counter

	insertions      prometheus.Counter
	insertionFailed prometheus.Counter
	dropped         prometheus.Counter
	activeSize      prometheus.Gauge

	routerReplay        prometheus.Counter
	routerIndeterminate prometheus.Counter
	routerCleanup       prometheus.Counter
}

// NewMetrics registers the election counters.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		votesLive: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_votes_live",
			Help: "Votes processed from live sources",
		}),
		votesRebroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_votes_rebroadcast",
			Help: "Votes processed from rebroadcasts",
		}),
		votesCache: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_votes_cache",
			Help: "Votes replayed from the vote cache",
		}),
		confirmOnce: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_confirmed",
			Help: "Elections confirmed",
		}),
		confirmOnceFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_confirm_failed",
			Help: "Confirmation attempts on already-settled elections",
		}),
		expiredUnconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_expired_unconfirmed",
			Help: "Elections expired without confirmation",
		}),
		broadcastVoteNormal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_broadcast_vote_normal",
			Help: "Normal votes handed to the generator",
		}),
		broadcastVoteFinal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_broadcast_vote_final",
			Help: "Final votes handed to the generator",
		}),
		broadcastBlockInitial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_broadcast_block_initial",
			Help: "First-time block broadcasts",
		}),
		broadcastBlockRepeat: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_broadcast_block_repeat",
			Help: "Repeated block broadcasts",
		}),
		insertions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "active_elections_inserted",
			Help: "Elections inserted into the active container",
		}),
		insertionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "active_elections_insert_failed",
			Help: "Election insertions refused",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "active_elections_dropped",
			Help: "Elections evicted before finishing",
		}),
		activeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_elections_size",
			Help: "Currently active elections",
		}),
		routerReplay: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_router_replay",
			Help: "Vote hashes resolved as replays of confirmed elections",
		}),
		routerIndeterminate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_router_indeterminate",
			Help: "Vote hashes with no election to route to",
		}),
		routerCleanup: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vote_router_cleanup",
			Help: "Router reaper sweeps",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.votesLive, m.votesRebroadcast, m.votesCache,
		m.confirmOnce, m.confirmOnceFailed, m.expiredUnconfirmed,
		m.broadcastVoteNormal, m.broadcastVoteFinal,
		m.broadcastBlockInitial, m.broadcastBlockRepeat,
		m.insertions, m.insertionFailed, m.dropped, m.activeSize,
		m.routerReplay, m.routerIndeterminate, m.routerCleanup,
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

func (m *Metrics) voteProcessed(source types.VoteSource) {
	switch source {
	case types.VoteSourceLive:
		m.votesLive.Inc()
	case types.VoteSourceRebroadcast:
		m.votesRebroadcast.Inc()
	case types.VoteSourceCache:
		m.votesCache.Inc()
	}
}
