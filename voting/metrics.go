// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the vote-generation pipeline events.
type Metrics struct {
	votesGenerated    prometheus.Counter
	broadcasts        prometheus.Counter
	replies           prometheus.Counter
	repliesDiscarded  prometheus.Counter
	spacingSuppressed prometheus.Counter
	nonVotable        prometheus.Counter
	cacheHits         prometheus.Counter
}

// NewMetrics registers the voting counters under the given prefix, so the
// normal and final generators stay distinguishable.
func NewMetrics(registerer prometheus.Registerer, prefix string) (*Metrics, error) {
	m := &Metrics{
		votesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_votes_generated",
			Help: "Signed votes produced",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_broadcasts",
			Help: "Vote batches flooded to the network",
		}),
		replies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_replies",
			Help: "confirm_req replies served",
		}),
		repliesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_replies_discarded",
			Help: "Reply requests dropped on queue overflow",
		}),
		spacingSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_spacing_suppressed",
			Help: "Candidates suppressed by vote spacing",
		}),
		nonVotable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_non_votable",
			Help: "Candidates that failed the should-vote ledger check",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_hits",
			Help: "Broadcasts served from the local vote history",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.votesGenerated, m.broadcasts, m.replies, m.repliesDiscarded,
		m.spacingSuppressed, m.nonVotable, m.cacheHits,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNoOpMetrics returns unregistered counters for tests.
func NewNoOpMetrics() *Metrics {
	m, _ := NewMetrics(prometheus.NewRegistry(), "test_voting")
	return m
}
