// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package scheduler selects which account frontiers become active
// elections. Four independent pumps feed the container: priority, hinted,
// optimistic and manual.
package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts scheduler activity across the four pumps.
type Metrics struct {
	activatedPriority   prometheus.Counter
	activatedOptimistic prometheus.Counter
	activatedHinted     prometheus.Counter
	insertedManual      prometheus.Counter
	insertFailed        prometheus.Counter
	overfillEvictions   prometheus.Counter
	queueDrops          prometheus.Counter
}

// NewMetrics registers the scheduler counters.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		activatedPriority: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_priority_activated",
			Help: "Accounts activated by the priority scheduler",
		}),
		activatedOptimistic: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_optimistic_activated",
			Help: "Accounts activated by the optimistic scheduler",
		}),
		activatedHinted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_hinted_activated",
			Help: "Hashes activated by the hinted scheduler",
		}),
		insertedManual: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_manual_inserted",
			Help: "Blocks inserted by the manual scheduler",
		}),
		insertFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_insert_failed",
			Help: "Scheduler insertions refused by the container",
		}),
		overfillEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_overfill_evictions",
			Help: "Oldest elections evicted under overfill",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_queue_drops",
			Help: "Queued candidates dropped on overflow",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.activatedPriority, m.activatedOptimistic, m.activatedHinted,
		m.insertedManual, m.insertFailed, m.overfillEvictions, m.queueDrops,
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
