// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package election implements the per-fork election lifecycle, the
// active-elections container, the vote router and the recently-confirmed
// cache.
package election

import (
	"time"
)

// State is the lifecycle state of an election.
type State int

const (
	// StatePassive: only listening for incoming votes.
	StatePassive State = iota
	// StateActive: actively requesting confirmations.
	StateActive
	// StateConfirmed: confirmed but still listening for votes.
	StateConfirmed
	StateExpiredConfirmed
	StateExpiredUnconfirmed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePassive:
		return "passive"
	case StateActive:
		return "active"
	case StateConfirmed:
		return "confirmed"
	case StateExpiredConfirmed:
		return "expired_confirmed"
	case StateExpiredUnconfirmed:
		return "expired_unconfirmed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ValidChange reports whether the lifecycle transition is legal.
func ValidChange(from, to State) bool {
	switch from {
	case StatePassive:
		switch to {
		case StateActive, StateConfirmed, StateExpiredUnconfirmed, StateCancelled:
			return true
		}
	case StateActive:
		switch to {
		case StateConfirmed, StateExpiredUnconfirmed, StateCancelled:
			return true
		}
	case StateConfirmed:
		return to == StateExpiredConfirmed
	}
	// Terminal states admit no transitions.
	return false
}

// stateGuard wraps the state with its entry timestamp and rejects illegal
// transitions.
type stateGuard struct {
	state   State
	entered time.Time
}

// change moves to the desired state if the transition is legal.
func (g *stateGuard) change(desired State, now time.Time) bool {
	if !ValidChange(g.state, desired) {
		return false
	}
	g.state = desired
	g.entered = now
	return true
}

// changeFrom moves to desired only when currently in expected.
func (g *stateGuard) changeFrom(expected, desired State, now time.Time) bool {
	if g.state != expected {
		return false
	}
	return g.change(desired, now)
}

func (g *stateGuard) duration(now time.Time) time.Duration {
	return now.Sub(g.entered)
}
