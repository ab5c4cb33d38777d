// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"github.com/lattice/consensus/types"
)

// State is the quorum progress of an election.
type State int

const (
	// NoQuorum: no block has reached quorum yet; vote with a normal vote on
	// the block currently held in the ledger.
	NoQuorum State = iota
	// QuorumReached: a block reached non-final quorum; the candidate is
	// locked and receives final votes.
	QuorumReached
	// FinalQuorumReached: a block reached final quorum; the election is
	// decided. The winner might differ from the locked candidate.
	FinalQuorumReached
)

func (s State) String() string {
	switch s {
	case NoQuorum:
		return "no_quorum"
	case QuorumReached:
		return "quorum_reached"
	case FinalQuorumReached:
		return "final_quorum_reached"
	}
	return "unknown"
}

// Request is the vote the local node should emit this round.
type Request struct {
	Hash      types.Hash
	Timestamp uint64
}

// IsFinal reports whether the request asks for a final vote.
func (r Request) IsFinal() bool {
	return types.IsFinalTimestamp(r.Timestamp)
}

// Election folds incoming votes into the vote index and tracks quorum
// state. Lifecycle, locking and timing are layered on top by the election
// package; this type is purely the consensus math.
type Election struct {
	votes *VoteIndex

	state State
	// candidate is locked once non-final quorum is reached.
	candidate types.Hash
	// winner is set once final quorum is reached.
	winner types.Hash
}

// NewElection returns an election with no quorum.
func NewElection() *Election {
	return &Election{votes: NewVoteIndex()}
}

// Vote processes an incoming vote against the given quorum delta and
// reports whether the vote changed the election. Votes after final quorum
// are ignored: the outcome cannot change.
func (e *Election) Vote(vote Vote, delta types.Amount) (bool, error) {
	switch e.state {
	case FinalQuorumReached:
		return false, nil

	case QuorumReached:
		if e.votes.Insert(vote) == Ignored {
			return false, nil
		}
		if winner, ok, err := e.votes.ReachedFinalQuorum(delta); err != nil {
			return false, err
		} else if ok {
			// The locked candidate stays; the winner is whatever reached
			// final quorum.
			e.state = FinalQuorumReached
			e.winner = winner
			return true, nil
		}
		if candidate, ok, err := e.votes.ReachedQuorum(delta); err != nil {
			return false, err
		} else if ok {
			e.candidate = candidate
		}
		return true, nil

	default: // NoQuorum
		if e.votes.Insert(vote) == Ignored {
			return false, nil
		}
		// Final quorum can arrive before normal quorum is ever observed.
		if winner, ok, err := e.votes.ReachedFinalQuorum(delta); err != nil {
			return false, err
		} else if ok {
			e.state = FinalQuorumReached
			e.candidate = winner
			e.winner = winner
			return true, nil
		}
		if candidate, ok, err := e.votes.ReachedQuorum(delta); err != nil {
			return false, err
		} else if ok {
			e.state = QuorumReached
			e.candidate = candidate
		}
		return true, nil
	}
}

// Request returns the vote to generate for this round, given the hash
// currently held in the ledger. Once a candidate is locked it only
// receives final votes, and only while the ledger agrees with it.
func (e *Election) Request(current types.Hash, round uint64) (Request, bool) {
	switch e.state {
	case NoQuorum:
		return Request{Hash: current, Timestamp: round}, true
	default:
		if current == e.candidate {
			return Request{Hash: e.candidate, Timestamp: types.FinalTimestamp}, true
		}
		// Waiting for the ledger to switch to the candidate fork.
		return Request{}, false
	}
}

// Candidate returns the block the node wants in the ledger: the locked
// candidate, or the current leader before any quorum.
func (e *Election) Candidate() (types.Hash, bool) {
	switch e.state {
	case NoQuorum:
		return e.votes.Leader()
	default:
		return e.candidate, true
	}
}

// Winner returns the decided block once final quorum is reached.
func (e *Election) Winner() (types.Hash, bool) {
	if e.state == FinalQuorumReached {
		return e.winner, true
	}
	return types.Hash{}, false
}

// State returns the quorum progress.
func (e *Election) State() State {
	return e.state
}

// Votes exposes the underlying vote index.
func (e *Election) Votes() *VoteIndex {
	return e.votes
}

// Leader returns the hash with the highest tally.
func (e *Election) Leader() (types.Hash, bool) {
	return e.votes.Leader()
}
