// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the per-election vote store and the quorum
// state machine that decides a contested account-chain slot.
package consensus

import (
	"errors"

	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/bag"
)

// ErrZeroQuorum is returned for quorum queries with a zero delta; the
// semantics of an empty quorum are undefined.
var ErrZeroQuorum = errors.New("quorum delta must be non-zero")

// Vote is a single representative's statement about one hash.
type Vote struct {
	Hash           types.Hash
	Representative types.Account
	Weight         types.Amount
	Timestamp      uint64
}

// IsFinal reports whether the vote carries the final sentinel.
func (v Vote) IsFinal() bool {
	return types.IsFinalTimestamp(v.Timestamp)
}

// Outcome classifies an insertion into the vote index.
type Outcome int

const (
	// Ignored means the representative already voted with an equal or newer
	// timestamp.
	Ignored Outcome = iota
	// Inserted means the representative had not voted before.
	Inserted
	// Updated means an older vote from the representative was replaced.
	Updated
)

// VoteIndex stores at most one vote per representative, retrievable by
// representative, by hash and by timestamp cutoff.
type VoteIndex struct {
	byRep  map[types.Account]Vote
	byHash map[types.Hash]map[types.Account]struct{}
}

// NewVoteIndex returns an empty index.
func NewVoteIndex() *VoteIndex {
	return &VoteIndex{
		byRep:  make(map[types.Account]Vote),
		byHash: make(map[types.Hash]map[types.Account]struct{}),
	}
}

// Insert adds the vote if the representative is absent, replaces the
// existing vote if the new timestamp is strictly greater, and ignores it
// otherwise. The final sentinel is the largest timestamp, so a final vote
// always supersedes a non-final one.
func (i *VoteIndex) Insert(vote Vote) Outcome {
	existing, ok := i.byRep[vote.Representative]
	if !ok {
		i.link(vote)
		return Inserted
	}
	if existing.Timestamp >= vote.Timestamp {
		return Ignored
	}
	i.unlink(existing)
	i.link(vote)
	return Updated
}

func (i *VoteIndex) link(vote Vote) {
	i.byRep[vote.Representative] = vote
	reps, ok := i.byHash[vote.Hash]
	if !ok {
		reps = make(map[types.Account]struct{})
		i.byHash[vote.Hash] = reps
	}
	reps[vote.Representative] = struct{}{}
}

func (i *VoteIndex) unlink(vote Vote) {
	delete(i.byRep, vote.Representative)
	if reps, ok := i.byHash[vote.Hash]; ok {
		delete(reps, vote.Representative)
		if len(reps) == 0 {
			delete(i.byHash, vote.Hash)
		}
	}
}

// Leader returns the hash with the greatest summed weight. Ties break to
// the numerically smallest hash.
func (i *VoteIndex) Leader() (types.Hash, bool) {
	return i.tally(0).Heaviest()
}

// ReachedQuorum returns some hash whose summed weight is >= delta.
func (i *VoteIndex) ReachedQuorum(delta types.Amount) (types.Hash, bool, error) {
	if delta.IsZero() {
		return types.Hash{}, false, ErrZeroQuorum
	}
	h, ok := i.tally(0).AnyAtLeast(delta)
	return h, ok, nil
}

// ReachedFinalQuorum is ReachedQuorum restricted to final-sentinel votes.
func (i *VoteIndex) ReachedFinalQuorum(delta types.Amount) (types.Hash, bool, error) {
	if delta.IsZero() {
		return types.Hash{}, false, ErrZeroQuorum
	}
	h, ok := i.tally(types.FinalTimestamp).AnyAtLeast(delta)
	return h, ok, nil
}

func (i *VoteIndex) tally(cutoff uint64) *bag.Bag {
	b := bag.New()
	for _, vote := range i.byRep {
		if vote.Timestamp >= cutoff {
			b.Add(vote.Hash, vote.Weight)
		}
	}
	return b
}

// Tally returns the per-hash summed weights of all votes.
func (i *VoteIndex) Tally() map[types.Hash]types.Amount {
	return i.tally(0).Map()
}

// FinalTally returns the per-hash summed weights of final votes only.
func (i *VoteIndex) FinalTally() map[types.Hash]types.Amount {
	return i.tally(types.FinalTimestamp).Map()
}

// Participants returns which hash each representative currently backs,
// restricted to votes at or above the timestamp cutoff.
func (i *VoteIndex) Participants(cutoff uint64) map[types.Account]types.Hash {
	out := make(map[types.Account]types.Hash, len(i.byRep))
	for rep, vote := range i.byRep {
		if vote.Timestamp >= cutoff {
			out[rep] = vote.Hash
		}
	}
	return out
}

// Find returns the retained vote of the given representative.
func (i *VoteIndex) Find(rep types.Account) (Vote, bool) {
	v, ok := i.byRep[rep]
	return v, ok
}

// All returns every retained vote.
func (i *VoteIndex) All() []Vote {
	out := make([]Vote, 0, len(i.byRep))
	for _, vote := range i.byRep {
		out = append(out, vote)
	}
	return out
}

// TotalWeight returns the sum of all retained vote weights.
func (i *VoteIndex) TotalWeight() types.Amount {
	return i.tally(0).Total()
}

// Size returns the number of retained votes.
func (i *VoteIndex) Size() int {
	return len(i.byRep)
}

// ContainsHash reports whether any retained vote backs the hash.
func (i *VoteIndex) ContainsHash(hash types.Hash) bool {
	_, ok := i.byHash[hash]
	return ok
}

// ContainsRep reports whether the representative has a retained vote.
func (i *VoteIndex) ContainsRep(rep types.Account) bool {
	_, ok := i.byRep[rep]
	return ok
}
