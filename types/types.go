// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types defines the logical objects shared across the consensus
// core: block hashes, accounts, amounts, blocks and votes.
package types

import (
	"github.com/luxfi/ids"
)

// Hash identifies a block.
type Hash = ids.ID

// Account identifies a voting or owning identity (an ed25519 public key).
type Account = ids.ID

// Root identifies the slot of an account chain a block occupies: the
// previous block for existing accounts, the account itself for opens.
type Root = ids.ID

// QualifiedRoot fully qualifies a contested account-chain slot.
// It is the primary key for elections.
type QualifiedRoot struct {
	Root     Root
	Previous Hash
}

func (q QualifiedRoot) String() string {
	return q.Root.String() + ":" + q.Previous.String()
}

// VoteCode classifies the outcome of routing a single vote hash.
type VoteCode int

const (
	// VoteInvalid marks a vote that is not signed correctly.
	VoteInvalid VoteCode = iota
	// VoteReplay marks a vote that does not carry the highest timestamp seen.
	VoteReplay
	// VoteNew marks a vote that carried new information.
	VoteNew
	// VoteIndeterminate marks a vote for a hash with no election; it cannot
	// be classified as new or replay.
	VoteIndeterminate
	// VoteIgnored marks a valid vote that was dropped (e.g. the election's
	// vote cap was reached).
	VoteIgnored
)

func (c VoteCode) String() string {
	switch c {
	case VoteInvalid:
		return "invalid"
	case VoteReplay:
		return "replay"
	case VoteNew:
		return "vote"
	case VoteIndeterminate:
		return "indeterminate"
	case VoteIgnored:
		return "ignored"
	}
	return "unknown"
}

// VoteSource describes where a vote entered the node.
type VoteSource int

const (
	VoteSourceLive VoteSource = iota
	VoteSourceRebroadcast
	VoteSourceCache
)

func (s VoteSource) String() string {
	switch s {
	case VoteSourceLive:
		return "live"
	case VoteSourceRebroadcast:
		return "rebroadcast"
	case VoteSourceCache:
		return "cache"
	}
	return "unknown"
}

// BlockStatus is the outcome the block-processing pipeline reports for a
// block. The core reacts to outcomes only; validation lives elsewhere.
type BlockStatus int

const (
	BlockProgress BlockStatus = iota
	BlockFork
	BlockOld
	BlockGapPrevious
	BlockGapSource
)

func (s BlockStatus) String() string {
	switch s {
	case BlockProgress:
		return "progress"
	case BlockFork:
		return "fork"
	case BlockOld:
		return "old"
	case BlockGapPrevious:
		return "gap_previous"
	case BlockGapSource:
		return "gap_source"
	}
	return "unknown"
}

// Behavior selects the lifetime and request cadence of an election.
type Behavior int

const (
	BehaviorManual Behavior = iota
	BehaviorPriority
	BehaviorHinted
	BehaviorOptimistic
)

// Behaviors lists every election behavior.
var Behaviors = []Behavior{BehaviorManual, BehaviorPriority, BehaviorHinted, BehaviorOptimistic}

func (b Behavior) String() string {
	switch b {
	case BehaviorManual:
		return "manual"
	case BehaviorPriority:
		return "priority"
	case BehaviorHinted:
		return "hinted"
	case BehaviorOptimistic:
		return "optimistic"
	}
	return "unknown"
}
