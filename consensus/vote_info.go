// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"time"

	"github.com/lattice/consensus/types"
)

// VoteInfo is the per-representative vote summary exposed by elections:
// which hash the representative backs, at which timestamp, and when the
// vote was locally observed.
type VoteInfo struct {
	Hash      types.Hash
	Timestamp uint64
	Time      time.Time
}

// IsFinal reports whether the retained vote is final.
func (v VoteInfo) IsFinal() bool {
	return types.IsFinalTimestamp(v.Timestamp)
}

// VoteWithWeight extends VoteInfo with the representative identity and its
// stake, for status listings.
type VoteWithWeight struct {
	Representative types.Account
	Hash           types.Hash
	Timestamp      uint64
	Time           time.Time
	Weight         types.Amount
}
