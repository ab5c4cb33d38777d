// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger declares the contracts the consensus core consumes from
// its collaborators: the block store, online representative tracking,
// wallets, the block-processing pipeline and the confirming set. The core
// never implements these; ledgertest provides in-memory doubles.
package ledger

import (
	"crypto/ed25519"

	"github.com/lattice/consensus/types"
)

// Writer identifies the holder of the single global write token. The
// writer queue itself lives outside the core; components only declare
// which writer they are.
type Writer int

const (
	WriterBlockProcessor Writer = iota
	WriterVoting
	WriterVotingFinal
	WriterBoundedBacklog
	WriterPruning
	WriterNodeMaintenance
)

// ReadTx is a read transaction over the store.
type ReadTx interface {
	Close()
}

// WriteTx is a write transaction, handed out one at a time by the writer
// queue.
type WriteTx interface {
	ReadTx

	// PutFinalVote records the final-vote slot for a root. It returns true
	// if the slot was empty or already held the same hash; false if the
	// slot holds a different hash (the caller must not emit a final vote).
	PutFinalVote(root types.QualifiedRoot, hash types.Hash) bool
}

// AccountInfo is the head summary of an account chain.
type AccountInfo struct {
	Head       types.Hash
	OpenBlock  types.Hash
	BlockCount uint64
	// Modified is the ledger modification timestamp, the priority-scheduler
	// ordering key.
	Modified uint64
}

// ConfirmationInfo is the cemented frontier of an account chain.
type ConfirmationInfo struct {
	Height   uint64
	Frontier types.Hash
}

// Ledger is the read/write surface of the block store the core uses.
type Ledger interface {
	TxBeginRead() ReadTx
	TxBeginWrite(writer Writer) WriteTx

	// Any: lookups over all blocks, confirmed or not.
	BlockGet(tx ReadTx, hash types.Hash) (*types.Block, bool)
	BlockExists(tx ReadTx, hash types.Hash) bool
	BlockSuccessor(tx ReadTx, root types.QualifiedRoot) (types.Hash, bool)
	AccountGet(tx ReadTx, account types.Account) (AccountInfo, bool)
	BlockBalance(tx ReadTx, hash types.Hash) (types.Amount, bool)

	// Confirmed: lookups restricted to the cemented set.
	BlockExistsOrPruned(tx ReadTx, hash types.Hash) bool
	AccountBalance(tx ReadTx, account types.Account) (types.Amount, bool)
	ConfirmationGet(tx ReadTx, account types.Account) ConfirmationInfo

	// DependentsConfirmed reports whether every block this block depends on
	// is cemented.
	DependentsConfirmed(tx ReadTx, block *types.Block) bool

	// Rollback undoes the block and its successors. It reports failure
	// (e.g. a cemented successor) and appends the removed blocks.
	Rollback(tx WriteTx, hash types.Hash) (rolledBack []*types.Block, err error)

	// Weight returns the stake delegated to a representative.
	Weight(account types.Account) types.Amount

	// CementedCount returns the number of cemented blocks.
	CementedCount() uint64
}

// OnlineReps tracks the online stake and derives the quorum delta.
type OnlineReps interface {
	// Delta is the current online quorum threshold.
	Delta() types.Amount
	// Trended is the trended online stake.
	Trended() types.Amount
}

// Wallets exposes the local representative identities for vote signing.
type Wallets interface {
	// Reps returns the local representative accounts.
	Reps() []types.Account
	// ForEachRepresentative visits every local representative keypair.
	ForEachRepresentative(fn func(pub ed25519.PublicKey, priv ed25519.PrivateKey))
}

// BlockContext accompanies a processed block through observer fanout.
type BlockContext struct {
	Block  *types.Block
	Status types.BlockStatus
}

// BlockProcessor is the validation pipeline. The core only submits blocks
// and observes outcomes.
type BlockProcessor interface {
	Add(block *types.Block, source types.VoteSource)
	// AddBlocking submits and waits for the outcome.
	AddBlocking(block *types.Block, source types.VoteSource) (types.BlockStatus, bool)
	// Force resolves a fork by rolling back the current block of the
	// root and applying this one.
	Force(block *types.Block)
}

// ConfirmingSet cements confirmed blocks.
type ConfirmingSet interface {
	Add(hash types.Hash)
	Exists(hash types.Hash) bool
}
