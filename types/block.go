// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Sideband carries ledger-derived metadata attached to a block once it has
// been processed: its height in the account chain and the local timestamp
// of arrival. The arrival timestamp drives scheduler and backlog priority.
type Sideband struct {
	Height    uint64
	Timestamp uint64
}

// Block is one block of an account chain. The core never validates blocks;
// it receives them fully checked from the processing pipeline.
type Block struct {
	Account        Account
	Previous       Hash
	Representative Account
	Balance        Amount
	Link           Hash

	Signature []byte
	Work      uint64

	Sideband Sideband
	// Send marks a block whose balance decreased relative to its previous
	// block; set by the processing pipeline.
	Send bool

	hash Hash
}

// NewBlock computes and caches the block hash. All blocks must be built
// through this constructor.
func NewBlock(b Block) *Block {
	b.hash = hashBlock(&b)
	return &b
}

func hashBlock(b *Block) Hash {
	h, _ := blake2b.New256(nil)
	h.Write(b.Account[:])
	h.Write(b.Previous[:])
	h.Write(b.Representative[:])
	balance := b.Balance.Bytes32()
	h.Write(balance[16:]) // 128-bit balance domain
	h.Write(b.Link[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hash returns the cached block identity.
func (b *Block) Hash() Hash {
	return b.hash
}

// Root returns the slot this block contends for.
func (b *Block) Root() Root {
	if b.Previous == (Hash{}) {
		return b.Account
	}
	return b.Previous
}

// QualifiedRoot returns the (root, previous) pair keying this block's
// election.
func (b *Block) QualifiedRoot() QualifiedRoot {
	return QualifiedRoot{Root: b.Root(), Previous: b.Previous}
}

// Height returns the sideband height.
func (b *Block) Height() uint64 {
	return b.Sideband.Height
}

// IsSend reports whether this block lowered the account balance.
func (b *Block) IsSend() bool {
	return b.Send
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
