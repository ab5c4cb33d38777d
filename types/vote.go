// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"crypto/ed25519"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// FinalTimestamp is the reserved sentinel marking an irrevocable vote.
const FinalTimestamp = ^uint64(0)

// DurationMax is the maximum encodable vote duration exponent.
const DurationMax = uint8(0x0f)

// DurationNormal encodes the 8192 ms validity window of normal votes.
const DurationNormal = uint8(0x09)

// MaxVoteHashes bounds the hashes carried by a single vote message.
const MaxVoteHashes = 256

var (
	ErrVoteSignature = errors.New("vote signature is invalid")
	ErrVoteTooLarge  = errors.New("vote carries too many hashes")
)

// IsFinalTimestamp reports whether a timestamp is the final-vote sentinel.
func IsFinalTimestamp(timestamp uint64) bool {
	return timestamp == FinalTimestamp
}

// Vote is the logical confirm_ack payload: a representative's statement
// about a set of block hashes at a timestamp. Wire encoding lives in the
// transport collaborator; the core manipulates this form only.
type Vote struct {
	Account   Account
	Signature []byte
	Timestamp uint64
	Duration  uint8
	Hashes    []Hash
}

// NewVote signs a vote for the given hashes with a local representative key.
func NewVote(pub ed25519.PublicKey, priv ed25519.PrivateKey, timestamp uint64, duration uint8, hashes []Hash) *Vote {
	v := &Vote{
		Timestamp: timestamp,
		Duration:  duration,
		Hashes:    hashes,
	}
	copy(v.Account[:], pub)
	v.Signature = ed25519.Sign(priv, v.Digest())
	return v
}

// Digest is the signed material: a blake2b-256 over the vote prefix, the
// hashes, the packed timestamp and the duration byte.
func (v *Vote) Digest() []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("vote "))
	for _, hash := range v.Hashes {
		h.Write(hash[:])
	}
	h.Write(uint64Bytes(v.Timestamp))
	h.Write([]byte{v.Duration})
	return h.Sum(nil)
}

// Validate checks the signature and structural bounds.
func (v *Vote) Validate() error {
	if len(v.Hashes) > MaxVoteHashes {
		return ErrVoteTooLarge
	}
	if !ed25519.Verify(ed25519.PublicKey(v.Account[:]), v.Digest(), v.Signature) {
		return ErrVoteSignature
	}
	return nil
}

// IsFinal reports whether this vote carries the final sentinel.
func (v *Vote) IsFinal() bool {
	return IsFinalTimestamp(v.Timestamp)
}
