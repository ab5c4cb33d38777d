// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport declares the network surface the core hands messages
// to. Wire encoding and peer management live in the network collaborator;
// the core produces logical messages only.
package transport

import (
	"github.com/lattice/consensus/types"
)

// HashRoot pairs a block hash with its root, the unit of confirm_req.
type HashRoot struct {
	Hash types.Hash
	Root types.Root
}

// Publish floods a candidate block.
type Publish struct {
	Block *types.Block
}

// ConfirmReq solicits votes for the listed slots.
type ConfirmReq struct {
	Requests []HashRoot
}

// ConfirmAck carries a representative vote.
type ConfirmAck struct {
	Vote *types.Vote
}

// Message is a logical outbound message.
type Message interface {
	isMessage()
}

func (Publish) isMessage()    {}
func (ConfirmReq) isMessage() {}
func (ConfirmAck) isMessage() {}

// Channel is one peer connection. Sends are fire-and-forget; the channel
// applies its own drop policy and timeouts.
type Channel interface {
	Send(msg Message) error
	// Full reports whether the channel's outbound queue is saturated.
	Full() bool
	// Alive reports whether the peer is still connected.
	Alive() bool
}

// Representative is a voting peer with its channel.
type Representative struct {
	Account types.Account
	Channel Channel
}

// Network is the flooding surface.
type Network interface {
	// FloodMessage sends to a random sample of fanout*Fanout() peers.
	FloodMessage(msg Message, fanout float64)
	// FloodVote floods a vote to a random sample.
	FloodVote(vote *types.Vote, fanout float64)
	// FloodVotePrincipal floods a vote to all principal representatives.
	FloodVotePrincipal(vote *types.Vote)
	// Fanout is the base fanout size.
	Fanout() int
}
