// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transporttest provides recording network doubles.
package transporttest

import (
	"sync"

	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/types"
)

// Channel records every message sent through it.
type Channel struct {
	mu       sync.Mutex
	Messages []transport.Message
	// Saturated makes Full report true.
	Saturated bool
	// Dead makes Alive report false.
	Dead bool
}

func (c *Channel) Send(msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, msg)
	return nil
}

func (c *Channel) Full() bool  { return c.Saturated }
func (c *Channel) Alive() bool { return !c.Dead }

// Sent returns a snapshot of the recorded messages.
func (c *Channel) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Network records flooded messages and votes.
type Network struct {
	mu        sync.Mutex
	Flooded   []transport.Message
	Votes     []*types.Vote
	PRVotes   []*types.Vote
	FanoutLen int
}

func (n *Network) FloodMessage(msg transport.Message, _ float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Flooded = append(n.Flooded, msg)
}

func (n *Network) FloodVote(vote *types.Vote, _ float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Votes = append(n.Votes, vote)
}

func (n *Network) FloodVotePrincipal(vote *types.Vote) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PRVotes = append(n.PRVotes, vote)
}

func (n *Network) Fanout() int {
	if n.FanoutLen == 0 {
		return 4
	}
	return n.FanoutLen
}

// FloodedBlocks returns the hashes of flooded publish messages.
func (n *Network) FloodedBlocks() []types.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []types.Hash
	for _, msg := range n.Flooded {
		if publish, ok := msg.(transport.Publish); ok {
			out = append(out, publish.Block.Hash())
		}
	}
	return out
}

// VoteCount returns how many votes were flooded.
func (n *Network) VoteCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Votes)
}
