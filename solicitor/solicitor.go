// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package solicitor batches vote requests and block rebroadcasts toward
// the known representatives, under per-cycle budgets.
package solicitor

import (
	"math/rand"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/consensus"
	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/math"
)

const (
	maxElectionRequests    = 50
	maxBlockBroadcastsLive = 30
	maxBlockBroadcastsDev  = 4
)

// Solicitor is prepared once per active-elections cycle with a shuffled
// representative snapshot, accumulates requests per channel, and sends
// them batched on Flush.
type Solicitor struct {
	cfg             config.Config
	network         transport.Network
	representatives []transport.Representative

	maxBlockBroadcasts int
	rebroadcasted      int

	requests map[transport.Channel][]transport.HashRoot
}

// New prepares a solicitor for one cycle.
func New(cfg config.Config, network transport.Network, representatives []transport.Representative) *Solicitor {
	reps := make([]transport.Representative, len(representatives))
	copy(reps, representatives)
	rand.Shuffle(len(reps), func(i, j int) {
		reps[i], reps[j] = reps[j], reps[i]
	})

	maxBroadcasts := maxBlockBroadcastsLive
	if cfg.DevNetwork {
		maxBroadcasts = maxBlockBroadcastsDev
	}

	return &Solicitor{
		cfg:                cfg,
		network:            network,
		representatives:    reps,
		maxBlockBroadcasts: maxBroadcasts,
		requests:           make(map[transport.Channel][]transport.HashRoot),
	}
}

// Broadcast floods the candidate block, spending one unit of this cycle's
// broadcast budget. Returns whether the block went out.
func (s *Solicitor) Broadcast(candidate *types.Block, _ map[types.Account]consensus.VoteInfo) bool {
	if s.rebroadcasted >= s.maxBlockBroadcasts {
		return false
	}
	s.rebroadcasted++
	s.network.FloodMessage(transport.Publish{Block: candidate}, 0.5)
	return true
}

// Request queues a confirm_req for the candidate toward every prepared
// representative that has not voted final for it, up to the per-election
// budget. Representatives that voted for a different hash are solicited
// without consuming budget. Returns the number of requests queued.
func (s *Solicitor) Request(candidate *types.Block, votes map[types.Account]consensus.VoteInfo) int {
	sent := 0
	count := 0
	for _, rep := range s.representatives {
		if count >= maxElectionRequests {
			break
		}
		if rep.Channel.Full() {
			continue
		}

		info, exists := votes[rep.Account]
		isFinal := exists && info.IsFinal()
		different := exists && info.Hash != candidate.Hash()

		if !exists || !isFinal || different {
			s.requests[rep.Channel] = append(s.requests[rep.Channel], transport.HashRoot{
				Hash: candidate.Hash(),
				Root: candidate.Root(),
			})
			if !different {
				count++
			}
			sent++
		}
	}
	return sent
}

// Flush packages each channel's queue into confirm_req messages of at
// most ConfirmReqHashesMax slots and sends them.
func (s *Solicitor) Flush() {
	for channel, queue := range s.requests {
		for len(queue) > 0 {
			n := math.Min(s.cfg.Network.ConfirmReqHashesMax, len(queue))
			batch := make([]transport.HashRoot, n)
			copy(batch, queue[:n])
			_ = channel.Send(transport.ConfirmReq{Requests: batch})
			queue = queue[n:]
		}
	}
	s.requests = make(map[transport.Channel][]transport.HashRoot)
}
