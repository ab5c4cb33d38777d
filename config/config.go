// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunables of the consensus core. Values are
// plain data; loading them from disk is a collaborator concern.
package config

import "time"

// ActiveElections bounds the active-elections container.
type ActiveElections struct {
	// Size is the soft cap on simultaneously active elections.
	Size int
	// HintedLimitPercentage limits hinted elections as a percentage of Size.
	HintedLimitPercentage int
	// OptimisticLimitPercentage limits optimistic elections as a percentage of Size.
	OptimisticLimitPercentage int
	// ConfirmationHistorySize bounds the recently-cemented history.
	ConfirmationHistorySize int
	// ConfirmationCache bounds the recently-confirmed cache.
	ConfirmationCache int
}

// BoundedBacklog tunes the rollback of excess unconfirmed work.
type BoundedBacklog struct {
	MaxBacklog      uint64
	BucketThreshold uint64
	BatchSize       int
}

// Voting tunes the local vote generators.
type Voting struct {
	// GeneratorDelay is the flush interval for partially-filled vote batches.
	GeneratorDelay time.Duration
	// GeneratorThreshold is not read by the vote generator: a batch is
	// flushed when it is full or when GeneratorDelay elapses.
	GeneratorThreshold int
	// Delay is the per-root vote spacing window.
	Delay time.Duration
	// MaxCache bounds the local vote history.
	MaxCache int
	// MaxRequests bounds the queued reply requests.
	MaxRequests int
}

// Network carries the message-shape and broadcast cadence constants.
type Network struct {
	ConfirmAckHashesMax    int
	ConfirmReqHashesMax    int
	BlockBroadcastInterval time.Duration
	VoteBroadcastInterval  time.Duration
}

// VoteProcessor tunes admission of incoming votes.
type VoteProcessor struct {
	// MaxQueue is the backlog of unverified votes.
	MaxQueue int
	// Threads is the number of verification workers.
	Threads int
}

// OptimisticScheduler tunes optimistic activation.
type OptimisticScheduler struct {
	// GapThreshold is the minimum unconfirmed height before an account is
	// eligible for optimistic activation.
	GapThreshold uint64
	// MaxSize bounds the candidate queue; oldest entries are dropped.
	MaxSize int
}

// Config aggregates the tunables of every core component.
type Config struct {
	// DevNetwork shortens latencies for test networks.
	DevNetwork bool
	// EnableVoting activates the local vote generators.
	EnableVoting bool

	Active        ActiveElections
	Backlog       BoundedBacklog
	Voting        Voting
	Network       Network
	VoteProcessor VoteProcessor
	Optimistic    OptimisticScheduler
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Active: ActiveElections{
			Size:                      5000,
			HintedLimitPercentage:     20,
			OptimisticLimitPercentage: 10,
			ConfirmationHistorySize:   2048,
			ConfirmationCache:         65536,
		},
		Backlog: BoundedBacklog{
			MaxBacklog:      100_000,
			BucketThreshold: 1000,
			BatchSize:       128,
		},
		Voting: Voting{
			GeneratorDelay:     100 * time.Millisecond,
			GeneratorThreshold: 4,
			Delay:              time.Second,
			MaxCache:           128,
			MaxRequests:        2048,
		},
		Network: Network{
			ConfirmAckHashesMax:    16,
			ConfirmReqHashesMax:    7,
			BlockBroadcastInterval: 15 * time.Second,
			VoteBroadcastInterval:  15 * time.Second,
		},
		VoteProcessor: VoteProcessor{
			MaxQueue: 144 * 1024,
			Threads:  4,
		},
		Optimistic: OptimisticScheduler{
			GapThreshold: 32,
			MaxSize:      1024,
		},
	}
}

// DevNet returns defaults tightened for a development network.
func DevNet() Config {
	c := Default()
	c.DevNetwork = true
	c.EnableVoting = true
	c.Network.BlockBroadcastInterval = 500 * time.Millisecond
	c.Network.VoteBroadcastInterval = 500 * time.Millisecond
	c.Voting.GeneratorDelay = 10 * time.Millisecond
	return c
}

// BaseLatency is the latency unit elections scale their cadence by.
func (c Config) BaseLatency() time.Duration {
	if c.DevNetwork {
		return 25 * time.Millisecond
	}
	return time.Second
}
