// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package core assembles the consensus components into one engine: vote
// processing and routing, active elections, the four schedulers, the
// bounded backlog and the local vote generators.
package core

import (
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lattice/consensus/backlog"
	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/election"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/scheduler"
	"github.com/lattice/consensus/solicitor"
	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
	"github.com/lattice/consensus/voteprocessor"
	"github.com/lattice/consensus/voting"
)

// RepProvider supplies the currently known voting peers; the rep crawler
// collaborator implements it.
type RepProvider interface {
	Representatives() []transport.Representative
}

// Core owns every consensus component and their start/stop order.
type Core struct {
	Config config.Config

	Bucketing         *buckets.Bucketing
	VoteCache         *votecache.Cache
	RecentlyConfirmed *election.RecentlyConfirmed
	Router            *election.Router
	Active            *election.ActiveElections
	History           *voting.History
	Generator         *voting.Generator
	FinalGenerator    *voting.Generator
	Processor         *voteprocessor.Processor
	Priority          *scheduler.Priority
	Hinted            *scheduler.Hinted
	Optimistic        *scheduler.Optimistic
	Manual            *scheduler.Manual
	Backlog           *backlog.Backlog

	ledger ledger.Ledger
}

// New wires the core against its collaborators.
func New(
	cfg config.Config,
	ldgr ledger.Ledger,
	onlineReps ledger.OnlineReps,
	wallets ledger.Wallets,
	blockProcessor ledger.BlockProcessor,
	confirmingSet ledger.ConfirmingSet,
	network transport.Network,
	reps RepProvider,
	logger log.Logger,
	registerer prometheus.Registerer,
) (*Core, error) {
	electionMetrics, err := election.NewMetrics(registerer)
	if err != nil {
		return nil, err
	}
	schedulerMetrics, err := scheduler.NewMetrics(registerer)
	if err != nil {
		return nil, err
	}
	backlogMetrics, err := backlog.NewMetrics(registerer)
	if err != nil {
		return nil, err
	}
	processorMetrics, err := voteprocessor.NewMetrics(registerer)
	if err != nil {
		return nil, err
	}
	votingMetrics, err := voting.NewMetrics(registerer, "voting")
	if err != nil {
		return nil, err
	}
	finalVotingMetrics, err := voting.NewMetrics(registerer, "voting_final")
	if err != nil {
		return nil, err
	}

	c := &Core{
		Config:            cfg,
		Bucketing:         buckets.New(),
		VoteCache:         votecache.New(cfg.Active.ConfirmationCache),
		RecentlyConfirmed: election.NewRecentlyConfirmed(cfg.Active.ConfirmationCache),
		History:           voting.NewHistory(cfg.Voting.MaxCache),
		ledger:            ldgr,
	}

	c.Router = election.NewRouter(c.VoteCache, c.RecentlyConfirmed, ldgr, electionMetrics, logger)
	c.Processor = voteprocessor.New(cfg, c.Router, ldgr, onlineReps, processorMetrics, logger)

	loopback := func(vote *types.Vote) {
		c.Processor.Vote(vote, nil)
	}
	c.Generator = voting.NewGenerator(cfg, ldgr, wallets, c.History, network, votingMetrics, logger, false, voting.Options{Loopback: loopback})
	c.FinalGenerator = voting.NewGenerator(cfg, ldgr, wallets, c.History, network, finalVotingMetrics, logger, true, voting.Options{Loopback: loopback})

	deps := election.Deps{
		Config:            cfg,
		Ledger:            ldgr,
		OnlineReps:        onlineReps,
		Wallets:           wallets,
		BlockProcessor:    blockProcessor,
		ConfirmingSet:     confirmingSet,
		RecentlyConfirmed: c.RecentlyConfirmed,
		Generator:         c.Generator,
		FinalGenerator:    c.FinalGenerator,
		Logger:            logger,
		Metrics:           electionMetrics,
	}
	c.Active = election.NewActiveElections(deps, c.VoteCache, c.Router, func() election.CycleSolicitor {
		return solicitor.New(cfg, network, reps.Representatives())
	})

	c.Priority = scheduler.NewPriority(cfg, ldgr, c.Active, c.Bucketing, schedulerMetrics, logger)
	c.Hinted = scheduler.NewHinted(cfg, ldgr, c.Active, c.VoteCache, onlineReps, confirmingSet, c.RecentlyConfirmed, c.Bucketing, schedulerMetrics, logger)
	c.Optimistic = scheduler.NewOptimistic(cfg, ldgr, c.Active, c.Bucketing, schedulerMetrics, logger)
	c.Manual = scheduler.NewManual(cfg, c.Active, schedulerMetrics, logger)
	c.Backlog = backlog.New(cfg, ldgr, c.Bucketing, c.VoteCache, c.Router, c.RecentlyConfirmed, confirmingSet, backlogMetrics, logger)

	return c, nil
}

// Start launches every pump, leaves first.
func (c *Core) Start() {
	c.Router.Start()
	c.Processor.Start()
	c.Generator.Start()
	c.FinalGenerator.Start()
	c.Active.Start()
	c.Priority.Start()
	c.Hinted.Start()
	c.Optimistic.Start()
	c.Manual.Start()
	c.Backlog.Start()
}

// Stop tears the pumps down in reverse of construction.
func (c *Core) Stop() {
	c.Backlog.Stop()
	c.Manual.Stop()
	c.Optimistic.Stop()
	c.Hinted.Stop()
	c.Priority.Stop()
	c.Active.Stop()
	c.FinalGenerator.Stop()
	c.Generator.Stop()
	c.Processor.Stop()
	c.Router.Stop()
}

// Vote feeds a signed vote message from the network.
func (c *Core) Vote(vote *types.Vote, channel transport.Channel) bool {
	return c.Processor.Vote(vote, channel)
}

// BatchProcessed fans a block-processor batch out to the components that
// react to ledger progress.
func (c *Core) BatchProcessed(batch []ledger.BlockContext) {
	tx := c.ledger.TxBeginRead()
	defer tx.Close()
	for _, ctx := range batch {
		switch ctx.Status {
		case types.BlockProgress:
			account := ctx.Block.Account
			c.Backlog.Update(tx, account)
			c.Priority.Activate(tx, account)

			// Keep any election on this root tracking the ledger.
			if e, ok := c.Active.Election(ctx.Block.QualifiedRoot()); ok {
				e.Process(ctx.Block, ctx.Status)
			}

			if info, ok := c.ledger.AccountGet(tx, account); ok {
				c.Optimistic.Activate(account, info, c.ledger.ConfirmationGet(tx, account))
			}
		case types.BlockFork:
			if e, ok := c.Active.Election(ctx.Block.QualifiedRoot()); ok {
				e.Process(ctx.Block, ctx.Status)
			}
		}
	}
}

// RolledBack refreshes backlog tracking for rolled-back blocks.
func (c *Core) RolledBack(blocks []*types.Block) {
	tx := c.ledger.TxBeginRead()
	defer tx.Close()
	for _, block := range blocks {
		c.Backlog.Update(tx, block.Account)
	}
}

// ConfirmReq serves a confirm_req: known blocks are answered with cached
// or fresh votes through the generator reply path.
func (c *Core) ConfirmReq(requests []transport.HashRoot, channel transport.Channel) int {
	var blocks []*types.Block
	tx := c.ledger.TxBeginRead()
	for _, request := range requests {
		if block, ok := c.ledger.BlockGet(tx, request.Hash); ok {
			blocks = append(blocks, block)
		}
	}
	tx.Close()
	if len(blocks) == 0 {
		return 0
	}
	return c.Generator.Generate(blocks, channel)
}
