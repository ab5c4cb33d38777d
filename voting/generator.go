// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/transport"
	"github.com/lattice/consensus/types"
)

// verifyBatchMax bounds how many queued candidates one verification round
// takes to the ledger.
const verifyBatchMax = 256

type candidate struct {
	root types.Root
	hash types.Hash
}

type replyRequest struct {
	candidates []candidate
	channel    transport.Channel
}

// Generator signs and dispatches the local representative votes. Two
// generators run per node: a normal one and a final one (isFinal), which
// additionally claims the per-root final-vote slot in the store.
//
// Broadcast requests arrive one (root, hash) at a time from elections;
// reply requests arrive batched from confirm_req handling.
type Generator struct {
	cfg     config.Config
	ledger  ledger.Ledger
	wallets ledger.Wallets
	history *History
	spacing *Spacing
	network transport.Network
	metrics *Metrics
	logger  log.Logger
	isFinal bool
	now     func() time.Time

	// loopback feeds broadcast votes back into the local vote processor so
	// the node's own elections observe them.
	loopback func(*types.Vote)
	// replyAction delivers reply votes; the default wraps them in
	// confirm_ack on the requester's channel.
	replyAction func(*types.Vote, transport.Channel)

	mu         sync.Mutex
	queue      []candidate
	candidates []candidate
	requests   []replyRequest

	wakeVerify chan struct{}
	wakeVote   chan struct{}
	stopCh     chan struct{}
	doneVerify chan struct{}
	doneVote   chan struct{}
}

// Options tunes optional generator hooks.
type Options struct {
	Loopback    func(*types.Vote)
	ReplyAction func(*types.Vote, transport.Channel)
	Now         func() time.Time
}

// NewGenerator builds a generator. The history is shared between the
// normal and final generators; the spacing gate is per-generator.
func NewGenerator(
	cfg config.Config,
	ldgr ledger.Ledger,
	wallets ledger.Wallets,
	history *History,
	network transport.Network,
	metrics *Metrics,
	logger log.Logger,
	isFinal bool,
	opts Options,
) *Generator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Generator{
		cfg:         cfg,
		ledger:      ldgr,
		wallets:     wallets,
		history:     history,
		spacing:     NewSpacing(cfg.Voting.Delay, opts.Now),
		network:     network,
		metrics:     metrics,
		logger:      logger,
		isFinal:     isFinal,
		now:         opts.Now,
		loopback:    opts.Loopback,
		replyAction: opts.ReplyAction,
		wakeVerify:  make(chan struct{}, 1),
		wakeVote:    make(chan struct{}, 1),
	}
	if g.loopback == nil {
		g.loopback = func(*types.Vote) {}
	}
	if g.replyAction == nil {
		g.replyAction = func(vote *types.Vote, channel transport.Channel) {
			_ = channel.Send(transport.ConfirmAck{Vote: vote})
		}
	}
	return g
}

// Add queues a (root, hash) candidate for vote generation and broadcast.
// Votes already in the local history are rebroadcast without re-signing.
func (g *Generator) Add(root types.Root, hash types.Hash) {
	if cached := g.history.Votes(root, hash, g.isFinal); len(cached) > 0 {
		g.metrics.cacheHits.Inc()
		for _, vote := range cached {
			g.broadcastAction(vote)
		}
		return
	}

	g.mu.Lock()
	g.queue = append(g.queue, candidate{root: root, hash: hash})
	g.mu.Unlock()
	signal(g.wakeVerify)
}

// Generate queues candidates for a confirm_req reply and returns how many
// passed the dependents check.
func (g *Generator) Generate(blocks []*types.Block, channel transport.Channel) int {
	var accepted []candidate
	tx := g.ledger.TxBeginRead()
	for _, block := range blocks {
		if g.ledger.DependentsConfirmed(tx, block) {
			accepted = append(accepted, candidate{root: block.Root(), hash: block.Hash()})
		}
	}
	tx.Close()

	g.mu.Lock()
	g.requests = append(g.requests, replyRequest{candidates: accepted, channel: channel})
	for len(g.requests) > g.cfg.Voting.MaxRequests {
		g.requests = g.requests[1:]
		g.metrics.repliesDiscarded.Inc()
	}
	g.mu.Unlock()
	signal(g.wakeVote)

	return len(accepted)
}

// Start launches the verification and voting workers.
func (g *Generator) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopCh != nil {
		return
	}
	g.stopCh = make(chan struct{})
	g.doneVerify = make(chan struct{})
	g.doneVote = make(chan struct{})
	go g.runVerification(g.stopCh, g.doneVerify)
	go g.runVoting(g.stopCh, g.doneVote)
}

// Stop terminates the workers and waits for them.
func (g *Generator) Stop() {
	g.mu.Lock()
	stopCh := g.stopCh
	doneVerify, doneVote := g.doneVerify, g.doneVote
	g.stopCh, g.doneVerify, g.doneVote = nil, nil, nil
	g.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneVerify
	<-doneVote
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

/*
 * Verification worker: takes queued candidates to the ledger and promotes
 * the votable ones.
 */

func (g *Generator) runVerification(stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-g.wakeVerify:
			g.verifyRound()
		}
	}
}

func (g *Generator) verifyRound() {
	for {
		g.mu.Lock()
		n := len(g.queue)
		if n == 0 {
			g.mu.Unlock()
			return
		}
		if n > verifyBatchMax {
			n = verifyBatchMax
		}
		batch := make([]candidate, n)
		copy(batch, g.queue[:n])
		g.queue = g.queue[n:]
		g.mu.Unlock()

		verified := g.verifyBatch(batch)
		if len(verified) == 0 {
			continue
		}

		g.mu.Lock()
		g.candidates = append(g.candidates, verified...)
		full := len(g.candidates) >= g.cfg.Network.ConfirmAckHashesMax
		g.mu.Unlock()
		if full {
			signal(g.wakeVote)
		}
	}
}

func (g *Generator) verifyBatch(batch []candidate) []candidate {
	var out []candidate
	if g.isFinal {
		// The final-votes table check-and-put happens under the voting
		// writer, making the one-final-hash-per-root invariant atomic.
		tx := g.ledger.TxBeginWrite(ledger.WriterVotingFinal)
		defer tx.Close()
		for _, c := range batch {
			if g.shouldVoteFinal(tx, c) {
				out = append(out, c)
			} else {
				g.metrics.nonVotable.Inc()
			}
		}
		return out
	}
	tx := g.ledger.TxBeginRead()
	defer tx.Close()
	for _, c := range batch {
		if g.shouldVote(tx, c) {
			out = append(out, c)
		} else {
			g.metrics.nonVotable.Inc()
		}
	}
	return out
}

func (g *Generator) shouldVote(tx ledger.ReadTx, c candidate) bool {
	block, ok := g.ledger.BlockGet(tx, c.hash)
	if !ok {
		return false
	}
	return g.ledger.DependentsConfirmed(tx, block)
}

func (g *Generator) shouldVoteFinal(tx ledger.WriteTx, c candidate) bool {
	block, ok := g.ledger.BlockGet(tx, c.hash)
	if !ok {
		return false
	}
	if !g.ledger.DependentsConfirmed(tx, block) {
		return false
	}
	if !tx.PutFinalVote(block.QualifiedRoot(), c.hash) {
		g.logger.Debug("final vote slot already taken",
			zap.Stringer("root", c.root),
			zap.Stringer("hash", c.hash),
		)
		return false
	}
	return true
}

/*
 * Voting worker: batches candidates into signed votes and serves reply
 * requests.
 */

func (g *Generator) runVoting(stopCh, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(g.cfg.Voting.GeneratorDelay)
	defer timer.Stop()
	for {
		flushPartial := false
		select {
		case <-stopCh:
			return
		case <-g.wakeVote:
		case <-timer.C:
			flushPartial = true
		}
		g.votingRound(flushPartial)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(g.cfg.Voting.GeneratorDelay)
	}
}

// votingRound serves queued replies and flushes candidate batches. Full
// batches go out immediately; partial ones only once the generator delay
// elapsed.
func (g *Generator) votingRound(flushPartial bool) {
	for {
		g.mu.Lock()
		full := len(g.candidates) >= g.cfg.Network.ConfirmAckHashesMax
		hasCandidates := len(g.candidates) > 0
		var request *replyRequest
		if len(g.requests) > 0 {
			popped := g.requests[0]
			g.requests = g.requests[1:]
			request = &popped
		}
		g.mu.Unlock()

		switch {
		case request != nil:
			g.reply(*request)
		case full || (flushPartial && hasCandidates):
			g.broadcastBatch()
			return
		default:
			return
		}
	}
}

// broadcastBatch drains up to one vote's worth of candidates and floods a
// signed vote for them.
func (g *Generator) broadcastBatch() {
	max := g.cfg.Network.ConfirmAckHashesMax

	g.mu.Lock()
	var hashes []types.Hash
	var roots []types.Root
	for len(g.candidates) > 0 && len(hashes) < max {
		c := g.candidates[0]
		g.candidates = g.candidates[1:]
		if containsRoot(roots, c.root) {
			continue
		}
		if !g.spacing.Votable(c.root, c.hash) {
			g.metrics.spacingSuppressed.Inc()
			continue
		}
		roots = append(roots, c.root)
		hashes = append(hashes, c.hash)
	}
	g.mu.Unlock()

	if len(hashes) == 0 {
		return
	}
	g.vote(hashes, roots, func(vote *types.Vote) {
		g.broadcastAction(vote)
		g.metrics.broadcasts.Inc()
	})
}

func (g *Generator) reply(request replyRequest) {
	i := 0
	for i < len(request.candidates) {
		var hashes []types.Hash
		var roots []types.Root
		for ; i < len(request.candidates) && len(hashes) < g.cfg.Network.ConfirmAckHashesMax; i++ {
			c := request.candidates[i]
			if containsRoot(roots, c.root) {
				continue
			}
			if !g.spacing.Votable(c.root, c.hash) {
				g.metrics.spacingSuppressed.Inc()
				continue
			}
			roots = append(roots, c.root)
			hashes = append(hashes, c.hash)
		}
		if len(hashes) > 0 {
			g.vote(hashes, roots, func(vote *types.Vote) {
				g.replyAction(vote, request.channel)
			})
		}
	}
	g.metrics.replies.Inc()
}

// vote signs one vote per local representative and records it in history
// and spacing.
func (g *Generator) vote(hashes []types.Hash, roots []types.Root, action func(*types.Vote)) {
	var votes []*types.Vote
	g.wallets.ForEachRepresentative(func(pub ed25519.PublicKey, priv ed25519.PrivateKey) {
		timestamp := uint64(g.now().UnixMilli())
		duration := types.DurationNormal
		if g.isFinal {
			timestamp = types.FinalTimestamp
			duration = types.DurationMax
		}
		votes = append(votes, types.NewVote(pub, priv, timestamp, duration, hashes))
	})
	for _, vote := range votes {
		for i := range hashes {
			g.history.Add(roots[i], hashes[i], vote)
			g.spacing.Flag(roots[i], hashes[i])
		}
		g.metrics.votesGenerated.Inc()
		action(vote)
	}
}

func (g *Generator) broadcastAction(vote *types.Vote) {
	g.network.FloodVotePrincipal(vote)
	g.network.FloodVote(vote, 2.0)
	g.loopback(vote)
}

func containsRoot(roots []types.Root, root types.Root) bool {
	for _, r := range roots {
		if r == root {
			return true
		}
	}
	return false
}
