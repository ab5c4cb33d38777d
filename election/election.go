// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"errors"
	"sync"
	"time"

	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/lattice/consensus/config"
	"github.com/lattice/consensus/consensus"
	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
)

// maxVotes bounds votes and, through one-vote-per-block, blocks held by a
// single election.
const maxVotes = 1000

// passiveDurationFactor scales base latency into the passive phase length.
const passiveDurationFactor = 5

var (
	// ErrNilWinner signals a confirmation attempt without a winner block; the
	// election is in an undefined state.
	ErrNilWinner = errors.New("confirmation without winner block")
)

// VoteGenerator accepts (root, hash) candidates for local vote generation.
type VoteGenerator interface {
	Add(root types.Root, hash types.Hash)
}

// Solicitor requests votes and rebroadcasts candidates under per-cycle
// budgets. Implemented by the solicitor package.
type Solicitor interface {
	Broadcast(block *types.Block, votes map[types.Account]consensus.VoteInfo) bool
	Request(block *types.Block, votes map[types.Account]consensus.VoteInfo) int
}

// StatusType summarizes how an election ended up.
type StatusType int

const (
	StatusOngoing StatusType = iota
	StatusConfirmedQuorum
	StatusStopped
)

// Status is a point-in-time snapshot of an election.
type Status struct {
	Type                     StatusType
	Winner                   *types.Block
	Tally                    map[types.Hash]types.Amount
	FinalTally               map[types.Hash]types.Amount
	TallyWeight              types.Amount
	FinalTallyWeight         types.Amount
	Started                  time.Time
	Ended                    time.Time
	Duration                 time.Duration
	ConfirmationRequestCount int
	BlockCount               int
	VoterCount               int
	Votes                    map[types.Account]consensus.VoteInfo
	Blocks                   map[types.Hash]*types.Block
}

// Deps are the collaborators an election needs. ActiveElections fills
// these in when it creates elections.
type Deps struct {
	Config            config.Config
	Ledger            ledger.Ledger
	OnlineReps        ledger.OnlineReps
	Wallets           ledger.Wallets
	BlockProcessor    ledger.BlockProcessor
	ConfirmingSet     ledger.ConfirmingSet
	RecentlyConfirmed *RecentlyConfirmed
	Generator         VoteGenerator
	FinalGenerator    VoteGenerator
	Logger            log.Logger
	Metrics           *Metrics

	// Async runs confirmation actions off the caller's goroutine.
	Async func(func())
	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Async == nil {
		d.Async = func(fn func()) { go fn() }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// Election drives one contested account-chain slot to consensus.
type Election struct {
	deps Deps

	behavior           types.Behavior
	height             uint64
	root               types.Root
	qualifiedRoot      types.QualifiedRoot
	confirmationAction func(*types.Block)
	liveVoteAction     func(types.Account)

	electionStart time.Time

	mu sync.Mutex
	// Guarded by mu.
	blocks       map[types.Hash]*types.Block
	currentBlock *types.Block
	winnerBlock  *types.Block
	timestamps   map[types.Account]time.Time
	state        stateGuard
	consensus    *consensus.Election
	electionEnd  time.Time

	confirmationRequestCount int
	lastReq                  time.Time
	lastBroadcastTime        time.Time
	lastBroadcastHash        types.Hash
	lastVoteTime             time.Time
	lastVote                 consensus.Request
	lastVoteSet              bool
}

// NewElection starts a passive election seeded with the given block.
func NewElection(
	deps Deps,
	block *types.Block,
	behavior types.Behavior,
	confirmationAction func(*types.Block),
	liveVoteAction func(types.Account),
) *Election {
	deps.defaults()
	now := deps.Now()
	e := &Election{
		deps:               deps,
		behavior:           behavior,
		height:             block.Height(),
		root:               block.Root(),
		qualifiedRoot:      block.QualifiedRoot(),
		confirmationAction: confirmationAction,
		liveVoteAction:     liveVoteAction,
		electionStart:      now,
		blocks:             map[types.Hash]*types.Block{block.Hash(): block},
		currentBlock:       block,
		timestamps:         make(map[types.Account]time.Time),
		state:              stateGuard{state: StatePassive, entered: now},
		consensus:          consensus.NewElection(),
	}
	return e
}

func (e *Election) baseLatency() time.Duration {
	return e.deps.Config.BaseLatency()
}

func (e *Election) confirmReqTime() time.Duration {
	switch e.behavior {
	case types.BehaviorOptimistic:
		return 2 * e.baseLatency()
	default:
		return 5 * e.baseLatency()
	}
}

func (e *Election) timeToLive() time.Duration {
	switch e.behavior {
	case types.BehaviorHinted, types.BehaviorOptimistic:
		return 30 * time.Second
	default:
		return 5 * time.Minute
	}
}

// Vote ingests a single (representative, timestamp, hash) statement.
func (e *Election) Vote(representative types.Account, timestamp uint64, hash types.Hash, source types.VoteSource) types.VoteCode {
	weight := e.deps.Ledger.Weight(representative)
	delta := e.deps.OnlineReps.Delta()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consensus.Votes().Size() >= maxVotes && !e.consensus.Votes().ContainsRep(representative) {
		return types.VoteIgnored
	}

	vote := consensus.Vote{
		Hash:           hash,
		Representative: representative,
		Weight:         weight,
		Timestamp:      timestamp,
	}

	processed, err := e.consensus.Vote(vote, delta)
	if err != nil {
		e.deps.Logger.Error("vote dropped on zero quorum delta",
			zap.Stringer("qualified_root", e.qualifiedRoot),
			zap.Stringer("representative", representative),
		)
		return types.VoteIgnored
	}
	if !processed {
		return types.VoteReplay
	}

	e.timestamps[representative] = e.deps.Now()

	if source != types.VoteSourceCache && e.liveVoteAction != nil {
		e.liveVoteAction(representative)
	}

	e.deps.Metrics.voteProcessed(source)
	e.deps.Logger.Debug("vote processed",
		zap.Stringer("qualified_root", e.qualifiedRoot),
		zap.Stringer("representative", representative),
		zap.Stringer("hash", hash),
		zap.Bool("final", types.IsFinalTimestamp(timestamp)),
		zap.Stringer("source", source),
	)

	if !e.confirmedLocked() {
		e.confirmIfQuorum()
	}
	return types.VoteNew
}

// Process merges a processed block into the election: forks accumulate in
// the block map, ledger progress updates the current block.
func (e *Election) Process(block *types.Block, status types.BlockStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.confirmedLocked() {
		return false
	}
	if _, known := e.blocks[block.Hash()]; !known && len(e.blocks) >= maxVotes {
		return false
	}
	e.blocks[block.Hash()] = block
	if status == types.BlockProgress {
		e.currentBlock = block
	}
	return true
}

// confirmIfQuorum promotes the consensus outcome into the lifecycle. The
// winner never changes after this point.
func (e *Election) confirmIfQuorum() bool {
	if winner, ok := e.consensus.Winner(); ok {
		// Votes can arrive before the block does.
		if block, known := e.blocks[winner]; known {
			// A winning fork must be forced into the ledger.
			if winner != e.currentBlock.Hash() {
				e.deps.BlockProcessor.Force(block)
			}
			return e.confirmOnce(block) == nil
		}
		return false
	}
	if candidate, ok := e.consensus.Candidate(); ok {
		if block, known := e.blocks[candidate]; known && candidate != e.currentBlock.Hash() {
			e.deps.BlockProcessor.Force(block)
		}
	}
	return false
}

// confirmOnce finalizes the election with the given winner. Called with
// the election lock held.
func (e *Election) confirmOnce(winner *types.Block) error {
	if winner == nil {
		// Undefined state; release-assert analogue.
		e.deps.Logger.Error("confirmation without winner block",
			zap.Stringer("qualified_root", e.qualifiedRoot))
		return ErrNilWinner
	}
	if !e.state.change(StateConfirmed, e.deps.Now()) {
		e.deps.Metrics.confirmOnceFailed.Inc()
		return errInvalidTransition
	}
	e.winnerBlock = winner

	// Record before any teardown so late votes read as replays.
	e.deps.RecentlyConfirmed.Put(e.qualifiedRoot, winner.Hash())

	e.deps.Metrics.confirmOnce.Inc()
	e.deps.Logger.Debug("election confirmed",
		zap.Stringer("winner", winner.Hash()),
		zap.Stringer("behavior", e.behavior),
		zap.Int("voters", e.consensus.Votes().Size()),
		zap.Int("blocks", len(e.blocks)),
	)

	e.deps.ConfirmingSet.Add(winner.Hash())

	if action := e.confirmationAction; action != nil {
		e.deps.Async(func() { action(winner) })
	}
	return nil
}

var errInvalidTransition = errors.New("invalid election state transition")

// TryConfirm confirms the election on the given hash if it holds the
// block; used when a dependent election resolves this slot indirectly.
func (e *Election) TryConfirm(hash types.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.confirmedLocked() {
		return false
	}
	if block, ok := e.blocks[hash]; ok {
		return e.confirmOnce(block) == nil
	}
	return false
}

// ForceConfirm confirms on the current block; development networks only.
func (e *Election) ForceConfirm() bool {
	if !e.deps.Config.DevNetwork {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmOnce(e.currentBlock) == nil
}

// TransitionTime drives the lifecycle one tick. It returns true when the
// election is finished and should be cleaned up.
func (e *Election) TransitionTime(solicitor Solicitor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.deps.Now()
	done := false

	switch e.state.state {
	case StatePassive:
		e.confirmIfQuorum()
		if e.state.duration(now) > time.Duration(passiveDurationFactor)*e.baseLatency() {
			e.state.change(StateActive, now)
		}
	case StateActive:
		e.confirmIfQuorum()
		e.broadcastVote()
		e.broadcastBlock(solicitor)
		e.requestConfirmations(solicitor)
	case StateConfirmed:
		done = true
		e.broadcastVote()
		e.broadcastBlock(solicitor)
		e.state.change(StateExpiredConfirmed, now)
	case StateCancelled:
		return true
	case StateExpiredConfirmed, StateExpiredUnconfirmed:
		// Completed elections receive no further ticks.
		e.deps.Logger.Error("tick on completed election",
			zap.Stringer("qualified_root", e.qualifiedRoot),
			zap.Stringer("state", e.state.state))
	}

	if !e.confirmedLocked() && now.Sub(e.electionStart) > e.timeToLive() {
		e.state.change(StateExpiredUnconfirmed, now)
		e.deps.Metrics.expiredUnconfirmed.Inc()
		e.deps.Logger.Debug("election expired",
			zap.Stringer("qualified_root", e.qualifiedRoot),
			zap.Stringer("behavior", e.behavior),
		)
		done = true
	}

	if done {
		e.electionEnd = now
	}
	return done
}

// TransitionActive promotes a passive election immediately.
func (e *Election) TransitionActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.changeFrom(StatePassive, StateActive, e.deps.Now())
}

// Cancel moves the election to its cancelled terminal state.
func (e *Election) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.change(StateCancelled, e.deps.Now())
}

func (e *Election) requestConfirmations(solicitor Solicitor) {
	if e.deps.Now().Sub(e.lastReq) <= e.confirmReqTime() {
		return
	}
	if solicitor.Request(e.currentBlock, e.allVotesLocked()) > 0 {
		e.lastReq = e.deps.Now()
		e.confirmationRequestCount++
	}
}

func (e *Election) broadcastBlockPredicate() bool {
	if e.deps.Now().Sub(e.lastBroadcastTime) > e.deps.Config.Network.BlockBroadcastInterval {
		return true
	}
	return e.currentBlock.Hash() != e.lastBroadcastHash
}

func (e *Election) broadcastBlock(solicitor Solicitor) {
	if !e.broadcastBlockPredicate() {
		return
	}
	if solicitor.Broadcast(e.currentBlock, e.allVotesLocked()) {
		if e.lastBroadcastHash == (types.Hash{}) {
			e.deps.Metrics.broadcastBlockInitial.Inc()
		} else {
			e.deps.Metrics.broadcastBlockRepeat.Inc()
		}
		e.lastBroadcastHash = e.currentBlock.Hash()
		e.lastBroadcastTime = e.deps.Now()
	}
}

func (e *Election) voting() bool {
	return e.deps.Config.EnableVoting && len(e.deps.Wallets.Reps()) > 0
}

// BroadcastVoteImmediate bypasses the broadcast predicate; used when the
// node wants a vote out right now.
func (e *Election) BroadcastVoteImmediate() {
	if !e.voting() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcastVoteImpl()
}

func (e *Election) broadcastVotePredicate() bool {
	if !e.voting() {
		return false
	}
	if e.deps.Now().Sub(e.lastVoteTime) > e.deps.Config.Network.VoteBroadcastInterval {
		return true
	}
	if request, ok := e.consensus.Request(e.currentBlock.Hash(), 0); ok {
		if !e.lastVoteSet || request.Hash != e.lastVote.Hash {
			return true
		}
		if request.IsFinal() && !e.lastVote.IsFinal() {
			return true
		}
	}
	return false
}

func (e *Election) broadcastVote() {
	if e.broadcastVotePredicate() {
		e.broadcastVoteImpl()
	}
}

func (e *Election) broadcastVoteImpl() {
	round := uint64(e.deps.Now().UnixMilli())
	request, ok := e.consensus.Request(e.currentBlock.Hash(), round)
	if !ok {
		return // No candidate to vote for this round.
	}

	if request.IsFinal() {
		e.deps.Metrics.broadcastVoteFinal.Inc()
		e.deps.FinalGenerator.Add(e.root, request.Hash)
	} else {
		e.deps.Metrics.broadcastVoteNormal.Inc()
		e.deps.Generator.Add(e.root, request.Hash)
	}

	e.lastVote = request
	e.lastVoteSet = true
	e.lastVoteTime = e.deps.Now()
}

/*
 * Accessors
 */

func (e *Election) confirmedLocked() bool {
	return e.state.state == StateConfirmed || e.state.state == StateExpiredConfirmed
}

// Confirmed reports whether the election reached confirmation.
func (e *Election) Confirmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmedLocked()
}

// Failed reports whether the election expired without confirmation.
func (e *Election) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.state == StateExpiredUnconfirmed
}

// Finished reports whether the election reached a terminal state.
func (e *Election) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state.state {
	case StateExpiredConfirmed, StateExpiredUnconfirmed, StateCancelled:
		return true
	}
	return false
}

// Winner returns the winning block once final quorum confirmed it.
func (e *Election) Winner() *types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.winnerBlock
}

// Candidate returns the block the node is voting for, if it has arrived.
func (e *Election) Candidate() *types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	if request, ok := e.consensus.Request(e.currentBlock.Hash(), 0); ok {
		return e.blocks[request.Hash]
	}
	return nil
}

// Leader returns the hash with the highest tally.
func (e *Election) Leader() (types.Hash, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consensus.Leader()
}

// Behavior returns the election behavior.
func (e *Election) Behavior() types.Behavior {
	return e.behavior
}

// Root returns the election root.
func (e *Election) Root() types.Root {
	return e.root
}

// QualifiedRoot returns the election's primary key.
func (e *Election) QualifiedRoot() types.QualifiedRoot {
	return e.qualifiedRoot
}

// Height returns the height of the originally inserted block.
func (e *Election) Height() uint64 {
	return e.height
}

// CurrentState returns the lifecycle state.
func (e *Election) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.state
}

// ConsensusState returns the quorum progress.
func (e *Election) ConsensusState() consensus.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consensus.State()
}

// Duration returns how long the election has been running.
func (e *Election) Duration() time.Duration {
	return e.deps.Now().Sub(e.electionStart)
}

// Contains reports whether the election holds the block.
func (e *Election) Contains(hash types.Hash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.blocks[hash]
	return ok
}

// AllBlocks returns a copy of the fork map.
func (e *Election) AllBlocks() map[types.Hash]*types.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.Hash]*types.Block, len(e.blocks))
	for h, b := range e.blocks {
		out[h] = b
	}
	return out
}

// FindBlock returns the block for a hash if the election holds it.
func (e *Election) FindBlock(hash types.Hash) (*types.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.blocks[hash]
	return b, ok
}

// FindVote returns the retained vote info for a representative.
func (e *Election) FindVote(representative types.Account) (consensus.VoteInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vote, ok := e.consensus.Votes().Find(representative)
	if !ok {
		return consensus.VoteInfo{}, false
	}
	return consensus.VoteInfo{
		Hash:      vote.Hash,
		Timestamp: vote.Timestamp,
		Time:      e.timestamps[representative],
	}, true
}

// AllVotes returns the retained vote info per representative.
func (e *Election) AllVotes() map[types.Account]consensus.VoteInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allVotesLocked()
}

func (e *Election) allVotesLocked() map[types.Account]consensus.VoteInfo {
	votes := e.consensus.Votes().All()
	out := make(map[types.Account]consensus.VoteInfo, len(votes))
	for _, vote := range votes {
		out[vote.Representative] = consensus.VoteInfo{
			Hash:      vote.Hash,
			Timestamp: vote.Timestamp,
			Time:      e.timestamps[vote.Representative],
		}
	}
	return out
}

// VotesWithWeight lists the retained votes with stake, heaviest first.
func (e *Election) VotesWithWeight() []consensus.VoteWithWeight {
	votes := e.AllVotes()
	out := make([]consensus.VoteWithWeight, 0, len(votes))
	for rep, info := range votes {
		out = append(out, consensus.VoteWithWeight{
			Representative: rep,
			Hash:           info.Hash,
			Timestamp:      info.Timestamp,
			Time:           info.Time,
			Weight:         e.deps.Ledger.Weight(rep),
		})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if out[j].Weight.Cmp(&out[j-1].Weight) <= 0 {
				break
			}
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Tally returns the per-hash summed weights.
func (e *Election) Tally() map[types.Hash]types.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consensus.Votes().Tally()
}

// FinalTally returns the per-hash summed final-vote weights.
func (e *Election) FinalTally() map[types.Hash]types.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consensus.Votes().FinalTally()
}

// CurrentStatus snapshots the election.
func (e *Election) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStatusLocked()
}

func (e *Election) currentStatusLocked() Status {
	statusType := StatusOngoing
	switch e.state.state {
	case StateConfirmed, StateExpiredConfirmed:
		statusType = StatusConfirmedQuorum
	case StateExpiredUnconfirmed, StateCancelled:
		statusType = StatusStopped
	}

	tally := e.consensus.Votes().Tally()
	finalTally := e.consensus.Votes().FinalTally()
	sum := func(m map[types.Hash]types.Amount) types.Amount {
		total := types.ZeroAmount()
		for _, w := range m {
			total = types.AddAmounts(total, w)
		}
		return total
	}

	blocks := make(map[types.Hash]*types.Block, len(e.blocks))
	for h, b := range e.blocks {
		blocks[h] = b
	}

	return Status{
		Type:                     statusType,
		Winner:                   e.winnerBlock,
		Tally:                    tally,
		FinalTally:               finalTally,
		TallyWeight:              sum(tally),
		FinalTallyWeight:         sum(finalTally),
		Started:                  e.electionStart,
		Ended:                    e.electionEnd,
		Duration:                 e.electionEnd.Sub(e.electionStart),
		ConfirmationRequestCount: e.confirmationRequestCount,
		BlockCount:               len(e.blocks),
		VoterCount:               e.consensus.Votes().Size(),
		Votes:                    e.allVotesLocked(),
		Blocks:                   blocks,
	}
}
