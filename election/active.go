// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package election

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lattice/consensus/buckets"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/votecache"
)

// CycleSolicitor is a solicitor prepared for one pump cycle.
type CycleSolicitor interface {
	Solicitor
	// Flush packages and sends the accumulated confirmation requests.
	Flush()
}

// SolicitorFactory prepares a fresh solicitor each pump cycle, typically
// with a shuffled snapshot of the known representatives.
type SolicitorFactory func() CycleSolicitor

// StoppedObserver is notified when an election leaves the container.
type StoppedObserver func(election *Election, status Status)

// InsertResult reports the outcome of an insertion.
type InsertResult struct {
	Election *Election
	Inserted bool
}

// ActiveElections is the capacity-bounded registry of live elections and
// the pump that drives their lifecycle.
type ActiveElections struct {
	deps      Deps
	voteCache *votecache.Cache
	router    *Router
	solicitor SolicitorFactory

	// RecentlyCemented keeps the status history of confirmed elections.
	RecentlyCemented *RecentlyCemented

	mu        sync.Mutex
	container *container

	observerMu sync.Mutex
	stopped    []StoppedObserver
	// VacancyUpdate is invoked whenever slots free up; schedulers hook
	// their condition signaling here.
	vacancyUpdate []func()

	pumpMu sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewActiveElections builds the container. The recently-confirmed cache
// lives in deps and is shared with the router.
func NewActiveElections(
	deps Deps,
	voteCache *votecache.Cache,
	router *Router,
	solicitor SolicitorFactory,
) *ActiveElections {
	deps.defaults()
	return &ActiveElections{
		deps:             deps,
		voteCache:        voteCache,
		router:           router,
		solicitor:        solicitor,
		RecentlyCemented: NewRecentlyCemented(deps.Config.Active.ConfirmationHistorySize),
		container:        newContainer(),
	}
}

// Insert starts (or merges into) the election for the block's root.
func (a *ActiveElections) Insert(block *types.Block, behavior types.Behavior, bucket buckets.Index, priority Priority) InsertResult {
	return a.InsertWithAction(block, behavior, bucket, priority, nil, nil)
}

// InsertWithAction additionally attaches confirmation and live-vote
// callbacks; the manual scheduler uses it.
func (a *ActiveElections) InsertWithAction(
	block *types.Block,
	behavior types.Behavior,
	bucket buckets.Index,
	priority Priority,
	confirmationAction func(*types.Block),
	liveVoteAction func(types.Account),
) InsertResult {
	root := block.QualifiedRoot()

	a.mu.Lock()
	if existing, ok := a.container.election(root); ok {
		a.mu.Unlock()
		// Root collision: merge the fork into the existing election.
		existing.Process(block, types.BlockFork)
		return InsertResult{Election: existing, Inserted: false}
	}

	if !a.vacantLocked(behavior) {
		a.mu.Unlock()
		a.deps.Metrics.insertionFailed.Inc()
		return InsertResult{}
	}

	election := NewElection(a.deps, block, behavior, confirmationAction, liveVoteAction)
	a.container.insert(election, behavior, bucket, priority)
	a.deps.Metrics.insertions.Inc()
	a.deps.Metrics.activeSize.Set(float64(a.container.size()))
	a.mu.Unlock()

	a.router.Connect(block.Hash(), election)

	a.deps.Logger.Debug("election started",
		zap.Stringer("qualified_root", root),
		zap.Stringer("behavior", behavior),
		zap.Uint64("bucket", bucket),
		zap.Uint64("priority", priority),
	)

	// Seed with votes that arrived before the election existed.
	if entry, ok := a.voteCache.Find(block.Hash()); ok {
		for _, cached := range entry.Voters {
			election.Vote(cached.Representative, cached.Timestamp, block.Hash(), types.VoteSourceCache)
		}
	}

	return InsertResult{Election: election, Inserted: true}
}

// vacantLocked decides whether a new election of the behavior may start.
func (a *ActiveElections) vacantLocked(behavior types.Behavior) bool {
	// Hard overfill cap, no matter who asks.
	if a.container.size() >= a.deps.Config.Active.Size+a.deps.Config.Active.Size/4 {
		return false
	}
	return a.container.sizeBehavior(behavior) < a.limit(behavior) || a.container.size() < a.deps.Config.Active.Size
}

func (a *ActiveElections) limit(behavior types.Behavior) int {
	size := a.deps.Config.Active.Size
	switch behavior {
	case types.BehaviorHinted:
		return size * a.deps.Config.Active.HintedLimitPercentage / 100
	case types.BehaviorOptimistic:
		return size * a.deps.Config.Active.OptimisticLimitPercentage / 100
	case types.BehaviorManual:
		// Manual elections bypass capacity reasoning; the overfill
		// eviction policy reins them in.
		return math.MaxInt
	default:
		return size
	}
}

// Limit returns the behavior's share of the container.
func (a *ActiveElections) Limit(behavior types.Behavior) int {
	return a.limit(behavior)
}

// Vacancy returns the free slots for the behavior; negative when over.
func (a *ActiveElections) Vacancy(behavior types.Behavior) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit(behavior) - a.container.sizeBehavior(behavior)
}

// TotalVacancy returns free slots against the global cap.
func (a *ActiveElections) TotalVacancy() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deps.Config.Active.Size - a.container.size()
}

// Active reports whether the qualified root is being contested.
func (a *ActiveElections) Active(root types.QualifiedRoot) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.exists(root)
}

// ActiveBlock reports whether the block's root is being contested.
func (a *ActiveElections) ActiveBlock(block *types.Block) bool {
	return a.Active(block.QualifiedRoot())
}

// Election returns the election for a qualified root.
func (a *ActiveElections) Election(root types.QualifiedRoot) (*Election, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.election(root)
}

// Size returns the number of active elections.
func (a *ActiveElections) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.size()
}

// SizeBehavior returns the number of active elections of one behavior.
func (a *ActiveElections) SizeBehavior(behavior types.Behavior) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.sizeBehavior(behavior)
}

// SizeBucket returns the number of active elections in one bucket.
func (a *ActiveElections) SizeBucket(behavior types.Behavior, bucket buckets.Index) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.sizeBucket(behavior, bucket)
}

// Top returns the eviction candidate of a bucket: the election with the
// highest priority number.
func (a *ActiveElections) Top(behavior types.Behavior, bucket buckets.Index) (*Election, Priority, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.top(behavior, bucket)
}

// List snapshots the active elections in insertion order.
func (a *ActiveElections) List() []*Election {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.container.list()
}

// Erase cancels and removes the election for the root.
func (a *ActiveElections) Erase(root types.QualifiedRoot) bool {
	a.mu.Lock()
	election, ok := a.container.election(root)
	a.mu.Unlock()
	if !ok {
		return false
	}
	election.Cancel()
	a.cleanup(election)
	return true
}

// EraseOldest evicts the oldest active election; the overfill path of the
// manual and hinted pumps uses it.
func (a *ActiveElections) EraseOldest() bool {
	a.mu.Lock()
	entry, ok := a.container.oldest()
	a.mu.Unlock()
	if !ok {
		return false
	}
	a.deps.Metrics.dropped.Inc()
	entry.election.Cancel()
	a.cleanup(entry.election)
	return true
}

// OnStopped registers an observer for elections leaving the container.
func (a *ActiveElections) OnStopped(observer StoppedObserver) {
	a.observerMu.Lock()
	defer a.observerMu.Unlock()
	a.stopped = append(a.stopped, observer)
}

// OnVacancyUpdate registers a callback fired when slots free up.
func (a *ActiveElections) OnVacancyUpdate(fn func()) {
	a.observerMu.Lock()
	defer a.observerMu.Unlock()
	a.vacancyUpdate = append(a.vacancyUpdate, fn)
}

// cleanup removes a finished election: container first, then routing, so
// recently-confirmed (already recorded by confirmOnce) short-circuits any
// late votes.
func (a *ActiveElections) cleanup(election *Election) {
	a.mu.Lock()
	_, erased := a.container.erase(election.QualifiedRoot())
	a.deps.Metrics.activeSize.Set(float64(a.container.size()))
	a.mu.Unlock()
	if !erased {
		return
	}

	a.router.DisconnectElection(election)

	status := election.CurrentStatus()
	if status.Type == StatusConfirmedQuorum {
		a.RecentlyCemented.Put(status)
	}
	a.observerMu.Lock()
	stopped := make([]StoppedObserver, len(a.stopped))
	copy(stopped, a.stopped)
	vacancy := make([]func(), len(a.vacancyUpdate))
	copy(vacancy, a.vacancyUpdate)
	a.observerMu.Unlock()
	for _, observer := range stopped {
		observer(election, status)
	}
	for _, fn := range vacancy {
		fn()
	}
}

// Start launches the request pump.
func (a *ActiveElections) Start() {
	a.pumpMu.Lock()
	defer a.pumpMu.Unlock()
	if a.done != nil {
		return
	}
	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.requestLoop(a.stopCh, a.done)
}

// Stop terminates the pump and waits for it.
func (a *ActiveElections) Stop() {
	a.pumpMu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.pumpMu.Unlock()
	if done == nil {
		return
	}
	close(stopCh)
	<-done
}

func (a *ActiveElections) requestLoop(stopCh, done chan struct{}) {
	defer close(done)
	interval := a.deps.Config.BaseLatency() / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Tick()
		case <-stopCh:
			return
		}
	}
}

// Tick advances every election one lifecycle step and cleans up the
// finished ones. Exposed so tests can drive the pump deterministically.
func (a *ActiveElections) Tick() {
	solicitor := a.solicitor()
	for _, election := range a.List() {
		if election.TransitionTime(solicitor) {
			a.cleanup(election)
		}
	}
	solicitor.Flush()
}

// Clear drops every election without notification; tests only.
func (a *ActiveElections) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.container.clear()
}
