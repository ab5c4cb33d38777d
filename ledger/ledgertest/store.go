// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledgertest provides in-memory collaborator doubles for tests.
package ledgertest

import (
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/lattice/consensus/ledger"
	"github.com/lattice/consensus/types"
	"github.com/lattice/consensus/utils/set"
)

var errRollback = errors.New("rollback failed")

type tx struct{}

func (tx) Close() {}

type writeTx struct {
	tx
	store *Store
}

func (w writeTx) PutFinalVote(root types.QualifiedRoot, hash types.Hash) bool {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if existing, ok := w.store.finalVotes[root]; ok {
		return existing == hash
	}
	w.store.finalVotes[root] = hash
	return true
}

// Store is an in-memory ledger for tests.
type Store struct {
	mu sync.Mutex

	blocks        map[types.Hash]*types.Block
	accounts      map[types.Account]ledger.AccountInfo
	confirmations map[types.Account]ledger.ConfirmationInfo
	successors    map[types.QualifiedRoot]types.Hash
	finalVotes    map[types.QualifiedRoot]types.Hash
	weights       map[types.Account]types.Amount
	pruned        set.Set[types.Hash]
	cemented      uint64

	// unconfirmedDeps marks blocks whose dependents are NOT confirmed.
	unconfirmedDeps set.Set[types.Hash]
	// failRollback forces Rollback to fail for the marked hashes.
	failRollback set.Set[types.Hash]
}

// NewStore returns an empty in-memory ledger.
func NewStore() *Store {
	return &Store{
		blocks:        make(map[types.Hash]*types.Block),
		accounts:      make(map[types.Account]ledger.AccountInfo),
		confirmations: make(map[types.Account]ledger.ConfirmationInfo),
		successors:    make(map[types.QualifiedRoot]types.Hash),
		finalVotes:    make(map[types.QualifiedRoot]types.Hash),
		weights:       make(map[types.Account]types.Amount),
	}
}

func (s *Store) TxBeginRead() ledger.ReadTx              { return tx{} }
func (s *Store) TxBeginWrite(ledger.Writer) ledger.WriteTx { return writeTx{store: s} }

// PutBlock stores the block and updates its account head bookkeeping.
func (s *Store) PutBlock(block *types.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Hash()] = block
	info := s.accounts[block.Account]
	info.Head = block.Hash()
	if block.Previous == (types.Hash{}) {
		info.OpenBlock = block.Hash()
	}
	info.BlockCount = block.Sideband.Height
	info.Modified = block.Sideband.Timestamp
	s.accounts[block.Account] = info
	s.successors[types.QualifiedRoot{Root: block.Root(), Previous: block.Previous}] = block.Hash()
}

// SetAccount overrides the head summary of an account.
func (s *Store) SetAccount(account types.Account, info ledger.AccountInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = info
}

// SetConfirmation sets the cemented frontier of an account.
func (s *Store) SetConfirmation(account types.Account, info ledger.ConfirmationInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[account] = info
}

// SetWeight sets the stake delegated to a representative.
func (s *Store) SetWeight(account types.Account, weight types.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[account] = weight
}

// MarkDependentsUnconfirmed makes DependentsConfirmed report false for the
// block.
func (s *Store) MarkDependentsUnconfirmed(hash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unconfirmedDeps.Add(hash)
}

// FailRollback forces Rollback of the hash to fail.
func (s *Store) FailRollback(hash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRollback.Add(hash)
}

func (s *Store) BlockGet(_ ledger.ReadTx, hash types.Hash) (*types.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[hash]
	return b, ok
}

func (s *Store) BlockExists(_ ledger.ReadTx, hash types.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[hash]
	return ok
}

func (s *Store) BlockSuccessor(_ ledger.ReadTx, root types.QualifiedRoot) (types.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.successors[root]
	return h, ok
}

func (s *Store) AccountGet(_ ledger.ReadTx, account types.Account) (ledger.AccountInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.accounts[account]
	return info, ok
}

func (s *Store) BlockBalance(_ ledger.ReadTx, hash types.Hash) (types.Amount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocks[hash]; ok {
		return b.Balance, true
	}
	return types.ZeroAmount(), false
}

func (s *Store) BlockExistsOrPruned(rt ledger.ReadTx, hash types.Hash) bool {
	s.mu.Lock()
	pruned := s.pruned.Contains(hash)
	s.mu.Unlock()
	return pruned || s.BlockExists(rt, hash)
}

func (s *Store) AccountBalance(rt ledger.ReadTx, account types.Account) (types.Amount, bool) {
	s.mu.Lock()
	info, ok := s.accounts[account]
	s.mu.Unlock()
	if !ok {
		return types.ZeroAmount(), false
	}
	return s.BlockBalance(rt, info.Head)
}

func (s *Store) ConfirmationGet(_ ledger.ReadTx, account types.Account) ledger.ConfirmationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmations[account]
}

func (s *Store) DependentsConfirmed(_ ledger.ReadTx, block *types.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unconfirmedDeps.Contains(block.Hash())
}

func (s *Store) Rollback(_ ledger.WriteTx, hash types.Hash) ([]*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRollback.Contains(hash) {
		return nil, errRollback
	}
	block, ok := s.blocks[hash]
	if !ok {
		return nil, errRollback
	}
	delete(s.blocks, hash)
	delete(s.successors, types.QualifiedRoot{Root: block.Root(), Previous: block.Previous})
	info := s.accounts[block.Account]
	info.Head = block.Previous
	if info.BlockCount > 0 {
		info.BlockCount--
	}
	s.accounts[block.Account] = info
	return []*types.Block{block}, nil
}

func (s *Store) Weight(account types.Account) types.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights[account]
}

func (s *Store) CementedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cemented
}

// Cement marks blocks as cemented for CementedCount.
func (s *Store) Cement(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cemented += n
}

// FinalVote returns the recorded final-vote slot for a root.
func (s *Store) FinalVote(root types.QualifiedRoot) (types.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.finalVotes[root]
	return h, ok
}

/*
 * Collaborator doubles
 */

// OnlineReps is a fixed-delta online-reps double.
type OnlineReps struct {
	DeltaAmount   types.Amount
	TrendedAmount types.Amount
}

func (o OnlineReps) Delta() types.Amount   { return o.DeltaAmount }
func (o OnlineReps) Trended() types.Amount { return o.TrendedAmount }

// Wallets holds in-memory representative keypairs.
type Wallets struct {
	mu   sync.Mutex
	keys map[types.Account]ed25519.PrivateKey
}

// NewWallets returns an empty wallet double.
func NewWallets() *Wallets {
	return &Wallets{keys: make(map[types.Account]ed25519.PrivateKey)}
}

// AddRep generates and registers a representative key, returning its account.
func (w *Wallets) AddRep() types.Account {
	pub, priv, _ := ed25519.GenerateKey(nil)
	var account types.Account
	copy(account[:], pub)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keys[account] = priv
	return account
}

func (w *Wallets) Reps() []types.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	reps := make([]types.Account, 0, len(w.keys))
	for account := range w.keys {
		reps = append(reps, account)
	}
	return reps
}

func (w *Wallets) ForEachRepresentative(fn func(pub ed25519.PublicKey, priv ed25519.PrivateKey)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for account, priv := range w.keys {
		fn(ed25519.PublicKey(account[:]), priv)
	}
}

// BlockProcessor records submissions.
type BlockProcessor struct {
	mu     sync.Mutex
	Added  []*types.Block
	Forced []*types.Block
}

func (p *BlockProcessor) Add(block *types.Block, _ types.VoteSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Added = append(p.Added, block)
}

func (p *BlockProcessor) AddBlocking(block *types.Block, source types.VoteSource) (types.BlockStatus, bool) {
	p.Add(block, source)
	return types.BlockProgress, true
}

func (p *BlockProcessor) Force(block *types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Forced = append(p.Forced, block)
}

// ForcedCount returns how many blocks were force-processed.
func (p *BlockProcessor) ForcedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Forced)
}

// ConfirmingSet records cementing requests.
type ConfirmingSet struct {
	mu     sync.Mutex
	hashes set.Set[types.Hash]
}

func (c *ConfirmingSet) Add(hash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes.Add(hash)
}

func (c *ConfirmingSet) Exists(hash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashes.Contains(hash)
}
