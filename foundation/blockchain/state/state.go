// Package state is the core API for the blockchain and implements all the
// business rules and processing. It composes the ledger, the mempool, the
// proof of work engine, the validator registry and the governance manager
// into one chain state machine.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/governance"
	"github.com/stakechain/stakechain/foundation/blockchain/mempool"
	"github.com/stakechain/stakechain/foundation/blockchain/pow"
	"github.com/stakechain/stakechain/foundation/blockchain/staking"
)

// Set of errors returned by state operations.
var (
	ErrInvalidTransaction   = errors.New("transaction failed validation")
	ErrDuplicateTransaction = errors.New("transaction already known")
	ErrAlreadyMining        = errors.New("a mining operation is already in flight")
	ErrNoTransactions       = errors.New("no transactions to mine")
	ErrStaleBlock           = errors.New("chain head moved during mining")
)

// EvHandler defines a function that is called to emit events during the
// processing of persisting blocks.
type EvHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for mining and chain maintenance.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// =============================================================================

// ChainStats represents rolling counters for the running chain.
type ChainStats struct {
	BlocksMined      uint64    `json:"blocks_mined"`
	TransConfirmed   uint64    `json:"trans_confirmed"`
	StaleBlocks      uint64    `json:"stale_blocks"`
	LastBlockTime    time.Time `json:"last_block_time,omitempty"`
	LastBlockSeconds float64   `json:"last_block_seconds"`
}

// Config represents the configuration required to start the blockchain
// node.
type Config struct {
	BeneficiaryID  database.AccountID
	Genesis        genesis.Genesis
	SelectStrategy string
	EvHandler      EvHandler
}

// State manages the blockchain database and the modules around it.
type State struct {
	mu sync.RWMutex

	beneficiaryID database.AccountID
	genesis       genesis.Genesis
	difficulty    uint
	chainStats    ChainStats
	evHandler     EvHandler

	mining atomic.Bool

	db         *database.Database
	mempool    *mempool.Mempool
	engine     *pow.Engine
	validators *staking.Registry
	proposals  *governance.Manager

	worker Worker
}

// New constructs a new blockchain for transaction and block processing.
func New(cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	db, err := database.New(cfg.Genesis, ev)
	if err != nil {
		return nil, err
	}

	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = "fee"
	}
	mpool, err := mempool.NewWithStrategy(cfg.Genesis.MempoolCapacity, strategy)
	if err != nil {
		return nil, err
	}

	validators := staking.New(cfg.Genesis.Staking, ev)

	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		genesis:       cfg.Genesis,
		difficulty:    cfg.Genesis.Difficulty,
		evHandler:     ev,

		db:         db,
		mempool:    mpool,
		engine:     pow.New(ev),
		validators: validators,
	}

	// The governance manager reads voting power from the registry, moves
	// deposits through the ledger and applies parameter changes back into
	// the state.
	state.proposals = governance.New(cfg.Genesis.Governance, validators, db, &state, ev)

	return &state, nil
}

// SetWorker takes the ownership of the worker that will run the mining
// and maintenance goroutines.
func (s *State) SetWorker(w Worker) {
	s.worker = w
}

// Worker returns the worker registered with the state.
func (s *State) Worker() Worker {
	return s.worker
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	if s.worker != nil {
		s.worker.Shutdown()
	}

	return nil
}

// =============================================================================
// Transaction intake

// SubmitTransaction validates a signed transaction and admits it to the
// mempool. No balance is reserved or mutated until the transaction is
// confirmed in a block.
func (s *State) SubmitTransaction(tx database.SignedTx) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}

	if tx.FromID == "" {
		return fmt.Errorf("%w: protocol transactions cannot be submitted", ErrInvalidTransaction)
	}

	if s.mempool.Exists(tx.Hash) || s.db.HashExistsInChain(tx.Hash) {
		return ErrDuplicateTransaction
	}

	if err := s.db.ValidateNonce(tx); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}

	if balance := s.db.Balance(tx.FromID); balance < tx.Cost() {
		return fmt.Errorf("%w: bal %d, needed %d", database.ErrInsufficientBalance, balance, tx.Cost())
	}

	n, err := s.mempool.Upsert(tx)
	if err != nil {
		return err
	}

	s.evHandler("state: SubmitTransaction: accepted: tx[%s] pool[%d]", tx, n)

	if s.worker != nil && n >= int(s.genesis.TransPerBlock) {
		s.worker.SignalStartMining()
	}

	return nil
}

// =============================================================================
// Accessors

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.genesis
}

// LatestBlock returns the current head of the chain.
func (s *State) LatestBlock() database.Block {
	return s.db.LatestBlock()
}

// Height returns the number of blocks in the chain.
func (s *State) Height() int {
	return s.db.Height()
}

// GetBlock returns the block at the specified height.
func (s *State) GetBlock(num uint64) (database.Block, error) {
	return s.db.GetBlock(num)
}

// Accounts returns a copy of the account ledger.
func (s *State) Accounts() map[database.AccountID]database.Account {
	return s.db.CopyAccounts()
}

// QueryAccount returns a copy of the specified account.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	return s.db.Query(accountID)
}

// TotalSupply returns the total amount of value in circulation.
func (s *State) TotalSupply() uint64 {
	return s.db.TotalSupply()
}

// MempoolLen returns the number of pending transactions.
func (s *State) MempoolLen() int {
	return s.mempool.Count()
}

// Mempool returns a copy of the pending transactions.
func (s *State) Mempool() []database.SignedTx {
	return s.mempool.Copy()
}

// Validators returns a copy of the validator registry.
func (s *State) Validators() []staking.Validator {
	return s.validators.Copy()
}

// QueryValidator returns a copy of the specified validator.
func (s *State) QueryValidator(validatorID database.AccountID) (staking.Validator, error) {
	return s.validators.Query(validatorID)
}

// Delegation returns the amount the delegator has with the validator.
func (s *State) Delegation(delegatorID database.AccountID, validatorID database.AccountID) uint64 {
	return s.validators.Delegation(delegatorID, validatorID)
}

// Proposals returns a copy of every governance proposal.
func (s *State) Proposals() []governance.Proposal {
	return s.proposals.Copy()
}

// QueryProposal returns a copy of the specified proposal.
func (s *State) QueryProposal(proposalID uint64) (governance.Proposal, error) {
	return s.proposals.Query(proposalID)
}

// Difficulty returns the difficulty the next block will be mined at.
func (s *State) Difficulty() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.difficulty
}

// MiningStats returns the proof of work counters.
func (s *State) MiningStats() pow.Stats {
	return s.engine.Stats()
}

// Stats returns the rolling chain counters.
func (s *State) Stats() ChainStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.chainStats
}

// IsMining reports whether a mining operation is in flight.
func (s *State) IsMining() bool {
	return s.mining.Load()
}

// ValidateChain rechecks the full chain linkage and every block's
// internal invariants.
func (s *State) ValidateChain() error {
	return s.db.ValidateChain()
}

// =============================================================================
// Parameter routing

// SetParam applies a passed parameter change proposal to the owning
// module.
func (s *State) SetParam(module string, name string, value float64) error {
	switch module {
	case "chain":
		return s.setChainParam(name, value)
	case "staking":
		return s.validators.SetParam(name, value)
	case "governance":
		return s.proposals.SetParam(name, value)
	}

	return fmt.Errorf("%w: module %q", governance.ErrUnknownParameter, module)
}

// setChainParam mutates a chain level parameter.
func (s *State) setChainParam(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case "mining_reward":
		s.genesis.MiningReward = uint64(value)
	case "base_fee":
		s.genesis.BaseFee = uint64(value)
	case "target_block_secs":
		s.genesis.TargetBlockSecs = uint64(value)
	case "trans_per_block":
		s.genesis.TransPerBlock = uint16(value)
	case "blocks_per_retarget":
		s.genesis.BlocksPerRetarget = uint64(value)
	default:
		return fmt.Errorf("%w: chain parameter %q", governance.ErrUnknownParameter, name)
	}

	return nil
}
