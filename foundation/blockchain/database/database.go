// Package database maintains the account ledger and the canonical list of
// blocks for the blockchain. All state is in memory for the life of the
// process; the snapshot codec is the only way state leaves this package.
package database

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
)

// Set of errors returned by ledger operations.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrChainCorrupt        = errors.New("chain linkage is corrupt")
)

// Set of module accounts the ledger maintains alongside user accounts.
// Value staked or deposited moves through these so the total supply
// invariant can be checked end to end. They are not valid transaction
// senders or recipients.
const (
	StakingPoolAccount   AccountID = "pool:staking"
	GovDepositAccount    AccountID = "pool:governance"
	CommunityPoolAccount AccountID = "pool:community"
)

// =============================================================================

// Database manages the account ledger and the canonical block list.
type Database struct {
	mu sync.RWMutex

	genesis     genesis.Genesis
	blocks      []Block
	accounts    map[AccountID]Account
	totalSupply uint64

	evHandler func(v string, args ...any)
}

// New constructs a new database, seeds the ledger from the genesis
// document and lays down the height 0 block.
func New(gen genesis.Genesis, evHandler func(v string, args ...any)) (*Database, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	db := Database{
		genesis:   gen,
		accounts:  make(map[AccountID]Account),
		evHandler: ev,
	}

	for accountStr, balance := range gen.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, err
		}

		db.accounts[accountID] = newAccount(accountID, balance)
		db.totalSupply += balance
	}

	db.blocks = append(db.blocks, NewGenesisBlock(gen.Date))

	return &db, nil
}

// =============================================================================
// Ledger reads

// Query returns a copy of the account from the ledger.
func (db *Database) Query(accountID AccountID) (Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	account, exists := db.accounts[accountID]
	if !exists {
		return Account{}, ErrAccountNotFound
	}

	return account, nil
}

// Balance returns the current balance for the account. Unknown accounts
// have a zero balance.
func (db *Database) Balance(accountID AccountID) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts[accountID].Balance
}

// Nonce returns the last confirmed nonce for the account.
func (db *Database) Nonce(accountID AccountID) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts[accountID].Nonce
}

// CopyAccounts makes a copy of the current ledger.
func (db *Database) CopyAccounts() map[AccountID]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]Account, len(db.accounts))
	for accountID, account := range db.accounts {
		accounts[accountID] = account
	}

	return accounts
}

// TotalSupply returns the total amount of value in circulation, including
// the module pools.
func (db *Database) TotalSupply() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.totalSupply
}

// =============================================================================
// Ledger writes for the staking and governance modules

// Move transfers value between two ledger accounts. Used by the staking
// and governance modules for deposit, refund and settlement bookkeeping so
// all value stays inside the one ledger.
func (db *Database) Move(fromID AccountID, toID AccountID, amount uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	from := db.accounts[fromID]
	if from.Balance < amount {
		return ErrInsufficientBalance
	}

	from.Balance -= amount
	db.accounts[fromID] = from

	to := db.accounts[toID]
	to.AccountID = toID
	to.Balance += amount
	db.accounts[toID] = to

	return nil
}

// Burn removes value from an account and from the total supply. The only
// caller is the governance veto burn.
func (db *Database) Burn(fromID AccountID, amount uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	from := db.accounts[fromID]
	if from.Balance < amount {
		return ErrInsufficientBalance
	}

	from.Balance -= amount
	db.accounts[fromID] = from
	db.totalSupply -= amount

	return nil
}

// =============================================================================
// Block application

// ValidateNonce checks the transaction nonce is larger than the last
// confirmed nonce for the sending account.
func (db *Database) ValidateNonce(tx SignedTx) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if tx.FromID == "" {
		return nil
	}

	if tx.Nonce <= db.accounts[tx.FromID].Nonce {
		return fmt.Errorf("nonce too small, current %d, provided %d", db.accounts[tx.FromID].Nonce, tx.Nonce)
	}

	return nil
}

// HashExistsInChain reports whether a transaction with the specified hash
// is already confirmed in any block.
func (db *Database) HashExistsInChain(txHash string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, block := range db.blocks {
		for _, tx := range block.Trans {
			if tx.Hash == txHash {
				return true
			}
		}
	}

	return false
}

// ApplyBlock appends the block to the chain and applies every contained
// transaction to the ledger. The caller has already validated the block;
// a transaction that still fails here is reported and skipped so the
// remainder of the block applies, mirroring how the block was assembled.
func (db *Database) ApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.blocks = append(db.blocks, block)

	for _, tx := range block.Trans {
		if err := db.applyTransaction(block.Header.BeneficiaryID, tx); err != nil {
			db.evHandler("database: ApplyBlock: WARNING: tx[%s]: %s", tx, err)
		}
	}

	return nil
}

// applyTransaction moves the value a single transaction represents. The
// ledger mutation is all or nothing per transaction. Callers hold the lock.
func (db *Database) applyTransaction(beneficiaryID AccountID, tx SignedTx) error {

	// Protocol minted value: credit the recipient and grow the supply.
	if tx.FromID == "" {
		to := db.accounts[tx.ToID]
		to.AccountID = tx.ToID
		to.Balance += tx.Value
		db.accounts[tx.ToID] = to
		db.totalSupply += tx.Value
		return nil
	}

	from, exists := db.accounts[tx.FromID]
	if !exists {
		return ErrAccountNotFound
	}

	if tx.Nonce <= from.Nonce {
		return fmt.Errorf("nonce too small, current %d, provided %d", from.Nonce, tx.Nonce)
	}

	if tx.Type == TxTypeTransfer && tx.FromID == tx.ToID {
		return fmt.Errorf("sending value to yourself, from %s, to %s", tx.FromID, tx.ToID)
	}

	// Work out where the transaction value goes. The fee always goes to
	// the block beneficiary. Stake withdrawals move value later, at
	// unbonding settlement, so only the fee is due here.
	cost := tx.Cost()
	creditID := tx.ToID

	switch tx.Type {
	case TxTypeDelegate, TxTypeCreateValidator:
		creditID = StakingPoolAccount
	case TxTypeSubmitProposal, TxTypeDeposit:
		creditID = GovDepositAccount
	case TxTypeUndelegate, TxTypeRedelegate, TxTypeVote, TxTypeEditValidator:
		cost = tx.Fee
		creditID = ""
	}

	if from.Balance < cost {
		return fmt.Errorf("%w: bal %d, needed %d", ErrInsufficientBalance, from.Balance, cost)
	}

	from.Balance -= cost
	from.Nonce = tx.Nonce
	db.accounts[tx.FromID] = from

	if creditID != "" {
		to := db.accounts[creditID]
		to.AccountID = creditID
		to.Balance += tx.Value
		db.accounts[creditID] = to
	}

	bnfc := db.accounts[beneficiaryID]
	bnfc.AccountID = beneficiaryID
	bnfc.Balance += tx.Fee
	db.accounts[beneficiaryID] = bnfc

	return nil
}

// =============================================================================
// Chain reads

// LatestBlock returns the current head of the chain.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocks[len(db.blocks)-1]
}

// Height returns the number of blocks in the chain.
func (db *Database) Height() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.blocks)
}

// GetBlock returns the block at the specified height.
func (db *Database) GetBlock(num uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if num >= uint64(len(db.blocks)) {
		return Block{}, fmt.Errorf("block %d does not exist", num)
	}

	return db.blocks[num], nil
}

// CopyBlocks returns a copy of the canonical block list.
func (db *Database) CopyBlocks() []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	blocks := make([]Block, len(db.blocks))
	copy(blocks, db.blocks)

	return blocks
}

// ValidateChain rechecks every adjacent pair of blocks in the chain. This
// is a full O(chain length) integrity check, intended for periodic audits
// and test assertions, not the per transaction hot path.
func (db *Database) ValidateChain() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for i := 1; i < len(db.blocks); i++ {
		if db.blocks[i].Header.PrevBlockHash != db.blocks[i-1].Hash() {
			return fmt.Errorf("%w: block %d does not link to block %d", ErrChainCorrupt, i, i-1)
		}

		if err := db.blocks[i].Validate(db.blocks[i-1], int(db.genesis.TransPerBlock)+1); err != nil {
			return err
		}
	}

	return nil
}
