// Package mempool maintains the set of submitted, not yet confirmed
// transactions.
package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/mempool/selector"
)

// ErrMempoolFull is returned when the pending set is at capacity and a new
// transaction cannot be admitted.
var ErrMempoolFull = errors.New("mempool is full")

// Mempool represents a cache of pending transactions keyed by their
// content hash, with the arrival position retained for deterministic
// selection.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]selector.Record
	arrival  uint64
	capacity int
	selectFn selector.Func
}

// New constructs a new mempool with the specified capacity using the
// default fee priority strategy.
func New(capacity int) (*Mempool, error) {
	return NewWithStrategy(capacity, selector.StrategyFee)
}

// NewWithStrategy constructs a new mempool with the specified capacity and
// selection strategy.
func NewWithStrategy(capacity int, strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]selector.Record),
		capacity: capacity,
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Upsert adds or replaces a transaction in the mempool. A new transaction
// is rejected when the pool is at capacity.
func (mp *Mempool) Upsert(tx database.SignedTx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.Hash]; !exists && len(mp.pool) >= mp.capacity {
		return len(mp.pool), ErrMempoolFull
	}

	mp.arrival++
	mp.pool[tx.Hash] = selector.Record{Tx: tx, Arrival: mp.arrival}

	return len(mp.pool), nil
}

// Exists reports whether a transaction with the specified hash is pending.
func (mp *Mempool) Exists(txHash string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[txHash]
	return exists
}

// Delete removes a transaction from the mempool.
func (mp *Mempool) Delete(tx database.SignedTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	delete(mp.pool, tx.Hash)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]selector.Record)
}

// PickBest uses the configured strategy to return the next set of
// transactions for the next block. Pass -1 for all of them.
func (mp *Mempool) PickBest(howMany int) []database.SignedTx {
	records := mp.copyRecords()
	return mp.selectFn(records, howMany)
}

// Copy returns the pending transactions in arrival order.
func (mp *Mempool) Copy() []database.SignedTx {
	records := mp.copyRecords()

	txs := make([]database.SignedTx, 0, len(records))
	for _, record := range records {
		txs = append(txs, record.Tx)
	}

	return txs
}

// copyRecords snapshots the pool ordered by arrival.
func (mp *Mempool) copyRecords() []selector.Record {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	records := make([]selector.Record, 0, len(mp.pool))
	for _, record := range mp.pool {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Arrival < records[j].Arrival
	})

	return records
}
