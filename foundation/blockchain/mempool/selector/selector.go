// Package selector provides different transaction selection strategies for
// assembling the next block from the mempool.
package selector

import (
	"fmt"
	"strings"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

// Set of selection strategies.
const (
	StrategyFee  = "fee"
	StrategyFIFO = "fifo"
)

// Record pairs a pending transaction with its arrival position so
// strategies can break ties deterministically.
type Record struct {
	Tx      database.SignedTx
	Arrival uint64
}

// Func defines a function that takes the pending records, ordered by
// arrival, and returns the transactions to include in the next block.
type Func func(records []Record, howMany int) []database.SignedTx

// strategies maps a strategy name to its implementation.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyFIFO: fifoSelect,
}

// Retrieve returns the selection function for the specified strategy.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strings.ToLower(strategy)]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}

	return fn, nil
}
