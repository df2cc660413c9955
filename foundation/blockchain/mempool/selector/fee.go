package selector

import (
	"sort"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

// feeSelect returns transactions in fee descending order. The sort is
// stable so transactions with equal fees keep their arrival order.
var feeSelect = func(records []Record, howMany int) []database.SignedTx {
	sorted := make([]Record, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tx.Fee > sorted[j].Tx.Fee
	})

	if howMany == -1 || howMany > len(sorted) {
		howMany = len(sorted)
	}

	txs := make([]database.SignedTx, 0, howMany)
	for _, record := range sorted[:howMany] {
		txs = append(txs, record.Tx)
	}

	return txs
}
