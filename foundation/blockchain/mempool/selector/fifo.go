package selector

import (
	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

// fifoSelect returns transactions strictly in arrival order, ignoring fees.
var fifoSelect = func(records []Record, howMany int) []database.SignedTx {
	if howMany == -1 || howMany > len(records) {
		howMany = len(records)
	}

	txs := make([]database.SignedTx, 0, howMany)
	for _, record := range records[:howMany] {
		txs = append(txs, record.Tx)
	}

	return txs
}
