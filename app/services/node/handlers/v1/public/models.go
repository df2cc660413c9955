package public

import (
	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

// tx is the JSON form of a transaction enriched with the resolved
// account names.
type tx struct {
	FromAccount database.AccountID `json:"from"`
	FromName    string             `json:"from_name"`
	To          database.AccountID `json:"to"`
	ToName      string             `json:"to_name"`
	Type        database.TxType    `json:"type"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Fee         uint64             `json:"fee"`
	Data        []byte             `json:"data,omitempty"`
	TimeStamp   uint64             `json:"timestamp"`
	Sig         string             `json:"sig"`
}

// info is the JSON form of a single account.
type info struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
	Nonce   uint64             `json:"nonce"`
}

// actInfo is the account list response.
type actInfo struct {
	LatestBlock string `json:"latest_block"`
	Uncommitted int    `json:"uncommitted"`
	TotalSupply uint64 `json:"total_supply"`
	Accounts    []info `json:"accounts"`
}

// block is the JSON form of a block.
type block struct {
	Hash          string             `json:"hash"`
	PrevBlockHash string             `json:"prev_block_hash"`
	Beneficiary   database.AccountID `json:"beneficiary"`
	Difficulty    uint               `json:"difficulty"`
	Number        uint64             `json:"number"`
	TransRoot     string             `json:"trans_root"`
	TimeStamp     uint64             `json:"timestamp"`
	Nonce         uint64             `json:"nonce"`
	Transactions  []tx               `json:"txs"`
}

// chainStats is the stats endpoint response.
type chainStats struct {
	Height         int     `json:"height"`
	Difficulty     uint    `json:"difficulty"`
	TotalSupply    uint64  `json:"total_supply"`
	MempoolLen     int     `json:"mempool_len"`
	Mining         bool    `json:"mining"`
	BlocksMined    uint64  `json:"blocks_mined"`
	StaleBlocks    uint64  `json:"stale_blocks"`
	TransConfirmed uint64  `json:"trans_confirmed"`
	HashesComputed uint64  `json:"hashes_computed"`
	HashRate       float64 `json:"hash_rate"`
}
