package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stakechain/stakechain/foundation/blockchain/merkle"
	"github.com/stakechain/stakechain/foundation/blockchain/signature"
)

// Set of errors returned by block assembly and validation.
var (
	ErrBlockFull    = errors.New("block is at the transaction limit")
	ErrBlockSealed  = errors.New("block is sealed and cannot be changed")
	ErrDuplicateTx  = errors.New("transaction already exists in the block")
	ErrInvalidBlock = errors.New("block failed validation")
)

// =============================================================================

// BlockHeader represents the information the block hash commits to. Only
// these fields participate in the hash, so the chain can be checked with
// headers alone.
type BlockHeader struct {
	ID            string    `json:"id"`              // Unique id for this block.
	Number        uint64    `json:"number"`          // Height of the block in the chain, genesis is 0.
	TimeStamp     uint64    `json:"timestamp"`       // Time the block was assembled.
	PrevBlockHash string    `json:"prev_block_hash"` // Hash of the block at height-1.
	TransRoot     string    `json:"trans_root"`      // Merkle root over the ordered transaction hashes.
	BeneficiaryID AccountID `json:"beneficiary"`     // Account that proposed the block and receives fees.
	Nonce         uint64    `json:"nonce"`           // Value discovered by the proof of work search.
	Difficulty    uint      `json:"difficulty"`      // Leading zero hex digits the hash must carry.
}

// Block represents a group of transactions batched together with a proof
// of work seal.
type Block struct {
	Header   BlockHeader `json:"header"`
	Trans    []SignedTx  `json:"trans"`
	GasUsed  uint64      `json:"gas_used"`  // Sum of fees paid by the contained transactions.
	GasLimit uint64      `json:"gas_limit"` // Fee budget the block was assembled under.

	sealed bool
}

// NewPendingBlock constructs an unsealed block referencing the specified
// parent, ready to accept transactions.
func NewPendingBlock(beneficiaryID AccountID, difficulty uint, gasLimit uint64, prevBlock Block) Block {
	prevHash := signature.ZeroHash
	if prevBlock.Header.ID != "" {
		prevHash = prevBlock.Hash()
	}

	return Block{
		Header: BlockHeader{
			ID:            uuid.NewString(),
			Number:        prevBlock.Header.Number + 1,
			TimeStamp:     uint64(time.Now().UTC().Unix()),
			PrevBlockHash: prevHash,
			TransRoot:     merkle.EmptyRootHex(),
			BeneficiaryID: beneficiaryID,
			Difficulty:    difficulty,
		},
		GasLimit: gasLimit,
	}
}

// NewGenesisBlock constructs the height 0 block. It carries no
// transactions and is exempt from the proof of work rule.
func NewGenesisBlock(timeStamp time.Time) Block {
	b := Block{
		Header: BlockHeader{
			ID:            uuid.NewString(),
			Number:        0,
			TimeStamp:     uint64(timeStamp.UTC().Unix()),
			PrevBlockHash: signature.ZeroHash,
			TransRoot:     merkle.EmptyRootHex(),
		},
	}
	b.sealed = true

	return b
}

// Hash returns the unique hash for the block, computed over the header
// only. The transactions are committed through the merkle root.
func (b Block) Hash() string {
	return signature.Hash(b.Header)
}

// Sealed reports whether the block has been through the proof of work
// search and can no longer be changed.
func (b Block) Sealed() bool {
	return b.sealed
}

// MarkSealed freezes the block after the proof of work search. Assembly
// operations are rejected from this point on.
func (b *Block) MarkSealed() {
	b.sealed = true
}

// =============================================================================

// AddTransaction appends a transaction to the pending in memory assembly
// and recomputes the merkle commitment. The operation is rejected when the
// block is sealed, full, the transaction is invalid, or one with the same
// id is already present.
func (b *Block) AddTransaction(tx SignedTx, maxTrans int) error {
	if b.sealed {
		return ErrBlockSealed
	}

	if len(b.Trans) >= maxTrans {
		return ErrBlockFull
	}

	if err := tx.Validate(); err != nil {
		return err
	}

	for _, existing := range b.Trans {
		if existing.ID == tx.ID {
			return ErrDuplicateTx
		}
	}

	b.Trans = append(b.Trans, tx)
	b.GasUsed += tx.Fee

	return b.recomputeTransRoot()
}

// RemoveTransaction removes the transaction with the specified id from the
// pending assembly and recomputes the merkle commitment.
func (b *Block) RemoveTransaction(txID string) error {
	if b.sealed {
		return ErrBlockSealed
	}

	for i, tx := range b.Trans {
		if tx.ID == txID {
			b.GasUsed -= tx.Fee
			b.Trans = append(b.Trans[:i], b.Trans[i+1:]...)
			return b.recomputeTransRoot()
		}
	}

	return fmt.Errorf("transaction %q not found in block", txID)
}

// recomputeTransRoot folds the ordered transaction hashes into the merkle
// root the header commits to.
func (b *Block) recomputeTransRoot() error {
	root, err := ComputeTransRoot(b.Trans)
	if err != nil {
		return err
	}

	b.Header.TransRoot = root
	return nil
}

// ComputeTransRoot returns the merkle root for the ordered set of
// transactions. Zero transactions commit to the well known empty root.
func ComputeTransRoot(trans []SignedTx) (string, error) {
	if len(trans) == 0 {
		return merkle.EmptyRootHex(), nil
	}

	tree, err := merkle.NewTree(trans)
	if err != nil {
		return "", err
	}

	return tree.RootHex(), nil
}

// =============================================================================

// Validate verifies the block against its own invariants and its linkage
// to the specified parent.
func (b Block) Validate(prevBlock Block, maxTrans int) error {

	// Genesis carries no proof of work and no parent.
	if b.Header.Number == 0 {
		if len(b.Trans) != 0 {
			return fmt.Errorf("%w: genesis block cannot carry transactions", ErrInvalidBlock)
		}
		return nil
	}

	if b.Header.Number != prevBlock.Header.Number+1 {
		return fmt.Errorf("%w: block is not the next number, got %d, exp %d", ErrInvalidBlock, b.Header.Number, prevBlock.Header.Number+1)
	}

	if b.Header.PrevBlockHash != prevBlock.Hash() {
		return fmt.Errorf("%w: parent hash does not match, got %s, exp %s", ErrInvalidBlock, b.Header.PrevBlockHash, prevBlock.Hash())
	}

	if !IsHashSolved(b.Header.Difficulty, b.Hash()) {
		return fmt.Errorf("%w: hash does not satisfy the difficulty target", ErrInvalidBlock)
	}

	if len(b.Trans) > maxTrans {
		return fmt.Errorf("%w: too many transactions, got %d, max %d", ErrInvalidBlock, len(b.Trans), maxTrans)
	}

	root, err := ComputeTransRoot(b.Trans)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidBlock, err)
	}
	if b.Header.TransRoot != root {
		return fmt.Errorf("%w: merkle root does not match transactions, got %s, exp %s", ErrInvalidBlock, root, b.Header.TransRoot)
	}

	for _, tx := range b.Trans {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidBlock, err)
		}
	}

	return nil
}

// IsHashSolved checks the hash satisfies the proof of work rule of
// difficulty leading zero hex digits.
func IsHashSolved(difficulty uint, hash string) bool {
	const match = "00000000000000000000000000000000"

	if len(hash) != 66 || difficulty > uint(len(match)) {
		return false
	}

	// Skip the 0x prefix.
	return hash[2:2+difficulty] == match[:difficulty]
}

// =============================================================================

// BlockData represents the serializable form of a block used by the
// snapshot codec and the API layer.
type BlockData struct {
	Hash     string      `json:"hash"`
	Header   BlockHeader `json:"header"`
	GasUsed  uint64      `json:"gas_used"`
	GasLimit uint64      `json:"gas_limit"`
	Trans    []SignedTx  `json:"trans"`
}

// NewBlockData constructs the serializable form of the block.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:     block.Hash(),
		Header:   block.Header,
		GasUsed:  block.GasUsed,
		GasLimit: block.GasLimit,
		Trans:    block.Trans,
	}
}

// ToBlock converts the serializable form back into a sealed block.
func ToBlock(blockData BlockData) Block {
	b := Block{
		Header:   blockData.Header,
		Trans:    blockData.Trans,
		GasUsed:  blockData.GasUsed,
		GasLimit: blockData.GasLimit,
	}
	b.sealed = true

	return b
}
