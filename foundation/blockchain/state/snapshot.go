package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/pow"
)

// Snapshot is the serializable form of the whole chain state. Balances
// and module state are not stored; they are reproduced by replaying the
// blocks, so a snapshot can never disagree with its own chain.
type Snapshot struct {
	Genesis      genesis.Genesis      `json:"genesis"`
	Blocks       []database.BlockData `json:"blocks"`
	Difficulty   uint                 `json:"difficulty"`
	MiningStats  pow.Stats            `json:"mining_stats"`
	ChainStats   ChainStats           `json:"chain_stats"`
	PendingTrans []database.SignedTx  `json:"pending_trans"`
}

// ExportSnapshot captures the full chain state in serializable form.
func (s *State) ExportSnapshot() Snapshot {
	blocks := s.db.CopyBlocks()

	blockData := make([]database.BlockData, 0, len(blocks)-1)
	for _, block := range blocks[1:] {
		blockData = append(blockData, database.NewBlockData(block))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Genesis:      s.genesis,
		Blocks:       blockData,
		Difficulty:   s.difficulty,
		MiningStats:  s.engine.Stats(),
		ChainStats:   s.chainStats,
		PendingTrans: s.mempool.Copy(),
	}
}

// WriteSnapshot exports the chain state to a file on disk.
func (s *State) WriteSnapshot(path string) error {
	snapshot := s.ExportSnapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// ImportSnapshot reconstructs a chain from a snapshot by replaying every
// block through the same validation and apply path that built the
// original. A snapshot whose blocks do not validate is rejected.
func ImportSnapshot(snapshot Snapshot, cfg Config) (*State, error) {
	cfg.Genesis = snapshot.Genesis

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	for _, blockData := range snapshot.Blocks {
		block := database.ToBlock(blockData)

		parent := s.db.LatestBlock()
		if err := block.Validate(parent, int(snapshot.Genesis.TransPerBlock)+1); err != nil {
			return nil, fmt.Errorf("snapshot block %d: %w", block.Header.Number, err)
		}

		if err := s.commitBlock(block); err != nil {
			return nil, fmt.Errorf("snapshot block %d: %w", block.Header.Number, err)
		}
	}

	s.mu.Lock()
	s.difficulty = snapshot.Difficulty
	s.chainStats = snapshot.ChainStats
	s.mu.Unlock()

	for _, tx := range snapshot.PendingTrans {
		if err := s.SubmitTransaction(tx); err != nil {
			s.evHandler("state: ImportSnapshot: WARNING: pending tx[%s]: %s", tx, err)
		}
	}

	return s, nil
}

// ReadSnapshot imports a chain from a snapshot file on disk.
func ReadSnapshot(path string, cfg Config) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}

	return ImportSnapshot(snapshot, cfg)
}
