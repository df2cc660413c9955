package state

import (
	"context"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
	"github.com/stakechain/stakechain/foundation/blockchain/pow"
)

// MineBlock assembles a block from the mempool, runs the proof of work
// search and commits the result. Only one mining operation can be in
// flight at a time; a second call fails immediately with ErrAlreadyMining.
// A block whose parent is no longer the chain head when the search
// finishes is discarded with ErrStaleBlock and its transactions stay in
// the mempool.
func (s *State) MineBlock(ctx context.Context) (database.Block, error) {
	if !s.mining.CompareAndSwap(false, true) {
		return database.Block{}, ErrAlreadyMining
	}
	defer s.mining.Store(false)

	s.evHandler("state: MineBlock: MINING: started")
	defer s.evHandler("state: MineBlock: MINING: completed")

	gen := s.Genesis()
	parent := s.db.LatestBlock()

	trans := s.selectForBlock(gen, parent)
	if len(trans) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	difficulty := s.Difficulty()

	// The mining reward rides in the block as a protocol minted
	// transaction, exempt from the per block transaction limit.
	block := database.NewPendingBlock(s.beneficiaryID, difficulty, uint64(gen.MaxBlockBytes), parent)
	maxTrans := int(gen.TransPerBlock) + 1

	reward := database.NewMiningRewardTx(s.beneficiaryID, gen.MiningReward)
	if err := block.AddTransaction(reward, maxTrans); err != nil {
		return database.Block{}, err
	}

	for _, tx := range trans {
		if err := block.AddTransaction(tx, maxTrans); err != nil {
			s.evHandler("state: MineBlock: WARNING: drop tx[%s]: %s", tx, err)
		}
	}

	t := time.Now()
	if err := s.engine.MineBlock(ctx, &block); err != nil {
		return database.Block{}, err
	}

	// The head may have moved while the search ran. A stale solution is
	// never committed and never resumed.
	if latest := s.db.LatestBlock(); latest.Hash() != block.Header.PrevBlockHash {
		s.mu.Lock()
		s.chainStats.StaleBlocks++
		s.mu.Unlock()

		s.evHandler("state: MineBlock: MINING: STALE: parent[%s] head[%s]", block.Header.PrevBlockHash, latest.Hash())
		return database.Block{}, ErrStaleBlock
	}

	if err := s.commitBlock(block); err != nil {
		return database.Block{}, err
	}

	s.mu.Lock()
	s.chainStats.BlocksMined++
	s.chainStats.TransConfirmed += uint64(len(block.Trans))
	s.chainStats.LastBlockTime = time.Now().UTC()
	s.chainStats.LastBlockSeconds = time.Since(t).Seconds()
	s.mu.Unlock()

	s.retargetDifficulty(gen, block)

	return block, nil
}

// selectForBlock pulls the best transactions from the mempool and
// revalidates them against the current ledger: signature, nonce ordering,
// cumulative spend per sender and the block byte budget. The mempool
// admission checks each transaction alone; here the block context is
// applied.
func (s *State) selectForBlock(gen genesis.Genesis, parent database.Block) []database.SignedTx {
	candidates := s.mempool.PickBest(-1)

	selected := make([]database.SignedTx, 0, gen.TransPerBlock)
	spent := make(map[database.AccountID]uint64)
	nonces := make(map[database.AccountID]uint64)
	var sizeUsed int

	for _, tx := range candidates {
		if len(selected) >= int(gen.TransPerBlock) {
			break
		}

		if err := tx.Validate(); err != nil {
			s.evHandler("state: selectForBlock: drop tx[%s]: %s", tx, err)
			s.mempool.Delete(tx)
			continue
		}

		// A block already carrying a transaction from this sender has a
		// projected nonce; otherwise the ledger has the last confirmed one.
		lastNonce, tracked := nonces[tx.FromID]
		if !tracked {
			lastNonce = s.db.Nonce(tx.FromID)
		}
		if tx.Nonce <= lastNonce {
			s.evHandler("state: selectForBlock: skip tx[%s]: nonce %d not above %d", tx, tx.Nonce, lastNonce)
			continue
		}

		// The sender must cover this transaction on top of everything of
		// theirs already selected.
		if s.db.Balance(tx.FromID) < spent[tx.FromID]+tx.Cost() {
			s.evHandler("state: selectForBlock: skip tx[%s]: cumulative spend exceeds balance", tx)
			continue
		}

		if sizeUsed+tx.Size() > gen.MaxBlockBytes {
			continue
		}

		selected = append(selected, tx)
		spent[tx.FromID] += tx.Cost()
		nonces[tx.FromID] = tx.Nonce
		sizeUsed += tx.Size()
	}

	return selected
}

// commitBlock appends the block to the chain, applies the ledger moves,
// dispatches the staking and governance effects and cleans the mempool.
func (s *State) commitBlock(block database.Block) error {
	if err := s.db.ApplyBlock(block); err != nil {
		return err
	}

	s.applyBlockEffects(block)

	for _, tx := range block.Trans {
		s.mempool.Delete(tx)
	}

	return nil
}

// retargetDifficulty reevaluates the difficulty at every retarget
// boundary from the trailing window of blocks.
func (s *State) retargetDifficulty(gen genesis.Genesis, block database.Block) {
	if gen.BlocksPerRetarget == 0 || block.Header.Number%gen.BlocksPerRetarget != 0 {
		return
	}

	blocks := s.db.CopyBlocks()
	window := int(gen.BlocksPerRetarget) + 1
	if len(blocks) < window {
		window = len(blocks)
	}
	recent := blocks[len(blocks)-window:]

	s.mu.Lock()
	defer s.mu.Unlock()

	next := pow.CalculateDifficulty(recent, s.difficulty, gen)
	if next != s.difficulty {
		s.evHandler("state: retargetDifficulty: %d -> %d", s.difficulty, next)
		s.difficulty = next
	}
}
