// Package pow implements the proof of work engine: the nonce search that
// seals a block, verification of a sealed block, and the difficulty
// retargeting heuristic.
package pow

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"runtime"
	"sync"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/database"
	"github.com/stakechain/stakechain/foundation/blockchain/genesis"
)

// searchBatchSize bounds how many nonce attempts run between cooperative
// yield points so long searches cannot monopolize the scheduler.
const searchBatchSize = 50_000

// ErrNotSolved is returned when a block does not satisfy its own
// difficulty target.
var ErrNotSolved = errors.New("block hash does not satisfy the difficulty target")

// =============================================================================

// Stats represents process wide mining counters. They are reset only by
// explicit request.
type Stats struct {
	HashesComputed  uint64        `json:"hashes_computed"`
	BlocksMined     uint64        `json:"blocks_mined"`
	TotalMiningTime time.Duration `json:"total_mining_time"`
}

// HashRate returns the derived average hashes per second across all
// mining performed since the last reset.
func (s Stats) HashRate() float64 {
	if s.TotalMiningTime == 0 {
		return 0
	}

	return float64(s.HashesComputed) / s.TotalMiningTime.Seconds()
}

// =============================================================================

// Engine manages the proof of work search and its statistics.
type Engine struct {
	mu        sync.Mutex
	stats     Stats
	evHandler func(v string, args ...any)
}

// New constructs an engine for sealing blocks.
func New(evHandler func(v string, args ...any)) *Engine {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Engine{
		evHandler: ev,
	}
}

// MineBlock runs the nonce search until the block hash satisfies the
// difficulty target or the context is cancelled. The search runs in
// bounded batches with a cooperative yield between batches. A cancelled
// block is discarded by the caller, never resumed.
func (e *Engine) MineBlock(ctx context.Context, b *database.Block) error {
	e.evHandler("pow: MineBlock: MINING: started: difficulty[%d]", b.Header.Difficulty)
	defer e.evHandler("pow: MineBlock: MINING: completed")

	if b.Sealed() {
		return errors.New("block is already sealed")
	}

	// Choose a random starting point for the nonce, then increment by one
	// until a solution is found.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return err
	}
	b.Header.Nonce = nBig.Uint64()

	t := time.Now()

	var attempts uint64
	for {
		for i := 0; i < searchBatchSize; i++ {
			attempts++

			if database.IsHashSolved(b.Header.Difficulty, b.Hash()) {
				b.MarkSealed()

				duration := time.Since(t)
				e.recordMined(attempts, duration)

				e.evHandler("pow: MineBlock: MINING: SOLVED: blk[%s]: attempts[%d]: duration[%v]", b.Hash(), attempts, duration)
				return nil
			}

			b.Header.Nonce++
		}

		// Batch exhausted. Give other goroutines a turn and honor a
		// cancellation request.
		if ctx.Err() != nil {
			e.recordAbandoned(attempts, time.Since(t))
			e.evHandler("pow: MineBlock: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}
		runtime.Gosched()
	}
}

// VerifyProofOfWork recomputes the block hash and checks it against the
// difficulty target. It is a pure check independent of MineBlock.
func VerifyProofOfWork(b database.Block) error {
	if !database.IsHashSolved(b.Header.Difficulty, b.Hash()) {
		return fmt.Errorf("%w: blk[%s] difficulty[%d]", ErrNotSolved, b.Hash(), b.Header.Difficulty)
	}

	return nil
}

// =============================================================================

// CalculateDifficulty reevaluates the difficulty from the trailing window
// of blocks. When the actual average inter block time is under half the
// target the difficulty increments, over twice the target it decrements.
// Exact boundary ratios leave the difficulty unchanged.
func CalculateDifficulty(recentBlocks []database.Block, current uint, gen genesis.Genesis) uint {
	if len(recentBlocks) < 2 {
		return current
	}

	first := recentBlocks[0].Header.TimeStamp
	last := recentBlocks[len(recentBlocks)-1].Header.TimeStamp
	if last <= first {
		return current
	}

	actual := time.Duration(last-first) * time.Second / time.Duration(len(recentBlocks)-1)
	target := gen.TargetBlockTime()

	switch {
	case actual < target/2:
		if current < gen.MaxDifficulty {
			return current + 1
		}
	case actual > target*2:
		if current > gen.MinDifficulty {
			return current - 1
		}
	}

	return current
}

// =============================================================================

// Stats returns a copy of the process wide mining counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stats
}

// ResetStats zeroes the mining counters.
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats = Stats{}
}

// recordMined folds a successful search into the counters.
func (e *Engine) recordMined(attempts uint64, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.HashesComputed += attempts
	e.stats.BlocksMined++
	e.stats.TotalMiningTime += duration
}

// recordAbandoned folds an abandoned search into the counters. The hashes
// were still computed even though no block came of them.
func (e *Engine) recordAbandoned(attempts uint64, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.HashesComputed += attempts
	e.stats.TotalMiningTime += duration
}
