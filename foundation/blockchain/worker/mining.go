package worker

import (
	"context"
	"errors"

	"github.com/stakechain/stakechain/foundation/blockchain/state"
)

// miningOperations waits for start mining signals and runs one mining
// operation at a time until shutdown.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			return
		}
	}
}

// runMiningOperation performs one complete mine, commit and cleanup
// cycle. A cancel signal or shutdown aborts the proof of work search.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// Drain any cancel signal left over from a previous operation so it
	// cannot abort this one.
	select {
	case <-w.cancelMining:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	// Watch for a cancel request or shutdown while the search runs.
	go func() {
		select {
		case <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: cancel requested")
			cancel()
		case <-w.shut:
			cancel()
		case <-done:
		}
	}()

	block, err := w.state.MineBlock(ctx)
	close(done)

	if err != nil {
		switch {
		case errors.Is(err, state.ErrNoTransactions):
			w.evHandler("worker: runMiningOperation: MINING: no transactions in mempool")
		case errors.Is(err, state.ErrStaleBlock):
			w.evHandler("worker: runMiningOperation: MINING: stale block discarded")
		case errors.Is(err, context.Canceled):
			w.evHandler("worker: runMiningOperation: MINING: cancelled")
		default:
			w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
		}
		return
	}

	w.evHandler("worker: runMiningOperation: MINING: mined block[%s] number[%d] txs[%d]", block.Hash(), block.Header.Number, len(block.Trans))

	// More transactions may have arrived while the search ran.
	if w.state.MempoolLen() > 0 {
		w.SignalStartMining()
	}
}
