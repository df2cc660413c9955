// Package worker implements mining and chain maintenance goroutines. The
// worker owns all the long running operations so the state package stays
// free of goroutine management.
package worker

import (
	"sync"
	"time"

	"github.com/stakechain/stakechain/foundation/blockchain/state"
)

// maintenanceInterval is how often the unbonding and governance sweeps
// run.
const maintenanceInterval = 10 * time.Second

// Worker manages the POW workflows against the blockchain state.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan bool
	evHandler    state.EvHandler
}

// Run creates a worker, registers it with the state and starts all the
// operational goroutines.
func Run(st *state.State, evHandler state.EvHandler) {
	w := Worker{
		state:        st,
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan bool, 1),
		evHandler:    evHandler,
	}

	st.SetWorker(&w)

	operations := []func(){
		w.miningOperations,
		w.maintenanceOperations,
	}

	g := len(operations)
	w.wg.Add(g)

	// Don't return until all the operational goroutines are running.
	hasStarted := make(chan bool)
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}
	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// Shutdown brings the worker down in an orderly fashion.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.SignalCancelMining()

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// SignalStartMining starts a mining operation. If a mining operation is
// already running, the signal is dropped; the running operation will pick
// the new transactions up from the mempool on its next pass.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}

	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining cancels the in flight mining operation, if any.
func (w *Worker) SignalCancelMining() {
	select {
	case w.cancelMining <- true:
	default:
	}

	w.evHandler("worker: SignalCancelMining: cancel signaled")
}

// =============================================================================

// isShutdown reports whether shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
