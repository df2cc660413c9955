package worker

import (
	"time"
)

// maintenanceOperations periodically settles matured unbonding entries
// and advances expired governance proposals.
func (w *Worker) maintenanceOperations() {
	w.evHandler("worker: maintenanceOperations: G started")
	defer w.evHandler("worker: maintenanceOperations: G completed")

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runMaintenanceOperation()
		case <-w.shut:
			return
		}
	}
}

// runMaintenanceOperation performs one sweep over the time driven state.
func (w *Worker) runMaintenanceOperation() {
	now := time.Now().UTC()

	if released := w.state.SettleUnbonding(now); released > 0 {
		w.evHandler("worker: runMaintenanceOperation: released %d unbonding entries", released)
	}

	if settled := w.state.SyncGovernance(now); len(settled) > 0 {
		w.evHandler("worker: runMaintenanceOperation: settled proposals %v", settled)
	}
}
