package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile verifies ledger and roll invariants without mutating them.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload describes a reconciliation request.
type ReconcilePayload struct {
	// Source names who asked for the run ("cron", "cli").
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewReconcileTask constructs a reconciliation task.
func NewReconcileTask(source string, at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{Source: source, RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.Queue(QueueDefault)), nil
}
