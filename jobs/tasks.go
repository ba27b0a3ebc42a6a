package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockSnapshotSync reconciles every product snapshot against its
	// batch counters.
	TaskStockSnapshotSync = "stock:snapshot_sync"
	// TaskStockFullAudit validates every product and repairs drifted batch
	// counters before syncing snapshots.
	TaskStockFullAudit = "stock:full_audit"
	// TaskStockIntegrityScan expires overdue batches and sweeps the store
	// for cross-table violations.
	TaskStockIntegrityScan = "stock:integrity_scan"
)

// SnapshotSyncPayload carries scheduling metadata for a sync run.
type SnapshotSyncPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSnapshotSyncTask constructs an Asynq task for the snapshot sync.
func NewSnapshotSyncTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SnapshotSyncPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockSnapshotSync, body, asynq.Queue(QueueDefault)), nil
}

// FullAuditPayload carries scheduling metadata for a full audit run.
type FullAuditPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewFullAuditTask constructs an Asynq task for the full audit.
func NewFullAuditTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(FullAuditPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockFullAudit, body, asynq.Queue(QueueDefault)), nil
}

// IntegrityScanPayload carries scheduling metadata for an integrity scan.
// SkipRepairs turns the scan into a read-only sweep.
type IntegrityScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	SkipRepairs  bool      `json:"skip_repairs,omitempty"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(at time.Time, skipRepairs bool) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityScanPayload{ScheduledFor: at, SkipRepairs: skipRepairs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}
