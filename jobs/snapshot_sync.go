package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/jemeelsanni/premium-g-backend-sub001/internal/jobs"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/warehouse"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SnapshotSyncJob reconciles the stock snapshots of every active product
// against their batch counters.
type SnapshotSyncJob struct {
	Recon   *warehouse.Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSnapshotSyncJob wires dependencies for the snapshot sync handler.
func NewSnapshotSyncJob(recon *warehouse.Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotSyncJob {
	return &SnapshotSyncJob{
		Recon:   recon,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes snapshot sync tasks.
func (j *SnapshotSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("snapshot sync: handler not configured")
	}
	var payload SnapshotSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockSnapshotSync)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Recon == nil {
		resultErr = errors.New("snapshot sync: reconciler not configured")
		return resultErr
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting snapshot sync")

	summary, err := j.Recon.SyncAll(ctx, "cron:snapshot_sync")
	if err != nil {
		resultErr = err
		logger.Error("snapshot sync failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddCorrections("cron:snapshot_sync", summary.Corrected)

	logger.Info("completed snapshot sync",
		slog.Int("scanned", summary.Scanned),
		slog.Int("corrected", summary.Corrected),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *SnapshotSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockSnapshotSync))
	}
	return slog.Default().With(slog.String("job", TaskStockSnapshotSync))
}

func (j *SnapshotSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SnapshotSyncJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
