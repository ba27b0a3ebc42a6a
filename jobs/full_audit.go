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

// FullAuditJob validates batch counters against the sales ledger for every
// active product, repairs drifted products and syncs their snapshots.
type FullAuditJob struct {
	Recon   *warehouse.Reconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewFullAuditJob wires dependencies for the full audit handler.
func NewFullAuditJob(recon *warehouse.Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *FullAuditJob {
	return &FullAuditJob{
		Recon:   recon,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes full audit tasks.
func (j *FullAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("full audit: handler not configured")
	}
	var payload FullAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockFullAudit)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Recon == nil {
		resultErr = errors.New("full audit: reconciler not configured")
		return resultErr
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting full audit")

	summary, err := j.Recon.FullAudit(ctx, "cron:full_audit")
	if err != nil {
		resultErr = err
		logger.Error("full audit failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddCorrections("cron:full_audit", summary.Sync.Corrected)

	logger.Info("completed full audit",
		slog.Int("products", summary.Products),
		slog.Int("repaired", summary.Repaired),
		slog.Int("repair_failed", summary.RepairFailed),
		slog.Int("corrected", summary.Sync.Corrected),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *FullAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockFullAudit))
	}
	return slog.Default().With(slog.String("job", TaskStockFullAudit))
}

func (j *FullAuditJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *FullAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
