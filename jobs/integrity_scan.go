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

// IntegrityScanJob expires overdue batches, sweeps the store for violations
// and, when the sweep finds any, runs a full audit in the same task.
type IntegrityScanJob struct {
	Recon     *warehouse.Reconciler
	Validator *warehouse.IntegrityValidator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewIntegrityScanJob wires dependencies for the integrity scan handler.
func NewIntegrityScanJob(recon *warehouse.Reconciler, validator *warehouse.IntegrityValidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Recon:     recon,
		Validator: validator,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes integrity scan tasks.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskStockIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Recon == nil || j.Validator == nil {
		resultErr = errors.New("integrity scan: reconciler or validator not configured")
		return resultErr
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting integrity scan")

	expired, err := j.Recon.ExpireOverdue(ctx, "cron:integrity_scan")
	if err != nil {
		resultErr = err
		logger.Error("expire overdue batches", slog.Any("error", err))
		return resultErr
	}

	report, err := j.Validator.Run(ctx)
	if err != nil {
		resultErr = err
		logger.Error("integrity sweep failed", slog.Any("error", err))
		return resultErr
	}
	if report.Clean() {
		logger.Info("completed integrity scan",
			slog.Int("expired", expired),
			slog.Int("violations", 0),
			slog.Duration("duration", time.Since(start)))
		return resultErr
	}

	logger.Warn("integrity violations found",
		slog.Int("counter_violations", len(report.CounterViolations)),
		slog.Int("allocation_mismatches", len(report.AllocationMismatches)),
		slog.Int("orphan_sales", len(report.OrphanSales)),
		slog.Int("snapshot_mismatches", len(report.SnapshotMismatches)))

	if payload.SkipRepairs {
		logger.Info("completed integrity scan without repairs",
			slog.Int("expired", expired),
			slog.Int("violations", report.Total()),
			slog.Duration("duration", time.Since(start)))
		return resultErr
	}

	summary, err := j.Recon.FullAudit(ctx, "cron:integrity_scan")
	if err != nil {
		resultErr = err
		logger.Error("full audit after violations failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddCorrections("cron:integrity_scan", summary.Sync.Corrected)

	logger.Info("completed integrity scan",
		slog.Int("expired", expired),
		slog.Int("violations", report.Total()),
		slog.Int("repaired", summary.Repaired),
		slog.Int("repair_failed", summary.RepairFailed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskStockIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
