package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	_ "github.com/jemeelsanni/premium-g-backend-sub001/internal/testing/guard"
)

func TestNewWorkerRejectsBadCronSpec(t *testing.T) {
	task, err := NewSnapshotSyncTask(time.Now().UTC())
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	_, err = NewWorker(WorkerConfig{
		Cron: []CronRegistration{{Spec: "not-a-cron", Task: task}},
	})
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestNewWorkerSkipsEmptyRegistrations(t *testing.T) {
	worker, err := NewWorker(WorkerConfig{
		Handlers: []TaskHandler{{Type: "", Handler: nil}},
		Cron:     []CronRegistration{{Spec: "", Task: nil}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker == nil {
		t.Fatal("expected worker")
	}
}

func TestJobsSkipBadPayload(t *testing.T) {
	badTask := asynq.NewTask(TaskStockSnapshotSync, []byte("{not json"))

	handlers := map[string]asynq.HandlerFunc{
		"snapshot sync":  NewSnapshotSyncJob(nil, nil, nil).Handle,
		"full audit":     NewFullAuditJob(nil, nil, nil).Handle,
		"integrity scan": NewIntegrityScanJob(nil, nil, nil, nil).Handle,
	}
	for name, handle := range handlers {
		if err := handle(context.Background(), badTask); !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("%s: expected SkipRetry, got %v", name, err)
		}
	}
}

func TestJobsRequireReconciler(t *testing.T) {
	task, err := NewSnapshotSyncTask(time.Now().UTC())
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	job := NewSnapshotSyncJob(nil, nil, nil)
	if err := job.Handle(context.Background(), task); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	handler := NewHandler(nil, nil, nil)

	rr := httptest.NewRecorder()
	handler.health(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != `{"queue":"default","pending":0}` {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestJobsTriggerWithoutClient(t *testing.T) {
	handler := NewHandler(nil, nil, nil)

	rr := httptest.NewRecorder()
	handler.trigger(rr, httptest.NewRequest(http.MethodPost, "/api/jobs/trigger/"+TaskStockSnapshotSync, nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
