package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/parceldesk/parceldesk/internal/jobs"
	carriersync "github.com/parceldesk/parceldesk/internal/sync"
)

// TaskReturnsSync pulls return parcels from the carrier API for every
// active tenant.
const TaskReturnsSync = "sync:returns"

// NewReturnsSyncTask constructs an Asynq task for the returns sweep.
func NewReturnsSyncTask() (*asynq.Task, error) {
	body, err := json.Marshal(CarrierSyncPayload{Kind: carriersync.KindReturns})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReturnsSync, body, asynq.Queue(QueueSync)), nil
}

// ReturnsSyncJob runs the returns sweep across all active tenants.
type ReturnsSyncJob struct {
	Sync    *carriersync.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReturnsSyncJob wires dependencies for the returns sweep handler.
func NewReturnsSyncJob(syncSvc *carriersync.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReturnsSyncJob {
	return &ReturnsSyncJob{Sync: syncSvc, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReturnsSync tasks.
func (j *ReturnsSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sync == nil {
		return errors.New("returns sync: handler not configured")
	}
	var payload CarrierSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskReturnsSync)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	results, err := j.Sync.SyncAll(ctx, carriersync.KindReturns)
	if err != nil {
		resultErr = err
		j.Logger.Error("returns sync sweep", slog.Any("error", err))
		return resultErr
	}
	reportResults(j.Logger, "returns sync", results)
	return resultErr
}
