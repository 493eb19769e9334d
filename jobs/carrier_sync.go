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

// TaskCarrierSync pulls shipments from the carrier API for every active tenant.
const TaskCarrierSync = "sync:carrier"

// CarrierSyncPayload selects which sweep a sync task runs.
type CarrierSyncPayload struct {
	Kind string `json:"kind"`
}

// NewCarrierSyncTask constructs an Asynq task for the shipment sweep.
func NewCarrierSyncTask() (*asynq.Task, error) {
	body, err := json.Marshal(CarrierSyncPayload{Kind: carriersync.KindCarrier})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCarrierSync, body, asynq.Queue(QueueSync)), nil
}

// CarrierSyncJob runs the carrier sweep across all active tenants.
type CarrierSyncJob struct {
	Sync    *carriersync.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCarrierSyncJob wires dependencies for the sweep handler.
func NewCarrierSyncJob(syncSvc *carriersync.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CarrierSyncJob {
	return &CarrierSyncJob{Sync: syncSvc, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCarrierSync tasks.
func (j *CarrierSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sync == nil {
		return errors.New("carrier sync: handler not configured")
	}
	var payload CarrierSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Kind == "" {
		payload.Kind = carriersync.KindCarrier
	}

	tracker := j.Metrics.Track(TaskCarrierSync)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	results, err := j.Sync.SyncAll(ctx, payload.Kind)
	if err != nil {
		resultErr = err
		j.Logger.Error("carrier sync sweep", slog.Any("error", err))
		return resultErr
	}
	reportResults(j.Logger, "carrier sync", results)
	return resultErr
}

// reportResults logs one line per tenant so operators can trace a sweep
// without querying the run history.
func reportResults(logger *slog.Logger, job string, results []carriersync.TenantResult) {
	for _, res := range results {
		if res.Success {
			logger.Info(job+" tenant done",
				slog.String("tenant_id", res.TenantID),
				slog.Int("fetched", res.Stats.Fetched),
				slog.Int("created", res.Stats.Created),
				slog.Int("updated", res.Stats.Updated))
			continue
		}
		logger.Error(job+" tenant failed",
			slog.String("tenant_id", res.TenantID),
			slog.String("error", res.Error))
	}
}
