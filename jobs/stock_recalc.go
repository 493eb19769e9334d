package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/parceldesk/parceldesk/internal/jobs"
	"github.com/parceldesk/parceldesk/internal/stock"
	"github.com/parceldesk/parceldesk/internal/tenants"
)

// TaskStockRecalc replays recent consumption events against the ledger.
const TaskStockRecalc = "stock:recalculate"

// defaultRecalcWindowDays bounds how far back the nightly sweep replays.
const defaultRecalcWindowDays = 30

// StockRecalcPayload controls the replay window of one sweep.
type StockRecalcPayload struct {
	WindowDays int `json:"window_days"`
}

// NewStockRecalcTask constructs an Asynq task for the ledger sweep.
func NewStockRecalcTask(windowDays int) (*asynq.Task, error) {
	body, err := json.Marshal(StockRecalcPayload{WindowDays: windowDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecalc, body, asynq.Queue(QueueDefault)), nil
}

// StockRecalcJob runs the ledger recalculation sweep for every active tenant.
type StockRecalcJob struct {
	Tenants *tenants.Service
	Recalc  *stock.Recalculator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStockRecalcJob wires dependencies for the sweep handler.
func NewStockRecalcJob(tenantSvc *tenants.Service, recalc *stock.Recalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockRecalcJob {
	return &StockRecalcJob{
		Tenants: tenantSvc,
		Recalc:  recalc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskStockRecalc tasks.
func (j *StockRecalcJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Recalc == nil || j.Tenants == nil {
		return errors.New("stock recalc: handler not configured")
	}
	var payload StockRecalcPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = defaultRecalcWindowDays
	}

	tracker := j.Metrics.Track(TaskStockRecalc)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	tenantIDs, err := j.Tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		resultErr = err
		j.Logger.Error("stock recalc list tenants", slog.Any("error", err))
		return resultErr
	}

	since := j.clock().AddDate(0, 0, -payload.WindowDays)
	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			resultErr = err
			return resultErr
		}
		stats, err := j.Recalc.Run(ctx, tenantID, since)
		if err != nil {
			// One broken tenant should not starve the rest of the sweep.
			j.Logger.Error("stock recalc tenant failed",
				slog.String("tenant_id", tenantID),
				slog.Any("error", err))
			resultErr = err
			continue
		}
		j.Logger.Info("stock recalc tenant done",
			slog.String("tenant_id", tenantID),
			slog.Int("events", stats.Events),
			slog.Int("booked", stats.Booked),
			slog.Int("skipped", stats.Skipped))
	}
	return resultErr
}
