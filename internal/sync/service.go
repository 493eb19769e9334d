package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/observability"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/stock"
)

// sinceLayout is the timestamp format the carrier expects in updated_after.
const sinceLayout = "2006-01-02 15:04:05"

// cancelledStatusID is the carrier status of cancelled parcels; they never
// consume stock.
const cancelledStatusID = 2000

// RunsPort abstracts run persistence.
type RunsPort interface {
	StartRun(ctx context.Context, tenantID, kind string) (int64, error)
	FinishRun(ctx context.Context, id int64, status string, stats Stats, runErr string, cursor *time.Time) error
	LastSuccessCursor(ctx context.Context, tenantID, kind string) (*time.Time, error)
	ListRuns(ctx context.Context, tenantID string, p shared.Pagination) ([]Run, error)
}

// TenantPort lists tenants and resolves their carrier credentials.
type TenantPort interface {
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	ResolveCredentials(ctx context.Context, tenantID string) (carrier.Credentials, error)
}

// CarrierPort is the slice of the carrier client the reconciler uses.
type CarrierPort interface {
	StreamParcels(ctx context.Context, creds carrier.Credentials, since string, maxPages int, fn func([]carrier.Shipment) error) error
	FetchAllReturns(ctx context.Context, creds carrier.Credentials, since string, maxPages int) ([]carrier.Return, error)
}

// ShipmentsPort stores fetched parcels.
type ShipmentsPort interface {
	UpsertFromCarrier(ctx context.Context, tenantID string, cs carrier.Shipment) (int64, bool, error)
}

// ReturnsPort stores fetched returns.
type ReturnsPort interface {
	UpsertFromCarrier(ctx context.Context, tenantID string, cr carrier.Return) (int64, bool, error)
}

// StockPort books consumption for newly seen shipments.
type StockPort interface {
	Consume(ctx context.Context, tenantID string, lines []stock.ConsumeLine, referenceType, referenceID string) (stock.ConsumeResult, error)
}

// Service reconciles the local database against the carrier.
type Service struct {
	runs      RunsPort
	tenants   TenantPort
	client    CarrierPort
	shipments ShipmentsPort
	returns   ReturnsPort
	stock     StockPort
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService builds the sync service.
func NewService(runs RunsPort, tenants TenantPort, client CarrierPort, shipments ShipmentsPort, returns ReturnsPort, stockSvc StockPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		runs:      runs,
		tenants:   tenants,
		client:    client,
		shipments: shipments,
		returns:   returns,
		stock:     stockSvc,
		metrics:   metrics,
		logger:    logger,
	}
}

// SyncTenant pulls all parcels changed since the tenant's last successful
// run and upserts them. Individual records that fail to store are recorded
// and skipped; a fetch-level failure fails the whole run and the cursor
// does not advance, so the next run re-covers the same window.
func (s *Service) SyncTenant(ctx context.Context, tenantID string) (Stats, error) {
	runID, err := s.runs.StartRun(ctx, tenantID, KindCarrier)
	if err != nil {
		return Stats{}, fmt.Errorf("sync: start run: %w", err)
	}
	runStart := time.Now().UTC()

	var stats Stats
	fail := func(cause error) (Stats, error) {
		if s.metrics != nil {
			s.metrics.ObserveSyncRun(StatusFailed)
		}
		if finishErr := s.runs.FinishRun(ctx, runID, StatusFailed, stats, cause.Error(), nil); finishErr != nil {
			s.logger.Error("finish failed run", slog.Int64("run_id", runID), slog.Any("error", finishErr))
		}
		return stats, cause
	}

	creds, err := s.tenants.ResolveCredentials(ctx, tenantID)
	if err != nil {
		return fail(fmt.Errorf("sync: credentials for %s: %w", tenantID, err))
	}
	if !creds.Valid() {
		return fail(fmt.Errorf("sync: tenant %s has no carrier credentials", tenantID))
	}

	since, maxPages, err := s.window(ctx, tenantID, KindCarrier)
	if err != nil {
		return fail(err)
	}

	err = s.client.StreamParcels(ctx, creds, since, maxPages, func(page []carrier.Shipment) error {
		for _, cs := range page {
			stats.Fetched++
			_, created, err := s.shipments.UpsertFromCarrier(ctx, tenantID, cs)
			if err != nil {
				stats.AddError(err.Error())
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
			if created && consumesStock(cs) {
				lines := make([]stock.ConsumeLine, 0, len(cs.Items))
				for _, item := range cs.Items {
					lines = append(lines, stock.ConsumeLine{SKUCode: item.SKUCode, Qty: item.Qty})
				}
				res, err := s.stock.Consume(ctx, tenantID, lines, "shipment", cs.ExternalID)
				if err != nil {
					stats.AddError(fmt.Sprintf("consume %s: %v", cs.ExternalID, err))
					continue
				}
				stats.StockConsumed += res.Consumed
				stats.StockSkipped += res.Skipped
				for _, msg := range res.Errors {
					stats.AddError(fmt.Sprintf("consume %s: %s", cs.ExternalID, msg))
				}
			}
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("sync: fetch parcels for %s: %w", tenantID, err))
	}

	if s.metrics != nil {
		s.metrics.ObserveSyncRun(StatusSuccess)
		s.metrics.ObserveSyncRecords("created", stats.Created)
		s.metrics.ObserveSyncRecords("updated", stats.Updated)
	}
	if err := s.runs.FinishRun(ctx, runID, StatusSuccess, stats, "", &runStart); err != nil {
		return stats, fmt.Errorf("sync: finish run: %w", err)
	}
	s.logger.Info("carrier sync finished",
		slog.String("tenant_id", tenantID),
		slog.Int("fetched", stats.Fetched),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("stock_consumed", stats.StockConsumed),
		slog.Int("errors", len(stats.Errors)))
	return stats, nil
}

// consumesStock reports whether a parcel should book consumption: only
// outbound parcels that are neither errored nor cancelled do.
func consumesStock(cs carrier.Shipment) bool {
	return !cs.IsReturn && !cs.HasError && cs.StatusID != cancelledStatusID && len(cs.Items) > 0
}

// SyncReturns pulls returns changed since the last successful returns run.
func (s *Service) SyncReturns(ctx context.Context, tenantID string) (Stats, error) {
	runID, err := s.runs.StartRun(ctx, tenantID, KindReturns)
	if err != nil {
		return Stats{}, fmt.Errorf("sync: start run: %w", err)
	}
	runStart := time.Now().UTC()

	var stats Stats
	fail := func(cause error) (Stats, error) {
		if s.metrics != nil {
			s.metrics.ObserveSyncRun(StatusFailed)
		}
		if finishErr := s.runs.FinishRun(ctx, runID, StatusFailed, stats, cause.Error(), nil); finishErr != nil {
			s.logger.Error("finish failed run", slog.Int64("run_id", runID), slog.Any("error", finishErr))
		}
		return stats, cause
	}

	creds, err := s.tenants.ResolveCredentials(ctx, tenantID)
	if err != nil {
		return fail(fmt.Errorf("sync: credentials for %s: %w", tenantID, err))
	}
	if !creds.Valid() {
		return fail(fmt.Errorf("sync: tenant %s has no carrier credentials", tenantID))
	}

	since, maxPages, err := s.window(ctx, tenantID, KindReturns)
	if err != nil {
		return fail(err)
	}

	fetched, err := s.client.FetchAllReturns(ctx, creds, since, maxPages)
	if err != nil {
		return fail(fmt.Errorf("sync: fetch returns for %s: %w", tenantID, err))
	}
	for _, cr := range fetched {
		stats.Fetched++
		_, created, err := s.returns.UpsertFromCarrier(ctx, tenantID, cr)
		if err != nil {
			stats.AddError(err.Error())
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveSyncRun(StatusSuccess)
	}
	if err := s.runs.FinishRun(ctx, runID, StatusSuccess, stats, "", &runStart); err != nil {
		return stats, fmt.Errorf("sync: finish run: %w", err)
	}
	s.logger.Info("returns sync finished",
		slog.String("tenant_id", tenantID),
		slog.Int("fetched", stats.Fetched),
		slog.Int("created", stats.Created))
	return stats, nil
}

// window derives the fetch window. Tenants that never synced get a deep
// initial crawl; incremental runs fetch fewer pages since only recently
// changed parcels come back.
func (s *Service) window(ctx context.Context, tenantID, kind string) (string, int, error) {
	cursor, err := s.runs.LastSuccessCursor(ctx, tenantID, kind)
	if err != nil {
		return "", 0, fmt.Errorf("sync: last cursor: %w", err)
	}
	if cursor == nil {
		return "", carrier.MaxPagesInitial, nil
	}
	return cursor.UTC().Format(sinceLayout), carrier.MaxPagesIncremental, nil
}

// TenantResult is the per-tenant outcome of a scheduled sweep.
type TenantResult struct {
	TenantID string `json:"tenantId"`
	Success  bool   `json:"success"`
	Stats    *Stats `json:"stats,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SyncAll runs one sync of the given kind for every active tenant. A
// failing tenant is reported in its result and does not stop the sweep.
func (s *Service) SyncAll(ctx context.Context, kind string) ([]TenantResult, error) {
	tenantIDs, err := s.tenants.ListActiveTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: list tenants: %w", err)
	}
	results := make([]TenantResult, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		var stats Stats
		var runErr error
		switch kind {
		case KindReturns:
			stats, runErr = s.SyncReturns(ctx, tenantID)
		default:
			stats, runErr = s.SyncTenant(ctx, tenantID)
		}
		result := TenantResult{TenantID: tenantID, Success: runErr == nil}
		if runErr != nil {
			result.Error = runErr.Error()
			s.logger.Error("tenant sync failed", slog.String("tenant_id", tenantID), slog.Any("error", runErr))
		} else {
			statsCopy := stats
			result.Stats = &statsCopy
		}
		results = append(results, result)
	}
	return results, nil
}

// ListRuns returns the tenant's run history.
func (s *Service) ListRuns(ctx context.Context, tenantID string, p shared.Pagination) ([]Run, error) {
	return s.runs.ListRuns(ctx, tenantID, p)
}
