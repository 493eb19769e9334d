package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/stock"
)

type memoryRuns struct {
	runs   map[int64]*Run
	nextID int64
}

func newMemoryRuns() *memoryRuns {
	return &memoryRuns{runs: make(map[int64]*Run)}
}

func (r *memoryRuns) StartRun(_ context.Context, tenantID, kind string) (int64, error) {
	r.nextID++
	r.runs[r.nextID] = &Run{ID: r.nextID, TenantID: tenantID, Kind: kind, Status: StatusRunning, StartedAt: time.Now().UTC()}
	return r.nextID, nil
}

func (r *memoryRuns) FinishRun(_ context.Context, id int64, status string, stats Stats, runErr string, cursor *time.Time) error {
	run, ok := r.runs[id]
	if !ok || run.Status != StatusRunning {
		return ErrRunNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.Stats = stats
	run.Error = runErr
	run.Cursor = cursor
	run.FinishedAt = &now
	return nil
}

func (r *memoryRuns) LastSuccessCursor(_ context.Context, tenantID, kind string) (*time.Time, error) {
	var latest *Run
	for _, run := range r.runs {
		if run.TenantID == tenantID && run.Kind == kind && run.Status == StatusSuccess && run.Cursor != nil {
			if latest == nil || run.StartedAt.After(latest.StartedAt) {
				latest = run
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Cursor, nil
}

func (r *memoryRuns) ListRuns(_ context.Context, tenantID string, _ shared.Pagination) ([]Run, error) {
	var out []Run
	for _, run := range r.runs {
		if run.TenantID == tenantID {
			out = append(out, *run)
		}
	}
	return out, nil
}

type fakeTenants struct {
	ids   []string
	creds map[string]carrier.Credentials
}

func (f *fakeTenants) ListActiveTenantIDs(_ context.Context) ([]string, error) {
	return f.ids, nil
}

func (f *fakeTenants) ResolveCredentials(_ context.Context, tenantID string) (carrier.Credentials, error) {
	return f.creds[tenantID], nil
}

type fakeCarrier struct {
	pages     [][]carrier.Shipment
	returns   []carrier.Return
	fetchErr  error
	lastSince string
	lastMax   int
}

func (f *fakeCarrier) StreamParcels(_ context.Context, _ carrier.Credentials, since string, maxPages int, fn func([]carrier.Shipment) error) error {
	f.lastSince = since
	f.lastMax = maxPages
	if f.fetchErr != nil {
		return f.fetchErr
	}
	for _, page := range f.pages {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCarrier) FetchAllReturns(_ context.Context, _ carrier.Credentials, since string, maxPages int) ([]carrier.Return, error) {
	f.lastSince = since
	f.lastMax = maxPages
	return f.returns, f.fetchErr
}

type fakeShipmentStore struct {
	seen      map[string]struct{}
	upsertErr map[string]error
}

func (f *fakeShipmentStore) UpsertFromCarrier(_ context.Context, _ string, cs carrier.Shipment) (int64, bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	if err := f.upsertErr[cs.ExternalID]; err != nil {
		return 0, false, err
	}
	_, exists := f.seen[cs.ExternalID]
	f.seen[cs.ExternalID] = struct{}{}
	return int64(len(f.seen)), !exists, nil
}

type fakeReturnStore struct {
	seen map[string]struct{}
}

func (f *fakeReturnStore) UpsertFromCarrier(_ context.Context, _ string, cr carrier.Return) (int64, bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]struct{})
	}
	_, exists := f.seen[cr.ExternalID]
	f.seen[cr.ExternalID] = struct{}{}
	return int64(len(f.seen)), !exists, nil
}

type fakeStock struct {
	consumed map[string]int
}

func (f *fakeStock) Consume(_ context.Context, _ string, lines []stock.ConsumeLine, _, referenceID string) (stock.ConsumeResult, error) {
	if f.consumed == nil {
		f.consumed = make(map[string]int)
	}
	if f.consumed[referenceID] > 0 {
		return stock.ConsumeResult{Skipped: len(lines)}, nil
	}
	f.consumed[referenceID] = len(lines)
	return stock.ConsumeResult{Consumed: len(lines)}, nil
}

func parcel(id string) carrier.Shipment {
	return carrier.Shipment{
		ExternalID:  id,
		Carrier:     "dhl",
		WeightGrams: 500,
		ShippedAt:   time.Now().UTC(),
		Items:       []carrier.Item{{SKUCode: "SINGLE", Qty: 1}},
	}
}

func newTestSync(runs *memoryRuns, client *fakeCarrier, ships *fakeShipmentStore, stockSvc *fakeStock) *Service {
	tenants := &fakeTenants{
		ids:   []string{"t1"},
		creds: map[string]carrier.Credentials{"t1": {APIKey: "k", Secret: "s"}},
	}
	return NewService(runs, tenants, client, ships, &fakeReturnStore{}, stockSvc, nil, slog.New(slog.DiscardHandler))
}

func TestSyncTenantCountsAndConsumes(t *testing.T) {
	runs := newMemoryRuns()
	client := &fakeCarrier{pages: [][]carrier.Shipment{
		{parcel("1"), parcel("2")},
		{parcel("3")},
	}}
	ships := &fakeShipmentStore{}
	stockSvc := &fakeStock{}
	svc := newTestSync(runs, client, ships, stockSvc)

	stats, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 3, stats.Fetched)
	require.Equal(t, 3, stats.Created)
	require.Equal(t, 0, stats.Updated)
	require.Equal(t, 3, stats.StockConsumed)

	// First run is an initial crawl with the deep page budget.
	require.Equal(t, "", client.lastSince)
	require.Equal(t, carrier.MaxPagesInitial, client.lastMax)

	run := runs.runs[1]
	require.Equal(t, StatusSuccess, run.Status)
	require.NotNil(t, run.Cursor)
}

func TestSyncTenantIsIdempotent(t *testing.T) {
	runs := newMemoryRuns()
	client := &fakeCarrier{pages: [][]carrier.Shipment{{parcel("1"), parcel("2")}}}
	ships := &fakeShipmentStore{}
	stockSvc := &fakeStock{}
	svc := newTestSync(runs, client, ships, stockSvc)
	ctx := context.Background()

	_, err := svc.SyncTenant(ctx, "t1")
	require.NoError(t, err)

	stats, err := svc.SyncTenant(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Fetched)
	require.Equal(t, 0, stats.Created)
	require.Equal(t, 2, stats.Updated)
	// Updated shipments never consume again.
	require.Equal(t, 0, stats.StockConsumed)

	// Second run is incremental: windowed since and the small page budget.
	require.NotEmpty(t, client.lastSince)
	require.Equal(t, carrier.MaxPagesIncremental, client.lastMax)
}

func TestSyncTenantSkipsReturnsAndErrors(t *testing.T) {
	errored := parcel("2")
	errored.HasError = true
	returning := parcel("3")
	returning.IsReturn = true
	cancelled := parcel("4")
	cancelled.StatusID = cancelledStatusID

	runs := newMemoryRuns()
	client := &fakeCarrier{pages: [][]carrier.Shipment{{parcel("1"), errored, returning, cancelled}}}
	stockSvc := &fakeStock{}
	svc := newTestSync(runs, client, &fakeShipmentStore{}, stockSvc)

	stats, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 4, stats.Created)
	require.Equal(t, 1, stats.StockConsumed)
	require.Len(t, stockSvc.consumed, 1)
}

func TestSyncTenantRecordErrorDoesNotFailRun(t *testing.T) {
	runs := newMemoryRuns()
	client := &fakeCarrier{pages: [][]carrier.Shipment{{parcel("1"), parcel("2")}}}
	ships := &fakeShipmentStore{upsertErr: map[string]error{"1": errors.New("boom")}}
	svc := newTestSync(runs, client, ships, &fakeStock{})

	stats, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.Created)
	require.Len(t, stats.Errors, 1)
	require.Equal(t, StatusSuccess, runs.runs[1].Status)
}

func TestSyncTenantFetchFailureFailsRun(t *testing.T) {
	runs := newMemoryRuns()
	client := &fakeCarrier{fetchErr: errors.New("upstream down")}
	svc := newTestSync(runs, client, &fakeShipmentStore{}, &fakeStock{})

	_, err := svc.SyncTenant(context.Background(), "t1")
	require.Error(t, err)

	run := runs.runs[1]
	require.Equal(t, StatusFailed, run.Status)
	require.Contains(t, run.Error, "upstream down")
	require.Nil(t, run.Cursor)
}

func TestStatsErrorCap(t *testing.T) {
	runs := newMemoryRuns()
	upsertErr := make(map[string]error)
	var page []carrier.Shipment
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("%d", i)
		page = append(page, parcel(id))
		upsertErr[id] = errors.New("bad record")
	}
	client := &fakeCarrier{pages: [][]carrier.Shipment{page}}
	svc := newTestSync(runs, client, &fakeShipmentStore{upsertErr: upsertErr}, &fakeStock{})

	stats, err := svc.SyncTenant(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, 25, stats.Fetched)
	require.Len(t, stats.Errors, maxRunErrors)
}

func TestSyncAllReportsPerTenant(t *testing.T) {
	runs := newMemoryRuns()
	client := &fakeCarrier{pages: [][]carrier.Shipment{{parcel("1")}}}
	tenants := &fakeTenants{
		ids: []string{"t1", "t2"},
		creds: map[string]carrier.Credentials{
			"t1": {APIKey: "k", Secret: "s"},
			// t2 has no credentials and must fail without stopping the sweep.
		},
	}
	svc := NewService(runs, tenants, client, &fakeShipmentStore{}, &fakeReturnStore{}, &fakeStock{}, nil, slog.New(slog.DiscardHandler))

	results, err := svc.SyncAll(context.Background(), KindCarrier)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.NotNil(t, results[0].Stats)
	require.False(t, results[1].Success)
	require.NotEmpty(t, results[1].Error)
}
