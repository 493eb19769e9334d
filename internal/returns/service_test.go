package returns

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/shipments"
	"github.com/parceldesk/parceldesk/internal/stock"
)

type memoryRepo struct {
	byExternal map[string]*Return
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byExternal: make(map[string]*Return)}
}

func (r *memoryRepo) Upsert(_ context.Context, ret Return) (int64, bool, error) {
	key := ret.TenantID + ":" + ret.ExternalID
	if existing, ok := r.byExternal[key]; ok {
		ret.ID = existing.ID
		ret.RestockedAt = existing.RestockedAt
		if ret.OriginalShipmentID == nil {
			ret.OriginalShipmentID = existing.OriginalShipmentID
		}
		*existing = ret
		return ret.ID, false, nil
	}
	r.nextID++
	ret.ID = r.nextID
	r.byExternal[key] = &ret
	return ret.ID, true, nil
}

func (r *memoryRepo) GetByExternalID(_ context.Context, tenantID, externalID string) (Return, error) {
	if ret, ok := r.byExternal[tenantID+":"+externalID]; ok {
		return *ret, nil
	}
	return Return{}, ErrReturnNotFound
}

func (r *memoryRepo) List(_ context.Context, _ string, _ shared.Pagination) ([]Return, error) {
	return nil, nil
}

func (r *memoryRepo) MarkRestocked(_ context.Context, tenantID string, id int64) error {
	for _, ret := range r.byExternal {
		if ret.TenantID == tenantID && ret.ID == id {
			if ret.RestockedAt != nil {
				return ErrAlreadyRestocked
			}
			now := time.Now().UTC()
			ret.RestockedAt = &now
			return nil
		}
	}
	return ErrReturnNotFound
}

type fakeShipments struct {
	idByOrderRef map[string]int64
	items        map[int64][]shipments.Item
}

func (f *fakeShipments) FindIDByOrderRef(_ context.Context, _ string, orderRef string) (int64, error) {
	if id, ok := f.idByOrderRef[orderRef]; ok {
		return id, nil
	}
	return 0, shipments.ErrShipmentNotFound
}

func (f *fakeShipments) ListItems(_ context.Context, shipmentID int64) ([]shipments.Item, error) {
	return f.items[shipmentID], nil
}

type fakeLedger struct {
	booked map[string]int
}

func (l *fakeLedger) Restock(_ context.Context, _ string, lines []stock.ConsumeLine, _, referenceID string) (stock.ConsumeResult, error) {
	if l.booked == nil {
		l.booked = make(map[string]int)
	}
	if l.booked[referenceID] > 0 {
		return stock.ConsumeResult{Skipped: len(lines)}, nil
	}
	l.booked[referenceID] = len(lines)
	return stock.ConsumeResult{Consumed: len(lines)}, nil
}

func sampleReturn(id, orderRef string) carrier.Return {
	return carrier.Return{
		ExternalID: id,
		ReturnID:   "r-" + id,
		OrderRef:   orderRef,
		Status:     carrier.ReturnStatusAnnounced,
		Reason:     "refund",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestUpsertLinksOriginalShipment(t *testing.T) {
	repo := newMemoryRepo()
	ships := &fakeShipments{idByOrderRef: map[string]int64{"ORD-1": 77}}
	svc := NewService(repo, ships, &fakeLedger{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, created, err := svc.UpsertFromCarrier(ctx, "t1", sampleReturn("10", "ORD-1"))
	require.NoError(t, err)
	require.True(t, created)

	ret, err := svc.Get(ctx, "t1", "10")
	require.NoError(t, err)
	require.NotNil(t, ret.OriginalShipmentID)
	require.Equal(t, int64(77), *ret.OriginalShipmentID)

	// An unknown order ref is not an error, just an unlinked return.
	_, created, err = svc.UpsertFromCarrier(ctx, "t1", sampleReturn("11", "ORD-MISSING"))
	require.NoError(t, err)
	require.True(t, created)
	ret, err = svc.Get(ctx, "t1", "11")
	require.NoError(t, err)
	require.Nil(t, ret.OriginalShipmentID)
}

func TestRestockBooksOriginalItemsOnce(t *testing.T) {
	repo := newMemoryRepo()
	ships := &fakeShipments{
		idByOrderRef: map[string]int64{"ORD-1": 77},
		items:        map[int64][]shipments.Item{77: {{SKUCode: "SINGLE", Qty: 2}}},
	}
	ledger := &fakeLedger{}
	svc := NewService(repo, ships, ledger, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, _, err := svc.UpsertFromCarrier(ctx, "t1", sampleReturn("10", "ORD-1"))
	require.NoError(t, err)

	result, err := svc.Restock(ctx, "t1", "10")
	require.NoError(t, err)
	require.Equal(t, 1, result.Consumed)

	// Already restocked is rejected before touching the ledger.
	_, err = svc.Restock(ctx, "t1", "10")
	require.ErrorIs(t, err, ErrAlreadyRestocked)
}

func TestRestockRequiresLinkedShipment(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeShipments{}, &fakeLedger{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, _, err := svc.UpsertFromCarrier(ctx, "t1", sampleReturn("20", ""))
	require.NoError(t, err)

	_, err = svc.Restock(ctx, "t1", "20")
	require.ErrorIs(t, err, ErrNoOriginalShipment)
}
