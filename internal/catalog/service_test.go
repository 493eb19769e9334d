package catalog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parceldesk/parceldesk/internal/stock"
)

type memoryRepo struct {
	skus     map[int64]SKU
	restocks map[int64]*InboundRestock
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{skus: make(map[int64]SKU), restocks: make(map[int64]*InboundRestock)}
}

func (r *memoryRepo) ResolveSKUCodes(_ context.Context, _ string, codes []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, code := range codes {
		for id, sku := range r.skus {
			if sku.Code == code {
				out[code] = id
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) BundleComponents(_ context.Context, _ string, _ int64) ([]stock.BundleComponent, error) {
	return nil, nil
}

func (r *memoryRepo) DefaultLocationID(_ context.Context, _ string) (int64, error) {
	return 1, nil
}

func (r *memoryRepo) GetSKU(_ context.Context, _ string, id int64) (SKU, error) {
	sku, ok := r.skus[id]
	if !ok {
		return SKU{}, ErrSKUNotFound
	}
	return sku, nil
}

func (r *memoryRepo) ListSKUs(_ context.Context, _ string) ([]SKU, error) { return nil, nil }

func (r *memoryRepo) UpsertSKU(_ context.Context, s SKU) (int64, error) {
	r.nextID++
	s.ID = r.nextID
	r.skus[s.ID] = s
	return s.ID, nil
}

func (r *memoryRepo) UpsertLocation(_ context.Context, _ Location) (int64, error) {
	return 1, nil
}

func (r *memoryRepo) InsertInboundRestock(_ context.Context, in InboundRestock) (int64, error) {
	r.nextID++
	in.ID = r.nextID
	r.restocks[in.ID] = &in
	return in.ID, nil
}

func (r *memoryRepo) GetInboundRestock(_ context.Context, _ string, id int64) (InboundRestock, error) {
	in, ok := r.restocks[id]
	if !ok {
		return InboundRestock{}, ErrRestockNotFound
	}
	return *in, nil
}

func (r *memoryRepo) MarkRestockReceived(_ context.Context, _ string, id int64) error {
	in, ok := r.restocks[id]
	if !ok {
		return ErrRestockNotFound
	}
	if in.ReceivedAt != nil {
		return ErrRestockReceived
	}
	now := time.Now().UTC()
	in.ReceivedAt = &now
	return nil
}

type memoryLedger struct {
	keys    map[stock.MovementKey]struct{}
	qty     int64
	applies int
}

func (l *memoryLedger) ApplyMovement(_ context.Context, input stock.MovementInput) (stock.MovementResult, error) {
	l.applies++
	if l.keys == nil {
		l.keys = make(map[stock.MovementKey]struct{})
	}
	key := stock.MovementKey{ReferenceType: input.ReferenceType, ReferenceID: input.ReferenceID, SKUID: input.SKUID}
	if _, dup := l.keys[key]; dup {
		return stock.MovementResult{Skipped: true}, nil
	}
	l.keys[key] = struct{}{}
	prev := l.qty
	l.qty += input.Adjustment
	return stock.MovementResult{PreviousQty: prev, NewQty: l.qty}, nil
}

func (l *memoryLedger) MovementBooked(_ context.Context, _ string, key stock.MovementKey) (bool, error) {
	_, ok := l.keys[key]
	return ok, nil
}

func TestReceiveRestockBooksOnce(t *testing.T) {
	repo := newMemoryRepo()
	ledger := &memoryLedger{}
	svc := NewService(repo, ledger, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	skuID, err := repo.UpsertSKU(ctx, SKU{TenantID: "t1", Code: "SINGLE", IsActive: true})
	require.NoError(t, err)

	restockID, err := svc.AnnounceRestock(ctx, InboundRestock{TenantID: "t1", SKUID: skuID, Qty: 40})
	require.NoError(t, err)

	result, err := svc.ReceiveRestock(ctx, "t1", restockID)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, int64(40), result.NewQty)

	// Receiving again is answered from the booked-key check, without
	// another ledger write.
	result, err = svc.ReceiveRestock(ctx, "t1", restockID)
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Equal(t, int64(40), ledger.qty)
	require.Equal(t, 1, ledger.applies)
}

func TestAnnounceRestockRejectsUnknownSKU(t *testing.T) {
	svc := NewService(newMemoryRepo(), &memoryLedger{}, slog.New(slog.DiscardHandler))
	_, err := svc.AnnounceRestock(context.Background(), InboundRestock{TenantID: "t1", SKUID: 99, Qty: 5})
	require.ErrorIs(t, err, ErrSKUNotFound)
}
