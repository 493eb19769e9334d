package stock

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parceldesk/parceldesk/internal/shared"
)

type memoryRepo struct {
	snapshots map[string]Snapshot
	movements []Movement
	keys      map[string]struct{}
	nextID    int64
	txCalls   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{snapshots: make(map[string]Snapshot), keys: make(map[string]struct{})}
}

func snapKey(tenantID string, skuID, locationID int64) string {
	return fmt.Sprintf("%s:%d:%d", tenantID, skuID, locationID)
}

func movementKey(tenantID string, key MovementKey) string {
	return fmt.Sprintf("%s:%s:%s:%d", tenantID, key.ReferenceType, key.ReferenceID, key.SKUID)
}

type memoryTx struct {
	repo    *memoryRepo
	applied []func()
	failed  bool
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCalls++
	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, apply := range tx.applied {
		apply()
	}
	return nil
}

func (t *memoryTx) GetSnapshotForUpdate(_ context.Context, tenantID string, skuID, locationID int64) (Snapshot, error) {
	if snap, ok := t.repo.snapshots[snapKey(tenantID, skuID, locationID)]; ok {
		return snap, nil
	}
	return Snapshot{TenantID: tenantID, SKUID: skuID, LocationID: locationID}, ErrSnapshotNotFound
}

func (t *memoryTx) UpsertSnapshot(_ context.Context, snap Snapshot) error {
	t.applied = append(t.applied, func() {
		snap.UpdatedAt = time.Now().UTC()
		t.repo.snapshots[snapKey(snap.TenantID, snap.SKUID, snap.LocationID)] = snap
	})
	return nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m Movement) (int64, error) {
	key := movementKey(m.TenantID, m.Key())
	if _, dup := t.repo.keys[key]; dup {
		return 0, ErrDuplicateMovement
	}
	t.repo.nextID++
	m.ID = t.repo.nextID
	m.CreatedAt = time.Now().UTC()
	t.applied = append(t.applied, func() {
		t.repo.keys[key] = struct{}{}
		t.repo.movements = append(t.repo.movements, m)
	})
	return m.ID, nil
}

func (r *memoryRepo) MovementExists(_ context.Context, tenantID string, key MovementKey) (bool, error) {
	_, ok := r.keys[movementKey(tenantID, key)]
	return ok, nil
}

func (r *memoryRepo) ListMovementKeys(_ context.Context, tenantID, referenceType string) (map[MovementKey]struct{}, error) {
	keys := make(map[MovementKey]struct{})
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.ReferenceType == referenceType {
			keys[m.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, tenantID string, skuID int64, _ shared.Pagination) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.SKUID == skuID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetSnapshot(_ context.Context, tenantID string, skuID, locationID int64) (Snapshot, error) {
	if snap, ok := r.snapshots[snapKey(tenantID, skuID, locationID)]; ok {
		return snap, nil
	}
	return Snapshot{TenantID: tenantID, SKUID: skuID, LocationID: locationID}, ErrSnapshotNotFound
}

func (r *memoryRepo) ListSnapshots(_ context.Context, tenantID string) ([]Snapshot, error) {
	var out []Snapshot
	for _, snap := range r.snapshots {
		if snap.TenantID == tenantID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (r *memoryRepo) ConsumedSince(_ context.Context, tenantID string, since time.Time) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	for _, m := range r.movements {
		if m.TenantID == tenantID && m.Type == MovementConsume && !m.CreatedAt.Before(since) {
			totals[m.SKUID] += -m.Adjustment
		}
	}
	return totals, nil
}

type memoryCatalog struct {
	skus    map[string]int64
	bundles map[int64][]BundleComponent
}

func (c *memoryCatalog) ResolveSKUCodes(_ context.Context, _ string, codes []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, code := range codes {
		if id, ok := c.skus[code]; ok {
			out[code] = id
		}
	}
	return out, nil
}

func (c *memoryCatalog) BundleComponents(_ context.Context, _ string, skuID int64) ([]BundleComponent, error) {
	return c.bundles[skuID], nil
}

func (c *memoryCatalog) DefaultLocationID(_ context.Context, _ string) (int64, error) {
	return 1, nil
}

func newTestService(repo *memoryRepo, catalog *memoryCatalog) *Service {
	if catalog == nil {
		catalog = &memoryCatalog{skus: map[string]int64{}}
	}
	return NewService(repo, catalog, nil, slog.New(slog.DiscardHandler))
}

func seedSnapshot(repo *memoryRepo, tenantID string, skuID, locationID, qty int64) {
	repo.snapshots[snapKey(tenantID, skuID, locationID)] = Snapshot{
		TenantID: tenantID, SKUID: skuID, LocationID: locationID, Qty: qty, UpdatedAt: time.Now().UTC(),
	}
}

func TestApplyMovementRecordsTransition(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 10, 1, 100)
	svc := newTestService(repo, nil)

	result, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID: "t1", SKUID: 10, LocationID: 1,
		Type: MovementConsume, Adjustment: -3,
		ReferenceType: "shipment", ReferenceID: "s-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(100), result.PreviousQty)
	require.Equal(t, int64(97), result.NewQty)

	require.Len(t, repo.movements, 1)
	m := repo.movements[0]
	require.Equal(t, int64(100), m.QtyBefore)
	require.Equal(t, int64(97), m.QtyAfter)
	require.Equal(t, int64(-3), m.Adjustment)
	require.Equal(t, int64(97), repo.snapshots[snapKey("t1", 10, 1)].Qty)
}

func TestApplyMovementRejectsNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 10, 1, 97)
	svc := newTestService(repo, nil)

	_, err := svc.ApplyMovement(context.Background(), MovementInput{
		TenantID: "t1", SKUID: 10, LocationID: 1,
		Type: MovementConsume, Adjustment: -200,
		ReferenceType: "shipment", ReferenceID: "s-2",
	})
	var negErr *NegativeStockError
	require.ErrorAs(t, err, &negErr)
	require.Equal(t, int64(97), negErr.Current)
	require.Equal(t, int64(-200), negErr.Requested)

	// Neither the ledger nor the snapshot moved.
	require.Empty(t, repo.movements)
	require.Equal(t, int64(97), repo.snapshots[snapKey("t1", 10, 1)].Qty)
}

func TestApplyMovementDuplicateKeyIsSkipped(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 10, 1, 100)
	svc := newTestService(repo, nil)
	ctx := context.Background()

	input := MovementInput{
		TenantID: "t1", SKUID: 10, LocationID: 1,
		Type: MovementConsume, Adjustment: -5,
		ReferenceType: "shipment", ReferenceID: "s-3",
	}
	first, err := svc.ApplyMovement(ctx, input)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := svc.ApplyMovement(ctx, input)
	require.NoError(t, err)
	require.True(t, second.Skipped)

	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(95), repo.snapshots[snapKey("t1", 10, 1)].Qty)
}

func TestMovementRecordsSessionActor(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 10, 1, 100)
	svc := newTestService(repo, nil)
	ctx := shared.ContextWithSession(context.Background(),
		&shared.Session{TenantID: "t1", UserID: "u-7", Role: "admin"})

	_, err := svc.SetQuantity(ctx, "t1", 10, 1, 90, "manual_adjustment", "adj-1", "cycle count")
	require.NoError(t, err)
	require.Equal(t, "u-7", repo.movements[0].Actor)
}

func TestMovementRecordsSystemActorWithoutSession(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 2, 1, 50)
	catalog := &memoryCatalog{skus: map[string]int64{"SINGLE": 2}}
	svc := newTestService(repo, catalog)

	// Background bookings carry no session.
	_, err := svc.Consume(context.Background(), "t1",
		[]ConsumeLine{{SKUCode: "SINGLE", Qty: 4}}, "shipment", "s-7")
	require.NoError(t, err)
	require.Equal(t, SystemActor, repo.movements[0].Actor)
}

func TestLedgerSumMatchesSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	adjustments := []int64{50, -10, 20, -5, -15}
	for i, adj := range adjustments {
		movementType := MovementRestock
		if adj < 0 {
			movementType = MovementConsume
		}
		_, err := svc.ApplyMovement(ctx, MovementInput{
			TenantID: "t1", SKUID: 7, LocationID: 1,
			Type: movementType, Adjustment: adj,
			ReferenceType: "test", ReferenceID: fmt.Sprintf("ref-%d", i),
		})
		require.NoError(t, err)
	}

	var sum int64
	for _, m := range repo.movements {
		sum += m.Adjustment
	}
	require.Equal(t, sum, repo.snapshots[snapKey("t1", 7, 1)].Qty)
}

func TestSetQuantityComputesDelta(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 10, 1, 40)
	svc := newTestService(repo, nil)

	result, err := svc.SetQuantity(context.Background(), "t1", 10, 1, 25, "import", "row-1", "csv import")
	require.NoError(t, err)
	require.Equal(t, int64(40), result.PreviousQty)
	require.Equal(t, int64(25), result.NewQty)
	require.Equal(t, int64(-15), repo.movements[0].Adjustment)

	// Setting to the current value books nothing.
	result, err = svc.SetQuantity(context.Background(), "t1", 10, 1, 25, "import", "row-2", "")
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Len(t, repo.movements, 1)
}

func TestConsumeDecomposesBundles(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 2, 1, 100) // box
	seedSnapshot(repo, "t1", 3, 1, 100) // filler
	catalog := &memoryCatalog{
		skus: map[string]int64{"GIFTSET": 5, "SINGLE": 2},
		bundles: map[int64][]BundleComponent{
			5: {{SKUID: 2, Qty: 2}, {SKUID: 3, Qty: 1}},
		},
	}
	svc := newTestService(repo, catalog)

	result, err := svc.Consume(context.Background(), "t1", []ConsumeLine{
		{SKUCode: "GIFTSET", Qty: 3},
		{SKUCode: "SINGLE", Qty: 1},
		{SKUCode: "NOPE", Qty: 1},
	}, "shipment", "s-9")
	require.NoError(t, err)
	require.Equal(t, 3, result.Consumed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "NOPE")

	require.Equal(t, int64(100-6-1), repo.snapshots[snapKey("t1", 2, 1)].Qty)
	require.Equal(t, int64(100-3), repo.snapshots[snapKey("t1", 3, 1)].Qty)
}

func TestConsumeIsIdempotentPerReference(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 2, 1, 50)
	catalog := &memoryCatalog{skus: map[string]int64{"SINGLE": 2}}
	svc := newTestService(repo, catalog)
	ctx := context.Background()

	lines := []ConsumeLine{{SKUCode: "SINGLE", Qty: 4}}
	first, err := svc.Consume(ctx, "t1", lines, "shipment", "s-10")
	require.NoError(t, err)
	require.Equal(t, 1, first.Consumed)

	second, err := svc.Consume(ctx, "t1", lines, "shipment", "s-10")
	require.NoError(t, err)
	require.Equal(t, 0, second.Consumed)
	require.Equal(t, 1, second.Skipped)

	require.Equal(t, int64(46), repo.snapshots[snapKey("t1", 2, 1)].Qty)
}
