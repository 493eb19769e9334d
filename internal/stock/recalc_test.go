package stock

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memorySource struct {
	consumptions []Consumption
}

func (s *memorySource) ListConsumptions(_ context.Context, _ string, _ time.Time) ([]Consumption, error) {
	return s.consumptions, nil
}

func TestSweepBooksOnlyMissingMovements(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 2, 1, 100)
	catalog := &memoryCatalog{skus: map[string]int64{"SINGLE": 2}}
	svc := newTestService(repo, catalog)
	ctx := context.Background()

	// One shipment was already booked through the regular sync path.
	_, err := svc.Consume(ctx, "t1", []ConsumeLine{{SKUCode: "SINGLE", Qty: 5}}, "shipment", "s-1")
	require.NoError(t, err)

	source := &memorySource{consumptions: []Consumption{
		{ReferenceType: "shipment", ReferenceID: "s-1", Lines: []ConsumeLine{{SKUCode: "SINGLE", Qty: 5}}},
		{ReferenceType: "shipment", ReferenceID: "s-2", Lines: []ConsumeLine{{SKUCode: "SINGLE", Qty: 3}}},
	}}
	sweep := NewRecalculator(svc, source, slog.New(slog.DiscardHandler))

	stats, err := sweep.Run(ctx, "t1", time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Events)
	require.Equal(t, 1, stats.Booked)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, int64(92), repo.snapshots[snapKey("t1", 2, 1)].Qty)

	// Running the sweep again books nothing further.
	stats, err = sweep.Run(ctx, "t1", time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, 0, stats.Booked)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, int64(92), repo.snapshots[snapKey("t1", 2, 1)].Qty)
}

func TestSweepSkipsBookedEventsWithoutTransactions(t *testing.T) {
	repo := newMemoryRepo()
	seedSnapshot(repo, "t1", 2, 1, 100)
	catalog := &memoryCatalog{skus: map[string]int64{"SINGLE": 2}}
	svc := newTestService(repo, catalog)
	ctx := context.Background()

	source := &memorySource{consumptions: []Consumption{
		{ReferenceType: "shipment", ReferenceID: "s-1", Lines: []ConsumeLine{{SKUCode: "SINGLE", Qty: 5}}},
		{ReferenceType: "shipment", ReferenceID: "s-2", Lines: []ConsumeLine{{SKUCode: "SINGLE", Qty: 3}}},
	}}
	sweep := NewRecalculator(svc, source, slog.New(slog.DiscardHandler))

	_, err := sweep.Run(ctx, "t1", time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	opened := repo.txCalls

	// Booked events are dropped by the key set; the second sweep must not
	// reach the ledger at all.
	stats, err := sweep.Run(ctx, "t1", time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, 0, stats.Booked)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, opened, repo.txCalls)
}

func TestSweepCapsErrors(t *testing.T) {
	repo := newMemoryRepo()
	catalog := &memoryCatalog{skus: map[string]int64{}}
	svc := newTestService(repo, catalog)

	var consumptions []Consumption
	for i := 0; i < 25; i++ {
		consumptions = append(consumptions, Consumption{
			ReferenceType: "shipment",
			ReferenceID:   "bad",
			Lines:         []ConsumeLine{{SKUCode: "UNKNOWN", Qty: 1}},
		})
	}
	sweep := NewRecalculator(svc, &memorySource{consumptions: consumptions}, slog.New(slog.DiscardHandler))

	stats, err := sweep.Run(context.Background(), "t1", time.Now())
	require.NoError(t, err)
	require.Len(t, stats.Errors, maxRecalcErrors)
}
