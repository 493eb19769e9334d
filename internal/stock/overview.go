package stock

import (
	"context"
	"math"
	"time"
)

// RestockPort reports inbound quantities that were announced but not yet
// received, per sku.
type RestockPort interface {
	PendingRestock(ctx context.Context, tenantID string) (map[int64]int64, error)
}

// OverviewRow is the stock position of one sku enriched with trailing
// consumption and a naive runway estimate.
type OverviewRow struct {
	SKUID          int64   `json:"skuId"`
	LocationID     int64   `json:"locationId"`
	Qty            int64   `json:"qty"`
	Consumed30d    int64   `json:"consumed30d"`
	Consumed90d    int64   `json:"consumed90d"`
	DailyRate      float64 `json:"dailyRate"`
	DaysRemaining  *int    `json:"daysRemaining,omitempty"`
	PendingRestock int64   `json:"pendingRestock"`
}

// Reporter assembles the stock overview from snapshots, the ledger and
// pending restock.
type Reporter struct {
	repo    RepositoryPort
	restock RestockPort
}

// NewReporter builds a reporter.
func NewReporter(repo RepositoryPort, restock RestockPort) *Reporter {
	return &Reporter{repo: repo, restock: restock}
}

// Overview returns one row per snapshot. The daily rate comes from the
// 30-day window; days remaining is omitted when there is no consumption.
func (r *Reporter) Overview(ctx context.Context, tenantID string) ([]OverviewRow, error) {
	snaps, err := r.repo.ListSnapshots(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	consumed30, err := r.repo.ConsumedSince(ctx, tenantID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	consumed90, err := r.repo.ConsumedSince(ctx, tenantID, now.AddDate(0, 0, -90))
	if err != nil {
		return nil, err
	}
	pending := map[int64]int64{}
	if r.restock != nil {
		pending, err = r.restock.PendingRestock(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	}

	rows := make([]OverviewRow, 0, len(snaps))
	for _, snap := range snaps {
		row := OverviewRow{
			SKUID:          snap.SKUID,
			LocationID:     snap.LocationID,
			Qty:            snap.Qty,
			Consumed30d:    consumed30[snap.SKUID],
			Consumed90d:    consumed90[snap.SKUID],
			PendingRestock: pending[snap.SKUID],
		}
		row.DailyRate = float64(row.Consumed30d) / 30.0
		if row.DailyRate > 0 {
			days := int(math.Floor(float64(snap.Qty) / row.DailyRate))
			row.DaysRemaining = &days
		}
		rows = append(rows, row)
	}
	return rows, nil
}
