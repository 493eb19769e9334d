package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceldesk/parceldesk/internal/platform/db"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// TxRepository exposes the operations available inside a ledger transaction.
type TxRepository interface {
	GetSnapshotForUpdate(ctx context.Context, tenantID string, skuID, locationID int64) (Snapshot, error)
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// ErrSnapshotNotFound indicates no snapshot row exists yet for the sku.
var ErrSnapshotNotFound = errors.New("stock: snapshot not found")

// Repository provides PostgreSQL backed persistence for the stock ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction. The snapshot row is
// locked for the duration so concurrent movements on the same sku serialise.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) GetSnapshotForUpdate(ctx context.Context, tenantID string, skuID, locationID int64) (Snapshot, error) {
	var snap Snapshot
	err := t.tx.QueryRow(ctx, `
		SELECT tenant_id, sku_id, location_id, qty, updated_at
		FROM stock_snapshots
		WHERE tenant_id = $1 AND sku_id = $2 AND location_id = $3
		FOR UPDATE`, tenantID, skuID, locationID).
		Scan(&snap.TenantID, &snap.SKUID, &snap.LocationID, &snap.Qty, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{TenantID: tenantID, SKUID: skuID, LocationID: locationID}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (t *txRepo) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_snapshots (tenant_id, sku_id, location_id, qty, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tenant_id, sku_id, location_id) DO UPDATE SET
			qty = EXCLUDED.qty,
			updated_at = NOW()`,
		snap.TenantID, snap.SKUID, snap.LocationID, snap.Qty)
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements
			(tenant_id, sku_id, location_id, movement_type, adjustment, qty_before, qty_after, reference_type, reference_id, user_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''))
		RETURNING id`,
		m.TenantID, m.SKUID, m.LocationID, m.Type, m.Adjustment, m.QtyBefore, m.QtyAfter, m.ReferenceType, m.ReferenceID, m.Actor, m.Note).
		Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, ErrDuplicateMovement
	}
	return id, err
}

// MovementExists reports whether a ledger row with the given key exists.
func (r *Repository) MovementExists(ctx context.Context, tenantID string, key MovementKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stock_movements
			WHERE tenant_id = $1 AND reference_type = $2 AND reference_id = $3 AND sku_id = $4
		)`, tenantID, key.ReferenceType, key.ReferenceID, key.SKUID).Scan(&exists)
	return exists, err
}

// ListMovementKeys returns every movement key of the given reference type,
// used by the recalculation sweep to find source events never booked.
func (r *Repository) ListMovementKeys(ctx context.Context, tenantID, referenceType string) (map[MovementKey]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT reference_type, reference_id, sku_id
		FROM stock_movements
		WHERE tenant_id = $1 AND reference_type = $2`, tenantID, referenceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make(map[MovementKey]struct{})
	for rows.Next() {
		var key MovementKey
		if err := rows.Scan(&key.ReferenceType, &key.ReferenceID, &key.SKUID); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

// ListMovements returns ledger rows for one sku, newest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID string, skuID int64, p shared.Pagination) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, sku_id, location_id, movement_type, adjustment, qty_before, qty_after,
		       reference_type, reference_id, COALESCE(user_id, ''), COALESCE(note, ''), created_at
		FROM stock_movements
		WHERE tenant_id = $1 AND sku_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, tenantID, skuID, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.SKUID, &m.LocationID, &m.Type, &m.Adjustment,
			&m.QtyBefore, &m.QtyAfter, &m.ReferenceType, &m.ReferenceID, &m.Actor, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// GetSnapshot returns the current quantity for one sku at one location,
// without locking.
func (r *Repository) GetSnapshot(ctx context.Context, tenantID string, skuID, locationID int64) (Snapshot, error) {
	var snap Snapshot
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, sku_id, location_id, qty, updated_at
		FROM stock_snapshots
		WHERE tenant_id = $1 AND sku_id = $2 AND location_id = $3`, tenantID, skuID, locationID).
		Scan(&snap.TenantID, &snap.SKUID, &snap.LocationID, &snap.Qty, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{TenantID: tenantID, SKUID: skuID, LocationID: locationID}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ListSnapshots returns all snapshots for a tenant.
func (r *Repository) ListSnapshots(ctx context.Context, tenantID string) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, sku_id, location_id, qty, updated_at
		FROM stock_snapshots
		WHERE tenant_id = $1
		ORDER BY sku_id, location_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.TenantID, &snap.SKUID, &snap.LocationID, &snap.Qty, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// ConsumedSince sums consumption per sku over the trailing window, feeding
// the stock overview metrics.
func (r *Repository) ConsumedSince(ctx context.Context, tenantID string, since time.Time) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sku_id, COALESCE(SUM(-adjustment), 0)
		FROM stock_movements
		WHERE tenant_id = $1 AND movement_type = $2 AND created_at >= $3
		GROUP BY sku_id`, tenantID, MovementConsume, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]int64)
	for rows.Next() {
		var skuID, qty int64
		if err := rows.Scan(&skuID, &qty); err != nil {
			return nil, err
		}
		totals[skuID] = qty
	}
	return totals, rows.Err()
}
