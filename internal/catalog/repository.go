package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceldesk/parceldesk/internal/stock"
)

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ResolveSKUCodes maps sku codes to ids for one tenant. Codes without a
// matching active sku are simply absent from the result.
func (r *Repository) ResolveSKUCodes(ctx context.Context, tenantID string, codes []string) (map[string]int64, error) {
	if len(codes) == 0 {
		return map[string]int64{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT code, id FROM skus
		WHERE tenant_id = $1 AND is_active AND code = ANY($2)`, tenantID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64, len(codes))
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

// BundleComponents returns the component lines of a bundle sku, or nil for
// a plain sku.
func (r *Repository) BundleComponents(ctx context.Context, tenantID string, skuID int64) ([]stock.BundleComponent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.component_sku_id, b.qty
		FROM bundle_lines b
		JOIN skus s ON s.id = b.bundle_sku_id
		WHERE s.tenant_id = $1 AND b.bundle_sku_id = $2`, tenantID, skuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var components []stock.BundleComponent
	for rows.Next() {
		var c stock.BundleComponent
		if err := rows.Scan(&c.SKUID, &c.Qty); err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// DefaultLocationID returns the tenant's default location.
func (r *Repository) DefaultLocationID(ctx context.Context, tenantID string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM locations WHERE tenant_id = $1 AND is_default`, tenantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrLocationNotFound
	}
	return id, err
}

// PendingRestock sums announced but unreceived quantities per sku.
func (r *Repository) PendingRestock(ctx context.Context, tenantID string) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sku_id, COALESCE(SUM(qty), 0)
		FROM inbound_restocks
		WHERE tenant_id = $1 AND received_at IS NULL
		GROUP BY sku_id`, tenantID)
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

// GetSKU returns one sku scoped to the tenant.
func (r *Repository) GetSKU(ctx context.Context, tenantID string, id int64) (SKU, error) {
	var s SKU
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, name, is_bundle, is_active, created_at, updated_at
		FROM skus WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&s.ID, &s.TenantID, &s.Code, &s.Name, &s.IsBundle, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SKU{}, ErrSKUNotFound
	}
	return s, err
}

// ListSKUs returns all skus for a tenant.
func (r *Repository) ListSKUs(ctx context.Context, tenantID string) ([]SKU, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, code, name, is_bundle, is_active, created_at, updated_at
		FROM skus WHERE tenant_id = $1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var skus []SKU
	for rows.Next() {
		var s SKU
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Code, &s.Name, &s.IsBundle, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		skus = append(skus, s)
	}
	return skus, rows.Err()
}

// UpsertSKU creates or updates a sku by (tenant_id, code) and returns its id.
func (r *Repository) UpsertSKU(ctx context.Context, s SKU) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO skus (tenant_id, code, name, is_bundle, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, code) DO UPDATE SET
			name = EXCLUDED.name,
			is_bundle = EXCLUDED.is_bundle,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id`,
		s.TenantID, s.Code, s.Name, s.IsBundle, s.IsActive).Scan(&id)
	return id, err
}

// UpsertLocation creates or updates a location by (tenant_id, code).
func (r *Repository) UpsertLocation(ctx context.Context, l Location) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO locations (tenant_id, code, name, is_default)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, code) DO UPDATE SET
			name = EXCLUDED.name,
			is_default = EXCLUDED.is_default
		RETURNING id`,
		l.TenantID, l.Code, l.Name, l.IsDefault).Scan(&id)
	return id, err
}

// InsertInboundRestock records an announced delivery.
func (r *Repository) InsertInboundRestock(ctx context.Context, in InboundRestock) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO inbound_restocks (tenant_id, sku_id, location_id, qty, reference, expected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		in.TenantID, in.SKUID, in.LocationID, in.Qty, in.Reference, in.ExpectedAt).Scan(&id)
	return id, err
}

// GetInboundRestock returns one inbound restock.
func (r *Repository) GetInboundRestock(ctx context.Context, tenantID string, id int64) (InboundRestock, error) {
	var in InboundRestock
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, sku_id, location_id, qty, COALESCE(reference, ''), expected_at, received_at, created_at
		FROM inbound_restocks WHERE tenant_id = $1 AND id = $2`, tenantID, id).
		Scan(&in.ID, &in.TenantID, &in.SKUID, &in.LocationID, &in.Qty, &in.Reference, &in.ExpectedAt, &in.ReceivedAt, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InboundRestock{}, ErrRestockNotFound
	}
	return in, err
}

// MarkRestockReceived stamps received_at. It returns ErrRestockReceived if
// the row was already stamped, which keeps receiving idempotent.
func (r *Repository) MarkRestockReceived(ctx context.Context, tenantID string, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE inbound_restocks SET received_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND received_at IS NULL`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRestockReceived
	}
	return nil
}
