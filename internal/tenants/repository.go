package tenants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for tenants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTenant returns one tenant by id.
func (r *Repository) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_active, created_at, updated_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// ListActiveTenantIDs returns the ids of all active tenants with sync enabled,
// in stable order. The scheduled sweep iterates this list.
func (r *Repository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id
		FROM tenants t
		JOIN tenant_settings s ON s.tenant_id = t.id
		WHERE t.is_active AND s.sync_enabled
		ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSettings returns the settings row for a tenant. A missing row yields
// zero-value Settings with SyncEnabled false rather than an error.
func (r *Repository) GetSettings(ctx context.Context, tenantID string) (Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, COALESCE(carrier_api_key, ''), COALESCE(carrier_secret, ''), sync_enabled, updated_at
		FROM tenant_settings WHERE tenant_id = $1`, tenantID).
		Scan(&s.TenantID, &s.CarrierAPIKey, &s.CarrierSecret, &s.SyncEnabled, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{TenantID: tenantID}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// UpsertSettings stores the settings for a tenant.
func (r *Repository) UpsertSettings(ctx context.Context, s Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, carrier_api_key, carrier_secret, sync_enabled, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			carrier_api_key = EXCLUDED.carrier_api_key,
			carrier_secret = EXCLUDED.carrier_secret,
			sync_enabled = EXCLUDED.sync_enabled,
			updated_at = NOW()`,
		s.TenantID, s.CarrierAPIKey, s.CarrierSecret, s.SyncEnabled)
	return err
}

// FindByTokenHash resolves an API token hash to its tenant.
func (r *Repository) FindByTokenHash(ctx context.Context, hash string) (Tenant, string, error) {
	var t Tenant
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT t.id, t.name, t.is_active, t.created_at, t.updated_at, k.role
		FROM tenant_api_tokens k
		JOIN tenants t ON t.id = k.tenant_id
		WHERE k.token_hash = $1 AND k.revoked_at IS NULL`, hash).
		Scan(&t.ID, &t.Name, &t.IsActive, &t.CreatedAt, &t.UpdatedAt, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, "", ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, "", err
	}
	return t, role, nil
}
