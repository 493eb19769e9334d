package returns

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceldesk/parceldesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for returns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes one return keyed by (tenant_id, external_id) and reports
// whether the row was inserted. The restocked timestamp is local state and
// never overwritten by a sync.
func (r *Repository) Upsert(ctx context.Context, ret Return) (int64, bool, error) {
	var id int64
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO returns
			(tenant_id, external_id, return_id, order_ref, original_shipment_id, tracking_number, tracking_url,
			 status, status_message, reason, reason_comment, announced_at, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			return_id = EXCLUDED.return_id,
			order_ref = EXCLUDED.order_ref,
			original_shipment_id = COALESCE(EXCLUDED.original_shipment_id, returns.original_shipment_id),
			tracking_number = EXCLUDED.tracking_number,
			tracking_url = EXCLUDED.tracking_url,
			status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			reason = EXCLUDED.reason,
			reason_comment = EXCLUDED.reason_comment,
			announced_at = EXCLUDED.announced_at,
			raw_json = EXCLUDED.raw_json,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		ret.TenantID, ret.ExternalID, ret.ReturnID, ret.OrderRef, ret.OriginalShipmentID, ret.TrackingNumber,
		ret.TrackingURL, ret.Status, ret.StatusMessage, ret.Reason, ret.ReasonComment, ret.AnnouncedAt, ret.Raw).
		Scan(&id, &inserted)
	return id, inserted, err
}

const returnColumns = `id, tenant_id, external_id, return_id, order_ref, original_shipment_id, tracking_number,
	tracking_url, status, COALESCE(status_message, ''), reason, COALESCE(reason_comment, ''),
	restocked_at, announced_at, raw_json, created_at, updated_at`

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	err := row.Scan(&ret.ID, &ret.TenantID, &ret.ExternalID, &ret.ReturnID, &ret.OrderRef, &ret.OriginalShipmentID,
		&ret.TrackingNumber, &ret.TrackingURL, &ret.Status, &ret.StatusMessage, &ret.Reason, &ret.ReasonComment,
		&ret.RestockedAt, &ret.AnnouncedAt, &ret.Raw, &ret.CreatedAt, &ret.UpdatedAt)
	return ret, err
}

// GetByExternalID returns one return scoped to the tenant.
func (r *Repository) GetByExternalID(ctx context.Context, tenantID, externalID string) (Return, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx,
		`SELECT `+returnColumns+` FROM returns WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, ErrReturnNotFound
	}
	return ret, err
}

// List returns the tenant's returns, newest announced first.
func (r *Repository) List(ctx context.Context, tenantID string, p shared.Pagination) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM returns
		WHERE tenant_id = $1
		ORDER BY announced_at DESC, id DESC
		LIMIT $2 OFFSET $3`, tenantID, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// MarkRestocked stamps restocked_at. It reports ErrAlreadyRestocked when
// the row was stamped before, keeping the restock idempotent at the
// bookkeeping level too.
func (r *Repository) MarkRestocked(ctx context.Context, tenantID string, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE returns SET restocked_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND restocked_at IS NULL`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRestocked
	}
	return nil
}
