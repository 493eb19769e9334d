package shipments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceldesk/parceldesk/internal/platform/db"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/stock"
)

// Repository provides PostgreSQL backed persistence for shipments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert writes one shipment keyed by (tenant_id, external_id). It reports
// whether the row was inserted; xmax = 0 only holds for rows the statement
// created, so the created/updated split stays correct under concurrent
// syncs of the same tenant.
func (r *Repository) Upsert(ctx context.Context, s Shipment) (int64, bool, error) {
	var id int64
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO shipments
			(tenant_id, external_id, order_ref, carrier, service, weight_grams, tracking, tracking_url,
			 status_id, status_message, shipped_at, country_code, is_return, has_error, error_message,
			 label_url, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			order_ref = EXCLUDED.order_ref,
			carrier = EXCLUDED.carrier,
			service = EXCLUDED.service,
			weight_grams = EXCLUDED.weight_grams,
			tracking = EXCLUDED.tracking,
			tracking_url = EXCLUDED.tracking_url,
			status_id = EXCLUDED.status_id,
			status_message = EXCLUDED.status_message,
			shipped_at = EXCLUDED.shipped_at,
			country_code = EXCLUDED.country_code,
			is_return = EXCLUDED.is_return,
			has_error = EXCLUDED.has_error,
			error_message = EXCLUDED.error_message,
			label_url = EXCLUDED.label_url,
			raw_json = EXCLUDED.raw_json,
			updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		s.TenantID, s.ExternalID, s.OrderRef, s.Carrier, s.Service, s.WeightGrams, s.Tracking, s.TrackingURL,
		s.StatusID, s.StatusMessage, s.ShippedAt, s.CountryCode, s.IsReturn, s.HasError, s.ErrorMessage,
		s.LabelURL, s.Raw).
		Scan(&id, &inserted)
	return id, inserted, err
}

// ReplaceItems swaps the item lines of a shipment. Delete and inserts run
// in one transaction so a failed insert cannot leave the shipment with a
// partial item set.
func (r *Repository) ReplaceItems(ctx context.Context, shipmentID int64, items []Item) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return replaceItems(ctx, tx, shipmentID, items)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func replaceItems(ctx context.Context, ex execer, shipmentID int64, items []Item) error {
	if _, err := ex.Exec(ctx, `DELETE FROM shipment_items WHERE shipment_id = $1`, shipmentID); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := ex.Exec(ctx, `
			INSERT INTO shipment_items (shipment_id, sku_code, qty, description, value)
			VALUES ($1, $2, $3, $4, $5)`,
			shipmentID, item.SKUCode, item.Qty, item.Description, item.Value); err != nil {
			return err
		}
	}
	return nil
}

const shipmentColumns = `id, tenant_id, external_id, order_ref, carrier, service, weight_grams, tracking, tracking_url,
	status_id, status_message, shipped_at, country_code, is_return, has_error, COALESCE(error_message, ''),
	COALESCE(label_url, ''), COALESCE(pricing_status, ''), pricing_rule_id, computed_cost_eur, raw_json, created_at, updated_at`

func scanShipment(row pgx.Row) (Shipment, error) {
	var s Shipment
	err := row.Scan(&s.ID, &s.TenantID, &s.ExternalID, &s.OrderRef, &s.Carrier, &s.Service, &s.WeightGrams,
		&s.Tracking, &s.TrackingURL, &s.StatusID, &s.StatusMessage, &s.ShippedAt, &s.CountryCode,
		&s.IsReturn, &s.HasError, &s.ErrorMessage, &s.LabelURL, &s.PricingStatus, &s.PricingRuleID,
		&s.ComputedCostEUR, &s.Raw, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetByExternalID returns one shipment scoped to the tenant.
func (r *Repository) GetByExternalID(ctx context.Context, tenantID, externalID string) (Shipment, error) {
	s, err := scanShipment(r.pool.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Shipment{}, ErrShipmentNotFound
	}
	return s, err
}

// ListFilter narrows the shipment listing.
type ListFilter struct {
	Carrier       string
	PricingStatus string
	HasError      *bool
	IsReturn      *bool
}

// List returns shipments for a tenant, newest shipped first.
func (r *Repository) List(ctx context.Context, tenantID string, filter ListFilter, p shared.Pagination) ([]Shipment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE tenant_id = $1
		  AND ($2 = '' OR LOWER(carrier) = LOWER($2))
		  AND ($3 = '' OR pricing_status = $3)
		  AND ($4::boolean IS NULL OR has_error = $4)
		  AND ($5::boolean IS NULL OR is_return = $5)
		ORDER BY shipped_at DESC, id DESC
		LIMIT $6 OFFSET $7`,
		tenantID, filter.Carrier, filter.PricingStatus, filter.HasError, filter.IsReturn, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shipments []Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, s)
	}
	return shipments, rows.Err()
}

// ListItems returns the item lines of one shipment.
func (r *Repository) ListItems(ctx context.Context, shipmentID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, shipment_id, sku_code, qty, COALESCE(description, ''), value
		FROM shipment_items WHERE shipment_id = $1 ORDER BY id`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ShipmentID, &item.SKUCode, &item.Qty, &item.Description, &item.Value); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListForPricing returns every non-return shipment as a pricing target.
func (r *Repository) ListForPricing(ctx context.Context, tenantID string) ([]pricing.PricingTarget, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, carrier, weight_grams FROM shipments
		WHERE tenant_id = $1 AND NOT is_return`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var targets []pricing.PricingTarget
	for rows.Next() {
		var t pricing.PricingTarget
		if err := rows.Scan(&t.ShipmentID, &t.Carrier, &t.WeightGrams); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// UpdatePricing writes the pricing outcome of one shipment.
func (r *Repository) UpdatePricing(ctx context.Context, tenantID string, shipmentID int64, res pricing.Resolution) error {
	var ruleID *int64
	var cost any
	if res.Status == pricing.StatusOK {
		ruleID = &res.RuleID
		cost = res.PriceEUR
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE shipments
		SET pricing_status = $3, pricing_rule_id = $4, computed_cost_eur = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, shipmentID, res.Status, ruleID, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}
	return nil
}

// ListConsumptions yields the stock consumption events implied by shipments
// shipped since the cutoff. Returns and errored parcels do not consume.
func (r *Repository) ListConsumptions(ctx context.Context, tenantID string, since time.Time) ([]stock.Consumption, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.external_id, i.sku_code, i.qty
		FROM shipments s
		JOIN shipment_items i ON i.shipment_id = s.id
		WHERE s.tenant_id = $1 AND NOT s.is_return AND NOT s.has_error AND s.status_id <> $2 AND s.shipped_at >= $3
		ORDER BY s.shipped_at, s.id, i.id`, tenantID, statusCancelled, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var consumptions []stock.Consumption
	var current *stock.Consumption
	for rows.Next() {
		var externalID, skuCode string
		var qty int64
		if err := rows.Scan(&externalID, &skuCode, &qty); err != nil {
			return nil, err
		}
		if current == nil || current.ReferenceID != externalID {
			consumptions = append(consumptions, stock.Consumption{ReferenceType: "shipment", ReferenceID: externalID})
			current = &consumptions[len(consumptions)-1]
		}
		current.Lines = append(current.Lines, stock.ConsumeLine{SKUCode: skuCode, Qty: qty})
	}
	return consumptions, rows.Err()
}

// FindIDByOrderRef returns the id of the newest non-return shipment with
// the given order reference, used to link returns back to their origin.
func (r *Repository) FindIDByOrderRef(ctx context.Context, tenantID, orderRef string) (int64, error) {
	if orderRef == "" {
		return 0, ErrShipmentNotFound
	}
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM shipments
		WHERE tenant_id = $1 AND order_ref = $2 AND NOT is_return
		ORDER BY shipped_at DESC, id DESC
		LIMIT 1`, tenantID, orderRef).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrShipmentNotFound
	}
	return id, err
}
