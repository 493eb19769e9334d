package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for pricing rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `id, tenant_id, carrier, weight_min_grams, weight_max_grams, price_eur, created_at, updated_at`

func scanRule(row pgx.Row) (Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.TenantID, &r.Carrier, &r.WeightMinGrams, &r.WeightMaxGrams, &r.PriceEUR, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ListRules returns all rules for a tenant ordered by carrier and band.
func (r *Repository) ListRules(ctx context.Context, tenantID string) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE tenant_id = $1 ORDER BY carrier, weight_min_grams`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetRule returns one rule scoped to the tenant.
func (r *Repository) GetRule(ctx context.Context, tenantID string, id int64) (Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// InsertRule stores a new rule and returns it with generated fields.
func (r *Repository) InsertRule(ctx context.Context, rule Rule) (Rule, error) {
	return scanRule(r.pool.QueryRow(ctx, `
		INSERT INTO pricing_rules (tenant_id, carrier, weight_min_grams, weight_max_grams, price_eur)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ruleColumns,
		rule.TenantID, rule.Carrier, rule.WeightMinGrams, rule.WeightMaxGrams, rule.PriceEUR))
}

// UpdateRule updates the band and price of an existing rule.
func (r *Repository) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	updated, err := scanRule(r.pool.QueryRow(ctx, `
		UPDATE pricing_rules
		SET carrier = $3, weight_min_grams = $4, weight_max_grams = $5, price_eur = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+ruleColumns,
		rule.TenantID, rule.ID, rule.Carrier, rule.WeightMinGrams, rule.WeightMaxGrams, rule.PriceEUR))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrRuleNotFound
	}
	return updated, err
}

// DeleteRule removes a rule scoped to the tenant.
func (r *Repository) DeleteRule(ctx context.Context, tenantID string, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pricing_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
