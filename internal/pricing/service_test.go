package pricing

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRuleRepo struct {
	rules  map[int64]Rule
	nextID int64
}

func newMemoryRuleRepo() *memoryRuleRepo {
	return &memoryRuleRepo{rules: make(map[int64]Rule)}
}

func (r *memoryRuleRepo) ListRules(_ context.Context, tenantID string) ([]Rule, error) {
	var out []Rule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memoryRuleRepo) GetRule(_ context.Context, tenantID string, id int64) (Rule, error) {
	rule, ok := r.rules[id]
	if !ok || rule.TenantID != tenantID {
		return Rule{}, ErrRuleNotFound
	}
	return rule, nil
}

func (r *memoryRuleRepo) InsertRule(_ context.Context, rule Rule) (Rule, error) {
	r.nextID++
	rule.ID = r.nextID
	r.rules[rule.ID] = rule
	return rule, nil
}

func (r *memoryRuleRepo) UpdateRule(_ context.Context, rule Rule) (Rule, error) {
	existing, ok := r.rules[rule.ID]
	if !ok || existing.TenantID != rule.TenantID {
		return Rule{}, ErrRuleNotFound
	}
	r.rules[rule.ID] = rule
	return rule, nil
}

func (r *memoryRuleRepo) DeleteRule(_ context.Context, tenantID string, id int64) error {
	rule, ok := r.rules[id]
	if !ok || rule.TenantID != tenantID {
		return ErrRuleNotFound
	}
	delete(r.rules, id)
	return nil
}

type memoryShipmentPort struct {
	targets  []PricingTarget
	outcomes map[int64]Resolution
}

func (p *memoryShipmentPort) ListForPricing(_ context.Context, _ string) ([]PricingTarget, error) {
	return p.targets, nil
}

func (p *memoryShipmentPort) UpdatePricing(_ context.Context, _ string, shipmentID int64, res Resolution) error {
	if p.outcomes == nil {
		p.outcomes = make(map[int64]Resolution)
	}
	p.outcomes[shipmentID] = res
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func eur(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, repo *memoryRuleRepo, ships *memoryShipmentPort) *Service {
	t.Helper()
	if ships == nil {
		ships = &memoryShipmentPort{}
	}
	return NewService(repo, ships, nil, nil, discardLogger())
}

func seedBands(t *testing.T, svc *Service, tenantID string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateRule(ctx, Rule{TenantID: tenantID, Carrier: "dhl", WeightMinGrams: 0, WeightMaxGrams: 1000, PriceEUR: eur("3.00")})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, Rule{TenantID: tenantID, Carrier: "dhl", WeightMinGrams: 1000, WeightMaxGrams: 2000, PriceEUR: eur("5.00")})
	require.NoError(t, err)
}

func TestResolveHalfOpenBands(t *testing.T) {
	svc := newTestService(t, newMemoryRuleRepo(), nil)
	seedBands(t, svc, "t1")
	ctx := context.Background()

	cases := []struct {
		weight int64
		price  string
	}{
		{0, "3"},
		{999, "3"},
		{1000, "5"}, // boundary weight belongs to the upper band
		{1999, "5"},
	}
	for _, tc := range cases {
		res, err := svc.Resolve(ctx, "t1", "DHL", tc.weight)
		require.NoError(t, err)
		require.Equal(t, StatusOK, res.Status, "weight %d", tc.weight)
		require.True(t, res.PriceEUR.Equal(eur(tc.price)), "weight %d: got %s", tc.weight, res.PriceEUR)
	}
}

func TestResolveCarrierCaseInsensitive(t *testing.T) {
	svc := newTestService(t, newMemoryRuleRepo(), nil)
	seedBands(t, svc, "t1")
	ctx := context.Background()

	for _, name := range []string{"dhl", "DHL", "Dhl"} {
		res, err := svc.Resolve(ctx, "t1", name, 500)
		require.NoError(t, err)
		require.Equal(t, StatusOK, res.Status)
	}
}

func TestResolveMissingIsNotError(t *testing.T) {
	svc := newTestService(t, newMemoryRuleRepo(), nil)
	seedBands(t, svc, "t1")
	ctx := context.Background()

	res, err := svc.Resolve(ctx, "t1", "dhl", 2000)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, res.Status)

	res, err = svc.Resolve(ctx, "t1", "postnl", 500)
	require.NoError(t, err)
	require.Equal(t, StatusMissing, res.Status)
}

func TestResolveOverlapLowestMinWins(t *testing.T) {
	svc := newTestService(t, newMemoryRuleRepo(), nil)
	ctx := context.Background()
	_, err := svc.CreateRule(ctx, Rule{TenantID: "t1", Carrier: "dhl", WeightMinGrams: 500, WeightMaxGrams: 2000, PriceEUR: eur("9.00")})
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, Rule{TenantID: "t1", Carrier: "dhl", WeightMinGrams: 0, WeightMaxGrams: 1000, PriceEUR: eur("3.00")})
	require.NoError(t, err)

	res, err := svc.Resolve(ctx, "t1", "dhl", 700)
	require.NoError(t, err)
	require.True(t, res.PriceEUR.Equal(eur("3.00")), "got %s", res.PriceEUR)
}

func TestCreateRuleRejectsInvalidBand(t *testing.T) {
	svc := newTestService(t, newMemoryRuleRepo(), nil)
	_, err := svc.CreateRule(context.Background(), Rule{TenantID: "t1", Carrier: "dhl", WeightMinGrams: 1000, WeightMaxGrams: 1000, PriceEUR: eur("3.00")})
	require.ErrorIs(t, err, ErrInvalidBand)
}

func TestRecalculateAll(t *testing.T) {
	repo := newMemoryRuleRepo()
	ships := &memoryShipmentPort{targets: []PricingTarget{
		{ShipmentID: 1, Carrier: "dhl", WeightGrams: 500},
		{ShipmentID: 2, Carrier: "dhl", WeightGrams: 1500},
		{ShipmentID: 3, Carrier: "ups", WeightGrams: 500},
	}}
	svc := newTestService(t, repo, ships)
	seedBands(t, svc, "t1")

	stats, err := svc.RecalculateAll(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, RecalcStats{Updated: 3, OK: 2, Missing: 1}, stats)
	require.Equal(t, StatusOK, ships.outcomes[1].Status)
	require.True(t, ships.outcomes[2].PriceEUR.Equal(eur("5.00")))
	require.Equal(t, StatusMissing, ships.outcomes[3].Status)
}
