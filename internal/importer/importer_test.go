package importer

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parceldesk/parceldesk/internal/catalog"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/stock"
)

type fakePricing struct {
	rules []pricing.Rule
}

func (f *fakePricing) CreateRule(_ context.Context, rule pricing.Rule) (pricing.Rule, error) {
	f.rules = append(f.rules, rule)
	return rule, nil
}

type fakeCatalog struct {
	skus      map[string]int64
	locations []catalog.Location
	nextID    int64
}

func (f *fakeCatalog) UpsertSKU(_ context.Context, sku catalog.SKU) (int64, error) {
	if f.skus == nil {
		f.skus = make(map[string]int64)
	}
	if id, ok := f.skus[sku.Code]; ok {
		return id, nil
	}
	f.nextID++
	f.skus[sku.Code] = f.nextID
	return f.nextID, nil
}

func (f *fakeCatalog) UpsertLocation(_ context.Context, loc catalog.Location) (int64, error) {
	f.locations = append(f.locations, loc)
	return int64(len(f.locations)), nil
}

func (f *fakeCatalog) DefaultLocationID(_ context.Context, _ string) (int64, error) {
	return 1, nil
}

func (f *fakeCatalog) SKUIDByCode(_ context.Context, _ string, code string) (int64, error) {
	if id, ok := f.skus[code]; ok {
		return id, nil
	}
	return 0, catalog.ErrSKUNotFound
}

type fakeStockPort struct {
	targets map[int64]int64
}

func (f *fakeStockPort) SetQuantity(_ context.Context, _ string, skuID, _, target int64, _, _, _ string) (stock.MovementResult, error) {
	if f.targets == nil {
		f.targets = make(map[int64]int64)
	}
	f.targets[skuID] = target
	return stock.MovementResult{NewQty: target}, nil
}

func newTestImporter(p *fakePricing, c *fakeCatalog, s *fakeStockPort) *Importer {
	if p == nil {
		p = &fakePricing{}
	}
	if c == nil {
		c = &fakeCatalog{}
	}
	if s == nil {
		s = &fakeStockPort{}
	}
	return New(p, c, s, slog.New(slog.DiscardHandler))
}

func TestImportPricingSkipsBadRows(t *testing.T) {
	csvData := strings.Join([]string{
		"carrier,weight_min_grams,weight_max_grams,price_eur",
		"dhl,0,1000,3.00",
		"dhl,1000,1000,5.00", // min == max is invalid
		",0,1000,2.00",       // missing carrier
		"ups,0,2000,4.50",
	}, "\n")

	p := &fakePricing{}
	im := newTestImporter(p, nil, nil)
	result, err := im.ImportPricing(context.Background(), "t1", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 4, result.Rows)
	require.Equal(t, 2, result.Applied)
	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0], "line 3")
	require.Len(t, p.rules, 2)
}

func TestImportSKUs(t *testing.T) {
	csvData := "code,name,is_bundle\nSINGLE,Single Box,false\nGIFTSET,Gift Set,true\n"
	c := &fakeCatalog{}
	im := newTestImporter(nil, c, nil)
	result, err := im.ImportSKUs(context.Background(), "t1", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 2, result.Applied)
	require.Contains(t, c.skus, "GIFTSET")
}

func TestImportRestockSetsQuantities(t *testing.T) {
	c := &fakeCatalog{skus: map[string]int64{"SINGLE": 5}, nextID: 5}
	s := &fakeStockPort{}
	im := newTestImporter(nil, c, s)

	csvData := "sku_code,qty\nSINGLE,120\nUNKNOWN,10\n"
	result, err := im.ImportRestock(context.Background(), "t1", "imp-1", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.Len(t, result.Errors, 1)
	require.Equal(t, int64(120), s.targets[5])
}
