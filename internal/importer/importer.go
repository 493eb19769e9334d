// Package importer ingests CSV uploads for pricing rules, skus, locations
// and stock counts. Rows are validated individually; a bad row is reported
// with its line number and skipped, good rows still apply.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/parceldesk/parceldesk/internal/catalog"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/stock"
)

// maxImportErrors caps the reported row errors per upload.
const maxImportErrors = 50

// PricingPort stores imported pricing rules.
type PricingPort interface {
	CreateRule(ctx context.Context, rule pricing.Rule) (pricing.Rule, error)
}

// CatalogPort stores imported skus and locations.
type CatalogPort interface {
	UpsertSKU(ctx context.Context, sku catalog.SKU) (int64, error)
	UpsertLocation(ctx context.Context, loc catalog.Location) (int64, error)
	DefaultLocationID(ctx context.Context, tenantID string) (int64, error)
	SKUIDByCode(ctx context.Context, tenantID, code string) (int64, error)
}

// StockPort applies imported stock counts.
type StockPort interface {
	SetQuantity(ctx context.Context, tenantID string, skuID, locationID, target int64, referenceType, referenceID, note string) (stock.MovementResult, error)
}

// Importer parses and applies CSV uploads.
type Importer struct {
	pricing  PricingPort
	catalog  CatalogPort
	stock    StockPort
	validate *validator.Validate
	logger   *slog.Logger
}

// New builds an importer.
func New(pricingPort PricingPort, catalogPort CatalogPort, stockPort StockPort, logger *slog.Logger) *Importer {
	return &Importer{
		pricing:  pricingPort,
		catalog:  catalogPort,
		stock:    stockPort,
		validate: validator.New(),
		logger:   logger,
	}
}

// Result summarises one upload.
type Result struct {
	Rows    int      `json:"rows"`
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

func (r *Result) addError(line int, err error) {
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("line %d: %v", line, err))
	}
}

// readRows reads a CSV with a header line and returns the header index and
// the data rows with their 1-based line numbers.
func readRows(src io.Reader) (map[string]int, [][]string, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("importer: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("importer: read rows: %w", err)
	}
	return index, rows, nil
}

func field(index map[string]int, row []string, name string) string {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

type pricingRow struct {
	Carrier        string `validate:"required"`
	WeightMinGrams int64  `validate:"min=0"`
	WeightMaxGrams int64  `validate:"required,gtfield=WeightMinGrams"`
	PriceEUR       string `validate:"required"`
}

// ImportPricing ingests rows with columns carrier, weight_min_grams,
// weight_max_grams, price_eur.
func (im *Importer) ImportPricing(ctx context.Context, tenantID string, src io.Reader) (Result, error) {
	index, rows, err := readRows(src)
	if err != nil {
		return Result{}, err
	}
	var result Result
	for n, row := range rows {
		line := n + 2
		result.Rows++
		pr := pricingRow{
			Carrier:  field(index, row, "carrier"),
			PriceEUR: field(index, row, "price_eur"),
		}
		pr.WeightMinGrams, _ = strconv.ParseInt(field(index, row, "weight_min_grams"), 10, 64)
		pr.WeightMaxGrams, _ = strconv.ParseInt(field(index, row, "weight_max_grams"), 10, 64)
		if err := im.validate.Struct(pr); err != nil {
			result.addError(line, err)
			continue
		}
		price, err := decimal.NewFromString(pr.PriceEUR)
		if err != nil {
			result.addError(line, fmt.Errorf("bad price %q", pr.PriceEUR))
			continue
		}
		_, err = im.pricing.CreateRule(ctx, pricing.Rule{
			TenantID:       tenantID,
			Carrier:        pr.Carrier,
			WeightMinGrams: pr.WeightMinGrams,
			WeightMaxGrams: pr.WeightMaxGrams,
			PriceEUR:       price,
		})
		if err != nil {
			result.addError(line, err)
			continue
		}
		result.Applied++
	}
	return result, nil
}

type skuRow struct {
	Code string `validate:"required"`
	Name string `validate:"required"`
}

// ImportSKUs ingests rows with columns code, name, is_bundle.
func (im *Importer) ImportSKUs(ctx context.Context, tenantID string, src io.Reader) (Result, error) {
	index, rows, err := readRows(src)
	if err != nil {
		return Result{}, err
	}
	var result Result
	for n, row := range rows {
		line := n + 2
		result.Rows++
		sr := skuRow{Code: field(index, row, "code"), Name: field(index, row, "name")}
		if err := im.validate.Struct(sr); err != nil {
			result.addError(line, err)
			continue
		}
		_, err := im.catalog.UpsertSKU(ctx, catalog.SKU{
			TenantID: tenantID,
			Code:     sr.Code,
			Name:     sr.Name,
			IsBundle: parseBool(field(index, row, "is_bundle")),
			IsActive: true,
		})
		if err != nil {
			result.addError(line, err)
			continue
		}
		result.Applied++
	}
	return result, nil
}

// ImportLocations ingests rows with columns code, name, is_default.
func (im *Importer) ImportLocations(ctx context.Context, tenantID string, src io.Reader) (Result, error) {
	index, rows, err := readRows(src)
	if err != nil {
		return Result{}, err
	}
	var result Result
	for n, row := range rows {
		line := n + 2
		result.Rows++
		code := field(index, row, "code")
		if code == "" {
			result.addError(line, fmt.Errorf("code required"))
			continue
		}
		_, err := im.catalog.UpsertLocation(ctx, catalog.Location{
			TenantID:  tenantID,
			Code:      code,
			Name:      field(index, row, "name"),
			IsDefault: parseBool(field(index, row, "is_default")),
		})
		if err != nil {
			result.addError(line, err)
			continue
		}
		result.Applied++
	}
	return result, nil
}

type restockRow struct {
	SKUCode string `validate:"required"`
	Qty     int64  `validate:"min=0"`
}

// ImportRestock ingests rows with columns sku_code, qty and sets each
// sku's snapshot at the default location to the counted quantity. importID
// keys the resulting movements so re-uploading the same file books nothing
// twice.
func (im *Importer) ImportRestock(ctx context.Context, tenantID, importID string, src io.Reader) (Result, error) {
	index, rows, err := readRows(src)
	if err != nil {
		return Result{}, err
	}
	locationID, err := im.catalog.DefaultLocationID(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("importer: default location: %w", err)
	}
	var result Result
	for n, row := range rows {
		line := n + 2
		result.Rows++
		rr := restockRow{SKUCode: field(index, row, "sku_code")}
		rr.Qty, _ = strconv.ParseInt(field(index, row, "qty"), 10, 64)
		if err := im.validate.Struct(rr); err != nil {
			result.addError(line, err)
			continue
		}
		skuID, err := im.catalog.SKUIDByCode(ctx, tenantID, rr.SKUCode)
		if err != nil {
			result.addError(line, err)
			continue
		}
		refID := fmt.Sprintf("%s:%s", importID, rr.SKUCode)
		if _, err := im.stock.SetQuantity(ctx, tenantID, skuID, locationID, rr.Qty, "import", refID, "stock count import"); err != nil {
			result.addError(line, err)
			continue
		}
		result.Applied++
	}
	return result, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
