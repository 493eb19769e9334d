package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Rule maps a carrier and a weight band to a price. Bands are half-open:
// a parcel matches when weight_min_grams <= weight < weight_max_grams.
type Rule struct {
	ID             int64
	TenantID       string
	Carrier        string
	WeightMinGrams int64
	WeightMaxGrams int64
	PriceEUR       decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Matches reports whether the rule covers the given carrier and weight.
// Carrier comparison is case-insensitive.
func (r Rule) Matches(carrierName string, weightGrams int64) bool {
	if !foldEqual(r.Carrier, carrierName) {
		return false
	}
	return weightGrams >= r.WeightMinGrams && weightGrams < r.WeightMaxGrams
}

var folder = cases.Fold()

func foldEqual(a, b string) bool {
	return folder.String(a) == folder.String(b)
}

// StatusOK and StatusMissing are the two pricing outcomes stored on a
// shipment. A shipment with no matching rule is not an error; it simply
// stays in the missing state until a rule exists.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
)

// Resolution is the outcome of resolving one shipment against the rules.
type Resolution struct {
	Status   string
	RuleID   int64
	PriceEUR decimal.Decimal
}

var (
	// ErrRuleNotFound indicates a rule id lookup failed.
	ErrRuleNotFound = errors.New("pricing: rule not found")
	// ErrInvalidBand indicates min >= max on a submitted rule.
	ErrInvalidBand = errors.New("pricing: weight_min_grams must be below weight_max_grams")
)

// titler renders stored carrier names consistently in responses.
var titler = cases.Title(language.English)

// DisplayCarrier normalises a carrier name for display.
func DisplayCarrier(name string) string {
	return titler.String(name)
}
