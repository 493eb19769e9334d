package shipments

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Shipment is one parcel as stored locally. External state from the carrier
// is overwritten on every sync; local fields (pricing outcome, consumption
// bookkeeping) survive the overwrite.
type Shipment struct {
	ID            int64
	TenantID      string
	ExternalID    string
	OrderRef      string
	Carrier       string
	Service       string
	WeightGrams   int64
	Tracking      string
	TrackingURL   string
	StatusID      int
	StatusMessage string
	ShippedAt     time.Time
	CountryCode   string
	IsReturn      bool
	HasError      bool
	ErrorMessage  string
	LabelURL      string

	PricingStatus   string
	PricingRuleID   *int64
	ComputedCostEUR decimal.NullDecimal

	Raw       json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// statusCancelled is the carrier status id for a cancelled parcel.
const statusCancelled = 2000

// IsCancelled reports whether the parcel was cancelled at the carrier.
func (s Shipment) IsCancelled() bool {
	return s.StatusID == statusCancelled
}

// Item is one line of a shipment.
type Item struct {
	ID          int64
	ShipmentID  int64
	SKUCode     string
	Qty         int64
	Description string
	Value       decimal.Decimal
}

var (
	// ErrShipmentNotFound indicates an unknown shipment.
	ErrShipmentNotFound = errors.New("shipments: shipment not found")
	// ErrAlreadyCancelled indicates the parcel was cancelled before.
	ErrAlreadyCancelled = errors.New("shipments: shipment already cancelled")
	// ErrNoLabel indicates the shipment carries no label URL.
	ErrNoLabel = errors.New("shipments: no label available")
)
