// Package carrier implements the client for the external carrier API
// (Sendcloud v2). Records fetched here are mapped into canonical local
// shipments and returns by the sync reconciler.
package carrier

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials authenticate one tenant against the carrier API (HTTP Basic).
type Credentials struct {
	APIKey string
	Secret string
}

// Valid reports whether both parts of the key pair are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != ""
}

// Item is one parcel line referencing a SKU by code.
type Item struct {
	SKUCode     string
	Qty         int64
	Description string
	Value       decimal.Decimal
}

// Shipment is a parcel mapped into the canonical shape used by the reconciler.
type Shipment struct {
	ExternalID     string
	OrderRef       string
	Carrier        string
	Service        string
	WeightGrams    int64
	Tracking       string
	TrackingURL    string
	StatusID       int
	StatusMessage  string
	ShippedAt      time.Time
	CountryCode    string
	ServicePointID string
	IsReturn       bool
	HasError       bool
	ErrorMessage   string
	LabelURL       string
	Items          []Item
	Raw            json.RawMessage
}

// Return is a carrier return mapped into the canonical shape.
type Return struct {
	ExternalID     string
	ReturnID       string
	OrderRef       string
	TrackingNumber string
	TrackingURL    string
	Status         string
	StatusMessage  string
	Reason         string
	ReasonComment  string
	CreatedAt      time.Time
	Raw            json.RawMessage
}

// Return statuses after mapping from the carrier's id/slug soup.
const (
	ReturnStatusAnnounced = "announced"
	ReturnStatusReady     = "ready"
	ReturnStatusInTransit = "in_transit"
	ReturnStatusDelivered = "delivered"
	ReturnStatusCancelled = "cancelled"
	ReturnStatusAtCarrier = "at_carrier"
)

// parcelPayload mirrors the carrier's parcel wire format. Date fields arrive
// as strings in several formats or as unix timestamps, hence json.RawMessage.
type parcelPayload struct {
	ID             json.Number     `json:"id"`
	Weight         string          `json:"weight"`
	OrderNumber    string          `json:"order_number"`
	TrackingNumber string          `json:"tracking_number"`
	TrackingURL    string          `json:"tracking_url"`
	DateCreated    json.RawMessage `json:"date_created"`
	DateAnnounced  json.RawMessage `json:"date_announced"`
	DateUpdated    json.RawMessage `json:"date_updated"`
	CreatedAt      json.RawMessage `json:"created_at"`
	UpdatedAt      json.RawMessage `json:"updated_at"`
	IsReturn       bool            `json:"is_return"`
	ToServicePoint *int64          `json:"to_service_point"`

	Carrier *struct {
		Code string `json:"code"`
	} `json:"carrier"`
	Shipment *struct {
		Name string `json:"name"`
	} `json:"shipment"`
	Status *struct {
		ID      int    `json:"id"`
		Message string `json:"message"`
	} `json:"status"`
	Country *struct {
		ISO2 string `json:"iso_2"`
		Name string `json:"name"`
	} `json:"country"`
	Label *struct {
		LabelPrinter string `json:"label_printer"`
	} `json:"label"`

	ParcelItems []struct {
		SKU         string `json:"sku"`
		Description string `json:"description"`
		Quantity    int64  `json:"quantity"`
		Value       string `json:"value"`
	} `json:"parcel_items"`

	Errors map[string][]string `json:"errors"`
}

type parcelListResponse struct {
	Parcels []json.RawMessage `json:"parcels"`
	Next    string            `json:"next"`
}

type parcelEnvelope struct {
	Parcel json.RawMessage `json:"parcel"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type idMessage struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

type returnParcelData struct {
	OrderNumber      string `json:"order_number"`
	TrackingNumber   string `json:"tracking_number"`
	TrackingURL      string `json:"tracking_url"`
	GlobalStatusSlug string `json:"global_status_slug"`
}

type returnPayload struct {
	ID                   json.Number       `json:"id"`
	Status               json.RawMessage   `json:"status"`
	Reason               json.RawMessage   `json:"reason"`
	Refund               json.RawMessage   `json:"refund"`
	Message              string            `json:"message"`
	CreatedAt            json.RawMessage   `json:"created_at"`
	IncomingParcel       json.Number       `json:"incoming_parcel"`
	IncomingParcelStatus *idMessage        `json:"incoming_parcel_status"`
	IncomingParcelData   *returnParcelData `json:"incoming_parcel_data"`
	OutgoingParcelData   *returnParcelData `json:"outgoing_parcel_data"`
}

type returnListResponse struct {
	Returns []json.RawMessage `json:"returns"`
	Next    string            `json:"next"`
}
