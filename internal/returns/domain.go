package returns

import (
	"encoding/json"
	"errors"
	"time"
)

// Return is one incoming return parcel as stored locally. The link to the
// original shipment is best effort: it is resolved by order reference at
// sync time and left empty when no shipment matches.
type Return struct {
	ID                 int64
	TenantID           string
	ExternalID         string
	ReturnID           string
	OrderRef           string
	OriginalShipmentID *int64
	TrackingNumber     string
	TrackingURL        string
	Status             string
	StatusMessage      string
	Reason             string
	ReasonComment      string
	RestockedAt        *time.Time
	AnnouncedAt        time.Time
	Raw                json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	// ErrReturnNotFound indicates an unknown return.
	ErrReturnNotFound = errors.New("returns: return not found")
	// ErrAlreadyRestocked indicates the return was restocked before.
	ErrAlreadyRestocked = errors.New("returns: already restocked")
	// ErrNoOriginalShipment indicates the return has no linked shipment to
	// restock from.
	ErrNoOriginalShipment = errors.New("returns: no linked shipment")
)
