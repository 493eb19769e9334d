package catalog

import (
	"errors"
	"time"
)

// SKU is one sellable article. Bundles are SKUs whose shipments decompose
// into component SKUs for stock purposes.
type SKU struct {
	ID        int64
	TenantID  string
	Code      string
	Name      string
	IsBundle  bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location is a physical stock location. Every tenant has exactly one
// default location that consumption books against.
type Location struct {
	ID        int64
	TenantID  string
	Code      string
	Name      string
	IsDefault bool
	CreatedAt time.Time
}

// BundleLine links a bundle SKU to one component.
type BundleLine struct {
	BundleSKUID    int64
	ComponentSKUID int64
	Qty            int64
}

// InboundRestock is an announced delivery that has not arrived yet. Once
// received it turns into a restock movement on the ledger.
type InboundRestock struct {
	ID         int64
	TenantID   string
	SKUID      int64
	LocationID int64
	Qty        int64
	Reference  string
	ExpectedAt *time.Time
	ReceivedAt *time.Time
	CreatedAt  time.Time
}

var (
	// ErrSKUNotFound indicates an unknown sku.
	ErrSKUNotFound = errors.New("catalog: sku not found")
	// ErrLocationNotFound indicates the tenant has no matching location.
	ErrLocationNotFound = errors.New("catalog: location not found")
	// ErrRestockNotFound indicates an unknown inbound restock.
	ErrRestockNotFound = errors.New("catalog: inbound restock not found")
	// ErrRestockReceived indicates the restock was already received.
	ErrRestockReceived = errors.New("catalog: inbound restock already received")
)
