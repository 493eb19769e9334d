package stock

import (
	"errors"
	"fmt"
	"time"
)

// MovementType classifies ledger entries.
type MovementType string

const (
	MovementConsume       MovementType = "consume"
	MovementRestock       MovementType = "restock"
	MovementAdjustment    MovementType = "adjustment"
	MovementReturnRestock MovementType = "return_restock"
)

// Movement is one append-only ledger row. qty_before and qty_after record
// the snapshot around the movement so the ledger can be audited without
// replaying it. The triple (reference_type, reference_id, sku_id) is unique
// per tenant, which is what makes reprocessing the same source event a
// no-op instead of a double booking.
type Movement struct {
	ID            int64
	TenantID      string
	SKUID         int64
	LocationID    int64
	Type          MovementType
	Adjustment    int64
	QtyBefore     int64
	QtyAfter      int64
	ReferenceType string
	ReferenceID   string
	Actor         string
	Note          string
	CreatedAt     time.Time
}

// Key identifies the source event of a movement.
func (m Movement) Key() MovementKey {
	return MovementKey{ReferenceType: m.ReferenceType, ReferenceID: m.ReferenceID, SKUID: m.SKUID}
}

// MovementKey is the idempotency key of a ledger row.
type MovementKey struct {
	ReferenceType string
	ReferenceID   string
	SKUID         int64
}

// Snapshot is the current quantity of one SKU at one location. It is a
// derived value: at all times it equals the sum of the ledger for that
// (sku, location).
type Snapshot struct {
	TenantID   string
	SKUID      int64
	LocationID int64
	Qty        int64
	UpdatedAt  time.Time
}

// MovementResult reports the snapshot transition caused by one movement.
type MovementResult struct {
	MovementID  int64
	PreviousQty int64
	NewQty      int64
	Skipped     bool
}

// NegativeStockError rejects a movement that would take a snapshot below
// zero. The ledger and snapshot are left untouched.
type NegativeStockError struct {
	SKUID      int64
	LocationID int64
	Current    int64
	Requested  int64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stock: sku %d at location %d has %d, movement of %d would go negative",
		e.SKUID, e.LocationID, e.Current, e.Requested)
}

var (
	// ErrDuplicateMovement indicates the movement key already exists.
	ErrDuplicateMovement = errors.New("stock: movement already recorded")
	// ErrSKUNotFound indicates an unknown sku id.
	ErrSKUNotFound = errors.New("stock: sku not found")
)
