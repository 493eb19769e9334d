package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parceldesk/parceldesk/internal/observability"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	MovementExists(ctx context.Context, tenantID string, key MovementKey) (bool, error)
	ListMovementKeys(ctx context.Context, tenantID, referenceType string) (map[MovementKey]struct{}, error)
	ListMovements(ctx context.Context, tenantID string, skuID int64, p shared.Pagination) ([]Movement, error)
	GetSnapshot(ctx context.Context, tenantID string, skuID, locationID int64) (Snapshot, error)
	ListSnapshots(ctx context.Context, tenantID string) ([]Snapshot, error)
	ConsumedSince(ctx context.Context, tenantID string, since time.Time) (map[int64]int64, error)
}

// CatalogPort is the slice of the catalog the ledger needs: code lookups,
// bundle decomposition and the tenant's default location.
type CatalogPort interface {
	ResolveSKUCodes(ctx context.Context, tenantID string, codes []string) (map[string]int64, error)
	BundleComponents(ctx context.Context, tenantID string, skuID int64) ([]BundleComponent, error)
	DefaultLocationID(ctx context.Context, tenantID string) (int64, error)
}

// BundleComponent is one physical sku inside a bundle.
type BundleComponent struct {
	SKUID int64
	Qty   int64
}

// Service owns all writes to the stock ledger.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService builds the stock service.
func NewService(repo RepositoryPort, catalog CatalogPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, metrics: metrics, logger: logger}
}

// SystemActor is recorded on movements booked by background jobs rather
// than a signed-in user.
const SystemActor = "system"

// actorFrom resolves who books a movement: the session user when the call
// came in through the API, the system actor otherwise.
func actorFrom(ctx context.Context) string {
	if sess := shared.SessionFromContext(ctx); sess != nil && sess.UserID != "" {
		return sess.UserID
	}
	return SystemActor
}

// MovementInput describes one requested ledger movement. Actor may be left
// empty; it is then resolved from the session on the context.
type MovementInput struct {
	TenantID      string
	SKUID         int64
	LocationID    int64
	Type          MovementType
	Adjustment    int64
	ReferenceType string
	ReferenceID   string
	Actor         string
	Note          string
}

// ApplyMovement books one movement. The snapshot update and the ledger row
// land in the same transaction: either both happen or neither does. A
// movement whose key was already booked is skipped, not re-applied.
func (s *Service) ApplyMovement(ctx context.Context, input MovementInput) (MovementResult, error) {
	if input.TenantID == "" {
		return MovementResult{}, shared.ErrTenantRequired
	}
	if input.SKUID == 0 || input.ReferenceType == "" || input.ReferenceID == "" {
		return MovementResult{}, fmt.Errorf("stock: sku and reference required")
	}
	if input.Adjustment == 0 {
		return MovementResult{}, fmt.Errorf("stock: adjustment must not be zero")
	}
	if input.Actor == "" {
		input.Actor = actorFrom(ctx)
	}

	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := tx.GetSnapshotForUpdate(ctx, input.TenantID, input.SKUID, input.LocationID)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return err
		}
		newQty := snap.Qty + input.Adjustment
		if newQty < 0 {
			return &NegativeStockError{
				SKUID:      input.SKUID,
				LocationID: input.LocationID,
				Current:    snap.Qty,
				Requested:  input.Adjustment,
			}
		}
		movement := Movement{
			TenantID:      input.TenantID,
			SKUID:         input.SKUID,
			LocationID:    input.LocationID,
			Type:          input.Type,
			Adjustment:    input.Adjustment,
			QtyBefore:     snap.Qty,
			QtyAfter:      newQty,
			ReferenceType: input.ReferenceType,
			ReferenceID:   input.ReferenceID,
			Actor:         input.Actor,
			Note:          input.Note,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		snap.Qty = newQty
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}
		result = MovementResult{MovementID: movementID, PreviousQty: movement.QtyBefore, NewQty: newQty}
		return nil
	})
	if errors.Is(err, ErrDuplicateMovement) {
		return MovementResult{Skipped: true}, nil
	}
	if err != nil {
		return MovementResult{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(input.Type))
	}
	return result, nil
}

// SetQuantity books an adjustment that brings the snapshot to target. The
// delta is computed inside the transaction against the locked snapshot, so
// concurrent writers cannot make it stale.
func (s *Service) SetQuantity(ctx context.Context, tenantID string, skuID, locationID, target int64, referenceType, referenceID, note string) (MovementResult, error) {
	if tenantID == "" {
		return MovementResult{}, shared.ErrTenantRequired
	}
	if target < 0 {
		return MovementResult{}, fmt.Errorf("stock: target quantity must not be negative")
	}
	var result MovementResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := tx.GetSnapshotForUpdate(ctx, tenantID, skuID, locationID)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return err
		}
		delta := target - snap.Qty
		if delta == 0 {
			result = MovementResult{PreviousQty: snap.Qty, NewQty: snap.Qty, Skipped: true}
			return nil
		}
		movement := Movement{
			TenantID:      tenantID,
			SKUID:         skuID,
			LocationID:    locationID,
			Type:          MovementAdjustment,
			Adjustment:    delta,
			QtyBefore:     snap.Qty,
			QtyAfter:      target,
			ReferenceType: referenceType,
			ReferenceID:   referenceID,
			Actor:         actorFrom(ctx),
			Note:          note,
		}
		movementID, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		snap.Qty = target
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}
		result = MovementResult{MovementID: movementID, PreviousQty: movement.QtyBefore, NewQty: target}
		return nil
	})
	if errors.Is(err, ErrDuplicateMovement) {
		return MovementResult{Skipped: true}, nil
	}
	if err != nil {
		return MovementResult{}, err
	}
	if !result.Skipped && s.metrics != nil {
		s.metrics.ObserveMovement(string(MovementAdjustment))
	}
	return result, nil
}

// ConsumeLine is one shipped item to book consumption for.
type ConsumeLine struct {
	SKUCode string
	Qty     int64
}

// ConsumeResult summarises one consumption booking.
type ConsumeResult struct {
	Consumed int
	Skipped  int
	Errors   []string
}

// Consume books negative movements for every shipped item. Bundle skus are
// decomposed into their components first; each component gets its own
// ledger row under the same reference. Unknown sku codes are reported and
// skipped rather than failing the whole shipment.
func (s *Service) Consume(ctx context.Context, tenantID string, lines []ConsumeLine, referenceType, referenceID string) (ConsumeResult, error) {
	return s.bookLines(ctx, tenantID, lines, MovementConsume, -1, referenceType, referenceID)
}

// Restock books positive movements for returned items, decomposing bundles
// the same way consumption does.
func (s *Service) Restock(ctx context.Context, tenantID string, lines []ConsumeLine, referenceType, referenceID string) (ConsumeResult, error) {
	return s.bookLines(ctx, tenantID, lines, MovementReturnRestock, 1, referenceType, referenceID)
}

func (s *Service) bookLines(ctx context.Context, tenantID string, lines []ConsumeLine, movementType MovementType, sign int64, referenceType, referenceID string) (ConsumeResult, error) {
	if tenantID == "" {
		return ConsumeResult{}, shared.ErrTenantRequired
	}
	var result ConsumeResult
	if len(lines) == 0 {
		return result, nil
	}
	locationID, err := s.catalog.DefaultLocationID(ctx, tenantID)
	if err != nil {
		return result, fmt.Errorf("stock: resolve default location: %w", err)
	}
	codes := make([]string, 0, len(lines))
	for _, line := range lines {
		codes = append(codes, line.SKUCode)
	}
	skuIDs, err := s.catalog.ResolveSKUCodes(ctx, tenantID, codes)
	if err != nil {
		return result, fmt.Errorf("stock: resolve sku codes: %w", err)
	}

	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		skuID, ok := skuIDs[line.SKUCode]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown sku %q", line.SKUCode))
			continue
		}
		components, err := s.catalog.BundleComponents(ctx, tenantID, skuID)
		if err != nil {
			return result, fmt.Errorf("stock: resolve bundle %d: %w", skuID, err)
		}
		if len(components) == 0 {
			components = []BundleComponent{{SKUID: skuID, Qty: 1}}
		}
		for _, comp := range components {
			res, err := s.ApplyMovement(ctx, MovementInput{
				TenantID:      tenantID,
				SKUID:         comp.SKUID,
				LocationID:    locationID,
				Type:          movementType,
				Adjustment:    sign * line.Qty * comp.Qty,
				ReferenceType: referenceType,
				ReferenceID:   referenceID,
			})
			var negErr *NegativeStockError
			if errors.As(err, &negErr) {
				result.Errors = append(result.Errors, negErr.Error())
				continue
			}
			if err != nil {
				return result, err
			}
			if res.Skipped {
				result.Skipped++
			} else {
				result.Consumed++
			}
		}
	}
	return result, nil
}

// MovementKeys returns the keys of every booked movement with the given
// reference type. The recalculation sweep loads them once per run to skip
// source events that already have ledger rows.
func (s *Service) MovementKeys(ctx context.Context, tenantID, referenceType string) (map[MovementKey]struct{}, error) {
	return s.repo.ListMovementKeys(ctx, tenantID, referenceType)
}

// MovementBooked reports whether a ledger row with the given key exists.
func (s *Service) MovementBooked(ctx context.Context, tenantID string, key MovementKey) (bool, error) {
	return s.repo.MovementExists(ctx, tenantID, key)
}

// ListMovements returns ledger rows for one sku.
func (s *Service) ListMovements(ctx context.Context, tenantID string, skuID int64, p shared.Pagination) ([]Movement, error) {
	return s.repo.ListMovements(ctx, tenantID, skuID, p)
}

// ListSnapshots returns all current quantities for a tenant.
func (s *Service) ListSnapshots(ctx context.Context, tenantID string) ([]Snapshot, error) {
	return s.repo.ListSnapshots(ctx, tenantID)
}

// GetSnapshot returns the current quantity of one sku.
func (s *Service) GetSnapshot(ctx context.Context, tenantID string, skuID, locationID int64) (Snapshot, error) {
	return s.repo.GetSnapshot(ctx, tenantID, skuID, locationID)
}
