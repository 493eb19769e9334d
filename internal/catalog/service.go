package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/stock"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	ResolveSKUCodes(ctx context.Context, tenantID string, codes []string) (map[string]int64, error)
	BundleComponents(ctx context.Context, tenantID string, skuID int64) ([]stock.BundleComponent, error)
	DefaultLocationID(ctx context.Context, tenantID string) (int64, error)
	GetSKU(ctx context.Context, tenantID string, id int64) (SKU, error)
	ListSKUs(ctx context.Context, tenantID string) ([]SKU, error)
	UpsertSKU(ctx context.Context, s SKU) (int64, error)
	UpsertLocation(ctx context.Context, l Location) (int64, error)
	InsertInboundRestock(ctx context.Context, in InboundRestock) (int64, error)
	GetInboundRestock(ctx context.Context, tenantID string, id int64) (InboundRestock, error)
	MarkRestockReceived(ctx context.Context, tenantID string, id int64) error
}

// LedgerPort is the slice of the stock service the catalog needs when a
// restock is received.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, input stock.MovementInput) (stock.MovementResult, error)
	MovementBooked(ctx context.Context, tenantID string, key stock.MovementKey) (bool, error)
}

// Service manages skus, locations and inbound restocks.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
	logger *slog.Logger
}

// NewService builds the catalog service.
func NewService(repo RepositoryPort, ledger LedgerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, logger: logger}
}

// ListSKUs returns the tenant's skus.
func (s *Service) ListSKUs(ctx context.Context, tenantID string) ([]SKU, error) {
	return s.repo.ListSKUs(ctx, tenantID)
}

// GetSKU returns one sku.
func (s *Service) GetSKU(ctx context.Context, tenantID string, id int64) (SKU, error) {
	return s.repo.GetSKU(ctx, tenantID, id)
}

// UpsertSKU creates or updates a sku keyed by code.
func (s *Service) UpsertSKU(ctx context.Context, sku SKU) (int64, error) {
	if sku.TenantID == "" {
		return 0, shared.ErrTenantRequired
	}
	if sku.Code == "" {
		return 0, fmt.Errorf("catalog: sku code required")
	}
	return s.repo.UpsertSKU(ctx, sku)
}

// UpsertLocation creates or updates a location keyed by code.
func (s *Service) UpsertLocation(ctx context.Context, loc Location) (int64, error) {
	if loc.TenantID == "" {
		return 0, shared.ErrTenantRequired
	}
	if loc.Code == "" {
		return 0, fmt.Errorf("catalog: location code required")
	}
	return s.repo.UpsertLocation(ctx, loc)
}

// DefaultLocationID returns the tenant's default stock location.
func (s *Service) DefaultLocationID(ctx context.Context, tenantID string) (int64, error) {
	return s.repo.DefaultLocationID(ctx, tenantID)
}

// SKUIDByCode resolves one sku code to its id.
func (s *Service) SKUIDByCode(ctx context.Context, tenantID, code string) (int64, error) {
	ids, err := s.repo.ResolveSKUCodes(ctx, tenantID, []string{code})
	if err != nil {
		return 0, err
	}
	id, ok := ids[code]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSKUNotFound, code)
	}
	return id, nil
}

// AnnounceRestock records an inbound delivery.
func (s *Service) AnnounceRestock(ctx context.Context, in InboundRestock) (int64, error) {
	if in.TenantID == "" {
		return 0, shared.ErrTenantRequired
	}
	if in.Qty <= 0 {
		return 0, fmt.Errorf("catalog: restock qty must be positive")
	}
	if in.LocationID == 0 {
		locationID, err := s.repo.DefaultLocationID(ctx, in.TenantID)
		if err != nil {
			return 0, err
		}
		in.LocationID = locationID
	}
	if _, err := s.repo.GetSKU(ctx, in.TenantID, in.SKUID); err != nil {
		return 0, err
	}
	return s.repo.InsertInboundRestock(ctx, in)
}

// ReceiveRestock marks an inbound delivery as arrived and books the
// matching restock movement. The movement key is derived from the restock
// id, so receiving twice books once.
func (s *Service) ReceiveRestock(ctx context.Context, tenantID string, id int64) (stock.MovementResult, error) {
	in, err := s.repo.GetInboundRestock(ctx, tenantID, id)
	if err != nil {
		return stock.MovementResult{}, err
	}
	key := stock.MovementKey{ReferenceType: "inbound_restock", ReferenceID: strconv.FormatInt(in.ID, 10), SKUID: in.SKUID}
	booked, err := s.ledger.MovementBooked(ctx, tenantID, key)
	if err != nil {
		return stock.MovementResult{}, err
	}
	if booked {
		s.logger.Info("restock already booked", slog.String("tenant_id", tenantID), slog.Int64("restock_id", id))
		return stock.MovementResult{Skipped: true}, nil
	}
	if err := s.repo.MarkRestockReceived(ctx, tenantID, id); err != nil && !errors.Is(err, ErrRestockReceived) {
		return stock.MovementResult{}, err
	}
	result, err := s.ledger.ApplyMovement(ctx, stock.MovementInput{
		TenantID:      tenantID,
		SKUID:         in.SKUID,
		LocationID:    in.LocationID,
		Type:          stock.MovementRestock,
		Adjustment:    in.Qty,
		ReferenceType: "inbound_restock",
		ReferenceID:   strconv.FormatInt(in.ID, 10),
		Note:          in.Reference,
	})
	if err != nil {
		return stock.MovementResult{}, err
	}
	if result.Skipped {
		s.logger.Info("restock already booked", slog.String("tenant_id", tenantID), slog.Int64("restock_id", id))
	}
	return result, nil
}
