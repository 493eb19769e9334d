package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/shared"
	"github.com/parceldesk/parceldesk/internal/shipments"
	"github.com/parceldesk/parceldesk/internal/stock"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Upsert(ctx context.Context, ret Return) (int64, bool, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (Return, error)
	List(ctx context.Context, tenantID string, p shared.Pagination) ([]Return, error)
	MarkRestocked(ctx context.Context, tenantID string, id int64) error
}

// ShipmentPort looks up the shipment a return came from.
type ShipmentPort interface {
	FindIDByOrderRef(ctx context.Context, tenantID, orderRef string) (int64, error)
	ListItems(ctx context.Context, shipmentID int64) ([]shipments.Item, error)
}

// LedgerPort books the restock movements.
type LedgerPort interface {
	Restock(ctx context.Context, tenantID string, lines []stock.ConsumeLine, referenceType, referenceID string) (stock.ConsumeResult, error)
}

// Service owns return persistence and the restock flow.
type Service struct {
	repo      RepositoryPort
	shipments ShipmentPort
	ledger    LedgerPort
	logger    *slog.Logger
}

// NewService builds the returns service.
func NewService(repo RepositoryPort, shipmentPort ShipmentPort, ledger LedgerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, shipments: shipmentPort, ledger: ledger, logger: logger}
}

// UpsertFromCarrier stores one fetched return and reports whether it is
// new. The original shipment link is resolved by order reference; a miss
// leaves the link empty without failing the sync.
func (s *Service) UpsertFromCarrier(ctx context.Context, tenantID string, cr carrier.Return) (int64, bool, error) {
	if tenantID == "" {
		return 0, false, shared.ErrTenantRequired
	}
	ret := Return{
		TenantID:       tenantID,
		ExternalID:     cr.ExternalID,
		ReturnID:       cr.ReturnID,
		OrderRef:       cr.OrderRef,
		TrackingNumber: cr.TrackingNumber,
		TrackingURL:    cr.TrackingURL,
		Status:         cr.Status,
		StatusMessage:  cr.StatusMessage,
		Reason:         cr.Reason,
		ReasonComment:  cr.ReasonComment,
		AnnouncedAt:    cr.CreatedAt,
		Raw:            cr.Raw,
	}
	if cr.OrderRef != "" {
		shipmentID, err := s.shipments.FindIDByOrderRef(ctx, tenantID, cr.OrderRef)
		switch {
		case err == nil:
			ret.OriginalShipmentID = &shipmentID
		case errors.Is(err, shipments.ErrShipmentNotFound):
			// leave unlinked
		default:
			return 0, false, fmt.Errorf("returns: link %s: %w", cr.ExternalID, err)
		}
	}
	id, created, err := s.repo.Upsert(ctx, ret)
	if err != nil {
		return 0, false, fmt.Errorf("returns: upsert %s: %w", cr.ExternalID, err)
	}
	return id, created, nil
}

// Get returns one return.
func (s *Service) Get(ctx context.Context, tenantID, externalID string) (Return, error) {
	return s.repo.GetByExternalID(ctx, tenantID, externalID)
}

// List returns the tenant's returns.
func (s *Service) List(ctx context.Context, tenantID string, p shared.Pagination) ([]Return, error) {
	return s.repo.List(ctx, tenantID, p)
}

// Restock books the items of the linked original shipment back onto the
// ledger. The movement key is derived from the return's external id, so a
// retried restock books nothing twice.
func (s *Service) Restock(ctx context.Context, tenantID, externalID string) (stock.ConsumeResult, error) {
	ret, err := s.repo.GetByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return stock.ConsumeResult{}, err
	}
	if ret.RestockedAt != nil {
		return stock.ConsumeResult{}, ErrAlreadyRestocked
	}
	if ret.OriginalShipmentID == nil {
		return stock.ConsumeResult{}, ErrNoOriginalShipment
	}
	items, err := s.shipments.ListItems(ctx, *ret.OriginalShipmentID)
	if err != nil {
		return stock.ConsumeResult{}, err
	}
	lines := make([]stock.ConsumeLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, stock.ConsumeLine{SKUCode: item.SKUCode, Qty: item.Qty})
	}
	result, err := s.ledger.Restock(ctx, tenantID, lines, "return_restock", ret.ExternalID)
	if err != nil {
		return result, err
	}
	if err := s.repo.MarkRestocked(ctx, tenantID, ret.ID); err != nil && !errors.Is(err, ErrAlreadyRestocked) {
		return result, err
	}
	s.logger.Info("return restocked",
		slog.String("tenant_id", tenantID),
		slog.String("external_id", externalID),
		slog.Int("booked", result.Consumed),
		slog.Int("skipped", result.Skipped))
	return result, nil
}
