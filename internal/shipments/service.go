package shipments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/pricing"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Upsert(ctx context.Context, s Shipment) (int64, bool, error)
	ReplaceItems(ctx context.Context, shipmentID int64, items []Item) error
	GetByExternalID(ctx context.Context, tenantID, externalID string) (Shipment, error)
	List(ctx context.Context, tenantID string, filter ListFilter, p shared.Pagination) ([]Shipment, error)
	ListItems(ctx context.Context, shipmentID int64) ([]Item, error)
	UpdatePricing(ctx context.Context, tenantID string, shipmentID int64, res pricing.Resolution) error
}

// CarrierPort is the slice of the carrier client the service needs.
type CarrierPort interface {
	GetParcel(ctx context.Context, creds carrier.Credentials, externalID string) (carrier.Shipment, error)
	CancelParcel(ctx context.Context, creds carrier.Credentials, externalID string) error
	FetchLabel(ctx context.Context, creds carrier.Credentials, labelURL string) ([]byte, error)
}

// CredentialsPort resolves carrier credentials per tenant.
type CredentialsPort interface {
	ResolveCredentials(ctx context.Context, tenantID string) (carrier.Credentials, error)
}

// PricingPort resolves a single shipment against the pricing rules.
type PricingPort interface {
	Resolve(ctx context.Context, tenantID, carrierName string, weightGrams int64) (pricing.Resolution, error)
}

// Service owns shipment persistence and carrier passthrough operations.
type Service struct {
	repo    RepositoryPort
	client  CarrierPort
	creds   CredentialsPort
	pricing PricingPort
	logger  *slog.Logger
}

// NewService builds the shipment service.
func NewService(repo RepositoryPort, client CarrierPort, creds CredentialsPort, pricingSvc PricingPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, client: client, creds: creds, pricing: pricingSvc, logger: logger}
}

// fromCarrier maps a fetched parcel onto the local shipment shape.
func fromCarrier(tenantID string, cs carrier.Shipment) (Shipment, []Item) {
	s := Shipment{
		TenantID:      tenantID,
		ExternalID:    cs.ExternalID,
		OrderRef:      cs.OrderRef,
		Carrier:       cs.Carrier,
		Service:       cs.Service,
		WeightGrams:   cs.WeightGrams,
		Tracking:      cs.Tracking,
		TrackingURL:   cs.TrackingURL,
		StatusID:      cs.StatusID,
		StatusMessage: cs.StatusMessage,
		ShippedAt:     cs.ShippedAt,
		CountryCode:   cs.CountryCode,
		IsReturn:      cs.IsReturn,
		HasError:      cs.HasError,
		ErrorMessage:  cs.ErrorMessage,
		LabelURL:      cs.LabelURL,
		Raw:           cs.Raw,
	}
	items := make([]Item, 0, len(cs.Items))
	for _, it := range cs.Items {
		items = append(items, Item{SKUCode: it.SKUCode, Qty: it.Qty, Description: it.Description, Value: it.Value})
	}
	return s, items
}

// UpsertFromCarrier stores one fetched parcel, resolves its price and
// reports whether the row is new. Reprocessing an unchanged parcel is safe;
// the external id keys the write.
func (s *Service) UpsertFromCarrier(ctx context.Context, tenantID string, cs carrier.Shipment) (int64, bool, error) {
	if tenantID == "" {
		return 0, false, shared.ErrTenantRequired
	}
	shipment, items := fromCarrier(tenantID, cs)
	id, created, err := s.repo.Upsert(ctx, shipment)
	if err != nil {
		return 0, false, fmt.Errorf("shipments: upsert %s: %w", cs.ExternalID, err)
	}
	if err := s.repo.ReplaceItems(ctx, id, items); err != nil {
		return id, created, fmt.Errorf("shipments: items for %s: %w", cs.ExternalID, err)
	}
	if !shipment.IsReturn && s.pricing != nil {
		res, err := s.pricing.Resolve(ctx, tenantID, shipment.Carrier, shipment.WeightGrams)
		if err != nil {
			return id, created, fmt.Errorf("shipments: price %s: %w", cs.ExternalID, err)
		}
		if err := s.repo.UpdatePricing(ctx, tenantID, id, res); err != nil {
			return id, created, err
		}
	}
	return id, created, nil
}

// Get returns one shipment with its items.
func (s *Service) Get(ctx context.Context, tenantID, externalID string) (Shipment, []Item, error) {
	shipment, err := s.repo.GetByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return Shipment{}, nil, err
	}
	items, err := s.repo.ListItems(ctx, shipment.ID)
	if err != nil {
		return Shipment{}, nil, err
	}
	return shipment, items, nil
}

// List returns shipments matching the filter.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter, p shared.Pagination) ([]Shipment, error) {
	return s.repo.List(ctx, tenantID, filter, p)
}

// Refresh re-fetches one parcel from the carrier and overwrites the local
// copy with whatever the carrier reports now.
func (s *Service) Refresh(ctx context.Context, tenantID, externalID string) (Shipment, error) {
	if _, err := s.repo.GetByExternalID(ctx, tenantID, externalID); err != nil {
		return Shipment{}, err
	}
	creds, err := s.creds.ResolveCredentials(ctx, tenantID)
	if err != nil {
		return Shipment{}, err
	}
	fetched, err := s.client.GetParcel(ctx, creds, externalID)
	if err != nil {
		return Shipment{}, fmt.Errorf("shipments: refresh %s: %w", externalID, err)
	}
	if _, _, err := s.UpsertFromCarrier(ctx, tenantID, fetched); err != nil {
		return Shipment{}, err
	}
	return s.repo.GetByExternalID(ctx, tenantID, externalID)
}

// Cancel asks the carrier to cancel a parcel. A parcel the carrier already
// reports as cancelled is rejected locally before any carrier call.
func (s *Service) Cancel(ctx context.Context, tenantID, externalID string) (Shipment, error) {
	existing, err := s.repo.GetByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return Shipment{}, err
	}
	if existing.IsCancelled() {
		return Shipment{}, ErrAlreadyCancelled
	}
	creds, err := s.creds.ResolveCredentials(ctx, tenantID)
	if err != nil {
		return Shipment{}, err
	}
	if err := s.client.CancelParcel(ctx, creds, externalID); err != nil {
		return Shipment{}, fmt.Errorf("shipments: cancel %s: %w", externalID, err)
	}
	s.logger.Info("shipment cancelled", slog.String("tenant_id", tenantID), slog.String("external_id", externalID))
	return s.Refresh(ctx, tenantID, externalID)
}

// Label downloads the shipping label of a parcel.
func (s *Service) Label(ctx context.Context, tenantID, externalID string) ([]byte, error) {
	shipment, err := s.repo.GetByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	if shipment.LabelURL == "" {
		return nil, ErrNoLabel
	}
	creds, err := s.creds.ResolveCredentials(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.client.FetchLabel(ctx, creds, shipment.LabelURL)
}
