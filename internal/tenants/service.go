package tenants

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/parceldesk/parceldesk/internal/carrier"
	"github.com/parceldesk/parceldesk/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	GetTenant(ctx context.Context, id string) (Tenant, error)
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	GetSettings(ctx context.Context, tenantID string) (Settings, error)
	UpsertSettings(ctx context.Context, s Settings) error
	FindByTokenHash(ctx context.Context, hash string) (Tenant, string, error)
}

// Service coordinates tenant lookups and credential resolution.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	fallback carrier.Credentials
}

// NewService builds a Service. fallback supplies the global carrier
// credentials used for tenants without their own keys.
func NewService(repo RepositoryPort, logger *slog.Logger, fallback carrier.Credentials) *Service {
	return &Service{repo: repo, logger: logger, fallback: fallback}
}

// ListActiveTenantIDs returns the ids of all sync-enabled tenants.
func (s *Service) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListActiveTenantIDs(ctx)
}

// GetTenant returns one tenant.
func (s *Service) GetTenant(ctx context.Context, id string) (Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// ResolveCredentials returns the carrier credentials for a tenant,
// preferring tenant-specific keys and falling back to the global pair.
func (s *Service) ResolveCredentials(ctx context.Context, tenantID string) (carrier.Credentials, error) {
	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		return carrier.Credentials{}, err
	}
	if settings.HasCredentials() {
		return carrier.Credentials{APIKey: settings.CarrierAPIKey, Secret: settings.CarrierSecret}, nil
	}
	return s.fallback, nil
}

// UpdateSettings stores per-tenant settings.
func (s *Service) UpdateSettings(ctx context.Context, settings Settings) error {
	if settings.TenantID == "" {
		return shared.ErrTenantRequired
	}
	return s.repo.UpsertSettings(ctx, settings)
}

// ResolveAPIToken turns a raw API token into a session. Tokens are stored
// hashed; the lookup is by digest so no plaintext comparison ever happens.
func (s *Service) ResolveAPIToken(ctx context.Context, token string) (*shared.Session, error) {
	if token == "" {
		return nil, shared.ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(token))
	tenant, role, err := s.repo.FindByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	if !tenant.IsActive {
		return nil, ErrTenantInactive
	}
	return &shared.Session{TenantID: tenant.ID, Role: role}, nil
}
