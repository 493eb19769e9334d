package tenants

import (
	"errors"
	"time"
)

// Tenant is one isolated customer account. Every domain row in the system
// carries a tenant id; nothing is shared between tenants except pricing
// fallbacks configured explicitly.
type Tenant struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Settings holds per-tenant configuration, most importantly the carrier
// API credentials. Tenants without their own credentials fall back to the
// globally configured pair.
type Settings struct {
	TenantID      string
	CarrierAPIKey string
	CarrierSecret string
	SyncEnabled   bool
	UpdatedAt     time.Time
}

// HasCredentials reports whether the tenant carries its own carrier keys.
func (s Settings) HasCredentials() bool {
	return s.CarrierAPIKey != "" && s.CarrierSecret != ""
}

var (
	// ErrTenantNotFound indicates the tenant id does not exist.
	ErrTenantNotFound = errors.New("tenants: tenant not found")
	// ErrTenantInactive indicates the tenant exists but is disabled.
	ErrTenantInactive = errors.New("tenants: tenant inactive")
)
