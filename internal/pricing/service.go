package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/parceldesk/parceldesk/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	ListRules(ctx context.Context, tenantID string) ([]Rule, error)
	GetRule(ctx context.Context, tenantID string, id int64) (Rule, error)
	InsertRule(ctx context.Context, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, tenantID string, id int64) error
}

// ShipmentPort is the slice of the shipment store the recalculation sweep
// needs: every priced row and a way to write the outcome back.
type ShipmentPort interface {
	ListForPricing(ctx context.Context, tenantID string) ([]PricingTarget, error)
	UpdatePricing(ctx context.Context, tenantID string, shipmentID int64, res Resolution) error
}

// PricingTarget is one shipment as seen by the resolver.
type PricingTarget struct {
	ShipmentID  int64
	Carrier     string
	WeightGrams int64
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service resolves shipments against pricing rules and manages the rules.
type Service struct {
	repo      RepositoryPort
	shipments ShipmentPort
	cache     *RuleCache
	audit     AuditPort
	logger    *slog.Logger
}

// NewService builds the pricing service.
func NewService(repo RepositoryPort, shipments ShipmentPort, cache *RuleCache, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, shipments: shipments, cache: cache, audit: audit, logger: logger}
}

func (s *Service) rules(ctx context.Context, tenantID string) ([]Rule, error) {
	if rules, ok := s.cache.Get(ctx, tenantID); ok {
		return rules, nil
	}
	rules, err := s.repo.ListRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, tenantID, rules)
	return rules, nil
}

// Resolve finds the price for one shipment. A missing rule is a normal
// outcome reported through Resolution.Status, never an error.
func (s *Service) Resolve(ctx context.Context, tenantID, carrierName string, weightGrams int64) (Resolution, error) {
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return Resolution{}, err
	}
	return resolve(rules, carrierName, weightGrams), nil
}

// resolve picks the matching rule. When bands overlap the rule with the
// lowest weight_min_grams wins, so results stay deterministic regardless of
// the order rules were created in.
func resolve(rules []Rule, carrierName string, weightGrams int64) Resolution {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if !r.Matches(carrierName, weightGrams) {
			continue
		}
		if best == nil || r.WeightMinGrams < best.WeightMinGrams {
			best = r
		}
	}
	if best == nil {
		return Resolution{Status: StatusMissing}
	}
	return Resolution{Status: StatusOK, RuleID: best.ID, PriceEUR: best.PriceEUR}
}

// RecalcStats summarises one recalculation sweep.
type RecalcStats struct {
	Updated int `json:"updated"`
	OK      int `json:"ok"`
	Missing int `json:"missing"`
}

// RecalculateAll re-resolves every shipment of the tenant against the
// current rule set and writes the outcomes back.
func (s *Service) RecalculateAll(ctx context.Context, tenantID string) (RecalcStats, error) {
	if tenantID == "" {
		return RecalcStats{}, shared.ErrTenantRequired
	}
	rules, err := s.repo.ListRules(ctx, tenantID)
	if err != nil {
		return RecalcStats{}, err
	}
	s.cache.Set(ctx, tenantID, rules)

	targets, err := s.shipments.ListForPricing(ctx, tenantID)
	if err != nil {
		return RecalcStats{}, err
	}
	var stats RecalcStats
	for _, target := range targets {
		res := resolve(rules, target.Carrier, target.WeightGrams)
		if err := s.shipments.UpdatePricing(ctx, tenantID, target.ShipmentID, res); err != nil {
			return stats, fmt.Errorf("pricing: update shipment %d: %w", target.ShipmentID, err)
		}
		stats.Updated++
		if res.Status == StatusOK {
			stats.OK++
		} else {
			stats.Missing++
		}
	}
	s.logger.Info("pricing recalculated",
		slog.String("tenant_id", tenantID),
		slog.Int("updated", stats.Updated),
		slog.Int("missing", stats.Missing))
	return stats, nil
}

// ListRules returns the tenant's rules.
func (s *Service) ListRules(ctx context.Context, tenantID string) ([]Rule, error) {
	return s.repo.ListRules(ctx, tenantID)
}

// CreateRule validates and stores a new rule.
func (s *Service) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := validateRule(rule); err != nil {
		return Rule{}, err
	}
	rule.Carrier = strings.TrimSpace(rule.Carrier)
	created, err := s.repo.InsertRule(ctx, rule)
	if err != nil {
		return Rule{}, err
	}
	s.cache.Invalidate(ctx, rule.TenantID)
	s.recordAudit(ctx, created, "pricing:create")
	return created, nil
}

// UpdateRule validates and stores changes to an existing rule.
func (s *Service) UpdateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := validateRule(rule); err != nil {
		return Rule{}, err
	}
	updated, err := s.repo.UpdateRule(ctx, rule)
	if err != nil {
		return Rule{}, err
	}
	s.cache.Invalidate(ctx, rule.TenantID)
	s.recordAudit(ctx, updated, "pricing:update")
	return updated, nil
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, tenantID string, id int64) error {
	if err := s.repo.DeleteRule(ctx, tenantID, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, tenantID)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			Action:   "pricing:delete",
			Entity:   "pricing_rule",
			EntityID: strconv.FormatInt(id, 10),
		})
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, rule Rule, action string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: rule.TenantID,
		Action:   action,
		Entity:   "pricing_rule",
		EntityID: strconv.FormatInt(rule.ID, 10),
		Meta: map[string]any{
			"carrier":          rule.Carrier,
			"weight_min_grams": rule.WeightMinGrams,
			"weight_max_grams": rule.WeightMaxGrams,
			"price_eur":        rule.PriceEUR.String(),
		},
	})
}

func validateRule(rule Rule) error {
	if rule.TenantID == "" {
		return shared.ErrTenantRequired
	}
	if strings.TrimSpace(rule.Carrier) == "" {
		return fmt.Errorf("pricing: carrier required")
	}
	if rule.WeightMinGrams < 0 || rule.WeightMinGrams >= rule.WeightMaxGrams {
		return ErrInvalidBand
	}
	if rule.PriceEUR.IsNegative() {
		return fmt.Errorf("pricing: price must not be negative")
	}
	return nil
}
