package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RuleCache keeps the full rule set of a tenant in Redis so the resolver
// does not hit Postgres for every shipment in a sync run.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRuleCache builds a cache with the given TTL.
func NewRuleCache(client *redis.Client, ttl time.Duration) *RuleCache {
	return &RuleCache{client: client, ttl: ttl}
}

type cachedRule struct {
	ID             int64  `json:"id"`
	Carrier        string `json:"carrier"`
	WeightMinGrams int64  `json:"weight_min_grams"`
	WeightMaxGrams int64  `json:"weight_max_grams"`
	PriceEUR       string `json:"price_eur"`
}

func cacheKey(tenantID string) string {
	return "pricing:rules:" + tenantID
}

// Get returns the cached rule set, or ok=false on miss or decode failure.
func (c *RuleCache) Get(ctx context.Context, tenantID string) ([]Rule, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKey(tenantID)).Bytes()
	if err != nil {
		return nil, false
	}
	var cached []cachedRule
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	rules := make([]Rule, 0, len(cached))
	for _, cr := range cached {
		price, err := decimal.NewFromString(cr.PriceEUR)
		if err != nil {
			return nil, false
		}
		rules = append(rules, Rule{
			ID:             cr.ID,
			TenantID:       tenantID,
			Carrier:        cr.Carrier,
			WeightMinGrams: cr.WeightMinGrams,
			WeightMaxGrams: cr.WeightMaxGrams,
			PriceEUR:       price,
		})
	}
	return rules, true
}

// Set stores a tenant's rule set.
func (c *RuleCache) Set(ctx context.Context, tenantID string, rules []Rule) {
	if c == nil || c.client == nil {
		return
	}
	cached := make([]cachedRule, 0, len(rules))
	for _, r := range rules {
		cached = append(cached, cachedRule{
			ID:             r.ID,
			Carrier:        r.Carrier,
			WeightMinGrams: r.WeightMinGrams,
			WeightMaxGrams: r.WeightMaxGrams,
			PriceEUR:       r.PriceEUR.String(),
		})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(tenantID), raw, c.ttl)
}

// Invalidate drops the cached rule set after a write.
func (c *RuleCache) Invalidate(ctx context.Context, tenantID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, cacheKey(tenantID))
}
