package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
)

const (
	defaultProfileTTL   = 45 * time.Second
	defaultPromotionTTL = 2 * time.Minute
)

// FeeResolverCache stores hot-path fee resolution lookups. Promotion windows
// and billing profiles change rarely; a short TTL keeps quote latency flat
// without serving stale prices for long.
type FeeResolverCache interface {
	GetProfile(userID snowflake.ID) (*billingdomain.UserBillingProfile, bool)
	SetProfile(userID snowflake.ID, profile *billingdomain.UserBillingProfile)
	GetPromotions(actionType billingdomain.ActionType) ([]billingdomain.Promotion, bool)
	SetPromotions(actionType billingdomain.ActionType, promotions []billingdomain.Promotion)
}

type feeResolverCache struct {
	profiles     Cache[string, *billingdomain.UserBillingProfile]
	promotions   Cache[string, []billingdomain.Promotion]
	profileTTL   time.Duration
	promotionTTL time.Duration
}

// NewFeeResolverCache returns an in-memory cache tuned for fee resolution.
func NewFeeResolverCache() FeeResolverCache {
	return &feeResolverCache{
		profiles:     NewTTLCache[string, *billingdomain.UserBillingProfile](),
		promotions:   NewTTLCache[string, []billingdomain.Promotion](),
		profileTTL:   defaultProfileTTL,
		promotionTTL: defaultPromotionTTL,
	}
}

func (c *feeResolverCache) GetProfile(userID snowflake.ID) (*billingdomain.UserBillingProfile, bool) {
	return c.profiles.Get(userID.String())
}

func (c *feeResolverCache) SetProfile(userID snowflake.ID, profile *billingdomain.UserBillingProfile) {
	if userID == 0 {
		return
	}
	c.profiles.Set(userID.String(), profile, c.profileTTL)
}

func (c *feeResolverCache) GetPromotions(actionType billingdomain.ActionType) ([]billingdomain.Promotion, bool) {
	return c.promotions.Get(cacheKey(string(actionType)))
}

func (c *feeResolverCache) SetPromotions(actionType billingdomain.ActionType, promotions []billingdomain.Promotion) {
	c.promotions.Set(cacheKey(string(actionType)), promotions, c.promotionTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
