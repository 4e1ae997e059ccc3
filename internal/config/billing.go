package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeatureGrant describes a plan's allowance for a single billable feature.
type FeatureGrant struct {
	Included bool `mapstructure:"included" json:"included"`
	Limit    *int `mapstructure:"limit" json:"limit,omitempty"`
}

// PlanConfig maps feature names to their grants for one subscription plan.
type PlanConfig struct {
	Features map[string]FeatureGrant `mapstructure:"features" json:"features"`
}

// BillingConfig holds the static fee and plan tables. A snapshot is
// immutable once loaded; hot reload swaps the whole value.
type BillingConfig struct {
	Currency      string                      `mapstructure:"currency" json:"currency"`
	BaseFees      map[string]int64            `mapstructure:"baseFees" json:"base_fees"`
	RoleOverrides map[string]map[string]int64 `mapstructure:"roleOverrides" json:"role_overrides"`
	Plans         map[string]PlanConfig       `mapstructure:"plans" json:"plans"`
}

// BaseFee returns the configured base fee for an action, with ok=false for
// unknown actions.
func (c BillingConfig) BaseFee(actionType string) (int64, bool) {
	amount, ok := c.BaseFees[actionType]
	return amount, ok
}

// RoleOverride returns the configured fee for a role+action pair.
func (c BillingConfig) RoleOverride(role, actionType string) (int64, bool) {
	fees, ok := c.RoleOverrides[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return 0, false
	}
	amount, ok := fees[actionType]
	return amount, ok
}

// Plan returns the feature catalog for a plan identifier.
func (c BillingConfig) Plan(planID string) (PlanConfig, bool) {
	plan, ok := c.Plans[strings.TrimSpace(planID)]
	return plan, ok
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency: "USD",
		BaseFees: map[string]int64{
			"job_posting":  5000,
			"verification": 1500,
			"hire_success": 10000,
		},
		RoleOverrides: map[string]map[string]int64{
			"admin": {
				"job_posting":  0,
				"verification": 0,
				"hire_success": 0,
			},
			"partner": {
				"job_posting":  2500,
				"verification": 750,
			},
			"early_adopter": {
				"verification": 500,
			},
		},
		Plans: map[string]PlanConfig{
			"recruiter_professional": {
				Features: map[string]FeatureGrant{
					"job_posting":  {Included: true, Limit: intPtr(30)},
					"verification": {Included: true, Limit: intPtr(10)},
				},
			},
			"recruiter_enterprise": {
				Features: map[string]FeatureGrant{
					"job_posting":  {Included: true},
					"verification": {Included: true, Limit: intPtr(100)},
				},
			},
			"candidate_plus": {
				Features: map[string]FeatureGrant{
					"verification": {Included: true, Limit: intPtr(3)},
				},
			},
		},
	}
}

func intPtr(v int) *int { return &v }

// BillingConfigHolder exposes the current billing tables. Services read a
// consistent snapshot per request; reloads never mutate a served value.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/skillvouch/config")
	v.AddConfigPath("/etc/skillvouch")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SKILLVOUCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultBillingConfig()
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}
	if fileFound {
		if err := v.UnmarshalKey("billing", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated := DefaultBillingConfig()
			if err := v.UnmarshalKey("billing", &updated); err != nil {
				log.Printf("[billing-config] reload failed: %v", err)
				return
			}
			if err := validateBillingConfig(updated); err != nil {
				log.Printf("[billing-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[billing-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed snapshot, used by tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(cfg.BaseFees) == 0 {
		return errors.New("billing.baseFees cannot be empty")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	for role, fees := range cfg.RoleOverrides {
		if strings.TrimSpace(role) == "" || len(fees) == 0 {
			return errors.New("billing.roleOverrides entries must name a role and at least one fee")
		}
	}
	return nil
}
