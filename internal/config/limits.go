package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tier names, ordered free < basic < premium.
const (
	TierFree    = "free"
	TierBasic   = "basic"
	TierPremium = "premium"
)

// Budget classes for administrative and provider-facing operations.
const (
	BudgetManualCollection = "manual_collection"
	BudgetReferenceRefresh = "reference_refresh"
	BudgetSeasonBackfill   = "season_backfill"
	BudgetProviderStatcast = "provider_statcast"
)

// Cache TTL classes, keyed by endpoint volatility.
const (
	CacheClassSearch      = "search"
	CacheClassPlayer      = "player"
	CacheClassLeaderboard = "leaderboard"
	CacheClassReference   = "reference"
)

// BudgetRule is a fixed-window call allowance for one operation class.
type BudgetRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// LimitsConfig holds tier quotas, operation budgets and cache freshness windows.
// It is hot-reloadable from limits.yml.
type LimitsConfig struct {
	Tiers    map[string]int           `mapstructure:"tiers"`
	Budgets  map[string]BudgetRule    `mapstructure:"budgets"`
	CacheTTL map[string]time.Duration `mapstructure:"cacheTTL"`
}

// TierLimit returns the daily call limit for a tier, falling back to free.
func (c LimitsConfig) TierLimit(tier string) int {
	if limit, ok := c.Tiers[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return limit
	}
	return c.Tiers[TierFree]
}

// Budget returns the window rule for an operation class.
func (c LimitsConfig) Budget(class string) (BudgetRule, bool) {
	rule, ok := c.Budgets[class]
	return rule, ok
}

// TTLFor returns the freshness window for a cache class.
func (c LimitsConfig) TTLFor(class string) time.Duration {
	if ttl, ok := c.CacheTTL[class]; ok {
		return ttl
	}
	return c.CacheTTL[CacheClassSearch]
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Tiers: map[string]int{
			TierFree:    50,
			TierBasic:   200,
			TierPremium: 1000,
		},
		Budgets: map[string]BudgetRule{
			BudgetManualCollection: {Limit: 10, Window: time.Hour},
			BudgetReferenceRefresh: {Limit: 1, Window: time.Hour},
			BudgetSeasonBackfill:   {Limit: 1, Window: 24 * time.Hour},
			BudgetProviderStatcast: {Limit: 30, Window: time.Minute},
		},
		CacheTTL: map[string]time.Duration{
			CacheClassSearch:      5 * time.Minute,
			CacheClassPlayer:      10 * time.Minute,
			CacheClassLeaderboard: 30 * time.Minute,
			CacheClassReference:   24 * time.Hour,
		},
	}
}

// LimitsHolder serves the current LimitsConfig and swaps it on file change.
type LimitsHolder struct {
	current atomic.Value // holds LimitsConfig
}

// NewLimitsHolder reads limits.yml (falling back to defaults) and watches it
// for changes. Invalid updates are ignored and the previous config stays live.
func NewLimitsHolder() (*LimitsHolder, error) {
	v := viper.New()

	v.SetConfigName("limits")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/statedge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STATEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLimitsConfig()
	v.SetDefault("limits.tiers", defaults.Tiers)
	v.SetDefault("limits.budgets", defaults.Budgets)
	v.SetDefault("limits.cacheTTL", defaults.CacheTTL)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := defaults
	if err := v.UnmarshalKey("limits", &cfg); err != nil {
		return nil, err
	}
	if err := validateLimitsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LimitsHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultLimitsConfig()
		if err := v.UnmarshalKey("limits", &updated); err != nil {
			log.Printf("[limits-config] reload failed: %v", err)
			return
		}
		if err := validateLimitsConfig(updated); err != nil {
			log.Printf("[limits-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[limits-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *LimitsHolder) Get() LimitsConfig {
	return h.current.Load().(LimitsConfig)
}

// NewStaticLimitsHolder wraps a fixed config, for tests.
func NewStaticLimitsHolder(cfg LimitsConfig) *LimitsHolder {
	holder := &LimitsHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateLimitsConfig(cfg LimitsConfig) error {
	if len(cfg.Tiers) == 0 {
		return errors.New("limits.tiers cannot be empty")
	}
	for tier, limit := range cfg.Tiers {
		if limit <= 0 {
			return errors.New("limits.tiers." + tier + " must be positive")
		}
	}
	for class, rule := range cfg.Budgets {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return errors.New("limits.budgets." + class + " must have positive limit and window")
		}
	}
	for class, ttl := range cfg.CacheTTL {
		if ttl <= 0 {
			return errors.New("limits.cacheTTL." + class + " must be positive")
		}
	}
	return nil
}
