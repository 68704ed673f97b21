package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PackageConfig is one purchasable package as declared in packages.yml.
type PackageConfig struct {
	ID                 string `mapstructure:"id"`
	Name               string `mapstructure:"name"`
	PriceUSD           string `mapstructure:"priceUsd"`
	ProfitAllowanceUSD string `mapstructure:"profitAllowanceUsd"`
	PerformanceFeePct  string `mapstructure:"performanceFeePct"`
	CouponTag          string `mapstructure:"couponTag"`
}

type CatalogConfig struct {
	Packages []PackageConfig `mapstructure:"packages"`
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Packages: []PackageConfig{
			{ID: "pkg_100", Name: "Starter", PriceUSD: "100", ProfitAllowanceUSD: "500", PerformanceFeePct: "20", CouponTag: "100"},
			{ID: "pkg_200", Name: "Pro", PriceUSD: "200", ProfitAllowanceUSD: "1000", PerformanceFeePct: "15", CouponTag: "200"},
			{ID: "pkg_500", Name: "Elite", PriceUSD: "500", ProfitAllowanceUSD: "2500", PerformanceFeePct: "10", CouponTag: "500"},
		},
	}
}

type CatalogConfigHolder struct {
	current atomic.Value // holds CatalogConfig
}

// NewStaticCatalogHolder returns a holder that never reloads.
func NewStaticCatalogHolder(cfg CatalogConfig) *CatalogConfigHolder {
	holder := &CatalogConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCatalogConfigHolder(log *zap.Logger) (*CatalogConfigHolder, error) {
	log = log.Named("catalog.config")

	v := viper.New()
	v.SetConfigName("packages")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/profitledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PROFITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("packages.yml not found, using built-in catalog")
		return NewStaticCatalogHolder(DefaultCatalogConfig()), nil
	}

	var cfg CatalogConfig
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateCatalogConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCatalogHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CatalogConfig
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Warn("catalog reload failed", zap.Error(err))
			return
		}
		if err := ValidateCatalogConfig(updated); err != nil {
			log.Warn("invalid catalog ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CatalogConfigHolder) Get() CatalogConfig {
	return h.current.Load().(CatalogConfig)
}

func ValidateCatalogConfig(cfg CatalogConfig) error {
	if len(cfg.Packages) == 0 {
		return errors.New("catalog.packages cannot be empty")
	}
	seen := map[string]struct{}{}
	for _, p := range cfg.Packages {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return errors.New("catalog package id is required")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("catalog package %s declared twice", id)
		}
		seen[id] = struct{}{}

		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("catalog package %s: invalid priceUsd", id)
		}
		allowance, err := decimal.NewFromString(p.ProfitAllowanceUSD)
		if err != nil || !allowance.IsPositive() {
			return fmt.Errorf("catalog package %s: invalid profitAllowanceUsd", id)
		}
		fee, err := decimal.NewFromString(p.PerformanceFeePct)
		if err != nil || fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("catalog package %s: invalid performanceFeePct", id)
		}
	}
	return nil
}
