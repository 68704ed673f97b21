package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateCatalogConfig(DefaultCatalogConfig()))
}

func TestValidateCatalogConfigRejectsBadRows(t *testing.T) {
	cases := map[string]CatalogConfig{
		"empty": {},
		"duplicate": {Packages: []PackageConfig{
			{ID: "pkg_100", PriceUSD: "100", ProfitAllowanceUSD: "500", PerformanceFeePct: "20"},
			{ID: "pkg_100", PriceUSD: "100", ProfitAllowanceUSD: "500", PerformanceFeePct: "20"},
		}},
		"price": {Packages: []PackageConfig{
			{ID: "pkg_100", PriceUSD: "0", ProfitAllowanceUSD: "500", PerformanceFeePct: "20"},
		}},
		"fee": {Packages: []PackageConfig{
			{ID: "pkg_100", PriceUSD: "100", ProfitAllowanceUSD: "500", PerformanceFeePct: "101"},
		}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, ValidateCatalogConfig(cfg))
		})
	}
}

func TestStaticCatalogHolder(t *testing.T) {
	holder := NewStaticCatalogHolder(DefaultCatalogConfig())
	require.Len(t, holder.Get().Packages, 3)
}
