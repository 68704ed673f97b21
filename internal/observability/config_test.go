package observability

import (
	"testing"

	"github.com/smallbiznis/profitledger/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDisablesTracingWithoutEndpoint(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:   "production",
		Observability: config.ObservabilityConfig{OtelEnabled: true, LogLevel: "info"},
	})
	require.Equal(t, "profitledger", cfg.ServiceName)
	require.False(t, cfg.OtelEnabled)
	require.False(t, cfg.Debug())
}

func TestDebugFollowsLevelOrEnvironment(t *testing.T) {
	require.True(t, Config{LogLevel: "debug", Environment: "production"}.Debug())
	require.True(t, Config{LogLevel: "info", Environment: "test"}.Debug())
	require.False(t, Config{LogLevel: "warn", Environment: "staging"}.Debug())
}
