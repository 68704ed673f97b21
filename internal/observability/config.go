package observability

import (
	"strings"

	"github.com/smallbiznis/profitledger/internal/config"
)

// Config is the slice of application config the logging and tracing
// providers need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "profitledger"
	}
	obs := cfg.Observability
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled && obs.OtelEndpoint != "",
		OtelExporterEndpoint: obs.OtelEndpoint,
		OtelSamplingRatio:    obs.OtelSamplingRatio,
	}
}

// Debug turns on verbose request logging outside production-like
// environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
