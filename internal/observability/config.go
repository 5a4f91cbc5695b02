package observability

import (
	"strings"

	"github.com/smallbiznis/marketledger/internal/config"
	"github.com/smallbiznis/marketledger/internal/observability/metrics"
	"github.com/smallbiznis/marketledger/internal/observability/tracing"
)

const defaultServiceName = "marketledger"

// Config is the telemetry view of the application config. Tracing and
// metrics export share one OTLP collector.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	Enabled  bool
	Endpoint string
	Protocol string
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = defaultServiceName
	}
	return Config{
		ServiceName: name,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Enabled:     cfg.OtelEnabled,
		Endpoint:    strings.TrimSpace(cfg.OTLPEndpoint),
		Protocol:    strings.ToLower(strings.TrimSpace(cfg.OTLPProtocol)),
	}
}

// samplingRatio keeps every trace outside production.
func (c Config) samplingRatio() float64 {
	if strings.EqualFold(c.Environment, "production") {
		return 0.1
	}
	return 1
}

func (c Config) tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.Enabled,
		ServiceName:      c.ServiceName,
		ExporterEndpoint: c.Endpoint,
		ExporterProtocol: c.Protocol,
		SamplingRatio:    c.samplingRatio(),
	}
}

func (c Config) metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.Enabled,
		ExporterEndpoint: c.Endpoint,
		ExporterProtocol: c.Protocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
