package observability

import (
	"github.com/smallbiznis/marketledger/internal/observability/metrics"
	"github.com/smallbiznis/marketledger/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module installs the global tracer provider, the OTel ledger instruments and
// the prometheus scheduler collectors.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(c Config) tracing.Config { return c.tracing() },
		func(c Config) metrics.Config { return c.metrics() },
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)
