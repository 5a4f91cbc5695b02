package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments.
type Metrics struct {
	checkouts     metric.Int64Counter
	ledgerEntries metric.Int64Counter
	earnings      metric.Int64Counter
	payouts       metric.Int64Counter
	paymentEvents metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "marketledger"
	}
	meter := provider.Meter(name)

	checkouts, err := meter.Int64Counter("marketledger_checkouts_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("marketledger_credit_entries_total")
	if err != nil {
		return nil, err
	}
	earnings, err := meter.Int64Counter("marketledger_earnings_transitions_total")
	if err != nil {
		return nil, err
	}
	payouts, err := meter.Int64Counter("marketledger_payouts_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("marketledger_payment_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		checkouts:     checkouts,
		ledgerEntries: ledgerEntries,
		earnings:      earnings,
		payouts:       payouts,
		paymentEvents: paymentEvents,
	}, nil
}

// NewNop returns instruments backed by the noop provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordCheckout counts checkout outcomes by order type.
func (m *Metrics) RecordCheckout(ctx context.Context, orderType, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("order_type", strings.TrimSpace(orderType)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.checkouts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry counts credit ledger appends by entry type.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEarningsTransition counts earnings transactions entering status.
func (m *Metrics) RecordEarningsTransition(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.earnings.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPayout counts payout status changes.
func (m *Metrics) RecordPayout(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.payouts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent counts webhook events by provider and type.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"order_type": {},
	"result":     {},
	"entry_type": {},
	"status":     {},
	"provider":   {},
	"event_type": {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
