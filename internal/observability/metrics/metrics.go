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

// Metrics exposes application-level instruments.
type Metrics struct {
	feeQuotes               metric.Int64Counter
	feeDegraded             metric.Int64Counter
	entitlementConsumed     metric.Int64Counter
	entitlementExhausted    metric.Int64Counter
	verificationTransitions metric.Int64Counter
	paymentEvents           metric.Int64Counter
	rateLimitDenied         metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "skillvouch"
	}
	meter := provider.Meter(name)

	feeQuotes, err := meter.Int64Counter("skillvouch_fee_quotes_total")
	if err != nil {
		return nil, err
	}
	feeDegraded, err := meter.Int64Counter("skillvouch_fee_degraded_total")
	if err != nil {
		return nil, err
	}
	entitlementConsumed, err := meter.Int64Counter("skillvouch_entitlement_consumed_total")
	if err != nil {
		return nil, err
	}
	entitlementExhausted, err := meter.Int64Counter("skillvouch_entitlement_exhausted_total")
	if err != nil {
		return nil, err
	}
	verificationTransitions, err := meter.Int64Counter("skillvouch_verification_transitions_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("skillvouch_payment_events_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("skillvouch_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		feeQuotes:               feeQuotes,
		feeDegraded:             feeDegraded,
		entitlementConsumed:     entitlementConsumed,
		entitlementExhausted:    entitlementExhausted,
		verificationTransitions: verificationTransitions,
		paymentEvents:           paymentEvents,
		rateLimitDenied:         rateLimitDenied,
	}, nil
}

// RecordFeeQuote counts resolved fee quotes by action and adjustment source.
func (m *Metrics) RecordFeeQuote(ctx context.Context, actionType, adjustment string) {
	if m == nil {
		return
	}
	m.feeQuotes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("adjustment", adjustment),
	))
}

// RecordFeeDegraded counts fee resolutions that fell back to the base fee
// because the store was unavailable.
func (m *Metrics) RecordFeeDegraded(ctx context.Context, actionType string) {
	if m == nil {
		return
	}
	m.feeDegraded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
	))
}

// RecordEntitlementConsumed counts successful entitlement consumptions.
func (m *Metrics) RecordEntitlementConsumed(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	m.entitlementConsumed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
	))
}

// RecordEntitlementExhausted counts limit-boundary rejections.
func (m *Metrics) RecordEntitlementExhausted(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	m.entitlementExhausted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
	))
}

// RecordVerificationTransition counts state machine edges taken.
func (m *Metrics) RecordVerificationTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.verificationTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordPaymentEvent counts processed payment completions by outcome.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, actionType, outcome string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
		attribute.String("outcome", outcome),
	))
}

// RecordRateLimitDenied counts throttled requests.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
