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

// Metrics exposes scoring instruments exported over OTLP.
type Metrics struct {
	scoreApplied    metric.Int64Counter
	scoringSkipped  metric.Int64Counter
	scoringFailures metric.Int64Counter
	scoreDelta      metric.Int64Histogram
	reconcileDrift  metric.Int64Counter
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
		name = "deliveryscore"
	}
	meter := provider.Meter(name)

	scoreApplied, err := meter.Int64Counter("deliveryscore_score_applied_total")
	if err != nil {
		return nil, err
	}
	scoringSkipped, err := meter.Int64Counter("deliveryscore_scoring_skipped_total")
	if err != nil {
		return nil, err
	}
	scoringFailures, err := meter.Int64Counter("deliveryscore_scoring_failures_total")
	if err != nil {
		return nil, err
	}
	scoreDelta, err := meter.Int64Histogram("deliveryscore_score_delta")
	if err != nil {
		return nil, err
	}
	reconcileDrift, err := meter.Int64Counter("deliveryscore_reconcile_drift_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		scoreApplied:    scoreApplied,
		scoringSkipped:  scoringSkipped,
		scoringFailures: scoringFailures,
		scoreDelta:      scoreDelta,
		reconcileDrift:  reconcileDrift,
	}, nil
}

// RecordScoreApplied counts a committed score change and its delta.
func (m *Metrics) RecordScoreApplied(ctx context.Context, reason string, delta int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.scoreApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.scoreDelta.Record(ctx, int64(delta), metric.WithAttributes(attrs...))
}

// RecordScoringSkipped counts status changes that did not move a score.
func (m *Metrics) RecordScoringSkipped(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.scoringSkipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScoringFailure counts scoring attempts that gave up.
func (m *Metrics) RecordScoringFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.scoringFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileDrift counts customers whose score disagreed with the journal.
func (m *Metrics) RecordReconcileDrift(ctx context.Context, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.reconcileDrift.Add(ctx, int64(count), metric.WithAttributes(attrs...))
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
	"reason":      {},
	"outcome":     {},
	"kind":        {},
	"endpoint":    {},
	"status_code": {},
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
