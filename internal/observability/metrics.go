package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterScope = "github.com/eon/kore-relay/internal/observability"

	otlpMetricExportInterval = 60 * time.Second
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds) for lookup and forward duration histograms.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15}

// RelayMetrics is the single metrics interface for the relay (consumer, store, forwarder, jobs).
// Every component accepts a nil RelayMetrics and skips recording.
type RelayMetrics interface {
	RecordMessage(ctx context.Context, format, outcome string)
	RecordLookup(ctx context.Context, result string, duration time.Duration)
	RecordForward(ctx context.Context, result string, duration time.Duration)
	RecordForwardJob(ctx context.Context, status string)
	RecordCacheRequest(ctx context.Context, result string)
	RecordConsumerReconnect(ctx context.Context)
	RecordDeliveryAcked(ctx context.Context)
	RecordDeliveryRejected(ctx context.Context, reason string)
	RecordDeliveryAckError(ctx context.Context)
	SetForwardQueueDepth(depth int)
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// MeterProviderConfig holds configuration for creating the MeterProvider and metrics.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: kore-relay).
	ServiceName string
	// PushExporter "otlp" adds a periodic OTLP/HTTP push next to the Prometheus pull endpoint.
	PushExporter string
}

// NewMeterProvider creates a MeterProvider with Prometheus exporter and returns the provider,
// an HTTP handler for /metrics, and RelayMetrics that use the provider's Meter.
// Caller must call provider.Shutdown on exit. When metrics are disabled, pass nil for metrics at call sites.
func NewMeterProvider(ctx context.Context, cfg MeterProviderConfig) (provider MeterProviderShutdown, metricsHandler http.Handler, metrics RelayMetrics, err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
		prometheusexporter.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(newResource(cfg.ServiceName)),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(
			sdkmetric.NewView(
				sdkmetric.Instrument{Name: durationInstrumentNameWildcard},
				sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries}},
			),
		),
	}

	if cfg.PushExporter == "otlp" {
		// SDK reads OTEL_EXPORTER_OTLP_ENDPOINT (and scheme/insecure) from env.
		pushExp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(pushExp, sdkmetric.WithInterval(otlpMetricExportInterval)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)

	metrics, err = NewRelayMetrics(mp.Meter(meterScope))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics, nil
}

// NewRelayMetrics creates the relay instruments on meter.
func NewRelayMetrics(meter metric.Meter) (RelayMetrics, error) {
	messages, err := meter.Int64Counter(
		MetricNameMessages,
		metric.WithDescription("Inbound certificate messages by format and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameMessages, err)
	}

	lookupDuration, err := meter.Float64Histogram(
		MetricNameLookupDuration,
		metric.WithDescription("Transaction store lookup duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameLookupDuration, err)
	}

	forwardDuration, err := meter.Float64Histogram(
		MetricNameForwardDuration,
		metric.WithDescription("Digital certificate app call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameForwardDuration, err)
	}

	forwardJobs, err := meter.Int64Counter(
		MetricNameForwardJobs,
		metric.WithDescription("Forward job lifecycle events by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameForwardJobs, err)
	}

	cacheRequests, err := meter.Int64Counter(
		MetricNameCacheRequests,
		metric.WithDescription("Transaction cache requests by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameCacheRequests, err)
	}

	reconnects, err := meter.Int64Counter(
		MetricNameConsumerReconnects,
		metric.WithDescription("RabbitMQ consumer reconnect attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameConsumerReconnects, err)
	}

	acked, err := meter.Int64Counter(
		MetricNameDeliveriesAcked,
		metric.WithDescription("Deliveries acknowledged"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameDeliveriesAcked, err)
	}

	rejected, err := meter.Int64Counter(
		MetricNameDeliveriesRejected,
		metric.WithDescription("Deliveries rejected without requeue by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameDeliveriesRejected, err)
	}

	ackErrors, err := meter.Int64Counter(
		MetricNameDeliveryAckErrors,
		metric.WithDescription("Failures to ack, nack or reject a delivery"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameDeliveryAckErrors, err)
	}

	m := &relayMetricsImpl{
		messages:        messages,
		lookupDuration:  lookupDuration,
		forwardDuration: forwardDuration,
		forwardJobs:     forwardJobs,
		cacheRequests:   cacheRequests,
		reconnects:      reconnects,
		acked:           acked,
		rejected:        rejected,
		ackErrors:       ackErrors,
	}

	_, err = meter.Float64ObservableGauge(
		MetricNameForwardQueueDepth,
		metric.WithDescription("Forward jobs waiting in the River queue (available, retryable or scheduled)"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(float64(m.forwardQueueDepth.Load()))

			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MetricNameForwardQueueDepth, err)
	}

	return m, nil
}

type relayMetricsImpl struct {
	messages        metric.Int64Counter
	lookupDuration  metric.Float64Histogram
	forwardDuration metric.Float64Histogram
	forwardJobs     metric.Int64Counter
	cacheRequests   metric.Int64Counter
	reconnects      metric.Int64Counter
	acked           metric.Int64Counter
	rejected        metric.Int64Counter
	ackErrors       metric.Int64Counter

	forwardQueueDepth atomic.Int64
}

func (m *relayMetricsImpl) RecordMessage(ctx context.Context, format, outcome string) {
	m.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrFormat, Normalize(format, AllowedFormats)),
		attribute.String(AttrOutcome, Normalize(outcome, AllowedOutcomes)),
	))
}

func (m *relayMetricsImpl) RecordLookup(ctx context.Context, result string, duration time.Duration) {
	m.lookupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrResult, Normalize(result, AllowedLookupResults)),
	))
}

func (m *relayMetricsImpl) RecordForward(ctx context.Context, result string, duration time.Duration) {
	m.forwardDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrResult, Normalize(result, AllowedForwardResults)),
	))
}

func (m *relayMetricsImpl) RecordForwardJob(ctx context.Context, status string) {
	m.forwardJobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStatus, Normalize(status, AllowedForwardJobStatuses)),
	))
}

func (m *relayMetricsImpl) RecordCacheRequest(ctx context.Context, result string) {
	m.cacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResult, Normalize(result, AllowedCacheResults)),
	))
}

func (m *relayMetricsImpl) RecordConsumerReconnect(ctx context.Context) {
	m.reconnects.Add(ctx, 1)
}

func (m *relayMetricsImpl) RecordDeliveryAcked(ctx context.Context) {
	m.acked.Add(ctx, 1)
}

func (m *relayMetricsImpl) RecordDeliveryRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrReason, Normalize(reason, AllowedRejectReasons)),
	))
}

func (m *relayMetricsImpl) RecordDeliveryAckError(ctx context.Context) {
	m.ackErrors.Add(ctx, 1)
}

func (m *relayMetricsImpl) SetForwardQueueDepth(depth int) {
	m.forwardQueueDepth.Store(int64(depth))
}
