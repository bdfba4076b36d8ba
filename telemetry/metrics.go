// Package telemetry holds the shell's OpenTelemetry metric instruments. Every
// Record function is safe to call before InitMetrics and does nothing until
// metrics are initialised.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/webshell"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	downloadsTotal       metric.Int64Counter
	downloadBytesTotal   metric.Int64Counter
	downloadDuration     metric.Float64Histogram
	downloadSize         metric.Float64Histogram
	downloadRetriesTotal metric.Int64Counter

	blobPollAttempts   metric.Int64Histogram
	blobCaptureTotal   metric.Int64Counter
	blobEvictionsTotal metric.Int64Counter
	notificationsTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "webshell"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	downloadsTotal, err := meter.Int64Counter(
		"webshell_downloads_total",
		metric.WithDescription("Total number of finished downloads"),
		metric.WithUnit("{download}"),
	)
	if err != nil {
		return nil, err
	}

	downloadBytesTotal, err := meter.Int64Counter(
		"webshell_download_bytes_total",
		metric.WithDescription("Total bytes persisted by the download bridge"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	downloadDuration, err := meter.Float64Histogram(
		"webshell_download_duration_seconds",
		metric.WithDescription("Download duration in seconds, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return nil, err
	}

	downloadSize, err := meter.Float64Histogram(
		"webshell_download_size_bytes",
		metric.WithDescription("Size of persisted downloads"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1024, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864, 268435456),
	)
	if err != nil {
		return nil, err
	}

	downloadRetriesTotal, err := meter.Int64Counter(
		"webshell_download_retries_total",
		metric.WithDescription("Total download retries after transient failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	blobPollAttempts, err := meter.Int64Histogram(
		"webshell_blob_poll_attempts",
		metric.WithDescription("Result slot checks made per blob recovery"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 6, 8, 12, 16, 20),
	)
	if err != nil {
		return nil, err
	}

	blobCaptureTotal, err := meter.Int64Counter(
		"webshell_blob_captures_total",
		metric.WithDescription("Total blobs captured into the blob cache"),
		metric.WithUnit("{blob}"),
	)
	if err != nil {
		return nil, err
	}

	blobEvictionsTotal, err := meter.Int64Counter(
		"webshell_blob_evictions_total",
		metric.WithDescription("Total blobs evicted from the blob cache"),
		metric.WithUnit("{blob}"),
	)
	if err != nil {
		return nil, err
	}

	notificationsTotal, err := meter.Int64Counter(
		"webshell_notifications_total",
		metric.WithDescription("Total notifications shown to the user"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	backendRequestDuration, err := meter.Float64Histogram(
		"webshell_backend_request_duration_seconds",
		metric.WithDescription("Duration of backend storage operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	backendRequestsTotal, err := meter.Int64Counter(
		"webshell_backend_requests_total",
		metric.WithDescription("Total number of backend storage operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	backendBytesTotal, err := meter.Int64Counter(
		"webshell_backend_bytes_total",
		metric.WithDescription("Total bytes transferred in backend operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		downloadsTotal:         downloadsTotal,
		downloadBytesTotal:     downloadBytesTotal,
		downloadDuration:       downloadDuration,
		downloadSize:           downloadSize,
		downloadRetriesTotal:   downloadRetriesTotal,
		blobPollAttempts:       blobPollAttempts,
		blobCaptureTotal:       blobCaptureTotal,
		blobEvictionsTotal:     blobEvictionsTotal,
		notificationsTotal:     notificationsTotal,
		backendRequestDuration: backendRequestDuration,
		backendRequestsTotal:   backendRequestsTotal,
		backendBytesTotal:      backendBytesTotal,
	}, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordDownload records one finished download. outcome is "saved",
// "delegated", "cancelled" or "error"; bytes is zero unless content was saved.
func RecordDownload(ctx context.Context, scheme, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.String("outcome", outcome),
	)
	globalMetrics.downloadsTotal.Add(ctx, 1, attrs)
	globalMetrics.downloadDuration.Record(ctx, duration.Seconds(), attrs)
	if bytes > 0 {
		globalMetrics.downloadBytesTotal.Add(ctx, bytes, attrs)
		globalMetrics.downloadSize.Record(ctx, float64(bytes), attrs)
	}
}

// RecordRetry records a retry scheduled after a transient failure.
func RecordRetry(ctx context.Context, scheme string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.downloadRetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scheme", scheme)))
}

// RecordBlobPoll records how many slot checks one blob recovery took.
// outcome is "success", "failed", "timeout" or "error".
func RecordBlobPoll(ctx context.Context, attempts int, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.blobPollAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBlobCapture records a blob captured into a cache. source names the
// cache, "page" or "memory".
func RecordBlobCapture(ctx context.Context, source string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.blobCaptureTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordBlobEviction records a blob evicted from a cache.
func RecordBlobEviction(ctx context.Context, source string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.blobEvictionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordNotification records a notification shown to the user.
func RecordNotification(ctx context.Context, level string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.notificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
