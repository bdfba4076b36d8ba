package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.meterProvider = mp
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

func findIntHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[int64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordDownload_Saved(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordDownload(context.Background(), "blob", "saved", 750*time.Millisecond, 2048)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "webshell_downloads_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "scheme", "blob"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "saved"))

	bytesDps := findCounter(rm, "webshell_download_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 2048, bytesDps[0].Value)

	histDps := findHistogram(rm, "webshell_download_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)

	sizeDps := findHistogram(rm, "webshell_download_size_bytes")
	require.Len(t, sizeDps, 1)
	require.InDelta(t, 2048, sizeDps[0].Sum, 0.001)
}

func TestRecordDownload_ErrorHasNoBytes(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordDownload(context.Background(), "blob", "error", 17*time.Second, 0)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "webshell_downloads_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "error"))
	require.Empty(t, findCounter(rm, "webshell_download_bytes_total"))
	require.Empty(t, findHistogram(rm, "webshell_download_size_bytes"))
}

func TestRecordRetryAndPoll(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordRetry(ctx, "blob")
	RecordRetry(ctx, "blob")
	RecordBlobPoll(ctx, 20, "timeout")
	RecordBlobPoll(ctx, 1, "success")

	rm := collectMetrics(t, reader)

	retries := findCounter(rm, "webshell_download_retries_total")
	require.Len(t, retries, 1)
	require.EqualValues(t, 2, retries[0].Value)

	polls := findIntHistogram(rm, "webshell_blob_poll_attempts")
	require.Len(t, polls, 2)
	for _, dp := range polls {
		switch {
		case hasAttr(dp.Attributes, "outcome", "timeout"):
			require.EqualValues(t, 20, dp.Sum)
		case hasAttr(dp.Attributes, "outcome", "success"):
			require.EqualValues(t, 1, dp.Sum)
		default:
			t.Fatalf("unexpected attributes %v", dp.Attributes)
		}
	}
}

func TestRecordBlobCacheAndNotifications(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordBlobCapture(ctx, "memory")
	RecordBlobEviction(ctx, "memory")
	RecordNotification(ctx, "success")

	rm := collectMetrics(t, reader)

	captures := findCounter(rm, "webshell_blob_captures_total")
	require.Len(t, captures, 1)
	require.True(t, hasAttr(captures[0].Attributes, "source", "memory"))

	require.Len(t, findCounter(rm, "webshell_blob_evictions_total"), 1)

	notes := findCounter(rm, "webshell_notifications_total")
	require.Len(t, notes, 1)
	require.True(t, hasAttr(notes[0].Attributes, "level", "success"))
}

func TestRecordBackendOp(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordBackendOp(context.Background(), "filesystem", "create", "success", 2*time.Millisecond, 512)
	RecordBackendOp(context.Background(), "filesystem", "exists", "not_found", time.Millisecond, 0)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "webshell_backend_requests_total")
	require.Len(t, dps, 2)

	bytesDps := findCounter(rm, "webshell_backend_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 512, bytesDps[0].Value)
	require.True(t, hasAttr(bytesDps[0].Attributes, "op", "create"))
}

func TestRecord_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil
	ctx := context.Background()

	// Should not panic
	RecordDownload(ctx, "blob", "saved", time.Second, 1)
	RecordRetry(ctx, "blob")
	RecordBlobPoll(ctx, 1, "success")
	RecordBlobCapture(ctx, "page")
	RecordBlobEviction(ctx, "page")
	RecordNotification(ctx, "info")
	RecordBackendOp(ctx, "filesystem", "write", "success", time.Millisecond, 1)
}

func TestPrometheusHandler_NotEnabled(t *testing.T) {
	globalMetrics = nil

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
