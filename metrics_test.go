package switchkey

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"switchkey/Calibration"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumInt64 adds up every data point of an int64 sum metric.
func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	require.NotNil(t, met, "metric %q not found", name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %q is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// countByStatus returns the counter value per "status" attribute.
func countByStatus(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	require.NotNil(t, met, "metric %q not found", name)
	sum, ok := met.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("status")
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.NotNil(t, m)
	assert.NotNil(t, NoopMetrics())
}

func TestRecordCalibration_Status(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	ok := &Calibration.Result{Replays: 40}
	ok.CalibOK = true
	m.RecordCalibration(ctx, ok, nil, 300*time.Millisecond)

	suspect := &Calibration.Result{Replays: 12}
	m.RecordCalibration(ctx, suspect, nil, time.Second)

	m.RecordCalibration(ctx, &Calibration.Result{Replays: 8}, fmt.Errorf("wrapped: %w", Calibration.ErrNotConverged), time.Second)
	m.RecordCalibration(ctx, nil, Calibration.ErrEmptyClip, 0)

	rm := collect(t, reader)
	assert.Equal(t, map[string]int64{
		"ok":            1,
		"suspect":       1,
		"not_converged": 1,
		"error":         1,
	}, countByStatus(t, rm, "switchkey.calibration.runs"))
	assert.Equal(t, int64(60), sumInt64(t, rm, "switchkey.calibration.replays"))

	met := findMetric(rm, "switchkey.calibration.duration")
	require.NotNil(t, met)
	hist, isHist := met.Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(4), hist.DataPoints[0].Count)
}

func TestRecordSinkError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSinkError(context.Background(), "serial")
	m.RecordSinkError(context.Background(), "serial")

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sumInt64(t, rm, "switchkey.sink.errors"))
}
