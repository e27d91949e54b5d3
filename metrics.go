package switchkey

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"switchkey/Calibration"
)

const meterName = "switchkey"

// Metrics holds the OpenTelemetry instruments of the press pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// Presses counts presses delivered to the handlers.
	Presses metric.Int64Counter
	// DroppedPresses counts presses discarded because the queue was full.
	DroppedPresses metric.Int64Counter
	// Blocks counts audio blocks run through the detector.
	Blocks metric.Int64Counter
	// BlockDuration tracks detector time per audio block.
	BlockDuration metric.Float64Histogram
	// QueueDepth is the number of presses waiting for the drain goroutine.
	QueueDepth metric.Int64UpDownCounter
	// SinkErrors counts failed deliveries. Use with attribute.String("sink", ...).
	SinkErrors metric.Int64Counter

	// CalibrationRuns counts auto calibration runs. Use with attribute.String("status", ...).
	CalibrationRuns metric.Int64Counter
	// CalibrationDuration tracks wall time of an auto calibration run.
	CalibrationDuration metric.Float64Histogram
	// CalibrationReplays counts offline replays performed by the search.
	CalibrationReplays metric.Int64Counter
}

var blockBuckets = []float64{
	1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3,
}

var calibrationBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Presses, err = m.Int64Counter("switchkey.presses",
		metric.WithDescription("Switch presses delivered to handlers."),
	); err != nil {
		return nil, err
	}
	if met.DroppedPresses, err = m.Int64Counter("switchkey.presses.dropped",
		metric.WithDescription("Switch presses dropped because the press queue was full."),
	); err != nil {
		return nil, err
	}
	if met.Blocks, err = m.Int64Counter("switchkey.blocks",
		metric.WithDescription("Audio blocks processed by the edge detector."),
	); err != nil {
		return nil, err
	}
	if met.BlockDuration, err = m.Float64Histogram("switchkey.block.duration",
		metric.WithDescription("Edge detector processing time per audio block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("switchkey.press_queue.depth",
		metric.WithDescription("Presses waiting for delivery."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("switchkey.sink.errors",
		metric.WithDescription("Failed press deliveries by sink."),
	); err != nil {
		return nil, err
	}

	if met.CalibrationRuns, err = m.Int64Counter("switchkey.calibration.runs",
		metric.WithDescription("Auto calibration runs by status."),
	); err != nil {
		return nil, err
	}
	if met.CalibrationDuration, err = m.Float64Histogram("switchkey.calibration.duration",
		metric.WithDescription("Wall time of an auto calibration run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(calibrationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CalibrationReplays, err = m.Int64Counter("switchkey.calibration.replays",
		metric.WithDescription("Offline detector replays performed during calibration."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NoopMetrics 不记录任何数据，没有配置指标时使用
func NoopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("switchkey: noop metrics: " + err.Error())
	}
	return m
}

// RecordCalibration 记录一次自动校准的结果
func (m *Metrics) RecordCalibration(ctx context.Context, res *Calibration.Result, err error, elapsed time.Duration) {
	status := "ok"
	switch {
	case errors.Is(err, Calibration.ErrNotConverged):
		status = "not_converged"
	case err != nil:
		status = "error"
	case res != nil && !res.CalibOK:
		status = "suspect"
	}
	m.CalibrationRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.CalibrationDuration.Record(ctx, elapsed.Seconds())
	if res != nil {
		m.CalibrationReplays.Add(ctx, int64(res.Replays))
	}
}

// RecordSinkError 记录一次转发失败
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// InitMetricsProvider 建立带 Prometheus 导出器的 MeterProvider 并注册为全局 provider。
// 返回的 shutdown 在退出时调用。
func InitMetricsProvider() (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

// MetricsHandler 返回 /metrics 的 HTTP handler，导出器注册在默认 registry 上
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ServeMetrics 在 addr 上提供 /metrics，ctx 结束时关闭服务
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
