// Package metrics exposes daemon state to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "trackspeed/pkg/logx"
)

const namespace = "trackspeed"

// Alert check results used as label values.
const (
	AlertOK           = "ok"
	AlertBreach       = "breach"
	AlertInsufficient = "insufficient"
	AlertError        = "error"
)

// Metrics owns its registry so several instances (tests) never collide.
type Metrics struct {
	reg *prometheus.Registry

	// MeasurementsTotal counts measurement runs by status ("ok", "error").
	MeasurementsTotal *prometheus.CounterVec
	// MeasurementDuration is how long one measurement took.
	MeasurementDuration prometheus.Histogram
	// LastSample holds the most recent measurement per metric
	// ("download_mbps", "upload_mbps", "ping_ms").
	LastSample *prometheus.GaugeVec
	// LastRunTimestamp is the unix time of the last successful measurement.
	LastRunTimestamp prometheus.Gauge
	// WindowAverage holds the averages of the last alert window per direction.
	WindowAverage *prometheus.GaugeVec
	// WindowSpanHours is the span of the last alert window.
	WindowSpanHours prometheus.Gauge
	// AlertChecksTotal counts alert checks by result.
	AlertChecksTotal *prometheus.CounterVec
	// RunsTotal counts scheduled runs by status ("ok", "error").
	RunsTotal *prometheus.CounterVec
	// RunDuration is how long one scheduled run took.
	RunDuration prometheus.Histogram
	// RunsSkippedTotal counts scheduler ticks that did not run, by reason.
	RunsSkippedTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		MeasurementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Total number of bandwidth measurements",
		}, []string{"status"}),
		MeasurementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Bandwidth measurement duration in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		}),
		LastSample: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample",
			Help:      "Most recent measurement",
		}, []string{"metric"}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_measurement_timestamp_seconds",
			Help:      "Unix time of the last successful measurement",
		}),
		WindowAverage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_average_mbps",
			Help:      "Average throughput over the last alert window",
		}, []string{"direction"}),
		WindowSpanHours: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_span_hours",
			Help:      "Span of the last alert window in hours",
		}),
		AlertChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_checks_total",
			Help:      "Total number of alert checks by result",
		}, []string{"result"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Scheduled runs by status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Scheduled run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		RunsSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_skipped_total",
			Help:      "Scheduled runs that were skipped",
		}, []string{"reason"}),
	}
}

// ObserveMeasurement records one measurement attempt.
func (m *Metrics) ObserveMeasurement(err error, took time.Duration, downloadMbps, uploadMbps, pingMs float64, at time.Time) {
	if m == nil {
		return
	}
	m.MeasurementDuration.Observe(took.Seconds())
	if err != nil {
		m.MeasurementsTotal.WithLabelValues("error").Inc()
		return
	}
	m.MeasurementsTotal.WithLabelValues("ok").Inc()
	m.LastSample.WithLabelValues("download_mbps").Set(downloadMbps)
	m.LastSample.WithLabelValues("upload_mbps").Set(uploadMbps)
	m.LastSample.WithLabelValues("ping_ms").Set(pingMs)
	m.LastRunTimestamp.Set(float64(at.Unix()))
}

// ObserveWindow records the aggregate computed by an alert check.
func (m *Metrics) ObserveWindow(downloadMbps, uploadMbps float64, spanHours int64) {
	if m == nil {
		return
	}
	m.WindowAverage.WithLabelValues("download").Set(downloadMbps)
	m.WindowAverage.WithLabelValues("upload").Set(uploadMbps)
	m.WindowSpanHours.Set(float64(spanHours))
}

func (m *Metrics) ObserveAlert(result string) {
	if m == nil {
		return
	}
	m.AlertChecksTotal.WithLabelValues(result).Inc()
}

// ObserveRun records one scheduled run. It matches scheduler.Hooks.OnRun.
func (m *Metrics) ObserveRun(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(took.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSkip(reason string) {
	if m == nil {
		return
	}
	m.RunsSkippedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("metrics server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
