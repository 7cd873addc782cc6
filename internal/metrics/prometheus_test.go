package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveMeasurement(t *testing.T) {
	t.Parallel()
	m := New()
	at := time.Unix(1700000000, 0)
	m.ObserveMeasurement(nil, 20*time.Second, 95.5, 9.5, 12, at)
	m.ObserveMeasurement(errors.New("boom"), time.Second, 0, 0, 0, time.Time{})

	if got := testutil.ToFloat64(m.MeasurementsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok = %v", got)
	}
	if got := testutil.ToFloat64(m.MeasurementsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("error = %v", got)
	}
	if got := testutil.ToFloat64(m.LastSample.WithLabelValues("download_mbps")); got != 95.5 {
		t.Fatalf("last download = %v", got)
	}
	if got := testutil.ToFloat64(m.LastRunTimestamp); got != 1700000000 {
		t.Fatalf("last run = %v", got)
	}
}

func TestObserveWindowAndAlerts(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveWindow(70, 8, 7)
	m.ObserveAlert(AlertBreach)
	m.ObserveAlert(AlertBreach)
	m.ObserveSkip("min_gap")

	if got := testutil.ToFloat64(m.WindowAverage.WithLabelValues("upload")); got != 8 {
		t.Fatalf("window upload = %v", got)
	}
	if got := testutil.ToFloat64(m.WindowSpanHours); got != 7 {
		t.Fatalf("span = %v", got)
	}
	if got := testutil.ToFloat64(m.AlertChecksTotal.WithLabelValues(AlertBreach)); got != 2 {
		t.Fatalf("breaches = %v", got)
	}
	if got := testutil.ToFloat64(m.RunsSkippedTotal.WithLabelValues("min_gap")); got != 1 {
		t.Fatalf("skips = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveMeasurement(nil, time.Second, 1, 1, 1, time.Now())
	m.ObserveWindow(1, 1, 1)
	m.ObserveAlert(AlertOK)
	m.ObserveSkip("min_gap")
	m.ObserveRun(nil, time.Second)
}

func TestObserveRun(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveRun(nil, 30*time.Second)
	m.ObserveRun(errors.New("run: no network"), time.Second)
	m.ObserveRun(nil, 40*time.Second)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok runs = %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed runs = %v", got)
	}
	if got := testutil.CollectAndCount(m.RunDuration); got != 1 {
		t.Fatalf("duration series = %d", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveAlert(AlertOK)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`trackspeed_alert_checks_total{result="ok"} 1`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
