package app

import (
	"context"
	"fmt"
	"path/filepath"

	"trackspeed/internal/alert"
	"trackspeed/internal/config"
	"trackspeed/internal/metrics"
	"trackspeed/internal/notifier"
	"trackspeed/internal/speedlog"
	logx "trackspeed/pkg/logx"
)

const notEnoughResults = "Not enough results to report yet."

// check reads the trailing window of the measurement log and notifies when
// its averages fall short of the expectation. It returns one of the
// metrics.Alert* results.
func (a *App) check(ctx context.Context, cfg *config.Config) (string, error) {
	logPath := filepath.Join(cfg.DataDir, speedlog.FileName)
	window, ok, err := speedlog.ReadLast(logPath, cfg.Alert.Count)
	if err != nil {
		a.metrics.ObserveAlert(metrics.AlertError)
		return metrics.AlertError, fmt.Errorf("could not read the measurement log: %w", err)
	}
	if !ok {
		fmt.Fprintln(a.stdout, notEnoughResults)
		a.metrics.ObserveAlert(metrics.AlertInsufficient)
		return metrics.AlertInsufficient, nil
	}

	agg := alert.Average(window)
	a.metrics.ObserveWindow(agg.Download, agg.Upload, agg.SpanHours)
	exp := alert.Expectation{
		Download:  cfg.Alert.Download,
		Upload:    cfg.Alert.Upload,
		Threshold: uint8(cfg.Alert.Threshold),
	}
	a.log.Debug("average",
		logx.Float64("download", agg.Download),
		logx.Float64("upload", agg.Upload),
		logx.Int64("span_hours", agg.SpanHours),
		logx.Int("samples", len(window)),
	)
	if !alert.Breached(agg, exp) {
		a.log.Debug("bandwidth within expectation")
		a.metrics.ObserveAlert(metrics.AlertOK)
		return metrics.AlertOK, nil
	}

	n, err := a.notifierFor(cfg)
	if err == nil {
		err = n.Notify(ctx, notifier.Message{
			To:      cfg.Alert.Email,
			Subject: alert.Subject,
			Body:    alert.Body(agg, exp, len(window)),
		})
	}
	if err != nil {
		a.metrics.ObserveAlert(metrics.AlertError)
		return metrics.AlertError, fmt.Errorf("alert could not be delivered: %w", err)
	}
	a.metrics.ObserveAlert(metrics.AlertBreach)
	return metrics.AlertBreach, nil
}
