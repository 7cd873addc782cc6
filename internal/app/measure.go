package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"trackspeed/internal/config"
	"trackspeed/internal/notifier"
	"trackspeed/internal/speedlog"
	"trackspeed/internal/storage"
	logx "trackspeed/pkg/logx"
	"trackspeed/pkg/speedtest"
)

const measureFailedSubject = "Could not measure bandwidth"

// measure takes one measurement, stores the raw document and appends the
// summary row to the measurement log.
func (a *App) measure(ctx context.Context, cfg *config.Config, showResults bool) (*speedtest.Result, error) {
	src, err := a.sourceFor(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := src.Measure(ctx)
	took := time.Since(start)
	if err != nil {
		a.metrics.ObserveMeasurement(err, took, 0, 0, 0, time.Time{})
		a.log.Debug("measurement failed", logx.Err(err), logx.Duration("took", took))
		return nil, a.reportMeasureFailure(ctx, cfg, err)
	}
	res.Duration = took
	a.metrics.ObserveMeasurement(nil, took, res.DownloadMbps, res.UploadMbps, res.PingMs, res.Timestamp)
	a.log.Debug("got results",
		logx.String("source", res.Source),
		logx.Float64("download_mbps", res.DownloadMbps),
		logx.Float64("upload_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
		logx.String("server", res.ServerHost),
		logx.Duration("took", took),
	)

	if err := a.saveRaw(ctx, cfg, res); err != nil {
		return res, err
	}

	row := speedlog.Row{
		Timestamp:      res.Timestamp,
		PingMs:         res.PingMs,
		DownloadMbps:   res.DownloadMbps,
		UploadMbps:     res.UploadMbps,
		ClientIP:       res.ClientIP,
		ISP:            res.ISP,
		ServerHost:     res.ServerHost,
		ServerLocation: res.ServerLocation,
		ServerCountry:  res.ServerCountry,
		ServerID:       res.ServerID,
	}
	logPath := filepath.Join(cfg.DataDir, speedlog.FileName)
	if err := speedlog.NewWriter(logPath).Append(row); err != nil {
		return res, fmt.Errorf("could not write to %s: %w", logPath, err)
	}

	if showResults {
		fmt.Fprintln(a.stdout, strconv.FormatFloat(res.DownloadMbps, 'f', 2, 64))
		fmt.Fprintln(a.stdout, strconv.FormatFloat(res.UploadMbps, 'f', 2, 64))
		fmt.Fprintln(a.stdout, strconv.FormatFloat(res.PingMs, 'f', -1, 64))
	}
	return res, nil
}

func (a *App) saveRaw(ctx context.Context, cfg *config.Config, res *speedtest.Result) error {
	sc, err := storageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, a.log)
	if err != nil {
		return fmt.Errorf("could not open raw result store: %w", err)
	}
	if st == nil {
		return nil
	}
	defer func() {
		if err := st.Close(); err != nil {
			a.log.Warn("close raw result store", logx.Err(err))
		}
	}()

	loc, err := st.SaveRaw(ctx, storage.RawResult{At: res.Timestamp, Source: res.Source, Payload: res.Raw})
	if err != nil {
		return fmt.Errorf("could not save raw result: %w", err)
	}
	a.log.Debug("raw result saved", logx.String("location", loc))
	return nil
}

// reportMeasureFailure mails the measurement error when a destination was
// given. The returned error always carries the measurement error.
func (a *App) reportMeasureFailure(ctx context.Context, cfg *config.Config, measureErr error) error {
	if cfg.Alert.Email == "" || (cfg.SMTP.Server == "" && !cfg.Simulate) {
		return measureErr
	}
	n, err := a.mailer(cfg)
	if err == nil {
		err = n.Notify(ctx, notifier.Message{
			To:      cfg.Alert.Email,
			Subject: measureFailedSubject,
			Body:    measureErr.Error(),
		})
	}
	if err != nil {
		return fmt.Errorf("%w\nAlso, could not send e-mail. Error:\n%w", measureErr, err)
	}
	return measureErr
}

// mailer is the e-mail channel alone, used for operational errors.
func (a *App) mailer(cfg *config.Config) (notifier.Notifier, error) {
	smtpCfg, err := smtpConfig(cfg)
	if err != nil {
		return nil, err
	}
	return notifier.NewMailer(smtpCfg, cfg.Simulate, a.stdout, a.log), nil
}
