package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trackspeed/internal/config"
	"trackspeed/internal/metrics"
	"trackspeed/internal/scheduler"
	logx "trackspeed/pkg/logx"
	"trackspeed/pkg/speedtest"
	"trackspeed/pkg/systemd"
)

const daemonStopTimeout = 30 * time.Second

func (a *App) cmdDaemon(ctx context.Context, da *daemonArgs) Outcome {
	loaded, mgr, err := a.loadConfig(da.common)
	if err != nil {
		return failedWith(err)
	}
	prepare := func(c *config.Config) (*config.Config, error) {
		cp := *c
		if d := strings.TrimSpace(da.common.dataDir); d != "" {
			cp.DataDir = d
		}
		cp.Simulate = cp.Simulate || da.simulate
		if cp.Simulate {
			cp.Speedtest.Source = speedtest.SourceSimulate
		}
		if err := config.ValidateAlert(cp.Alert, cp.SMTP, cp.Simulate); err != nil {
			return nil, err
		}
		if err := scheduler.Validate(cp.Daemon.Schedule); err != nil {
			return nil, fmt.Errorf("%w: daemon.schedule: %w", config.ErrInvalid, err)
		}
		return &cp, nil
	}
	cfg, err := prepare(loaded)
	if err != nil {
		return failedWith(err)
	}

	a.setupLogging(cfg, da.common.verbose)
	defer a.closeLogging()
	mgr.SetLogger(a.log)
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := prepare(c)
		return err
	})
	a.metrics = metrics.New()

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	job := func(ctx context.Context) error {
		c := current.Load()
		var errs []error
		if _, err := a.measure(ctx, c, false); err != nil {
			a.log.Error("measurement failed", logx.Err(err))
			errs = append(errs, fmt.Errorf("run: %w", err))
		}
		result, err := a.check(ctx, c)
		if err != nil {
			a.log.Error("alert check failed", logx.Err(err))
			errs = append(errs, fmt.Errorf("alert: %w", err))
		} else {
			a.log.Info("alert check finished", logx.String("result", result))
		}
		return errors.Join(errs...)
	}

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return failedWith(err)
	}
	sched, err := scheduler.New(schedCfg, job, scheduler.Hooks{OnRun: a.metrics.ObserveRun, OnSkip: a.metrics.ObserveSkip}, a.log)
	if err != nil {
		return failedWith(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	fatal := make(chan error, 1)

	if addr := strings.TrimSpace(cfg.Daemon.MetricsAddr); addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metrics.Serve(ctx, addr, a.log); err != nil {
				fatal <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if cfg.Daemon.WatchConfig {
		updates := mgr.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := mgr.Watch(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("config watcher stopped", logx.Err(err))
			}
		}()
		go func() {
			defer wg.Done()
			defer mgr.Unsubscribe(updates)
			for {
				select {
				case <-ctx.Done():
					return
				case next := <-updates:
					a.applyReload(next, prepare, &current, sched, da.common.verbose)
				}
			}
		}()
	}

	sched.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		systemd.RunWatchdog(ctx, a.log)
	}()
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("next run at " + sched.Next().Format(time.RFC3339))
	a.log.Info("daemon started",
		logx.String("config", mgr.Path()),
		logx.String("schedule", cfg.Daemon.Schedule),
		logx.Time("next", sched.Next()),
	)

	var out Outcome
	select {
	case <-ctx.Done():
		out = succeeded()
	case err := <-fatal:
		a.log.Error("daemon failed", logx.Err(err))
		out = failedWith(err)
	}

	_, _ = systemd.Stopping()
	a.log.Info("daemon stopping")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), daemonStopTimeout)
	sched.Stop(stopCtx)
	stopCancel()
	cancel()
	wg.Wait()
	a.log.Info("daemon stopped")
	return out
}

func (a *App) applyReload(next *config.Config, prepare func(*config.Config) (*config.Config, error), current *atomic.Pointer[config.Config], sched *scheduler.Scheduler, verbose int) {
	if next == nil {
		return
	}
	cfg, err := prepare(next)
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}
	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		a.log.Warn("config update ignored", logx.Err(err))
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	old := current.Swap(cfg)
	a.logs.Apply(logConfig(cfg, verbose, a.stderr))
	if err := sched.Apply(schedCfg); err != nil {
		a.log.Warn("schedule update rejected", logx.Err(err))
	}
	if old.Daemon.MetricsAddr != cfg.Daemon.MetricsAddr {
		a.log.Warn("daemon.metrics_addr changes need a restart",
			logx.String("active", old.Daemon.MetricsAddr),
			logx.String("configured", cfg.Daemon.MetricsAddr),
		)
	}
	changes, fields := config.SummarizeConfigChange(old, cfg)
	if len(changes) == 0 {
		a.log.Debug("config reloaded without effective changes")
		return
	}
	a.log.Info("config applied", append(fields, logx.String("sections", strings.Join(changes, ",")))...)
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	gap, err := cfg.Daemon.MinGapValue()
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := cfg.Daemon.RunTimeoutValue()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Schedule: cfg.Daemon.Schedule,
		Timezone: cfg.Daemon.Timezone,
		MinGap:   gap,
		Timeout:  timeout,
	}, nil
}
