// Package app wires the trackspeed commands: measuring bandwidth (run),
// checking recent measurements against an expectation (alert) and doing both
// on a schedule (daemon).
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"trackspeed/internal/config"
	"trackspeed/internal/metrics"
	"trackspeed/internal/notifier"
	"trackspeed/internal/storage"
	logx "trackspeed/pkg/logx"
	"trackspeed/pkg/speedtest"
)

// Version is set at build time with -ldflags "-X trackspeed/internal/app.Version=...".
var Version = "dev"

// App carries the collaborators shared by the commands of one invocation.
type App struct {
	stdout io.Writer
	stderr io.Writer

	log  logx.Logger
	logs *logx.Service

	metrics *metrics.Metrics

	// now and source are replaced in tests.
	now    func() time.Time
	source func(cfg *config.Config) speedtest.Source
}

func newApp(stdout, stderr io.Writer) *App {
	return &App{
		stdout: stdout,
		stderr: stderr,
		log:    logx.Nop(),
		now:    time.Now,
	}
}

// Main runs one command. args excludes the program name.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) Outcome {
	return newApp(stdout, stderr).main(ctx, args)
}

func (a *App) main(ctx context.Context, args []string) Outcome {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, usageText)
		return silentlyFailed()
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		ra, err := parseRunArgs(rest, a.stderr)
		if err != nil {
			return parseOutcome(err)
		}
		return a.cmdRun(ctx, ra)
	case "alert":
		aa, err := parseAlertArgs(rest, a.stderr)
		if err != nil {
			return parseOutcome(err)
		}
		return a.cmdAlert(ctx, aa)
	case "daemon":
		da, err := parseDaemonArgs(rest, a.stderr)
		if err != nil {
			return parseOutcome(err)
		}
		return a.cmdDaemon(ctx, da)
	case "version", "--version":
		fmt.Fprintln(a.stdout, "trackspeed", Version)
		return succeeded()
	case "help", "-h", "-help", "--help":
		fmt.Fprint(a.stdout, usageText)
		return succeeded()
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n%s", cmd, usageText)
		return silentlyFailed()
	}
}

// parseOutcome maps a flag parsing error. The flag package has already
// printed the problem (or the help text).
func parseOutcome(err error) Outcome {
	if errors.Is(err, flag.ErrHelp) {
		return succeeded()
	}
	return silentlyFailed()
}

func (a *App) cmdRun(ctx context.Context, ra *runArgs) Outcome {
	cfg, _, err := a.loadConfig(ra.common)
	if err != nil {
		return failedWith(err)
	}
	applyMailFlags(cfg, ra.mail)
	cfg.Simulate = cfg.Simulate || ra.simulate
	if cfg.Simulate {
		cfg.Speedtest.Source = speedtest.SourceSimulate
	}
	a.setupLogging(cfg, ra.common.verbose)
	defer a.closeLogging()
	a.log.Debug("run", logx.String("data_dir", cfg.DataDir), logx.String("source", cfg.Speedtest.Source), logx.Bool("simulate", cfg.Simulate))

	if _, err := a.measure(ctx, cfg, ra.showResults); err != nil {
		return failedWith(err)
	}
	return succeeded()
}

func (a *App) cmdAlert(ctx context.Context, aa *alertArgs) Outcome {
	cfg, _, err := a.loadConfig(aa.common)
	if err != nil {
		return failedWith(err)
	}
	applyMailFlags(cfg, aa.mail)
	if aa.set["upload"] {
		cfg.Alert.Upload = aa.upload
	}
	if aa.set["download"] {
		cfg.Alert.Download = aa.download
	}
	if aa.set["threshold"] {
		cfg.Alert.Threshold = aa.threshold
	}
	if aa.set["count"] {
		cfg.Alert.Count = aa.count
	}
	cfg.Simulate = cfg.Simulate || aa.simulate
	if err := config.ValidateAlert(cfg.Alert, cfg.SMTP, cfg.Simulate); err != nil {
		return failedWith(err)
	}
	a.setupLogging(cfg, aa.common.verbose)
	defer a.closeLogging()
	a.log.Debug("alert",
		logx.String("data_dir", cfg.DataDir),
		logx.Float64("download", cfg.Alert.Download),
		logx.Float64("upload", cfg.Alert.Upload),
		logx.Int("threshold", cfg.Alert.Threshold),
		logx.Int("count", cfg.Alert.Count),
		logx.Bool("simulate", cfg.Simulate),
	)

	if _, err := a.check(ctx, cfg); err != nil {
		return failedWith(err)
	}
	return succeeded()
}

// loadConfig returns the file config (or the defaults) with the common flag
// overrides applied. The manager is nil without -config.
func (a *App) loadConfig(c commonFlags) (*config.Config, *config.Manager, error) {
	var (
		cfg *config.Config
		mgr *config.Manager
	)
	if p := strings.TrimSpace(c.configPath); p != "" {
		mgr = config.NewManager(p)
		loaded, err := mgr.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("could not load config %s: %w", p, err)
		}
		cp := *loaded
		cfg = &cp
	} else {
		cfg = config.Defaults()
	}
	if d := strings.TrimSpace(c.dataDir); d != "" {
		cfg.DataDir = d
	}
	return cfg, mgr, nil
}

func applyMailFlags(cfg *config.Config, m mailFlags) {
	if m.email != "" {
		cfg.Alert.Email = m.email
	}
	if m.smtp != "" {
		cfg.SMTP.Server = m.smtp
	}
	if m.from != "" {
		cfg.SMTP.From = m.from
	}
	if m.username != "" {
		cfg.SMTP.Username = m.username
	}
	if m.password != "" {
		cfg.SMTP.Password = m.password
	}
}

func logConfig(cfg *config.Config, verbose int, out io.Writer) logx.Config {
	return logx.Config{
		Level:   logx.VerbosityLevel(verbose, cfg.Logging.Level),
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		ConsoleOut: out,
	}
}

func (a *App) setupLogging(cfg *config.Config, verbose int) {
	logs, log := logx.New(logConfig(cfg, verbose, a.stderr))
	a.logs = logs
	a.log = log.With(logx.String("comp", "app"))
}

func (a *App) closeLogging() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// notifierFor builds the alert channels: e-mail, plus Telegram when enabled.
func (a *App) notifierFor(cfg *config.Config) (notifier.Notifier, error) {
	mailer, err := a.mailer(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.Telegram.Enabled {
		return mailer, nil
	}
	tg, err := notifier.NewTelegram(notifier.TelegramConfig{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		APIURL:   cfg.Telegram.APIURL,
	}, cfg.Simulate, a.stdout)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return notifier.Fanout{mailer, tg}, nil
}

func smtpConfig(cfg *config.Config) (notifier.SMTPConfig, error) {
	out := notifier.SMTPConfig{
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	}
	timeout, err := cfg.SMTP.TimeoutValue()
	if err != nil {
		return out, err
	}
	out.Timeout = timeout
	if strings.TrimSpace(cfg.SMTP.Server) == "" {
		if cfg.Simulate {
			return out, nil
		}
		return out, errors.New("smtp server is not configured")
	}
	host, port, err := config.SplitServer(cfg.SMTP.Server)
	if err != nil {
		return out, err
	}
	out.Server, out.Port = host, port
	return out, nil
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := cfg.Storage.BusyTimeoutValue()
	if err != nil {
		return storage.Config{}, err
	}
	sc := storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Dir:         cfg.DataDir,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}
	if sc.Path == "" {
		sc.Path = filepath.Join(cfg.DataDir, "raw_results.db")
	}
	return sc, nil
}

func (a *App) sourceFor(cfg *config.Config) (speedtest.Source, error) {
	if a.source != nil {
		return a.source(cfg), nil
	}
	timeout, err := cfg.Speedtest.TimeoutValue()
	if err != nil {
		return nil, err
	}
	switch cfg.Speedtest.Source {
	case speedtest.SourceSimulate:
		return speedtest.Simulated{Now: a.now}, nil
	case speedtest.SourceNative:
		return speedtest.NewRunner(speedtest.RunConfig{
			ServerCount:       cfg.Speedtest.ServerCount,
			FullTestServers:   cfg.Speedtest.FullTestServers,
			MaxConnections:    cfg.Speedtest.MaxConnections,
			SavingMode:        cfg.Speedtest.SavingMode,
			PacketLossEnabled: cfg.Speedtest.PacketLoss,
			OperationTimeout:  timeout,
			PostRunGC:         true,
		}), nil
	case speedtest.SourceOokla, "":
		return &speedtest.OoklaCLI{Binary: cfg.Speedtest.Binary, Timeout: timeout, Now: a.now}, nil
	default:
		return nil, fmt.Errorf("unknown speedtest source %q", cfg.Speedtest.Source)
	}
}
