package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLKeepsDefaults(t *testing.T) {
	t.Parallel()
	src := `
data_dir: /var/lib/trackspeed
alert:
  email: ops@example.com
  download: 100
  upload: 10
smtp:
  server: smtp.example.com:465
daemon:
  schedule: "@every 30m"
  watch_config: true
`
	cfg, err := Decode("trackspeed.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.DataDir != "/var/lib/trackspeed" || cfg.Alert.Email != "ops@example.com" || cfg.Alert.Download != 100 {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Alert.Threshold != DefaultThreshold || cfg.Alert.Count != DefaultCount {
		t.Fatalf("alert defaults lost: %+v", cfg.Alert)
	}
	if cfg.Storage.Driver != "file" || cfg.Speedtest.Source != "ookla" || !cfg.Logging.Console {
		t.Fatalf("section defaults lost: %+v", cfg)
	}
	if cfg.Daemon.Schedule != "@every 30m" || cfg.Daemon.MinGap != DefaultMinGap || !cfg.Daemon.WatchConfig {
		t.Fatalf("daemon section = %+v", cfg.Daemon)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeExplicitZeroThreshold(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(`{"alert":{"threshold":0}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Alert.Threshold != 0 {
		t.Fatalf("threshold = %d, want explicit 0", cfg.Alert.Threshold)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		src  string
	}{
		{name: "unknown json key", file: "c.json", src: `{"alert":{"emial":"x"}}`},
		{name: "unknown yaml key", file: "c.yml", src: "smtp:\n  host: x\n"},
		{name: "trailing data", file: "c.json", src: `{"data_dir":"a"}{"data_dir":"b"}`},
		{name: "bad yaml", file: "c.yaml", src: "alert: [unterminated"},
		{name: "repeated yaml key", file: "c.yaml", src: "alert:\n  count: 3\n  count: 4\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.src)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeEmptyYAMLIsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.DataDir != DefaultDataDir || cfg.Alert.Count != DefaultCount {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	gap, err := cfg.Daemon.MinGapValue()
	if err != nil || gap != 5*time.Minute {
		t.Fatalf("min gap = %v, %v", gap, err)
	}
	timeout, err := cfg.SMTP.TimeoutValue()
	if err != nil || timeout != 0 {
		t.Fatalf("unset timeout = %v, %v; want 0", timeout, err)
	}
	cfg.Speedtest.Timeout = "later"
	if _, err := cfg.Speedtest.TimeoutValue(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = " " }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }},
		{name: "bad source", mutate: func(c *Config) { c.Speedtest.Source = "iperf" }},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }},
		{name: "bad duration", mutate: func(c *Config) { c.Daemon.MinGap = "soon" }},
		{name: "negative duration", mutate: func(c *Config) { c.SMTP.Timeout = "-1s" }},
		{name: "bad run timeout", mutate: func(c *Config) { c.Daemon.RunTimeout = "a while" }},
		{name: "telegram without token", mutate: func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: 1} }},
		{name: "telegram complete", mutate: func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, Token: "t", ChatID: 1} }, ok: true},
		{name: "sqlite", mutate: func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.BusyTimeout = "5s" }, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestValidateAlert(t *testing.T) {
	t.Parallel()
	good := AlertConfig{Email: "ops@example.com", Download: 100, Upload: 10, Threshold: 20, Count: 8}
	smtp := SMTPConfig{Server: "smtp.example.com:587", From: "trackspeed@example.com"}
	tests := []struct {
		name     string
		mutate   func(*AlertConfig, *SMTPConfig)
		simulate bool
		ok       bool
	}{
		{name: "valid", mutate: func(*AlertConfig, *SMTPConfig) {}, ok: true},
		{name: "no email", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Email = "" }},
		{name: "zero download", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Download = 0 }},
		{name: "negative upload", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Upload = -1 }},
		{name: "threshold above 100", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Threshold = 101 }},
		{name: "threshold 0", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Threshold = 0 }, ok: true},
		{name: "threshold 100", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Threshold = 100 }, ok: true},
		{name: "count 0", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Count = 0 }},
		{name: "count 255", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Count = 255 }, ok: true},
		{name: "count 256", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Count = 256 }},
		{name: "infinite download", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Download = math.Inf(1) }},
		{name: "NaN upload", mutate: func(a *AlertConfig, _ *SMTPConfig) { a.Upload = math.NaN() }},
		{name: "no sender", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.From = " " }},
		{name: "username as sender", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.From = ""; s.Username = "ops@example.com" }, ok: true},
		{name: "no sender simulated", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.From = "" }, simulate: true, ok: true},
		{name: "no smtp", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.Server = "" }},
		{name: "no smtp simulated", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.Server = "" }, simulate: true, ok: true},
		{name: "bad port", mutate: func(_ *AlertConfig, s *SMTPConfig) { s.Server = "smtp.example.com:http" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, s := good, smtp
			tt.mutate(&a, &s)
			err := ValidateAlert(a, s, tt.simulate)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSplitServer(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		host string
		port int
		ok   bool
	}{
		{in: "smtp.example.com:465", host: "smtp.example.com", port: 465, ok: true},
		{in: "smtp.example.com", host: "smtp.example.com", ok: true},
		{in: "[::1]:25", host: "::1", port: 25, ok: true},
		{in: ":25"},
		{in: "smtp.example.com:0"},
		{in: "smtp.example.com:70000"},
		{in: ""},
	}
	for _, tt := range tests {
		host, port, err := SplitServer(tt.in)
		if tt.ok != (err == nil) {
			t.Fatalf("SplitServer(%q) err = %v, ok want %v", tt.in, err, tt.ok)
		}
		if tt.ok && (host != tt.host || port != tt.port) {
			t.Fatalf("SplitServer(%q) = %q, %d; want %q, %d", tt.in, host, port, tt.host, tt.port)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := Defaults()
	newCfg := Defaults()
	newCfg.SMTP.Password = "hunter2"
	newCfg.Telegram.Token = "123:secret"
	newCfg.Alert.Threshold = 30

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(changed, ","); got != "alert,smtp,telegram" {
		t.Fatalf("changed = %q", got)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	if changed, _ := SummarizeConfigChange(oldCfg, Defaults()); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "trackspeed.yaml")
	write := func(threshold int) {
		t.Helper()
		body := fmt.Sprintf("alert:\n  threshold: %d\n", threshold)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(20)

	m := NewManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// The watcher starts asynchronously; keep rewriting until it notices.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-updates:
			if cfg.Alert.Threshold != 35 {
				t.Fatalf("threshold = %d, want 35", cfg.Alert.Threshold)
			}
			if m.Get().Alert.Threshold != 35 {
				t.Fatal("published config was not committed")
			}
			return
		case <-tick.C:
			write(35)
		case <-deadline:
			t.Fatal("no config update published")
		}
	}
}

func TestManagerReloadIgnoresInvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(path, []byte(`{"alert":{"threshold":10}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updates := m.Subscribe(1)

	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"tape"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case <-updates:
		t.Fatal("invalid config was published")
	default:
	}
	if m.Get().Alert.Threshold != 10 {
		t.Fatal("committed config changed after invalid reload")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if err := os.WriteFile(path, []byte(`{"alert":{"threshold":11}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if m.Get().Alert.Threshold != 10 {
		t.Fatal("config rejected by validator was committed")
	}
}
