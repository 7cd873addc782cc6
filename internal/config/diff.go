package config

import (
	"sort"
	"strings"

	logx "trackspeed/pkg/logx"
)

// SummarizeConfigChange returns the names of the sections that differ and
// safe structured attrs for logging (never includes passwords or tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.DataDir) != strings.TrimSpace(newCfg.DataDir) || oldCfg.Simulate != newCfg.Simulate {
		changed = append(changed, "general")
		attrs = append(attrs,
			logx.String("data_dir", newCfg.DataDir),
			logx.Bool("simulate", newCfg.Simulate),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Speedtest != newCfg.Speedtest {
		changed = append(changed, "speedtest")
		attrs = append(attrs,
			logx.String("speedtest.source", newCfg.Speedtest.Source),
			logx.String("speedtest.timeout", strings.TrimSpace(newCfg.Speedtest.Timeout)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Alert != newCfg.Alert {
		changed = append(changed, "alert")
		attrs = append(attrs,
			logx.Float64("alert.download", newCfg.Alert.Download),
			logx.Float64("alert.upload", newCfg.Alert.Upload),
			logx.Int("alert.threshold", newCfg.Alert.Threshold),
			logx.Int("alert.count", newCfg.Alert.Count),
		)
	}

	// Compare the password by presence only so it never reaches the log.
	if oldCfg.SMTP.Server != newCfg.SMTP.Server ||
		oldCfg.SMTP.From != newCfg.SMTP.From ||
		oldCfg.SMTP.Username != newCfg.SMTP.Username ||
		oldCfg.SMTP.Password != newCfg.SMTP.Password ||
		oldCfg.SMTP.Timeout != newCfg.SMTP.Timeout {
		changed = append(changed, "smtp")
		attrs = append(attrs,
			logx.String("smtp.server", newCfg.SMTP.Server),
			logx.Bool("smtp.auth", newCfg.SMTP.Username != ""),
		)
	}

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}

	if oldCfg.Daemon != newCfg.Daemon {
		changed = append(changed, "daemon")
		attrs = append(attrs,
			logx.String("daemon.schedule", newCfg.Daemon.Schedule),
			logx.String("daemon.min_gap", newCfg.Daemon.MinGap),
			logx.String("daemon.run_timeout", newCfg.Daemon.RunTimeout),
			logx.Bool("daemon.watch_config", newCfg.Daemon.WatchConfig),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
