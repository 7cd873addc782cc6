package config

import (
	"strings"
	"time"
)

// Durations are kept as Go duration strings ("90s", "5m") in the file. An
// empty string means "use the built-in default", reported as 0.

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, invalid("%s: %q is not a duration", field, raw)
	}
	if d < 0 {
		return 0, invalid("%s: must not be negative", field)
	}
	return d, nil
}

// TimeoutValue bounds one measurement.
func (s SpeedtestConfig) TimeoutValue() (time.Duration, error) {
	return parseDuration("speedtest.timeout", s.Timeout)
}

// BusyTimeoutValue is how long sqlite waits on a locked database.
func (s StorageConfig) BusyTimeoutValue() (time.Duration, error) {
	return parseDuration("storage.busy_timeout", s.BusyTimeout)
}

// TimeoutValue bounds one SMTP session.
func (s SMTPConfig) TimeoutValue() (time.Duration, error) {
	return parseDuration("smtp.timeout", s.Timeout)
}

// RunTimeoutValue bounds one scheduled run (measure plus alert check). Zero
// means no limit beyond the speedtest timeout.
func (d DaemonConfig) RunTimeoutValue() (time.Duration, error) {
	return parseDuration("daemon.run_timeout", d.RunTimeout)
}

// MinGapValue is the least time between two scheduled runs.
func (d DaemonConfig) MinGapValue() (time.Duration, error) {
	return parseDuration("daemon.min_gap", d.MinGap)
}
