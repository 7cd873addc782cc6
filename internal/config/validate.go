package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	logx "trackspeed/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the sections every command relies on. The alert section is
// checked separately by ValidateAlert because only `alert` and `daemon` need it.
func (c *Config) Validate() error {
	if c == nil {
		return invalid("config is nil")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return invalid("data_dir is empty")
	}
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	switch c.Speedtest.Source {
	case "ookla", "native", "simulate":
	default:
		return invalid("speedtest.source: must be ookla, native or simulate, got %q", c.Speedtest.Source)
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "none":
	default:
		return invalid("storage.driver: must be file, sqlite or none, got %q", c.Storage.Driver)
	}
	for _, parse := range []func() (time.Duration, error){
		c.Speedtest.TimeoutValue,
		c.Storage.BusyTimeoutValue,
		c.SMTP.TimeoutValue,
		c.Daemon.MinGapValue,
		c.Daemon.RunTimeoutValue,
	} {
		if _, err := parse(); err != nil {
			return err
		}
	}
	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return invalid("telegram.token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return invalid("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ValidateAlert checks an alert invocation before the pipeline starts.
func ValidateAlert(a AlertConfig, smtp SMTPConfig, simulate bool) error {
	if strings.TrimSpace(a.Email) == "" {
		return invalid("alert destination e-mail is empty")
	}
	if !(a.Download > 0) || math.IsInf(a.Download, 0) {
		return invalid("expected download must be a finite number greater than zero, got %v", a.Download)
	}
	if !(a.Upload > 0) || math.IsInf(a.Upload, 0) {
		return invalid("expected upload must be a finite number greater than zero, got %v", a.Upload)
	}
	if a.Threshold < 0 || a.Threshold > 100 {
		return invalid("threshold must be between 0 and 100, got %d", a.Threshold)
	}
	if a.Count < 1 || a.Count > MaxCount {
		return invalid("count must be between 1 and %d, got %d", MaxCount, a.Count)
	}
	if simulate {
		return nil
	}
	if _, _, err := SplitServer(smtp.Server); err != nil {
		return err
	}
	if strings.TrimSpace(smtp.From) == "" && strings.TrimSpace(smtp.Username) == "" {
		return invalid("smtp: no sender address; set smtp.from (--from) or smtp.username (--username)")
	}
	return nil
}

// SplitServer parses an SMTP "host:port" address. A bare host is accepted and
// yields port 0 (the mail client default).
func SplitServer(s string) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, invalid("smtp server is empty")
	}
	if !strings.Contains(s, ":") {
		return s, 0, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, invalid("smtp server %q: %v", s, err)
	}
	if host == "" {
		return "", 0, invalid("smtp server %q: host is empty", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, invalid("smtp server %q: bad port %q", s, portStr)
	}
	return host, port, nil
}
