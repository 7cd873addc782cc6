package logx

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// DefaultLevel applies when no level is configured.
const DefaultLevel = LevelWarn

var levelNames = map[string]Level{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// ParseLevel accepts the level names used in config files. The empty string
// is DefaultLevel.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultLevel, nil
	}
	if l, ok := levelNames[s]; ok {
		return l, nil
	}
	return DefaultLevel, fmt.Errorf("unknown log level %q", s)
}

func levelOrDefault(s string) Level {
	l, _ := ParseLevel(s)
	return l
}

// VerbosityLevel maps the number of -v flags to a level name. Zero keeps the
// configured level, or "warn" when none is set.
func VerbosityLevel(verbosity int, configured string) string {
	if verbosity >= 2 {
		return "trace"
	}
	if verbosity == 1 {
		return "debug"
	}
	if strings.TrimSpace(configured) == "" {
		return DefaultLevel.String()
	}
	return configured
}
