package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule forms.
const (
	FormCron     = "cron"
	FormDuration = "duration"
	FormClock    = "clock"
)

// ErrSchedule wraps every schedule parse failure.
var ErrSchedule = errors.New("invalid schedule")

// Schedule is a parsed daemon.schedule value: either a cron expression or a
// fixed interval.
//
// Accepted input:
//
//	*/5 * * * *   @hourly   @every 55m     cron
//	55m   2h30m                            Go duration
//	00:50   02:30                          hours:minutes interval
//
// A "cron:" prefix forces cron; "interval:" or "every:" forces an interval.
type Schedule struct {
	Cron  string
	Every time.Duration
	Form  string
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

// CronSpec is the expression registered with robfig/cron.
func (s Schedule) CronSpec() string {
	if s.IsInterval() {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var schedulePrefixes = []struct {
	prefix string
	parse  func(string) (Schedule, error)
}{
	{"cron:", cronSchedule},
	{"interval:", intervalSchedule},
	{"every:", intervalSchedule},
}

func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: empty", ErrSchedule)
	}
	for _, p := range schedulePrefixes {
		if len(s) >= len(p.prefix) && strings.EqualFold(s[:len(p.prefix)], p.prefix) {
			return p.parse(strings.TrimSpace(s[len(p.prefix):]))
		}
	}
	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return cronSchedule(s)
	}
	sched, err := intervalSchedule(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w %q: use cron like '*/5 * * * *', HH:MM like '02:30' or a duration like '55m'", ErrSchedule, raw)
	}
	return sched, nil
}

func cronSchedule(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("%w: empty cron expression", ErrSchedule)
	}
	return Schedule{Cron: expr, Form: FormCron}, nil
}

func intervalSchedule(v string) (Schedule, error) {
	if strings.Contains(v, ":") {
		d, err := parseClock(v)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Every: d, Form: FormClock}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: interval %q", ErrSchedule, v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("%w: interval %q must be positive", ErrSchedule, v)
	}
	return Schedule{Every: d, Form: FormDuration}, nil
}

// parseClock reads "H:MM" up to "HHH:MM" as an interval.
func parseClock(v string) (time.Duration, error) {
	hs, ms, _ := strings.Cut(v, ":")
	if len(hs) < 1 || len(hs) > 3 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrSchedule, v)
	}
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if m > 59 {
		return 0, fmt.Errorf("%w: minutes out of range in %q", ErrSchedule, v)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	if d == 0 {
		return 0, fmt.Errorf("%w: interval %q must be positive", ErrSchedule, v)
	}
	return d, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
