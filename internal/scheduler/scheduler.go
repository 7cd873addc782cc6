// Package scheduler runs one job on a cron schedule for the daemon.
//
// Runs never overlap: a tick that arrives while the previous run is still
// going is dropped by robfig/cron's SkipIfStillRunning. A tick that arrives
// sooner than MinGap after the last started run is dropped too.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "trackspeed/pkg/logx"
)

// Config controls the trigger.
type Config struct {
	Schedule string
	Timezone string // IANA TZ, e.g. "Europe/Lisbon"; empty means Local
	MinGap   time.Duration
	// Timeout bounds one run; 0 disables it.
	Timeout time.Duration
}

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Hooks observe the scheduler. Any field may be nil.
type Hooks struct {
	OnRun  func(err error, took time.Duration)
	OnSkip func(reason string)
}

type Scheduler struct {
	mu    sync.Mutex
	runMu sync.Mutex

	log    logx.Logger
	job    Job
	hooks  Hooks
	parser cron.Parser

	cfg     Config
	spec    Schedule
	c       *cron.Cron
	entryID cron.EntryID
	limiter *rate.Limiter
	now     func() time.Time

	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, job Job, hooks Hooks, log logx.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler job is nil")
	}
	s := &Scheduler{
		log:    log.With(logx.String("comp", "scheduler")),
		job:    job,
		hooks:  hooks,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	spec, err := s.parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	s.spec = spec
	s.limiter = rate.NewLimiter(gapLimit(cfg.MinGap), 1)
	return s, nil
}

// Validate reports whether raw is a schedule the daemon can run.
func Validate(raw string) error {
	s := &Scheduler{parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
	_, err := s.parse(raw)
	return err
}

func (s *Scheduler) parse(raw string) (Schedule, error) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return Schedule{}, err
	}
	if _, err := s.parser.Parse(spec.CronSpec()); err != nil {
		return Schedule{}, fmt.Errorf("%w %q: %w", ErrSchedule, raw, err)
	}
	return spec, nil
}

// maxGapSlack caps how much earlier than MinGap a tick may still run. Cron
// fires on the boundary but a run takes its token a little later, so a gap
// equal to the schedule period would otherwise drop every other run.
const maxGapSlack = time.Second

func gapLimit(gap time.Duration) rate.Limit {
	if gap <= 0 {
		return rate.Inf
	}
	return rate.Every(gap - min(maxGapSlack, gap/10))
}

// Start registers the job and starts the cron loop. Runs use a context
// derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	loc := s.loadLocationLocked()
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	id, err := s.c.AddFunc(s.spec.CronSpec(), s.tick)
	if err != nil {
		// parse() already accepted the expression
		s.log.Error("register schedule failed", logx.String("spec", s.spec.CronSpec()), logx.Err(err))
		return
	}
	s.entryID = id
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("spec", s.spec.CronSpec()),
		logx.String("tz", loc.String()),
		logx.Duration("min_gap", s.cfg.MinGap),
		logx.Time("next", s.c.Entry(id).Next),
	)
}

// Apply swaps the schedule, timezone and gap of a running scheduler. An
// invalid schedule is rejected and the current one stays active.
func (s *Scheduler) Apply(cfg Config) error {
	spec, err := s.parse(cfg.Schedule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := spec.CronSpec() != s.spec.CronSpec() || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.spec = spec
	s.limiter.SetLimitAt(s.now(), gapLimit(cfg.MinGap))
	if !restart || s.c == nil {
		return nil
	}
	// Stop without waiting: a run in progress keeps going and the next tick
	// of the new schedule cannot overlap it because tick serializes on runMu.
	s.c.Stop()
	s.startLocked()
	return nil
}

// Next returns the next planned run, or the zero time when not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

// Stop halts the trigger and waits for a run in progress, or until ctx is
// done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running job")
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) tick() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	ctx := s.runCtx
	timeout := s.cfg.Timeout
	limiter := s.limiter
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	if !limiter.AllowN(s.now(), 1) {
		s.log.Info("run skipped: too soon after previous run")
		if s.hooks.OnSkip != nil {
			s.hooks.OnSkip("min_gap")
		}
		return
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.safeRun(ctx)
	took := time.Since(start)
	if err != nil {
		s.log.Warn("scheduled run failed", logx.Err(err), logx.Duration("took", took))
	} else {
		s.log.Info("scheduled run finished", logx.Duration("took", took))
	}
	if s.hooks.OnRun != nil {
		s.hooks.OnRun(err, took)
	}
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled run", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.job(ctx)
}

func (s *Scheduler) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
