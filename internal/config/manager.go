package config

import (
	"context"
	"reflect"
	"sync"
	"time"

	logx "trackspeed/pkg/logx"
)

const (
	defaultDebounce  = 250 * time.Millisecond
	validatorTimeout = 5 * time.Second
)

// Manager holds the committed config and, while Watch runs, replaces it
// whenever the file changes to something that still validates.
type Manager struct {
	path     string
	debounce time.Duration

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	mu   sync.RWMutex
	cfg  *Config
	subs map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		debounce: defaultDebounce,
		log:      logx.Nop(),
		subs:     make(map[chan *Config]struct{}),
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log.With(logx.String("comp", "config")) }

// SetValidator adds a check that a reloaded config must pass, after
// Validate, before it is committed.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Load reads and validates the file and commits the result.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Get returns the committed config. It must not be modified.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every committed reload. When the
// buffer is full the oldest pending config is replaced.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// reload commits and publishes the file if it is valid and differs from the
// committed config. Rejections are logged.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := Load(m.path)
	if err == nil && m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validatorTimeout)
		err = m.validator(vctx, cfg)
		cancel()
	}
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if reflect.DeepEqual(m.cfg, cfg) {
		m.log.Debug("config file changed without effect", logx.String("path", m.path))
		return
	}
	m.cfg = cfg
	for ch := range m.subs {
		offer(ch, cfg)
	}
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// offer sends cfg without blocking, dropping a stale pending value first.
func offer(ch chan *Config, cfg *Config) {
	for {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
