// Package session keeps the courier device's authenticated session alive
// while it is in use and ends it after a period of inactivity.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/order-tracking/internal/port"
	"github.com/rl1809/order-tracking/internal/retry"
	"github.com/rl1809/order-tracking/internal/schedule"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultRenewEvery  = 10 * time.Minute
)

// Context describes the running session.
type Context struct {
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

type Config struct {
	IdleTimeout time.Duration
	RenewEvery  time.Duration
	Clock       func() time.Time
}

type Manager struct {
	renewer     port.SessionRenewer
	idleTimeout time.Duration
	renewEvery  time.Duration
	clock       func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	state    Context
	running  bool
	expired  bool
	cancel   context.CancelFunc
	task     *schedule.Task
	onExpire []func()
}

func NewManager(renewer port.SessionRenewer, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RenewEvery <= 0 {
		cfg.RenewEvery = DefaultRenewEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		renewer:     renewer,
		idleTimeout: cfg.IdleTimeout,
		renewEvery:  cfg.RenewEvery,
		clock:       cfg.Clock,
		logger:      logger.With().Str("component", "session").Logger(),
	}
}

// Start begins the session and schedules renewal. Starting a running session
// does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	now := m.clock()
	m.state = Context{StartedAt: now, LastActivity: now}
	m.running = true
	m.expired = false

	ctx, m.cancel = context.WithCancel(ctx)
	m.task = schedule.Every(ctx, m.renewEvery, m.tick)
	m.logger.Info().Dur("idle_timeout", m.idleTimeout).Dur("renew_every", m.renewEvery).Msg("session started")
}

// Touch records user activity.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.state.LastActivity = m.clock()
	}
}

// Snapshot returns the session context, false when no session is running.
func (m *Manager) Snapshot() (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.running
}

func (m *Manager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// OnExpire registers fn to run once the session expires through inactivity.
func (m *Manager) OnExpire(fn func()) {
	m.mu.Lock()
	m.onExpire = append(m.onExpire, fn)
	m.mu.Unlock()
}

// Stop ends the session and waits for the renewal task. Safe to call more
// than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	task := m.task
	m.stopLocked()
	m.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

func (m *Manager) stopLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	idle := m.clock().Sub(m.state.LastActivity)
	if idle > m.idleTimeout {
		// cancel only, Stop would wait on the goroutine running this tick
		m.expired = true
		m.stopLocked()
		hooks := append([]func(){}, m.onExpire...)
		m.mu.Unlock()

		m.logger.Info().Dur("idle", idle).Msg("session expired")
		for _, fn := range hooks {
			fn()
		}
		return
	}
	m.mu.Unlock()

	if err := m.renewer.Renew(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		if retry.IsOffline(err) {
			m.logger.Warn().Err(err).Msg("session renewal skipped while offline")
			return
		}
		m.logger.Error().Err(err).Msg("session renewal failed")
		return
	}
	m.logger.Debug().Msg("session renewed")
}
