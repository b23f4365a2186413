package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity and expiry defaults.
const (
	DefaultMaxPerKey   = 10
	DefaultMaxTotal    = 1000
	DefaultIdleTimeout = 1800 * time.Second
	// sweepInterval is how often the background sweeper wakes.
	sweepInterval = 60 * time.Second
)

// EvictReason labels why a session left the manager.
type EvictReason string

const (
	EvictIdle     EvictReason = "idle"
	EvictExplicit EvictReason = "closed"
	EvictShutdown EvictReason = "shutdown"
)

// Config tunes the manager. Zero values take the defaults above.
type Config struct {
	MaxPerKey   int
	MaxTotal    int
	IdleTimeout time.Duration
}

// Manager owns all live sessions. Map mutations happen under mu; request
// handling happens on the individual session's lock so slow calls on one
// session never block the others.
type Manager struct {
	factory CoreFactory
	logger  *slog.Logger

	maxPerKey   int
	maxTotal    int
	idleTimeout time.Duration

	// onEvict is notified for metrics; may be nil.
	onEvict func(reason EvictReason)
	// onCreate is notified for metrics; may be nil.
	onCreate func()

	mu       sync.Mutex
	sessions map[string]*Session
	perKey   map[string]int

	done chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithEvictHook registers a callback fired once per evicted session.
func WithEvictHook(fn func(reason EvictReason)) Option {
	return func(m *Manager) { m.onEvict = fn }
}

// WithCreateHook registers a callback fired once per created session.
func WithCreateHook(fn func()) Option {
	return func(m *Manager) { m.onCreate = fn }
}

// NewManager creates a Manager and starts its background sweeper.
func NewManager(factory CoreFactory, logger *slog.Logger, cfg Config, opts ...Option) *Manager {
	if cfg.MaxPerKey <= 0 {
		cfg.MaxPerKey = DefaultMaxPerKey
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		factory:     factory,
		logger:      logger,
		maxPerKey:   cfg.MaxPerKey,
		maxTotal:    cfg.MaxTotal,
		idleTimeout: cfg.IdleTimeout,
		sessions:    make(map[string]*Session),
		perKey:      make(map[string]int),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Create registers a new session and builds its server core. Idle
// sessions are swept first; if a cap is still exceeded afterwards the
// create fails with ErrSessionLimit.
func (m *Manager) Create(ctx context.Context, tmpl Template) (*Session, error) {
	m.mu.Lock()

	now := time.Now().UTC()
	swept := m.sweepLocked(now)

	if m.perKey[tmpl.KeyID] >= m.maxPerKey {
		m.mu.Unlock()
		m.closeAll(swept)
		return nil, fmt.Errorf("%w: %d sessions for key", ErrSessionLimit, m.maxPerKey)
	}
	if len(m.sessions) >= m.maxTotal {
		m.mu.Unlock()
		m.closeAll(swept)
		return nil, fmt.Errorf("%w: %d total sessions", ErrSessionLimit, m.maxTotal)
	}

	s := &Session{
		ID:           uuid.NewString(),
		AccountID:    tmpl.AccountID,
		KeyID:        tmpl.KeyID,
		Mode:         tmpl.Mode,
		ProjectID:    tmpl.ProjectID,
		Transport:    tmpl.Transport,
		CreatedAt:    now,
		state:        StateNew,
		lastActivity: now,
	}
	core, err := m.factory(ctx, s)
	if err != nil {
		m.mu.Unlock()
		m.closeAll(swept)
		return nil, fmt.Errorf("session core: %w", err)
	}
	s.core = core

	m.sessions[s.ID] = s
	m.perKey[s.KeyID]++
	if m.onCreate != nil {
		m.onCreate()
	}
	m.mu.Unlock()
	m.closeAll(swept)

	m.logger.Info("session created",
		"session_id", s.ID,
		"account_id", s.AccountID,
		"transport", s.Transport)
	return s, nil
}

// Get returns a live session. Sessions past the idle timeout are evicted
// on the spot and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()

	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.idleSince(time.Now().UTC(), m.idleTimeout) {
		m.removeLocked(s, EvictIdle)
		m.mu.Unlock()
		s.close()
		return nil, ErrSessionNotFound
	}
	m.mu.Unlock()
	return s, nil
}

// Touch refreshes a session's activity clock without dispatching.
func (m *Manager) Touch(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.touch(time.Now().UTC())
	return nil
}

// Close terminates a session explicitly. The core is closed outside the
// manager lock so an in-flight dispatch on the session gets cancelled
// without stalling creates and lookups on other sessions.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.removeLocked(s, EvictExplicit)
	m.mu.Unlock()

	s.close()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops the sweeper and closes every session.
func (m *Manager) Shutdown() {
	close(m.done)
	m.mu.Lock()
	removed := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		m.removeLocked(s, EvictShutdown)
		removed = append(removed, s)
	}
	m.mu.Unlock()
	m.closeAll(removed)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.Lock()
			swept := m.sweepLocked(time.Now().UTC())
			m.mu.Unlock()
			m.closeAll(swept)
		}
	}
}

// sweepLocked unregisters every session past the idle timeout and
// returns them; the caller closes them after releasing the manager
// lock. Caller holds the manager lock.
func (m *Manager) sweepLocked(now time.Time) []*Session {
	var swept []*Session
	for _, s := range m.sessions {
		if s.idleSince(now, m.idleTimeout) {
			m.removeLocked(s, EvictIdle)
			swept = append(swept, s)
		}
	}
	return swept
}

// removeLocked unregisters a session from the maps and fires the evict
// hook. It does not close the session; callers do that after releasing
// the manager lock. Caller holds the manager lock.
func (m *Manager) removeLocked(s *Session, reason EvictReason) {
	delete(m.sessions, s.ID)
	if m.perKey[s.KeyID] <= 1 {
		delete(m.perKey, s.KeyID)
	} else {
		m.perKey[s.KeyID]--
	}
	if m.onEvict != nil {
		m.onEvict(reason)
	}
	m.logger.Info("session evicted", "session_id", s.ID, "reason", string(reason))
}

// closeAll closes sessions already unregistered from the maps.
func (m *Manager) closeAll(removed []*Session) {
	for _, s := range removed {
		s.close()
	}
}
