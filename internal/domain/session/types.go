// Package session manages process-resident MCP sessions: identity and
// mode captured at creation, per-session server core, idle expiry, and
// per-key plus global capacity limits.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// Sentinel errors.
var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionLimit is returned when a capacity cap is hit even after
	// sweeping idle sessions.
	ErrSessionLimit = errors.New("session: limit reached")
)

// State is the session lifecycle state.
type State string

const (
	// StateNew is set at creation, before the first dispatch.
	StateNew State = "new"
	// StateActive is set once requests flow.
	StateActive State = "active"
	// StateIdle is set when the idle timeout elapses.
	StateIdle State = "idle"
	// StateClosed is terminal; the server core has been released.
	StateClosed State = "closed"
)

// Core is the per-session request handler. Handle takes one raw JSON-RPC
// message and returns the raw response, or nil for notifications. Close
// releases resources; it is called exactly once, by the manager.
type Core interface {
	Handle(ctx context.Context, raw []byte) []byte
	Close()
}

// CoreFactory builds a Core for a freshly created session.
type CoreFactory func(ctx context.Context, s *Session) (Core, error)

// Template carries the identity fields for a session to create. The
// manager assigns the id and timestamps.
type Template struct {
	AccountID string
	KeyID     string
	Mode      catalog.Mode
	ProjectID string
	Transport string
}

// Session is one MCP session. Identity fields are fixed at creation.
// Dispatch serializes request handling through dispatchMu; state and
// activity live under the separate mu so close never waits behind an
// in-flight call.
type Session struct {
	ID        string
	AccountID string
	KeyID     string
	Mode      catalog.Mode
	ProjectID string
	Transport string
	CreatedAt time.Time

	// dispatchMu serializes Handle calls on the core.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	core         Core
	state        State
	lastActivity time.Time
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the most recent dispatch or touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Dispatch runs one raw message through the session core. Calls on the
// same session serialize; the first dispatch moves the session to
// active. Closed sessions return ErrSessionNotFound. A close that lands
// mid-call cancels the core, so Handle returns promptly.
func (s *Session) Dispatch(ctx context.Context, raw []byte) ([]byte, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.state = StateActive
	s.lastActivity = time.Now().UTC()
	core := s.core
	s.mu.Unlock()

	return core.Handle(ctx, raw), nil
}

// touch refreshes activity without dispatching. Used by SSE keepalive.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.lastActivity = now
	}
}

// close marks the session terminal and closes the core. It deliberately
// does not take dispatchMu: Core.Close cancels in-flight work, so a
// parked Dispatch unblocks instead of holding off the close.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	core := s.core
	s.mu.Unlock()
	core.Close()
}

// idleSince reports whether the session has been inactive past the
// timeout at the given instant.
func (s *Session) idleSince(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > timeout
}
