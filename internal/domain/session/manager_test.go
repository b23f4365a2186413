package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoCore replies with the request bytes and records Close calls.
type echoCore struct {
	mu     sync.Mutex
	closed int
}

func (c *echoCore) Handle(_ context.Context, raw []byte) []byte { return raw }

func (c *echoCore) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *echoCore) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *echoCore) {
	t.Helper()
	core := &echoCore{}
	factory := func(_ context.Context, _ *Session) (Core, error) { return core, nil }
	m := NewManager(factory, testLogger(), cfg, opts...)
	t.Cleanup(m.Shutdown)
	return m, core
}

func TestCreateAndDispatch(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	s, err := m.Create(context.Background(), Template{AccountID: "acct", KeyID: "k1", Transport: "http"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" {
		t.Fatal("empty session id")
	}
	if got := s.State(); got != StateNew {
		t.Errorf("state = %v, want new", got)
	}

	out, err := s.Dispatch(context.Background(), []byte(`{"method":"ping"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(out) != `{"method":"ping"}` {
		t.Errorf("unexpected reply %q", out)
	}
	if got := s.State(); got != StateActive {
		t.Errorf("state after dispatch = %v, want active", got)
	}

	got, err := m.Get(s.ID)
	if err != nil || got.ID != s.ID {
		t.Errorf("Get = %v, %v", got, err)
	}
}

func TestPerKeyCap(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPerKey: 2, MaxTotal: 100})

	for i := 0; i < 2; i++ {
		if _, err := m.Create(context.Background(), Template{KeyID: "k1"}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	_, err := m.Create(context.Background(), Template{KeyID: "k1"})
	if !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("err = %v, want ErrSessionLimit", err)
	}
	// other keys unaffected
	if _, err := m.Create(context.Background(), Template{KeyID: "k2"}); err != nil {
		t.Errorf("other key blocked: %v", err)
	}
}

func TestTotalCap(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPerKey: 10, MaxTotal: 3})

	for i := 0; i < 3; i++ {
		key := string(rune('a' + i))
		if _, err := m.Create(context.Background(), Template{KeyID: key}); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if _, err := m.Create(context.Background(), Template{KeyID: "z"}); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("err = %v, want ErrSessionLimit", err)
	}
}

func TestIdleEviction(t *testing.T) {
	var evicted []EvictReason
	m, core := newTestManager(t, Config{IdleTimeout: 10 * time.Millisecond},
		WithEvictHook(func(r EvictReason) { evicted = append(evicted, r) }))

	s, err := m.Create(context.Background(), Template{KeyID: "k1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired Get err = %v, want ErrSessionNotFound", err)
	}
	if core.closeCount() != 1 {
		t.Errorf("core closed %d times, want 1", core.closeCount())
	}
	if len(evicted) != 1 || evicted[0] != EvictIdle {
		t.Errorf("evict reasons = %v, want [idle]", evicted)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestSweepFreesCapacity(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxPerKey: 1, IdleTimeout: 10 * time.Millisecond})

	if _, err := m.Create(context.Background(), Template{KeyID: "k1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// the stale session is swept during create, so the cap is free again
	if _, err := m.Create(context.Background(), Template{KeyID: "k1"}); err != nil {
		t.Fatalf("Create after idle: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestExplicitClose(t *testing.T) {
	m, core := newTestManager(t, Config{})

	s, err := m.Create(context.Background(), Template{KeyID: "k1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Close err = %v, want ErrSessionNotFound", err)
	}
	if core.closeCount() != 1 {
		t.Errorf("core closed %d times, want 1", core.closeCount())
	}
	if _, err := s.Dispatch(context.Background(), nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("dispatch on closed session err = %v", err)
	}
}

// slowCore parks in Handle until Close releases it, the way a server
// core parks on upstream I/O until its context is cancelled.
type slowCore struct {
	started  chan struct{}
	released chan struct{}
	once     sync.Once
}

func newSlowCore() *slowCore {
	return &slowCore{
		started:  make(chan struct{}),
		released: make(chan struct{}),
	}
}

func (c *slowCore) Handle(_ context.Context, raw []byte) []byte {
	close(c.started)
	<-c.released
	return raw
}

func (c *slowCore) Close() {
	c.once.Do(func() { close(c.released) })
}

func TestCloseCancelsInFlightDispatch(t *testing.T) {
	core := newSlowCore()
	factory := func(_ context.Context, _ *Session) (Core, error) { return core, nil }
	m := NewManager(factory, testLogger(), Config{})
	t.Cleanup(m.Shutdown)

	s, err := m.Create(context.Background(), Template{KeyID: "k1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Dispatch(context.Background(), []byte(`{"method":"tools/call"}`))
	}()
	<-core.started

	// Closing must reach the core even though a dispatch is parked in it.
	closed := make(chan error, 1)
	go func() { closed <- m.Close(s.ID) }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close stalled behind the in-flight dispatch")
	}

	// The manager stays responsive while the dispatch drains.
	lenDone := make(chan int, 1)
	go func() { lenDone <- m.Len() }()
	select {
	case n := <-lenDone:
		if n != 0 {
			t.Errorf("Len = %d, want 0", n)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Len blocked during close")
	}

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("dispatch never unblocked after close")
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	m, _ := newTestManager(t, Config{IdleTimeout: 40 * time.Millisecond})

	s, err := m.Create(context.Background(), Template{KeyID: "k1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 3; i++ {
		time.Sleep(25 * time.Millisecond)
		if err := m.Touch(s.ID); err != nil {
			t.Fatalf("Touch %d: %v", i, err)
		}
	}
	if _, err := m.Get(s.ID); err != nil {
		t.Errorf("session expired despite touches: %v", err)
	}
}
