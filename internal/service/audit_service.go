// Package service wires the domain packages into the gateway's use cases:
// tool registry materialization, action execution, audit logging, and the
// per-session MCP server core.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// Trail receives asynchronous copies of audit entries, typically the JSONL
// file trail. Implementations must tolerate bursts; the service batches.
type Trail interface {
	Write(ctx context.Context, entries ...*audit.Entry) error
}

// AuditService records every tool call. The queryable store write is
// synchronous so audit tools read their own writes; the trail write runs
// through a buffered channel worker and never blocks the call path.
type AuditService struct {
	store  audit.Store
	trail  Trail
	logger *slog.Logger
	now    func() time.Time

	trailChan     chan *audit.Entry
	channelSize   int
	batchSize     int
	flushInterval time.Duration
	dropCount     atomic.Int64
	wg            sync.WaitGroup
	started       bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithTrail attaches the asynchronous trail writer.
func WithTrail(trail Trail) AuditOption {
	return func(s *AuditService) {
		s.trail = trail
	}
}

// WithAuditLogger sets the service logger.
func WithAuditLogger(logger *slog.Logger) AuditOption {
	return func(s *AuditService) {
		s.logger = logger
	}
}

// WithBatchSize sets the number of entries batched per trail write.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval for flushing a partial trail batch.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the trail channel buffer size.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.trailChan = make(chan *audit.Entry, size)
		s.channelSize = size
	}
}

// NewAuditService creates an audit service backed by store. Call Start to
// launch the trail worker when a trail is attached.
func NewAuditService(store audit.Store, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		trailChan:     make(chan *audit.Entry, defaultChannelSize),
		channelSize:   defaultChannelSize,
		batchSize:     100,
		flushInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the trail worker. No-op without a trail.
func (s *AuditService) Start(ctx context.Context) {
	if s.trail == nil || s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop closes the trail channel and waits for the worker to drain.
func (s *AuditService) Stop() {
	if !s.started {
		return
	}
	s.started = false
	close(s.trailChan)
	s.wg.Wait()
}

// Dropped returns the number of trail entries dropped under backpressure.
func (s *AuditService) Dropped() int64 {
	return s.dropCount.Load()
}

// Depth returns the current trail channel depth, for health reporting.
func (s *AuditService) Depth() int {
	return len(s.trailChan)
}

// Capacity returns the trail channel buffer size.
func (s *AuditService) Capacity() int {
	return s.channelSize
}

// BeginInput carries the call identity an audit scope opens with.
type BeginInput struct {
	AccountID string
	UserID    string
	SessionID string
	Transport string
	Mode      catalog.Mode
	Tool      string
	Type      tool.Type
	Args      map[string]interface{}
	ParentID  string
	Reasoning *audit.ReasoningContext
	Rollback  *audit.RollbackSpec
}

// Scope is one in-flight audited call. Exactly one entry is written per
// scope, on Close, regardless of the call's outcome.
type Scope struct {
	svc       *AuditService
	entry     *audit.Entry
	rawResult interface{}
	start     time.Time
	closed    bool
}

// Begin opens an audit scope. The correlation id comes from the reasoning
// context when set, otherwise a fresh 8-hex id is generated. Args are
// copied: the executor strips path and pagination parameters from the
// live map while the scope is open, and the entry must keep the call as
// the client made it.
func (s *AuditService) Begin(_ context.Context, in BeginInput) *Scope {
	var params map[string]interface{}
	if in.Args != nil {
		params = make(map[string]interface{}, len(in.Args))
		for k, v := range in.Args {
			params[k] = v
		}
	}
	e := &audit.Entry{
		ID:            uuid.NewString(),
		AccountID:     in.AccountID,
		UserID:        in.UserID,
		SessionID:     in.SessionID,
		Transport:     in.Transport,
		Mode:          string(in.Mode),
		ToolName:      in.Tool,
		ToolType:      in.Type,
		Parameters:    params,
		ParentID:      in.ParentID,
		CorrelationID: audit.NewCorrelationID(),
		Success:       true,
	}
	if in.Reasoning != nil {
		e.Reasoning = in.Reasoning.Reasoning
		e.Intent = in.Reasoning.Intent
		e.ContextSummary = in.Reasoning.ContextSummary
		if in.Reasoning.CorrelationID != "" {
			e.CorrelationID = in.Reasoning.CorrelationID
		}
	}
	if in.Rollback != nil {
		e.Reversible = in.Rollback.Reversible
		e.RollbackData = in.Rollback.Data
	}
	return &Scope{svc: s, entry: e, start: s.now()}
}

// SetResult captures the call outcome; summarized on Close.
func (sc *Scope) SetResult(v interface{}) {
	sc.rawResult = v
}

// SetError marks the scope failed. A nil error is ignored.
func (sc *Scope) SetError(err error) {
	if err == nil {
		return
	}
	sc.entry.Success = false
	sc.entry.ErrorMsg = err.Error()
}

// SetFailure marks the scope failed with a message, used for result
// envelopes that carry success=false without a Go error.
func (sc *Scope) SetFailure(msg string) {
	sc.entry.Success = false
	sc.entry.ErrorMsg = msg
}

// SetRollback captures the undo payload after the handler ran.
func (sc *Scope) SetRollback(data map[string]interface{}, reversible bool) {
	sc.entry.Reversible = reversible
	sc.entry.RollbackData = data
}

// EntryID returns the id the entry will be written with.
func (sc *Scope) EntryID() string {
	return sc.entry.ID
}

// CorrelationID returns the scope's correlation id.
func (sc *Scope) CorrelationID() string {
	return sc.entry.CorrelationID
}

// Close finalizes and writes the entry: measured duration, sanitized
// parameters, summarized result. Idempotent; persistence failures are
// logged and swallowed.
func (sc *Scope) Close(ctx context.Context) {
	if sc.closed {
		return
	}
	sc.closed = true

	e := sc.entry
	e.DurationMS = sc.svc.now().Sub(sc.start).Milliseconds()
	e.Timestamp = sc.svc.now()
	e.Parameters = audit.SanitizeParams(e.Parameters)
	if sc.rawResult != nil {
		e.Result = audit.SummarizeResult(sc.rawResult)
	}

	sc.svc.Append(ctx, e)
}

// Append writes one entry synchronously to the store and queues it for the
// trail. Store failures never propagate to the caller.
func (s *AuditService) Append(ctx context.Context, e *audit.Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.store.Append(ctx, e); err != nil {
		s.logger.Error("audit store write failed", "tool", e.ToolName, "error", err)
	}
	s.sendToTrail(e)
}

// sendToTrail queues an entry for the trail worker, dropping on a full
// channel rather than blocking the call path.
func (s *AuditService) sendToTrail(e *audit.Entry) {
	if s.trail == nil {
		return
	}
	select {
	case s.trailChan <- e:
	default:
		drops := s.dropCount.Add(1)
		s.logger.Warn("audit trail entry dropped",
			"tool", e.ToolName, "session", e.SessionID, "total_drops", drops)
	}
}

// GetEntry returns one entry within the account scope.
func (s *AuditService) GetEntry(ctx context.Context, accountID, id string) (*audit.Entry, error) {
	return s.store.Get(ctx, accountID, id)
}

// ListByCorrelation returns the entries of one correlation group in
// timestamp order.
func (s *AuditService) ListByCorrelation(ctx context.Context, accountID, correlationID string) ([]*audit.Entry, error) {
	return s.store.ListByCorrelation(ctx, accountID, correlationID)
}

// Query returns filtered entries, newest first, limit clamped to 100.
func (s *AuditService) Query(ctx context.Context, f audit.QueryFilter) ([]*audit.Entry, error) {
	return s.store.Query(ctx, f)
}

// MarkRolledBack marks an entry rolled back, compare-and-set on the
// rolled_back flag.
func (s *AuditService) MarkRolledBack(ctx context.Context, accountID, id, rollbackAuditID string) error {
	return s.store.MarkRolledBack(ctx, accountID, id, rollbackAuditID, s.now())
}

// worker batches trail writes with an interval flush.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]*audit.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.trailChan:
			if !ok {
				if len(batch) > 0 {
					s.flush(batch)
				}
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain whatever is already queued, then exit.
			for {
				select {
				case e, ok := <-s.trailChan:
					if !ok {
						if len(batch) > 0 {
							s.flush(batch)
						}
						return
					}
					batch = append(batch, e)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush writes one batch to the trail with a bounded deadline. Errors are
// logged, never propagated.
func (s *AuditService) flush(batch []*audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.trail.Write(ctx, batch...); err != nil {
		s.logger.Error("audit trail write failed", "count", len(batch), "error", err)
	}
}
