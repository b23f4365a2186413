package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
)

// AuditStore implements audit.Store backed by a slice. Entries are kept
// in append order; queries sort as needed.
type AuditStore struct {
	mu      sync.RWMutex
	entries []*audit.Entry
	byID    map[string]*audit.Entry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{byID: make(map[string]*audit.Entry)}
}

// Append persists a new entry.
func (s *AuditStore) Append(_ context.Context, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	cp := *e
	s.mu.Lock()
	s.entries = append(s.entries, &cp)
	s.byID[cp.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Get returns an entry by id within an account.
func (s *AuditStore) Get(_ context.Context, accountID, id string) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok || e.AccountID != accountID {
		return nil, fmt.Errorf("audit entry %q: %w", id, audit.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

// ListByCorrelation returns entries sharing a correlation id, oldest first.
func (s *AuditStore) ListByCorrelation(_ context.Context, accountID, correlationID string) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Entry
	for _, e := range s.entries {
		if e.AccountID == accountID && e.CorrelationID == correlationID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Query returns entries matching the filter, newest first.
func (s *AuditStore) Query(_ context.Context, f audit.QueryFilter) ([]*audit.Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if f.AccountID != "" && e.AccountID != f.AccountID {
			continue
		}
		if f.ToolName != "" && e.ToolName != f.ToolName {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// MarkRolledBack flips the rolled-back triple exactly once.
func (s *AuditStore) MarkRolledBack(_ context.Context, accountID, id, rollbackAuditID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || e.AccountID != accountID {
		return fmt.Errorf("audit entry %q: %w", id, audit.ErrNotFound)
	}
	if !e.Reversible {
		return audit.ErrNotReversible
	}
	if e.RolledBack {
		return audit.ErrAlreadyRolledBack
	}
	e.RolledBack = true
	e.RolledBackAt = &at
	e.RollbackAuditID = rollbackAuditID
	return nil
}

// Len returns the number of stored entries.
func (s *AuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
