package audit

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrNotFound indicates the entry id does not exist.
	ErrNotFound = errors.New("audit: entry not found")
	// ErrAlreadyRolledBack indicates a second rollback attempt on the
	// same entry.
	ErrAlreadyRolledBack = errors.New("audit: entry already rolled back")
	// ErrNotReversible indicates the entry carries no rollback data.
	ErrNotReversible = errors.New("audit: entry is not reversible")
)

// QueryFilter narrows a history listing. Zero values mean "any".
type QueryFilter struct {
	AccountID string
	ToolName  string
	// Success filters by outcome when non-nil.
	Success *bool
	Since   time.Time
	// Limit caps the result set; stores clamp it to 100.
	Limit int
}

// MaxQueryLimit is the hard cap on entries returned by Query.
const MaxQueryLimit = 100

// Store persists audit entries. Entries are append-only; the only
// permitted mutation is the rolled-back flip, which must be atomic and
// one-shot (compare-and-set on RolledBack).
type Store interface {
	// Append persists a new entry.
	Append(ctx context.Context, e *Entry) error
	// Get returns an entry by id within an account.
	Get(ctx context.Context, accountID, id string) (*Entry, error)
	// ListByCorrelation returns all entries sharing a correlation id,
	// ordered by timestamp ascending.
	ListByCorrelation(ctx context.Context, accountID, correlationID string) ([]*Entry, error)
	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, f QueryFilter) ([]*Entry, error)
	// MarkRolledBack flips the rolled-back triple on entry id, recording
	// the audit id of the rollback operation itself. It fails with
	// ErrNotReversible when the entry has no rollback data and with
	// ErrAlreadyRolledBack when the flip already happened.
	MarkRolledBack(ctx context.Context, accountID, id, rollbackAuditID string, at time.Time) error
}
