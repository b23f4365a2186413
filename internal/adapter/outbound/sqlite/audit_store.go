package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
)

// AuditStore implements audit.Store on SQLite.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore on the shared handle.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db.db}
}

const auditColumns = `id, account_id, user_id, correlation_id, parent_id, tool_name, tool_type,
	parameters, result, duration_ms, success, error_message, session_id, transport, mode,
	reasoning, intent, context_summary, is_reversible, rollback_data, rolled_back,
	rolled_back_at, rollback_audit_id, timestamp`

// Append persists a new entry.
func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	params, err := encodeJSON(e.Parameters)
	if err != nil {
		return err
	}
	result, err := encodeJSON(e.Result)
	if err != nil {
		return err
	}
	rollbackData, err := encodeJSON(e.RollbackData)
	if err != nil {
		return err
	}
	var rolledBackAt interface{}
	if e.RolledBackAt != nil {
		rolledBackAt = e.RolledBackAt.Format(timeFormat)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.UserID, e.CorrelationID, e.ParentID, e.ToolName, e.ToolType,
		params, result, e.DurationMS, e.Success, e.ErrorMsg, e.SessionID, e.Transport, e.Mode,
		e.Reasoning, e.Intent, e.ContextSummary, e.Reversible, rollbackData, e.RolledBack,
		rolledBackAt, e.RollbackAuditID, e.Timestamp.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func scanEntry(scan func(...interface{}) error) (*audit.Entry, error) {
	var (
		e              audit.Entry
		params, result string
		rollbackData   string
		rolledBackAt   sql.NullString
		timestamp      string
	)
	err := scan(&e.ID, &e.AccountID, &e.UserID, &e.CorrelationID, &e.ParentID,
		&e.ToolName, &e.ToolType, &params, &result, &e.DurationMS, &e.Success,
		&e.ErrorMsg, &e.SessionID, &e.Transport, &e.Mode,
		&e.Reasoning, &e.Intent, &e.ContextSummary,
		&e.Reversible, &rollbackData, &e.RolledBack, &rolledBackAt, &e.RollbackAuditID,
		&timestamp)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(params, &e.Parameters); err != nil {
		return nil, err
	}
	if err := decodeJSON(result, &e.Result); err != nil {
		return nil, err
	}
	if err := decodeJSON(rollbackData, &e.RollbackData); err != nil {
		return nil, err
	}
	if rolledBackAt.Valid {
		at, _ := time.Parse(timeFormat, rolledBackAt.String)
		e.RolledBackAt = &at
	}
	e.Timestamp, _ = time.Parse(timeFormat, timestamp)
	return &e, nil
}

// Get returns an entry by id within an account.
func (s *AuditStore) Get(ctx context.Context, accountID, id string) (*audit.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries WHERE account_id = ? AND id = ?`,
		accountID, id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit entry %q: %w", id, audit.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit entry: %w", err)
	}
	return e, nil
}

// ListByCorrelation returns entries sharing a correlation id, oldest first.
func (s *AuditStore) ListByCorrelation(ctx context.Context, accountID, correlationID string) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_entries
		 WHERE account_id = ? AND correlation_id = ? ORDER BY timestamp ASC`,
		accountID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("querying correlation: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Query returns entries matching the filter, newest first.
func (s *AuditStore) Query(ctx context.Context, f audit.QueryFilter) ([]*audit.Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	var (
		where []string
		args  []interface{}
	)
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.Success != nil {
		where = append(where, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.Format(timeFormat))
	}
	query := `SELECT ` + auditColumns + ` FROM audit_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkRolledBack flips the rolled-back triple exactly once. The update
// is guarded on rolled_back = 0 so concurrent rollbacks race safely.
func (s *AuditStore) MarkRolledBack(ctx context.Context, accountID, id, rollbackAuditID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_entries
		SET rolled_back = 1, rolled_back_at = ?, rollback_audit_id = ?
		WHERE account_id = ? AND id = ? AND is_reversible = 1 AND rolled_back = 0`,
		at.Format(timeFormat), rollbackAuditID, accountID, id,
	)
	if err != nil {
		return fmt.Errorf("marking rolled back: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	// Distinguish the failure for the caller.
	var reversible, rolledBack bool
	err = s.db.QueryRowContext(ctx,
		`SELECT is_reversible, rolled_back FROM audit_entries WHERE account_id = ? AND id = ?`,
		accountID, id,
	).Scan(&reversible, &rolledBack)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("audit entry %q: %w", id, audit.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking audit entry: %w", err)
	}
	if !reversible {
		return audit.ErrNotReversible
	}
	if rolledBack {
		return audit.ErrAlreadyRolledBack
	}
	return fmt.Errorf("audit entry %q: rollback update had no effect", id)
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
