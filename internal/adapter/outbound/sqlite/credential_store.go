package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/credential"
)

// CredentialStore implements credential.Store on SQLite.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore creates a CredentialStore on the shared handle.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db.db}
}

const credentialColumns = `id, account_id, system_alias, project_id, username, password,
	api_key, token, client_id, client_secret, oauth_access_token, oauth_refresh_token,
	oauth_expires_at, session_cookie, csrf_token, session_expires_at, custom_settings`

// Get resolves the credential for (account, system). The project-scoped
// row shadows the shared row when projectID is given.
func (s *CredentialStore) Get(ctx context.Context, accountID, systemAlias string, projectID *string) (*credential.Credential, error) {
	if projectID != nil && *projectID != "" {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+credentialColumns+` FROM credentials
			 WHERE account_id = ? AND system_alias = ? AND project_id = ?`,
			accountID, systemAlias, *projectID)
		c, err := scanCredential(row)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, credential.ErrNotFound) {
			return nil, err
		}
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials
		 WHERE account_id = ? AND system_alias = ? AND project_id IS NULL`,
		accountID, systemAlias)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, fmt.Errorf("credential for %s: %w", systemAlias, credential.ErrNotFound)
		}
		return nil, err
	}
	return c, nil
}

func scanCredential(row *sql.Row) (*credential.Credential, error) {
	var (
		c                    credential.Credential
		projectID            sql.NullString
		oauthExp, sessionExp sql.NullString
		settings             string
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.SystemAlias, &projectID,
		&c.Username, &c.Password, &c.APIKey, &c.Token, &c.ClientID, &c.ClientSecret,
		&c.OAuthAccessToken, &c.OAuthRefreshToken, &oauthExp,
		&c.SessionCookie, &c.CSRFToken, &sessionExp, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}
	if projectID.Valid {
		c.ProjectID = &projectID.String
	}
	if oauthExp.Valid {
		c.OAuthExpiresAt, _ = time.Parse(timeFormat, oauthExp.String)
	}
	if sessionExp.Valid {
		c.SessionExpiresAt, _ = time.Parse(timeFormat, sessionExp.String)
	}
	if err := decodeJSON(settings, &c.CustomSettings); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateOAuth persists a refreshed access token and its expiry.
func (s *CredentialStore) UpdateOAuth(ctx context.Context, credentialID, accessToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET oauth_access_token = ?, oauth_expires_at = ? WHERE id = ?`,
		accessToken, expiresAt.Format(timeFormat), credentialID,
	)
	if err != nil {
		return fmt.Errorf("updating oauth token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %q: %w", credentialID, credential.ErrNotFound)
	}
	return nil
}

// Save upserts a credential row. The partial unique index keeps the
// shared row singular per (account, system).
func (s *CredentialStore) Save(ctx context.Context, c *credential.Credential) error {
	if c.AccountID == "" || c.SystemAlias == "" {
		return fmt.Errorf("save credential: account_id and system_alias are required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var projectID interface{}
	if c.ProjectID != nil && *c.ProjectID != "" {
		projectID = *c.ProjectID
	}
	var oauthExp, sessionExp interface{}
	if !c.OAuthExpiresAt.IsZero() {
		oauthExp = c.OAuthExpiresAt.Format(timeFormat)
	}
	if !c.SessionExpiresAt.IsZero() {
		sessionExp = c.SessionExpiresAt.Format(timeFormat)
	}
	settings, err := encodeJSON(c.CustomSettings)
	if err != nil {
		return err
	}

	// ON CONFLICT does not fire for the partial index, so the shared row
	// is replaced explicitly.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if projectID == nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE account_id = ? AND system_alias = ? AND project_id IS NULL`,
			c.AccountID, c.SystemAlias); err != nil {
			return fmt.Errorf("replacing shared credential: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE account_id = ? AND system_alias = ? AND project_id = ?`,
			c.AccountID, c.SystemAlias, projectID); err != nil {
			return fmt.Errorf("replacing project credential: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (id, account_id, system_alias, project_id, username, password,
			api_key, token, client_id, client_secret, oauth_access_token, oauth_refresh_token,
			oauth_expires_at, session_cookie, csrf_token, session_expires_at, custom_settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.SystemAlias, projectID, c.Username, c.Password,
		c.APIKey, c.Token, c.ClientID, c.ClientSecret, c.OAuthAccessToken, c.OAuthRefreshToken,
		oauthExp, c.SessionCookie, c.CSRFToken, sessionExp, settings,
	); err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ credential.Store = (*CredentialStore)(nil)
