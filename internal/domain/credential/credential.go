// Package credential holds per-(account, system, optional project) auth
// material and derives outbound HTTP auth headers from it. Secrets arrive
// decrypted from the collaborating store; this package never logs them.
package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

// Sentinel errors for credential resolution.
var (
	// ErrNotFound is returned when no credential row matches.
	ErrNotFound = errors.New("credential: not found")
	// ErrOAuthExpired is returned by AuthHeaders when the stored OAuth token
	// has expired; the executor reacts by running a token refresh.
	ErrOAuthExpired = errors.New("credential: oauth token expired")
	// ErrNoUsableAuth is returned when the row carries no usable material.
	ErrNoUsableAuth = errors.New("credential: no usable auth material")
)

// DefaultAPIKeyHeader is used when neither the credential's custom settings
// nor the interface auth config name a header.
const DefaultAPIKeyHeader = "X-API-Key"

// Credential is one row of auth material. ProjectID nil means the
// account-shared row; a project-scoped row shadows it.
type Credential struct {
	ID          string  `json:"id" yaml:"id"`
	AccountID   string  `json:"account_id" yaml:"account_id"`
	SystemAlias string  `json:"system_alias" yaml:"system_alias"`
	ProjectID   *string `json:"project_id,omitempty" yaml:"project_id,omitempty"`

	Username     string `json:"username,omitempty" yaml:"username,omitempty"`
	Password     string `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`

	OAuthAccessToken  string    `json:"oauth_access_token,omitempty" yaml:"oauth_access_token,omitempty"`
	OAuthRefreshToken string    `json:"oauth_refresh_token,omitempty" yaml:"oauth_refresh_token,omitempty"`
	OAuthExpiresAt    time.Time `json:"oauth_expires_at,omitempty" yaml:"oauth_expires_at,omitempty"`

	SessionCookie    string    `json:"session_cookie,omitempty" yaml:"session_cookie,omitempty"`
	CSRFToken        string    `json:"csrf_token,omitempty" yaml:"csrf_token,omitempty"`
	SessionExpiresAt time.Time `json:"session_expires_at,omitempty" yaml:"session_expires_at,omitempty"`

	// CustomSettings carries per-credential tweaks such as api_key_header.
	CustomSettings map[string]string `json:"custom_settings,omitempty" yaml:"custom_settings,omitempty"`
}

// OAuthValid reports whether the stored OAuth access token is usable at now.
func (c *Credential) OAuthValid(now time.Time) bool {
	return c.OAuthAccessToken != "" && now.Before(c.OAuthExpiresAt)
}

// APIKeyHeader returns the header name carrying the api_key value.
func (c *Credential) APIKeyHeader() string {
	if h, ok := c.CustomSettings["api_key_header"]; ok && h != "" {
		return h
	}
	return DefaultAPIKeyHeader
}

// AuthHeaders derives outbound auth headers from the credential.
// Precedence: valid OAuth bearer, static bearer token, api key header,
// HTTP Basic. An expired OAuth token does not fall through; it returns
// ErrOAuthExpired so the caller can refresh and retry.
func (c *Credential) AuthHeaders(now time.Time) (map[string]string, error) {
	if c.OAuthAccessToken != "" {
		if !now.Before(c.OAuthExpiresAt) {
			return nil, ErrOAuthExpired
		}
		return map[string]string{"Authorization": "Bearer " + c.OAuthAccessToken}, nil
	}
	if c.Token != "" {
		return map[string]string{"Authorization": "Bearer " + c.Token}, nil
	}
	if c.APIKey != "" {
		return map[string]string{c.APIKeyHeader(): c.APIKey}, nil
	}
	if c.Username != "" || c.Password != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		return map[string]string{"Authorization": "Basic " + basic}, nil
	}
	return nil, ErrNoUsableAuth
}

// SessionHeaders derives Cookie and CSRF headers for XHR interfaces backed
// by a browser-established session.
func (c *Credential) SessionHeaders(now time.Time) (map[string]string, error) {
	if c.SessionCookie == "" || (!c.SessionExpiresAt.IsZero() && !now.Before(c.SessionExpiresAt)) {
		return nil, ErrNoUsableAuth
	}
	headers := map[string]string{"Cookie": c.SessionCookie}
	if c.CSRFToken != "" {
		headers["X-CSRF-Token"] = c.CSRFToken
	}
	return headers, nil
}

// Store resolves and updates credential rows.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Get resolves the credential for (account, system), preferring the
	// project-scoped row when projectID is non-nil, falling back to the
	// shared row. Returns ErrNotFound when neither exists.
	Get(ctx context.Context, accountID, systemAlias string, projectID *string) (*Credential, error)

	// UpdateOAuth persists a refreshed access token and its expiry.
	UpdateOAuth(ctx context.Context, credentialID, accessToken string, expiresAt time.Time) error

	// Save upserts a credential row, enforcing the (account, system,
	// project) uniqueness including the single shared row per pair.
	Save(ctx context.Context, c *Credential) error
}
