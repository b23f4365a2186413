package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
	"github.com/actionbridge/actionbridge/internal/port/outbound"
)

const (
	// tokenRequestTimeout bounds one password-grant round-trip.
	tokenRequestTimeout = 30 * time.Second

	// defaultTokenLifetime applies when the token response carries no
	// expiry field.
	defaultTokenLifetime = 3600 * time.Second

	// expiryMargin is subtracted from the reported lifetime so tokens are
	// refreshed before the upstream actually rejects them.
	expiryMargin = 300 * time.Second
)

// OAuthRefresher runs the OAuth2 resource-owner password grant and persists
// refreshed tokens through the credential store.
type OAuthRefresher struct {
	client *http.Client
	creds  credential.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewOAuthRefresher creates a refresher that persists tokens via creds.
func NewOAuthRefresher(creds credential.Store, opts ...RefresherOption) *OAuthRefresher {
	r := &OAuthRefresher{
		client: &http.Client{Timeout: tokenRequestTimeout},
		creds:  creds,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RefresherOption is a functional option for configuring OAuthRefresher.
type RefresherOption func(*OAuthRefresher)

// WithRefresherHTTPClient sets a custom HTTP client for token requests.
func WithRefresherHTTPClient(client *http.Client) RefresherOption {
	return func(r *OAuthRefresher) {
		r.client = client
	}
}

// WithRefresherLogger sets the refresher's logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *OAuthRefresher) {
		r.logger = logger
	}
}

// Refresh posts the password grant to cfg.TokenURL and returns the new
// access token with its margin-adjusted expiry. The token is persisted
// before returning so a crash cannot orphan it.
func (r *OAuthRefresher) Refresh(ctx context.Context, cfg catalog.AuthConfig, cred *credential.Credential) (string, time.Time, error) {
	if cfg.TokenURL == "" {
		return "", time.Time{}, fmt.Errorf("oauth refresh: no token_url configured")
	}
	if cred.Username == "" || cred.Password == "" {
		return "", time.Time{}, fmt.Errorf("oauth refresh: credential %s has no username/password", cred.ID)
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", cred.Username)
	form.Set("password", cred.Password)
	if cred.ClientID != "" {
		form.Set("client_id", cred.ClientID)
	}
	if cred.ClientSecret != "" {
		form.Set("client_secret", cred.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("oauth refresh: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("oauth refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("oauth refresh: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		// Token endpoint error bodies may carry credentials in edge cases;
		// log only the status.
		r.logger.Warn("oauth token request rejected",
			"token_url", cfg.TokenURL, "status", resp.StatusCode)
		return "", time.Time{}, fmt.Errorf("oauth refresh: token endpoint returned status %d", resp.StatusCode)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("oauth refresh: decode response: %w", err)
	}

	tokenField := cfg.TokenField
	if tokenField == "" {
		tokenField = catalog.DefaultTokenField
	}
	token, _ := payload[tokenField].(string)
	if token == "" {
		return "", time.Time{}, fmt.Errorf("oauth refresh: response has no %q field", tokenField)
	}

	expiresField := cfg.ExpiresField
	if expiresField == "" {
		expiresField = catalog.DefaultExpiresField
	}
	lifetime := defaultTokenLifetime
	if v, ok := payload[expiresField]; ok {
		if secs := toSeconds(v); secs > 0 {
			lifetime = secs
		}
	}
	if lifetime > expiryMargin {
		lifetime -= expiryMargin
	}
	expiresAt := r.now().Add(lifetime)

	if err := r.creds.UpdateOAuth(ctx, cred.ID, token, expiresAt); err != nil {
		return "", time.Time{}, fmt.Errorf("oauth refresh: persist token: %w", err)
	}
	cred.OAuthAccessToken = token
	cred.OAuthExpiresAt = expiresAt

	r.logger.Info("oauth token refreshed",
		"credential_id", cred.ID, "system", cred.SystemAlias, "expires_at", expiresAt)
	return token, expiresAt, nil
}

// toSeconds converts the expires_in value, which upstreams send as either a
// JSON number or a string, into a duration.
func toSeconds(v interface{}) time.Duration {
	switch t := v.(type) {
	case float64:
		return time.Duration(t) * time.Second
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return time.Duration(n) * time.Second
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0
		}
		return time.Duration(n) * time.Second
	default:
		return 0
	}
}

// Compile-time check that OAuthRefresher implements the outbound port.
var _ outbound.TokenRefresher = (*OAuthRefresher)(nil)
