package credential

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestAuthHeadersPrecedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		cred       Credential
		wantHeader string
		wantValue  string
		wantErr    error
	}{
		{
			name: "valid oauth token wins over everything",
			cred: Credential{
				OAuthAccessToken: "oat-123",
				OAuthExpiresAt:   now.Add(time.Hour),
				Token:            "static-tok",
				APIKey:           "ak",
				Username:         "u",
				Password:         "p",
			},
			wantHeader: "Authorization",
			wantValue:  "Bearer oat-123",
		},
		{
			name: "expired oauth does not fall through",
			cred: Credential{
				OAuthAccessToken: "oat-123",
				OAuthExpiresAt:   now.Add(-time.Minute),
				Token:            "static-tok",
			},
			wantErr: ErrOAuthExpired,
		},
		{
			name:       "static bearer token",
			cred:       Credential{Token: "static-tok", APIKey: "ak"},
			wantHeader: "Authorization",
			wantValue:  "Bearer static-tok",
		},
		{
			name:       "api key with default header",
			cred:       Credential{APIKey: "ak-9"},
			wantHeader: "X-API-Key",
			wantValue:  "ak-9",
		},
		{
			name: "api key with custom header",
			cred: Credential{
				APIKey:         "ak-9",
				CustomSettings: map[string]string{"api_key_header": "X-Atlassian-Token"},
			},
			wantHeader: "X-Atlassian-Token",
			wantValue:  "ak-9",
		},
		{
			name:       "basic auth last",
			cred:       Credential{Username: "svc", Password: "hunter2"},
			wantHeader: "Authorization",
			wantValue:  "Basic " + base64.StdEncoding.EncodeToString([]byte("svc:hunter2")),
		},
		{
			name:    "empty row has no usable auth",
			cred:    Credential{},
			wantErr: ErrNoUsableAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := tt.cred.AuthHeaders(now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AuthHeaders() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AuthHeaders() error = %v", err)
			}
			if got := headers[tt.wantHeader]; got != tt.wantValue {
				t.Errorf("headers[%q] = %q, want %q", tt.wantHeader, got, tt.wantValue)
			}
			if len(headers) != 1 {
				t.Errorf("expected exactly one header, got %v", headers)
			}
		})
	}
}

func TestOAuthValid(t *testing.T) {
	now := time.Now()

	c := &Credential{OAuthAccessToken: "t", OAuthExpiresAt: now.Add(time.Minute)}
	if !c.OAuthValid(now) {
		t.Error("token expiring in a minute should be valid")
	}
	if c.OAuthValid(now.Add(2 * time.Minute)) {
		t.Error("token past expiry should be invalid")
	}

	empty := &Credential{OAuthExpiresAt: now.Add(time.Hour)}
	if empty.OAuthValid(now) {
		t.Error("empty token should never be valid")
	}
}

func TestSessionHeaders(t *testing.T) {
	now := time.Now()

	c := &Credential{
		SessionCookie:    "JSESSIONID=abc",
		CSRFToken:        "csrf-1",
		SessionExpiresAt: now.Add(time.Hour),
	}
	headers, err := c.SessionHeaders(now)
	if err != nil {
		t.Fatalf("SessionHeaders() error = %v", err)
	}
	if headers["Cookie"] != "JSESSIONID=abc" {
		t.Errorf("Cookie = %q", headers["Cookie"])
	}
	if headers["X-CSRF-Token"] != "csrf-1" {
		t.Errorf("X-CSRF-Token = %q", headers["X-CSRF-Token"])
	}

	expired := &Credential{SessionCookie: "x", SessionExpiresAt: now.Add(-time.Hour)}
	if _, err := expired.SessionHeaders(now); err == nil {
		t.Error("expected error for expired session cookie")
	}
}
