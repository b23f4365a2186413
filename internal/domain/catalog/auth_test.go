package catalog

import (
	"testing"
)

func TestParseAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		want    AuthConfig
		wantErr bool
	}{
		{
			name: "nil map parses to none",
			raw:  nil,
			want: AuthConfig{Type: AuthNone},
		},
		{
			name: "missing type parses to none",
			raw:  map[string]interface{}{"header": "X-Token"},
			want: AuthConfig{Type: AuthNone},
		},
		{
			name: "bearer",
			raw:  map[string]interface{}{"type": "bearer"},
			want: AuthConfig{Type: AuthBearer},
		},
		{
			name: "api_key with header",
			raw:  map[string]interface{}{"type": "api_key", "header": "X-Custom-Key"},
			want: AuthConfig{Type: AuthAPIKey, Header: "X-Custom-Key"},
		},
		{
			name: "oauth2_password with defaults",
			raw:  map[string]interface{}{"type": "oauth2_password", "token_url": "https://idp.example.com/token"},
			want: AuthConfig{
				Type:         AuthOAuth2Password,
				TokenURL:     "https://idp.example.com/token",
				TokenField:   "access_token",
				ExpiresField: "expires_in",
			},
		},
		{
			name: "oauth2_password with custom token field",
			raw: map[string]interface{}{
				"type":        "oauth2_password",
				"token_url":   "https://idp.example.com/token",
				"token_field": "id_token",
			},
			want: AuthConfig{
				Type:         AuthOAuth2Password,
				TokenURL:     "https://idp.example.com/token",
				TokenField:   "id_token",
				ExpiresField: "expires_in",
			},
		},
		{
			name:    "oauth2_password without token_url fails",
			raw:     map[string]interface{}{"type": "oauth2_password"},
			wantErr: true,
		},
		{
			name:    "unknown type fails",
			raw:     map[string]interface{}{"type": "kerberos"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthConfig(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAuthConfig() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAuthConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInterfaceAuth(t *testing.T) {
	sys := &System{
		AccountID: "acc-1",
		Alias:     "jira",
		Enabled:   true,
		Interfaces: []Interface{
			{
				Alias:   "rest",
				Type:    InterfaceAPI,
				BaseURL: "https://example.atlassian.net",
				Auth:    map[string]interface{}{"type": "basic"},
			},
		},
	}

	if err := ParseInterfaceAuth(sys); err != nil {
		t.Fatalf("ParseInterfaceAuth() error = %v", err)
	}
	if sys.Interfaces[0].ParsedAuth.Type != AuthBasic {
		t.Errorf("ParsedAuth.Type = %q, want %q", sys.Interfaces[0].ParsedAuth.Type, AuthBasic)
	}

	// A broken auth map surfaces the interface in the error.
	sys.Interfaces[0].Auth = map[string]interface{}{"type": "oauth2_password"}
	if err := ParseInterfaceAuth(sys); err == nil {
		t.Error("expected error for oauth2_password without token_url")
	}
}
