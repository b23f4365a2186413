package catalog

import (
	"fmt"
)

// AuthType discriminates the interface auth configuration union.
type AuthType string

const (
	// AuthNone sends no credentials.
	AuthNone AuthType = "none"
	// AuthAPIKey sends the credential api_key in a configurable header.
	AuthAPIKey AuthType = "api_key"
	// AuthBearer sends a static bearer token.
	AuthBearer AuthType = "bearer"
	// AuthBasic sends HTTP Basic credentials.
	AuthBasic AuthType = "basic"
	// AuthOAuth2 sends a pre-obtained OAuth access token as a bearer.
	AuthOAuth2 AuthType = "oauth2"
	// AuthOAuth2Password obtains tokens via the resource-owner password grant.
	AuthOAuth2Password AuthType = "oauth2_password"
	// AuthSession replays a browser session cookie (XHR interfaces).
	AuthSession AuthType = "session"
)

// Default field names for the OAuth2 password grant token response.
const (
	DefaultTokenField   = "access_token"
	DefaultExpiresField = "expires_in"
)

// AuthConfig is the parsed form of an interface's auth map. The zero value
// is AuthNone. Parsed once at catalog load so the hot path never touches
// the raw map.
type AuthConfig struct {
	// Type selects the variant; the remaining fields apply per variant.
	Type AuthType
	// Header is the API key header name (api_key variant). The credential's
	// custom_settings entry takes precedence when present.
	Header string
	// TokenURL is the password-grant token endpoint (oauth2_password).
	TokenURL string
	// TokenField is the response field holding the access token.
	TokenField string
	// ExpiresField is the response field holding the lifetime in seconds.
	ExpiresField string
}

// ParseAuthConfig converts the raw auth map from an adapter definition into
// its typed form. A nil or empty map parses to AuthNone.
func ParseAuthConfig(raw map[string]interface{}) (AuthConfig, error) {
	if len(raw) == 0 {
		return AuthConfig{Type: AuthNone}, nil
	}

	typ, _ := raw["type"].(string)
	cfg := AuthConfig{Type: AuthType(typ)}

	switch cfg.Type {
	case AuthNone, AuthBearer, AuthBasic, AuthOAuth2, AuthSession:
		return cfg, nil

	case AuthAPIKey:
		if h, ok := raw["header"].(string); ok {
			cfg.Header = h
		}
		return cfg, nil

	case AuthOAuth2Password:
		tokenURL, _ := raw["token_url"].(string)
		if tokenURL == "" {
			return AuthConfig{}, fmt.Errorf("oauth2_password auth requires token_url")
		}
		cfg.TokenURL = tokenURL
		cfg.TokenField = DefaultTokenField
		cfg.ExpiresField = DefaultExpiresField
		if f, ok := raw["token_field"].(string); ok && f != "" {
			cfg.TokenField = f
		}
		if f, ok := raw["expires_field"].(string); ok && f != "" {
			cfg.ExpiresField = f
		}
		return cfg, nil

	case "":
		return AuthConfig{Type: AuthNone}, nil

	default:
		return AuthConfig{}, fmt.Errorf("unknown auth type %q", typ)
	}
}

// ParseInterfaceAuth walks a system tree and fills ParsedAuth on every
// interface. Called once when a definition enters the store.
func ParseInterfaceAuth(s *System) error {
	for i := range s.Interfaces {
		iface := &s.Interfaces[i]
		parsed, err := ParseAuthConfig(iface.Auth)
		if err != nil {
			return fmt.Errorf("system %s: interface %s: %w", s.Alias, iface.Alias, err)
		}
		iface.ParsedAuth = parsed
	}
	return nil
}
