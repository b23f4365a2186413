// Package catalog contains the tenant-scoped adapter catalog: systems with
// their interfaces, resources and actions, plus projects, categories,
// policies, API keys, agent profiles and capability packs. Every row belongs
// to an account and every query is keyed by account id.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// InterfaceType identifies the addressable surface of a system.
type InterfaceType string

const (
	// InterfaceAPI is a plain REST interface.
	InterfaceAPI InterfaceType = "API"
	// InterfaceGraphQL is a GraphQL interface.
	InterfaceGraphQL InterfaceType = "GRAPHQL"
	// InterfaceXHR is a browser-session interface driven by stored cookies.
	InterfaceXHR InterfaceType = "XHR"
)

// Mode gates write access for a caller.
type Mode string

const (
	// ModeSafe allows read operations only.
	ModeSafe Mode = "safe"
	// ModePower allows write operations, subject to allowed-tool patterns.
	ModePower Mode = "power"
)

// RiskLevel classifies a tool category for operators.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CredentialSource selects which credential row an integration uses.
type CredentialSource string

const (
	// CredentialAccount uses the account-shared credential row.
	CredentialAccount CredentialSource = "account"
	// CredentialProject uses the project-scoped credential row.
	CredentialProject CredentialSource = "project"
)

// aliasPattern restricts system/interface/resource/action aliases.
var aliasPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// System is a third-party product whose actions the gateway exposes.
type System struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id" yaml:"id"`
	// AccountID is the owning tenant.
	AccountID string `json:"account_id" yaml:"account_id"`
	// Alias is the stable alphanumeric identifier; immutable after creation.
	Alias string `json:"alias" yaml:"alias"`
	// Name is the human-readable product name.
	Name string `json:"name" yaml:"name"`
	// Type is a free-form product type tag (crm, issue_tracker, ...).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Industry is an optional industry tag.
	Industry string `json:"industry,omitempty" yaml:"industry,omitempty"`
	// Variables holds free-form configuration, e.g. a base_url override.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	// SchemaDigest is the hex SHA-256 of the last-seen adapter definition.
	SchemaDigest string `json:"schema_digest,omitempty" yaml:"schema_digest,omitempty"`
	// Enabled gates tool materialization for the whole system.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Interfaces are the addressable surfaces of the system.
	Interfaces []Interface `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	// CreatedAt is when the definition was imported.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Interface is one addressable surface of a System.
type Interface struct {
	// Alias identifies the interface within its system.
	Alias string `json:"alias" yaml:"alias"`
	// Type is API, GRAPHQL or XHR.
	Type InterfaceType `json:"type" yaml:"type"`
	// BaseURL is the root endpoint for all actions under this interface.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Auth is the raw auth configuration map as imported. Parsed once into
	// ParsedAuth at load time.
	Auth map[string]interface{} `json:"auth,omitempty" yaml:"auth,omitempty"`
	// ParsedAuth is the typed form of Auth. Zero value means AuthNone.
	ParsedAuth AuthConfig `json:"-" yaml:"-"`
	// RequiresBrowser marks XHR interfaces needing a browser-established session.
	RequiresBrowser bool `json:"requires_browser,omitempty" yaml:"requires_browser,omitempty"`
	// Resources are the noun groupings under this interface.
	Resources []Resource `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Resource is a noun grouping under an Interface (e.g. contacts).
type Resource struct {
	Alias       string   `json:"alias" yaml:"alias"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Actions     []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Action is a single callable HTTP operation. (resource, alias) is unique.
type Action struct {
	// Alias identifies the action within its resource.
	Alias string `json:"alias" yaml:"alias"`
	// Name is an optional human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Description feeds the tool description shown to agents.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// LLMHints carries extra guidance appended to the tool description.
	LLMHints string `json:"llm_hints,omitempty" yaml:"llm_hints,omitempty"`
	// Method is one of GET, POST, PUT, PATCH, DELETE.
	Method string `json:"method" yaml:"method"`
	// Path is the URL path; may contain {name} placeholders.
	Path string `json:"path" yaml:"path"`
	// Headers are static headers sent on every call.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// ParametersSchema is the JSON Schema for tool arguments.
	ParametersSchema map[string]interface{} `json:"parameters_schema,omitempty" yaml:"parameters_schema,omitempty"`
	// OutputSchema describes the action result shape.
	OutputSchema map[string]interface{} `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	// Pagination is the raw auto-pagination configuration, when the endpoint
	// supports paging. Parsed by the action executor.
	Pagination map[string]interface{} `json:"pagination,omitempty" yaml:"pagination,omitempty"`
	// Examples are example argument sets surfaced to agents.
	Examples []map[string]interface{} `json:"examples,omitempty" yaml:"examples,omitempty"`
	// MCPEnabled is the exposure bit; disabled actions are never materialized.
	MCPEnabled bool `json:"is_mcp_enabled" yaml:"is_mcp_enabled"`
}

// IsReader reports whether the action method carries no request body.
func (a *Action) IsReader() bool {
	switch a.Method {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// ActionRef is a flattened view of one action with its ancestry, produced
// by store listings for the tool registry.
type ActionRef struct {
	System    *System
	Interface *Interface
	Resource  *Resource
	Action    *Action
}

// Project is a logical scoping unit inside an account.
type Project struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id" yaml:"id"`
	// AccountID is the owning tenant.
	AccountID string `json:"account_id" yaml:"account_id"`
	// Slug is unique per account.
	Slug string `json:"slug" yaml:"slug"`
	// Name is the display name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// ExternalMappings maps system alias to the external id used for path
	// parameter auto-resolution (e.g. {"jira": "PROJ-7"}).
	ExternalMappings map[string]string `json:"external_mappings,omitempty" yaml:"external_mappings,omitempty"`
	// AllowedCategories optionally narrows the project's tool surface.
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// ProjectIntegration links a project to a system. At most one per
// (project, system).
type ProjectIntegration struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	ProjectID string `json:"project_id" yaml:"project_id"`
	// SystemAlias references the linked system.
	SystemAlias string `json:"system_alias" yaml:"system_alias"`
	// CredentialSource selects account-shared or project-scoped credentials.
	CredentialSource CredentialSource `json:"credential_source" yaml:"credential_source"`
	// ExternalID is the project's identifier inside the external system.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	// Enabled gates the integration.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// AllowedActions optionally whitelists tool names for this integration.
	AllowedActions []string `json:"allowed_actions,omitempty" yaml:"allowed_actions,omitempty"`
}

// APIKey authenticates an agent. The secret is never stored; only its
// 10-character prefix and SHA-256 hex hash are.
type APIKey struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	// Name is unique per account.
	Name string `json:"name" yaml:"name"`
	// KeyPrefix is the first 10 characters of the issued secret.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// KeyHash is the 64-character hex SHA-256 of the full secret.
	KeyHash string `json:"key_hash" yaml:"key_hash"`
	// ProjectID optionally binds the key to a project.
	ProjectID string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	// ProfileID optionally attaches a reusable agent profile.
	ProfileID string `json:"profile_id,omitempty" yaml:"profile_id,omitempty"`
	// IsAdmin permits the X-Project-Id override header.
	IsAdmin bool `json:"is_admin,omitempty" yaml:"is_admin,omitempty"`
	// Mode is the fallback mode when no active profile is attached.
	Mode Mode `json:"mode" yaml:"mode"`
	// AllowedTools are glob patterns gating write tools in power mode.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	// BlockedTools are glob patterns denied unconditionally.
	BlockedTools []string `json:"blocked_tools,omitempty" yaml:"blocked_tools,omitempty"`
	// Disabled keys fail authentication.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	// LastUsedAt is updated on each authenticated request.
	LastUsedAt time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	// CreatedAt is when the key was issued.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// AgentProfile is a reusable permission preset attachable to API keys.
type AgentProfile struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	Name      string `json:"name" yaml:"name"`
	// AllowedCategories is the category set; empty means no restriction.
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
	// IncludeTools are glob patterns always allowed.
	IncludeTools []string `json:"include_tools,omitempty" yaml:"include_tools,omitempty"`
	// ExcludeTools are glob patterns always denied.
	ExcludeTools []string `json:"exclude_tools,omitempty" yaml:"exclude_tools,omitempty"`
	// Mode overrides the key's mode while the profile is active.
	Mode Mode `json:"mode" yaml:"mode"`
	// Active profiles take effect; inactive ones are ignored entirely.
	Active bool `json:"active" yaml:"active"`
}

// IsToolAllowed applies the profile's exclude/include/category rules.
// Category membership of the tool is supplied by the caller.
func (p *AgentProfile) IsToolAllowed(name string, categories []string) bool {
	for _, pattern := range p.ExcludeTools {
		if GlobMatch(pattern, name) {
			return false
		}
	}
	for _, pattern := range p.IncludeTools {
		if GlobMatch(pattern, name) {
			return true
		}
	}
	if len(p.AllowedCategories) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(p.AllowedCategories))
	for _, c := range p.AllowedCategories {
		allowed[c] = struct{}{}
	}
	for _, c := range categories {
		if _, ok := allowed[c]; ok {
			return true
		}
	}
	return false
}

// ToolCategory groups tools for permission grants. (account, key) is unique.
type ToolCategory struct {
	ID        string    `json:"id" yaml:"id"`
	AccountID string    `json:"account_id" yaml:"account_id"`
	Key       string    `json:"key" yaml:"key"`
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
}

// CategoryMapping assigns tools matching a glob pattern to a category.
// The same tool may match several mappings.
type CategoryMapping struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	// Pattern is a glob over sanitized tool names (e.g. "*_list").
	Pattern string `json:"pattern" yaml:"pattern"`
	// CategoryKey references a ToolCategory by key.
	CategoryKey string `json:"category" yaml:"category"`
}

// AgentPolicy restricts one API key to a category set.
// An empty list means no restriction from the agent layer.
type AgentPolicy struct {
	ID                string   `json:"id" yaml:"id"`
	AccountID         string   `json:"account_id" yaml:"account_id"`
	APIKeyID          string   `json:"api_key_id" yaml:"api_key_id"`
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
}

// ProjectPolicy restricts projects matching an identifier (exact or glob).
// A nil/empty category list contributes no restriction.
type ProjectPolicy struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	// ProjectIdentifier is matched against the caller's project identifier;
	// glob patterns such as "PROJ-*" are supported.
	ProjectIdentifier string   `json:"project_identifier" yaml:"project_identifier"`
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
	Active            bool     `json:"active" yaml:"active"`
}

// UserPolicy restricts one user to a category set.
type UserPolicy struct {
	ID                string   `json:"id" yaml:"id"`
	AccountID         string   `json:"account_id" yaml:"account_id"`
	UserID            string   `json:"user_id" yaml:"user_id"`
	AllowedCategories []string `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
}

// CapabilityPack bundles business tools under a shared alias namespace.
type CapabilityPack struct {
	ID          string `json:"id" yaml:"id"`
	AccountID   string `json:"account_id" yaml:"account_id"`
	Alias       string `json:"alias" yaml:"alias"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// BusinessTool wraps a system action with business-level defaults and field
// mappings. Materialized as {pack_alias}_{name}.
type BusinessTool struct {
	ID        string `json:"id" yaml:"id"`
	AccountID string `json:"account_id" yaml:"account_id"`
	PackID    string `json:"pack_id" yaml:"pack_id"`
	// Name is the business-facing tool name (pre-sanitization, pre-namespace).
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// SystemAlias/ResourceAlias/ActionAlias reference the wrapped action.
	SystemAlias   string `json:"system_alias" yaml:"system_alias"`
	ResourceAlias string `json:"resource_alias" yaml:"resource_alias"`
	ActionAlias   string `json:"action_alias" yaml:"action_alias"`
	// DefaultParams are merged under the caller's arguments.
	DefaultParams map[string]interface{} `json:"default_params,omitempty" yaml:"default_params,omitempty"`
	// FieldMapping renames business argument fields to API fields.
	FieldMapping map[string]string `json:"field_mapping,omitempty" yaml:"field_mapping,omitempty"`
	// OutputMapping renames API result fields to business fields.
	OutputMapping map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping,omitempty"`
	Enabled       bool              `json:"enabled" yaml:"enabled"`
}

// Validate checks structural invariants of a system definition tree.
func (s *System) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if s.Alias == "" || !aliasPattern.MatchString(s.Alias) {
		return fmt.Errorf("system alias %q is not alphanumeric", s.Alias)
	}
	for i := range s.Interfaces {
		iface := &s.Interfaces[i]
		if iface.Alias == "" {
			return fmt.Errorf("system %s: interface alias is required", s.Alias)
		}
		switch iface.Type {
		case InterfaceAPI, InterfaceGraphQL, InterfaceXHR:
		default:
			return fmt.Errorf("system %s: interface %s: unknown type %q", s.Alias, iface.Alias, iface.Type)
		}
		if iface.BaseURL == "" {
			return fmt.Errorf("system %s: interface %s: base_url is required", s.Alias, iface.Alias)
		}
		for j := range iface.Resources {
			res := &iface.Resources[j]
			if res.Alias == "" {
				return fmt.Errorf("system %s: resource alias is required", s.Alias)
			}
			seen := make(map[string]struct{}, len(res.Actions))
			for k := range res.Actions {
				act := &res.Actions[k]
				if act.Alias == "" {
					return fmt.Errorf("system %s: resource %s: action alias is required", s.Alias, res.Alias)
				}
				if _, dup := seen[act.Alias]; dup {
					return fmt.Errorf("system %s: resource %s: duplicate action alias %q", s.Alias, res.Alias, act.Alias)
				}
				seen[act.Alias] = struct{}{}
				switch act.Method {
				case "GET", "POST", "PUT", "PATCH", "DELETE":
				default:
					return fmt.Errorf("system %s: action %s: unsupported method %q", s.Alias, act.Alias, act.Method)
				}
			}
		}
	}
	return nil
}

// Digest computes the hex SHA-256 of the system's canonical JSON encoding.
// Stored as SchemaDigest at import time and exposed via the schema resource.
func (s *System) Digest() string {
	shadow := *s
	shadow.SchemaDigest = ""
	raw, err := json.Marshal(&shadow)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
