package catalog

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for catalog store operations.
var (
	// ErrNotFound is returned when a catalog row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrAlreadyExists is returned when a uniqueness constraint is violated.
	ErrAlreadyExists = errors.New("catalog: already exists")
)

// ChangeListener receives the account id after any write that can affect
// tool materialization. Used to evict registry and classification caches.
type ChangeListener func(accountID string)

// Store persists the adapter catalog. Reads dominate; writes happen at seed
// time or through operator tooling, never on the tool-call hot path.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// GetSystem returns a system by alias.
	GetSystem(ctx context.Context, accountID, alias string) (*System, error)

	// ListSystems returns all enabled systems for the account.
	ListSystems(ctx context.Context, accountID string) ([]*System, error)

	// ListActions returns the flattened MCP-enabled actions of one system,
	// or of all enabled systems when systemAlias is empty.
	ListActions(ctx context.Context, accountID, systemAlias string) ([]ActionRef, error)

	// SaveSystem validates, parses interface auth, stamps the schema digest
	// and upserts the definition tree.
	SaveSystem(ctx context.Context, s *System) error

	// GetProject returns a project by slug.
	GetProject(ctx context.Context, accountID, slug string) (*Project, error)

	// GetProjectByID returns a project by id.
	GetProjectByID(ctx context.Context, accountID, id string) (*Project, error)

	// ListIntegrations returns the integrations of a project.
	ListIntegrations(ctx context.Context, accountID, projectID string) ([]*ProjectIntegration, error)

	// SaveProject upserts a project (unique slug per account).
	SaveProject(ctx context.Context, p *Project) error

	// SaveIntegration upserts an integration (unique per project+system).
	SaveIntegration(ctx context.Context, pi *ProjectIntegration) error

	// ListCategories returns the account's tool categories.
	ListCategories(ctx context.Context, accountID string) ([]*ToolCategory, error)

	// ListMappings returns the account's category mappings.
	ListMappings(ctx context.Context, accountID string) ([]*CategoryMapping, error)

	// SaveCategory upserts a category (unique key per account).
	SaveCategory(ctx context.Context, c *ToolCategory) error

	// SaveMapping appends a pattern-to-category mapping.
	SaveMapping(ctx context.Context, m *CategoryMapping) error

	// GetAgentPolicy returns the policy bound to an API key, or ErrNotFound.
	GetAgentPolicy(ctx context.Context, accountID, apiKeyID string) (*AgentPolicy, error)

	// ListProjectPolicies returns all project policies for the account.
	ListProjectPolicies(ctx context.Context, accountID string) ([]*ProjectPolicy, error)

	// GetUserPolicy returns the policy for a user, or ErrNotFound.
	GetUserPolicy(ctx context.Context, accountID, userID string) (*UserPolicy, error)

	// SaveAgentPolicy, SaveProjectPolicy and SaveUserPolicy upsert policies.
	SaveAgentPolicy(ctx context.Context, p *AgentPolicy) error
	SaveProjectPolicy(ctx context.Context, p *ProjectPolicy) error
	SaveUserPolicy(ctx context.Context, p *UserPolicy) error

	// GetKeyByPrefix returns the API key with the given 10-character prefix.
	// Prefixes are globally unique, so this lookup is not account-scoped.
	GetKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)

	// GetKey returns an API key by id.
	GetKey(ctx context.Context, accountID, id string) (*APIKey, error)

	// GetProfile returns an agent profile by id.
	GetProfile(ctx context.Context, accountID, id string) (*AgentProfile, error)

	// SaveKey and SaveProfile upsert auth material.
	SaveKey(ctx context.Context, k *APIKey) error
	SaveProfile(ctx context.Context, p *AgentProfile) error

	// TouchKey records a successful authentication.
	TouchKey(ctx context.Context, keyID string, when time.Time) error

	// ListPacks returns the account's enabled capability packs.
	ListPacks(ctx context.Context, accountID string) ([]*CapabilityPack, error)

	// ListPackTools returns the enabled tools of one pack.
	ListPackTools(ctx context.Context, accountID, packID string) ([]*BusinessTool, error)

	// SavePack and SavePackTool upsert business tooling.
	SavePack(ctx context.Context, p *CapabilityPack) error
	SavePackTool(ctx context.Context, t *BusinessTool) error

	// OnChange registers a listener fired after any write affecting tool
	// materialization for an account.
	OnChange(fn ChangeListener)
}
