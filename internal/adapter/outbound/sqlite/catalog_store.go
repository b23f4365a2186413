package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// timeFormat is the canonical timestamp encoding for all tables.
const timeFormat = time.RFC3339Nano

// CatalogStore implements catalog.Store on SQLite. System definition
// trees are stored as JSON documents; list-shaped fields on relational
// rows are stored as JSON columns.
type CatalogStore struct {
	db *sql.DB

	mu        sync.Mutex
	listeners []catalog.ChangeListener
}

// NewCatalogStore creates a CatalogStore on the shared handle.
func NewCatalogStore(db *DB) *CatalogStore {
	return &CatalogStore{db: db.db}
}

// isUniqueViolation checks for a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// encodeJSON marshals v for a JSON text column. nil encodes as "null".
func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding json column: %w", err)
	}
	return string(data), nil
}

// decodeJSON unmarshals a JSON text column into out. "null" is a no-op.
func decodeJSON(data string, out interface{}) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("decoding json column: %w", err)
	}
	return nil
}

// GetSystem returns a system by alias.
func (s *CatalogStore) GetSystem(ctx context.Context, accountID, alias string) (*catalog.System, error) {
	var definition string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM systems WHERE account_id = ? AND alias = ?`,
		accountID, alias,
	).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("system %q: %w", alias, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying system: %w", err)
	}
	return decodeSystem(definition)
}

func decodeSystem(definition string) (*catalog.System, error) {
	var sys catalog.System
	if err := json.Unmarshal([]byte(definition), &sys); err != nil {
		return nil, fmt.Errorf("decoding system definition: %w", err)
	}
	// ParsedAuth is not serialized; rebuild it on every load.
	if err := catalog.ParseInterfaceAuth(&sys); err != nil {
		return nil, fmt.Errorf("parsing interface auth: %w", err)
	}
	return &sys, nil
}

// ListSystems returns the account's enabled systems, ordered by alias.
func (s *CatalogStore) ListSystems(ctx context.Context, accountID string) ([]*catalog.System, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM systems WHERE account_id = ? AND enabled = 1 ORDER BY alias`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying systems: %w", err)
	}
	defer rows.Close()

	var out []*catalog.System
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scanning system: %w", err)
		}
		sys, err := decodeSystem(definition)
		if err != nil {
			return nil, err
		}
		out = append(out, sys)
	}
	return out, rows.Err()
}

// ListActions flattens the MCP-enabled actions of one system, or of all
// enabled systems when systemAlias is empty.
func (s *CatalogStore) ListActions(ctx context.Context, accountID, systemAlias string) ([]catalog.ActionRef, error) {
	var systems []*catalog.System
	if systemAlias != "" {
		sys, err := s.GetSystem(ctx, accountID, systemAlias)
		if err != nil {
			return nil, err
		}
		if sys.Enabled {
			systems = append(systems, sys)
		}
	} else {
		var err error
		systems, err = s.ListSystems(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	var refs []catalog.ActionRef
	for _, sys := range systems {
		for i := range sys.Interfaces {
			iface := &sys.Interfaces[i]
			for j := range iface.Resources {
				res := &iface.Resources[j]
				for k := range res.Actions {
					act := &res.Actions[k]
					if !act.MCPEnabled {
						continue
					}
					refs = append(refs, catalog.ActionRef{
						System:    sys,
						Interface: iface,
						Resource:  res,
						Action:    act,
					})
				}
			}
		}
	}
	return refs, nil
}

// SaveSystem validates, parses interface auth, stamps the schema digest
// and upserts the definition tree.
func (s *CatalogStore) SaveSystem(ctx context.Context, sys *catalog.System) error {
	if err := sys.Validate(); err != nil {
		return fmt.Errorf("save system: %w", err)
	}
	if err := catalog.ParseInterfaceAuth(sys); err != nil {
		return fmt.Errorf("save system: %w", err)
	}
	if sys.ID == "" {
		sys.ID = uuid.NewString()
	}
	if sys.CreatedAt.IsZero() {
		sys.CreatedAt = time.Now().UTC()
	}
	sys.SchemaDigest = sys.Digest()

	definition, err := encodeJSON(sys)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO systems (id, account_id, alias, enabled, schema_digest, definition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, alias) DO UPDATE SET
			enabled = excluded.enabled,
			schema_digest = excluded.schema_digest,
			definition = excluded.definition`,
		sys.ID, sys.AccountID, sys.Alias, sys.Enabled, sys.SchemaDigest,
		definition, sys.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting system: %w", err)
	}
	s.notify(sys.AccountID)
	return nil
}

// GetProject returns a project by slug.
func (s *CatalogStore) GetProject(ctx context.Context, accountID, slug string) (*catalog.Project, error) {
	return s.queryProject(ctx,
		`SELECT id, account_id, slug, name, external_mappings, allowed_categories, created_at
		 FROM projects WHERE account_id = ? AND slug = ?`, accountID, slug)
}

// GetProjectByID returns a project by id.
func (s *CatalogStore) GetProjectByID(ctx context.Context, accountID, id string) (*catalog.Project, error) {
	return s.queryProject(ctx,
		`SELECT id, account_id, slug, name, external_mappings, allowed_categories, created_at
		 FROM projects WHERE account_id = ? AND id = ?`, accountID, id)
}

func (s *CatalogStore) queryProject(ctx context.Context, query string, args ...interface{}) (*catalog.Project, error) {
	var (
		p         catalog.Project
		mappings  string
		cats      string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.AccountID, &p.Slug, &p.Name, &mappings, &cats, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	if err := decodeJSON(mappings, &p.ExternalMappings); err != nil {
		return nil, err
	}
	if err := decodeJSON(cats, &p.AllowedCategories); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &p, nil
}

// SaveProject upserts a project by slug.
func (s *CatalogStore) SaveProject(ctx context.Context, p *catalog.Project) error {
	if p.AccountID == "" || p.Slug == "" {
		return fmt.Errorf("save project: account_id and slug are required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	mappings, err := encodeJSON(p.ExternalMappings)
	if err != nil {
		return err
	}
	cats, err := encodeJSON(p.AllowedCategories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, account_id, slug, name, external_mappings, allowed_categories, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, slug) DO UPDATE SET
			name = excluded.name,
			external_mappings = excluded.external_mappings,
			allowed_categories = excluded.allowed_categories`,
		p.ID, p.AccountID, p.Slug, p.Name, mappings, cats, p.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting project: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// ListIntegrations returns the integrations of a project.
func (s *CatalogStore) ListIntegrations(ctx context.Context, accountID, projectID string) ([]*catalog.ProjectIntegration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, project_id, system_alias, credential_source, external_id, enabled, allowed_actions
		FROM project_integrations WHERE account_id = ? AND project_id = ?`,
		accountID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var out []*catalog.ProjectIntegration
	for rows.Next() {
		var (
			pi      catalog.ProjectIntegration
			actions string
		)
		if err := rows.Scan(&pi.ID, &pi.AccountID, &pi.ProjectID, &pi.SystemAlias,
			&pi.CredentialSource, &pi.ExternalID, &pi.Enabled, &actions); err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		if err := decodeJSON(actions, &pi.AllowedActions); err != nil {
			return nil, err
		}
		out = append(out, &pi)
	}
	return out, rows.Err()
}

// SaveIntegration upserts an integration, unique per (project, system).
func (s *CatalogStore) SaveIntegration(ctx context.Context, pi *catalog.ProjectIntegration) error {
	if pi.ID == "" {
		pi.ID = uuid.NewString()
	}
	actions, err := encodeJSON(pi.AllowedActions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_integrations (id, account_id, project_id, system_alias, credential_source, external_id, enabled, allowed_actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, system_alias) DO UPDATE SET
			credential_source = excluded.credential_source,
			external_id = excluded.external_id,
			enabled = excluded.enabled,
			allowed_actions = excluded.allowed_actions`,
		pi.ID, pi.AccountID, pi.ProjectID, pi.SystemAlias,
		pi.CredentialSource, pi.ExternalID, pi.Enabled, actions,
	)
	if err != nil {
		return fmt.Errorf("upserting integration: %w", err)
	}
	s.notify(pi.AccountID)
	return nil
}

// ListCategories returns the account's tool categories.
func (s *CatalogStore) ListCategories(ctx context.Context, accountID string) ([]*catalog.ToolCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, key, name, risk_level FROM tool_categories WHERE account_id = ? ORDER BY key`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []*catalog.ToolCategory
	for rows.Next() {
		var c catalog.ToolCategory
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Key, &c.Name, &c.RiskLevel); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListMappings returns the account's category mappings.
func (s *CatalogStore) ListMappings(ctx context.Context, accountID string) ([]*catalog.CategoryMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, pattern, category_key FROM category_mappings WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying mappings: %w", err)
	}
	defer rows.Close()

	var out []*catalog.CategoryMapping
	for rows.Next() {
		var m catalog.CategoryMapping
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Pattern, &m.CategoryKey); err != nil {
			return nil, fmt.Errorf("scanning mapping: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SaveCategory upserts a category, unique key per account.
func (s *CatalogStore) SaveCategory(ctx context.Context, c *catalog.ToolCategory) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_categories (id, account_id, key, name, risk_level)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, key) DO UPDATE SET
			name = excluded.name,
			risk_level = excluded.risk_level`,
		c.ID, c.AccountID, c.Key, c.Name, c.RiskLevel,
	)
	if err != nil {
		return fmt.Errorf("upserting category: %w", err)
	}
	s.notify(c.AccountID)
	return nil
}

// SaveMapping appends a pattern-to-category mapping.
func (s *CatalogStore) SaveMapping(ctx context.Context, m *catalog.CategoryMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO category_mappings (id, account_id, pattern, category_key) VALUES (?, ?, ?, ?)`,
		m.ID, m.AccountID, m.Pattern, m.CategoryKey,
	)
	if err != nil {
		return fmt.Errorf("inserting mapping: %w", err)
	}
	s.notify(m.AccountID)
	return nil
}

// GetAgentPolicy returns the policy bound to an API key.
func (s *CatalogStore) GetAgentPolicy(ctx context.Context, accountID, apiKeyID string) (*catalog.AgentPolicy, error) {
	var (
		p    catalog.AgentPolicy
		cats string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, api_key_id, allowed_categories FROM agent_policies WHERE account_id = ? AND api_key_id = ?`,
		accountID, apiKeyID,
	).Scan(&p.ID, &p.AccountID, &p.APIKeyID, &cats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent policy: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent policy: %w", err)
	}
	if err := decodeJSON(cats, &p.AllowedCategories); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjectPolicies returns all project policies for the account.
func (s *CatalogStore) ListProjectPolicies(ctx context.Context, accountID string) ([]*catalog.ProjectPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, project_identifier, allowed_categories, active FROM project_policies WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying project policies: %w", err)
	}
	defer rows.Close()

	var out []*catalog.ProjectPolicy
	for rows.Next() {
		var (
			p    catalog.ProjectPolicy
			cats string
		)
		if err := rows.Scan(&p.ID, &p.AccountID, &p.ProjectIdentifier, &cats, &p.Active); err != nil {
			return nil, fmt.Errorf("scanning project policy: %w", err)
		}
		if err := decodeJSON(cats, &p.AllowedCategories); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetUserPolicy returns the policy for a user.
func (s *CatalogStore) GetUserPolicy(ctx context.Context, accountID, userID string) (*catalog.UserPolicy, error) {
	var (
		p    catalog.UserPolicy
		cats string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, user_id, allowed_categories FROM user_policies WHERE account_id = ? AND user_id = ?`,
		accountID, userID,
	).Scan(&p.ID, &p.AccountID, &p.UserID, &cats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user policy: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user policy: %w", err)
	}
	if err := decodeJSON(cats, &p.AllowedCategories); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveAgentPolicy upserts the policy for an API key.
func (s *CatalogStore) SaveAgentPolicy(ctx context.Context, p *catalog.AgentPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cats, err := encodeJSON(p.AllowedCategories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_policies (id, account_id, api_key_id, allowed_categories)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, api_key_id) DO UPDATE SET
			allowed_categories = excluded.allowed_categories`,
		p.ID, p.AccountID, p.APIKeyID, cats,
	)
	if err != nil {
		return fmt.Errorf("upserting agent policy: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// SaveProjectPolicy upserts a project policy by identifier.
func (s *CatalogStore) SaveProjectPolicy(ctx context.Context, p *catalog.ProjectPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cats, err := encodeJSON(p.AllowedCategories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_policies (id, account_id, project_identifier, allowed_categories, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, project_identifier) DO UPDATE SET
			allowed_categories = excluded.allowed_categories,
			active = excluded.active`,
		p.ID, p.AccountID, p.ProjectIdentifier, cats, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting project policy: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// SaveUserPolicy upserts the policy for a user.
func (s *CatalogStore) SaveUserPolicy(ctx context.Context, p *catalog.UserPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cats, err := encodeJSON(p.AllowedCategories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_policies (id, account_id, user_id, allowed_categories)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, user_id) DO UPDATE SET
			allowed_categories = excluded.allowed_categories`,
		p.ID, p.AccountID, p.UserID, cats,
	)
	if err != nil {
		return fmt.Errorf("upserting user policy: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// keyColumns is the SELECT list shared by key lookups.
const keyColumns = `id, account_id, name, key_prefix, key_hash, project_id, profile_id,
	is_admin, mode, allowed_tools, blocked_tools, disabled, last_used_at, created_at`

// GetKeyByPrefix returns the API key with the given lookup prefix.
func (s *CatalogStore) GetKeyByPrefix(ctx context.Context, prefix string) (*catalog.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_prefix = ?`, prefix)
	return scanKey(row)
}

// GetKey returns an API key by id.
func (s *CatalogStore) GetKey(ctx context.Context, accountID, id string) (*catalog.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE account_id = ? AND id = ?`, accountID, id)
	return scanKey(row)
}

func scanKey(row *sql.Row) (*catalog.APIKey, error) {
	var (
		k                catalog.APIKey
		allowed, blocked string
		lastUsed         sql.NullString
		createdAt        string
	)
	err := row.Scan(&k.ID, &k.AccountID, &k.Name, &k.KeyPrefix, &k.KeyHash,
		&k.ProjectID, &k.ProfileID, &k.IsAdmin, &k.Mode, &allowed, &blocked,
		&k.Disabled, &lastUsed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key: %w", catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	if err := decodeJSON(allowed, &k.AllowedTools); err != nil {
		return nil, err
	}
	if err := decodeJSON(blocked, &k.BlockedTools); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		k.LastUsedAt, _ = time.Parse(timeFormat, lastUsed.String)
	}
	k.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return &k, nil
}

// GetProfile returns an agent profile by id.
func (s *CatalogStore) GetProfile(ctx context.Context, accountID, id string) (*catalog.AgentProfile, error) {
	var (
		p                      catalog.AgentProfile
		cats, include, exclude string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, allowed_categories, include_tools, exclude_tools, mode, active
		FROM agent_profiles WHERE account_id = ? AND id = ?`,
		accountID, id,
	).Scan(&p.ID, &p.AccountID, &p.Name, &cats, &include, &exclude, &p.Mode, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	if err := decodeJSON(cats, &p.AllowedCategories); err != nil {
		return nil, err
	}
	if err := decodeJSON(include, &p.IncludeTools); err != nil {
		return nil, err
	}
	if err := decodeJSON(exclude, &p.ExcludeTools); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveKey upserts an API key. Prefix collisions across distinct key ids
// surface catalog.ErrAlreadyExists.
func (s *CatalogStore) SaveKey(ctx context.Context, k *catalog.APIKey) error {
	if k.KeyPrefix == "" || k.KeyHash == "" {
		return fmt.Errorf("save key: key_prefix and key_hash are required")
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	allowed, err := encodeJSON(k.AllowedTools)
	if err != nil {
		return err
	}
	blocked, err := encodeJSON(k.BlockedTools)
	if err != nil {
		return err
	}
	var lastUsed interface{}
	if !k.LastUsedAt.IsZero() {
		lastUsed = k.LastUsedAt.Format(timeFormat)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, account_id, name, key_prefix, key_hash, project_id, profile_id,
			is_admin, mode, allowed_tools, blocked_tools, disabled, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			project_id = excluded.project_id,
			profile_id = excluded.profile_id,
			is_admin = excluded.is_admin,
			mode = excluded.mode,
			allowed_tools = excluded.allowed_tools,
			blocked_tools = excluded.blocked_tools,
			disabled = excluded.disabled`,
		k.ID, k.AccountID, k.Name, k.KeyPrefix, k.KeyHash, k.ProjectID, k.ProfileID,
		k.IsAdmin, k.Mode, allowed, blocked, k.Disabled, lastUsed, k.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save key: prefix %q: %w", k.KeyPrefix, catalog.ErrAlreadyExists)
		}
		return fmt.Errorf("upserting api key: %w", err)
	}
	s.notify(k.AccountID)
	return nil
}

// SaveProfile upserts an agent profile.
func (s *CatalogStore) SaveProfile(ctx context.Context, p *catalog.AgentProfile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cats, err := encodeJSON(p.AllowedCategories)
	if err != nil {
		return err
	}
	include, err := encodeJSON(p.IncludeTools)
	if err != nil {
		return err
	}
	exclude, err := encodeJSON(p.ExcludeTools)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_profiles (id, account_id, name, allowed_categories, include_tools, exclude_tools, mode, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			allowed_categories = excluded.allowed_categories,
			include_tools = excluded.include_tools,
			exclude_tools = excluded.exclude_tools,
			mode = excluded.mode,
			active = excluded.active`,
		p.ID, p.AccountID, p.Name, cats, include, exclude, p.Mode, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// TouchKey records a successful authentication.
func (s *CatalogStore) TouchKey(ctx context.Context, keyID string, when time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		when.Format(timeFormat), keyID,
	)
	if err != nil {
		return fmt.Errorf("touching key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touch key %q: %w", keyID, catalog.ErrNotFound)
	}
	return nil
}

// ListPacks returns the account's enabled capability packs.
func (s *CatalogStore) ListPacks(ctx context.Context, accountID string) ([]*catalog.CapabilityPack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, alias, name, description, enabled
		FROM capability_packs WHERE account_id = ? AND enabled = 1 ORDER BY alias`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying packs: %w", err)
	}
	defer rows.Close()

	var out []*catalog.CapabilityPack
	for rows.Next() {
		var p catalog.CapabilityPack
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Alias, &p.Name, &p.Description, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scanning pack: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListPackTools returns the enabled tools of one pack.
func (s *CatalogStore) ListPackTools(ctx context.Context, accountID, packID string) ([]*catalog.BusinessTool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, pack_id, name, description, system_alias, resource_alias, action_alias,
			default_params, field_mapping, output_mapping, enabled
		FROM business_tools WHERE account_id = ? AND pack_id = ? AND enabled = 1 ORDER BY name`,
		accountID, packID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pack tools: %w", err)
	}
	defer rows.Close()

	var out []*catalog.BusinessTool
	for rows.Next() {
		var (
			t                             catalog.BusinessTool
			defaults, fieldMap, outputMap string
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.PackID, &t.Name, &t.Description,
			&t.SystemAlias, &t.ResourceAlias, &t.ActionAlias,
			&defaults, &fieldMap, &outputMap, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scanning pack tool: %w", err)
		}
		if err := decodeJSON(defaults, &t.DefaultParams); err != nil {
			return nil, err
		}
		if err := decodeJSON(fieldMap, &t.FieldMapping); err != nil {
			return nil, err
		}
		if err := decodeJSON(outputMap, &t.OutputMapping); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SavePack upserts a capability pack by alias.
func (s *CatalogStore) SavePack(ctx context.Context, p *catalog.CapabilityPack) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capability_packs (id, account_id, alias, name, description, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, alias) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled`,
		p.ID, p.AccountID, p.Alias, p.Name, p.Description, p.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upserting pack: %w", err)
	}
	s.notify(p.AccountID)
	return nil
}

// SavePackTool upserts a business tool by (pack, name).
func (s *CatalogStore) SavePackTool(ctx context.Context, t *catalog.BusinessTool) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	defaults, err := encodeJSON(t.DefaultParams)
	if err != nil {
		return err
	}
	fieldMap, err := encodeJSON(t.FieldMapping)
	if err != nil {
		return err
	}
	outputMap, err := encodeJSON(t.OutputMapping)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO business_tools (id, account_id, pack_id, name, description,
			system_alias, resource_alias, action_alias, default_params, field_mapping, output_mapping, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pack_id, name) DO UPDATE SET
			description = excluded.description,
			system_alias = excluded.system_alias,
			resource_alias = excluded.resource_alias,
			action_alias = excluded.action_alias,
			default_params = excluded.default_params,
			field_mapping = excluded.field_mapping,
			output_mapping = excluded.output_mapping,
			enabled = excluded.enabled`,
		t.ID, t.AccountID, t.PackID, t.Name, t.Description,
		t.SystemAlias, t.ResourceAlias, t.ActionAlias, defaults, fieldMap, outputMap, t.Enabled,
	)
	if err != nil {
		return fmt.Errorf("upserting pack tool: %w", err)
	}
	s.notify(t.AccountID)
	return nil
}

// OnChange registers a change listener.
func (s *CatalogStore) OnChange(fn catalog.ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *CatalogStore) notify(accountID string) {
	s.mu.Lock()
	listeners := append([]catalog.ChangeListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(accountID)
	}
}

// Compile-time interface verification.
var _ catalog.Store = (*CatalogStore)(nil)
