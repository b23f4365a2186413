// Package memory provides in-memory implementations of the outbound
// store ports. Used for development, tests, and YAML-seeded deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// CatalogStore implements catalog.Store backed by maps. Safe for
// concurrent use. Reads return copies of slices but share row pointers;
// callers must not mutate returned rows.
type CatalogStore struct {
	mu sync.RWMutex

	// systems by account id then alias.
	systems map[string]map[string]*catalog.System
	// projects by account id then slug.
	projects     map[string]map[string]*catalog.Project
	integrations map[string][]*catalog.ProjectIntegration
	categories   map[string][]*catalog.ToolCategory
	mappings     map[string][]*catalog.CategoryMapping

	agentPolicies   map[string]map[string]*catalog.AgentPolicy
	projectPolicies map[string][]*catalog.ProjectPolicy
	userPolicies    map[string]map[string]*catalog.UserPolicy

	// keys by global lookup prefix.
	keys     map[string]*catalog.APIKey
	profiles map[string]map[string]*catalog.AgentProfile

	packs     map[string][]*catalog.CapabilityPack
	packTools map[string][]*catalog.BusinessTool

	listeners []catalog.ChangeListener
}

// NewCatalogStore creates an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		systems:         make(map[string]map[string]*catalog.System),
		projects:        make(map[string]map[string]*catalog.Project),
		integrations:    make(map[string][]*catalog.ProjectIntegration),
		categories:      make(map[string][]*catalog.ToolCategory),
		mappings:        make(map[string][]*catalog.CategoryMapping),
		agentPolicies:   make(map[string]map[string]*catalog.AgentPolicy),
		projectPolicies: make(map[string][]*catalog.ProjectPolicy),
		userPolicies:    make(map[string]map[string]*catalog.UserPolicy),
		keys:            make(map[string]*catalog.APIKey),
		profiles:        make(map[string]map[string]*catalog.AgentProfile),
		packs:           make(map[string][]*catalog.CapabilityPack),
		packTools:       make(map[string][]*catalog.BusinessTool),
	}
}

// GetSystem returns a system by alias.
func (s *CatalogStore) GetSystem(_ context.Context, accountID, alias string) (*catalog.System, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sys, ok := s.systems[accountID][alias]
	if !ok {
		return nil, fmt.Errorf("system %q: %w", alias, catalog.ErrNotFound)
	}
	return sys, nil
}

// ListSystems returns the account's enabled systems, ordered by alias.
func (s *CatalogStore) ListSystems(_ context.Context, accountID string) ([]*catalog.System, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.System
	for _, sys := range s.systems[accountID] {
		if sys.Enabled {
			out = append(out, sys)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
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
		systems = []*catalog.System{sys}
	} else {
		var err error
		systems, err = s.ListSystems(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []catalog.ActionRef
	for _, sys := range systems {
		if !sys.Enabled {
			continue
		}
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
func (s *CatalogStore) SaveSystem(_ context.Context, sys *catalog.System) error {
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

	s.mu.Lock()
	if s.systems[sys.AccountID] == nil {
		s.systems[sys.AccountID] = make(map[string]*catalog.System)
	}
	s.systems[sys.AccountID][sys.Alias] = sys
	s.mu.Unlock()

	s.notify(sys.AccountID)
	return nil
}

// GetProject returns a project by slug.
func (s *CatalogStore) GetProject(_ context.Context, accountID, slug string) (*catalog.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[accountID][slug]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", slug, catalog.ErrNotFound)
	}
	return p, nil
}

// GetProjectByID returns a project by id.
func (s *CatalogStore) GetProjectByID(_ context.Context, accountID, id string) (*catalog.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects[accountID] {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project id %q: %w", id, catalog.ErrNotFound)
}

// ListIntegrations returns the integrations of a project.
func (s *CatalogStore) ListIntegrations(_ context.Context, accountID, projectID string) ([]*catalog.ProjectIntegration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.ProjectIntegration
	for _, pi := range s.integrations[accountID] {
		if pi.ProjectID == projectID {
			out = append(out, pi)
		}
	}
	return out, nil
}

// SaveProject upserts a project by slug.
func (s *CatalogStore) SaveProject(_ context.Context, p *catalog.Project) error {
	if p.AccountID == "" || p.Slug == "" {
		return fmt.Errorf("save project: account_id and slug are required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	if s.projects[p.AccountID] == nil {
		s.projects[p.AccountID] = make(map[string]*catalog.Project)
	}
	s.projects[p.AccountID][p.Slug] = p
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// SaveIntegration upserts an integration, unique per (project, system).
func (s *CatalogStore) SaveIntegration(_ context.Context, pi *catalog.ProjectIntegration) error {
	if pi.ID == "" {
		pi.ID = uuid.NewString()
	}
	s.mu.Lock()
	rows := s.integrations[pi.AccountID]
	replaced := false
	for i, existing := range rows {
		if existing.ProjectID == pi.ProjectID && existing.SystemAlias == pi.SystemAlias {
			rows[i] = pi
			replaced = true
			break
		}
	}
	if !replaced {
		s.integrations[pi.AccountID] = append(rows, pi)
	}
	s.mu.Unlock()

	s.notify(pi.AccountID)
	return nil
}

// ListCategories returns the account's tool categories.
func (s *CatalogStore) ListCategories(_ context.Context, accountID string) ([]*catalog.ToolCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*catalog.ToolCategory(nil), s.categories[accountID]...), nil
}

// ListMappings returns the account's category mappings.
func (s *CatalogStore) ListMappings(_ context.Context, accountID string) ([]*catalog.CategoryMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*catalog.CategoryMapping(nil), s.mappings[accountID]...), nil
}

// SaveCategory upserts a category, unique key per account.
func (s *CatalogStore) SaveCategory(_ context.Context, c *catalog.ToolCategory) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.mu.Lock()
	rows := s.categories[c.AccountID]
	replaced := false
	for i, existing := range rows {
		if existing.Key == c.Key {
			rows[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.categories[c.AccountID] = append(rows, c)
	}
	s.mu.Unlock()

	s.notify(c.AccountID)
	return nil
}

// SaveMapping appends a pattern-to-category mapping.
func (s *CatalogStore) SaveMapping(_ context.Context, m *catalog.CategoryMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.mappings[m.AccountID] = append(s.mappings[m.AccountID], m)
	s.mu.Unlock()

	s.notify(m.AccountID)
	return nil
}

// GetAgentPolicy returns the policy bound to an API key.
func (s *CatalogStore) GetAgentPolicy(_ context.Context, accountID, apiKeyID string) (*catalog.AgentPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.agentPolicies[accountID][apiKeyID]
	if !ok {
		return nil, fmt.Errorf("agent policy for key %q: %w", apiKeyID, catalog.ErrNotFound)
	}
	return p, nil
}

// ListProjectPolicies returns all project policies for the account.
func (s *CatalogStore) ListProjectPolicies(_ context.Context, accountID string) ([]*catalog.ProjectPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*catalog.ProjectPolicy(nil), s.projectPolicies[accountID]...), nil
}

// GetUserPolicy returns the policy for a user.
func (s *CatalogStore) GetUserPolicy(_ context.Context, accountID, userID string) (*catalog.UserPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.userPolicies[accountID][userID]
	if !ok {
		return nil, fmt.Errorf("user policy for %q: %w", userID, catalog.ErrNotFound)
	}
	return p, nil
}

// SaveAgentPolicy upserts the policy for an API key.
func (s *CatalogStore) SaveAgentPolicy(_ context.Context, p *catalog.AgentPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	if s.agentPolicies[p.AccountID] == nil {
		s.agentPolicies[p.AccountID] = make(map[string]*catalog.AgentPolicy)
	}
	s.agentPolicies[p.AccountID][p.APIKeyID] = p
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// SaveProjectPolicy upserts a project policy by identifier.
func (s *CatalogStore) SaveProjectPolicy(_ context.Context, p *catalog.ProjectPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	rows := s.projectPolicies[p.AccountID]
	replaced := false
	for i, existing := range rows {
		if existing.ProjectIdentifier == p.ProjectIdentifier {
			rows[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.projectPolicies[p.AccountID] = append(rows, p)
	}
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// SaveUserPolicy upserts the policy for a user.
func (s *CatalogStore) SaveUserPolicy(_ context.Context, p *catalog.UserPolicy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	if s.userPolicies[p.AccountID] == nil {
		s.userPolicies[p.AccountID] = make(map[string]*catalog.UserPolicy)
	}
	s.userPolicies[p.AccountID][p.UserID] = p
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// GetKeyByPrefix returns the API key with the given lookup prefix.
func (s *CatalogStore) GetKeyByPrefix(_ context.Context, prefix string) (*catalog.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[prefix]
	if !ok {
		return nil, fmt.Errorf("api key: %w", catalog.ErrNotFound)
	}
	return k, nil
}

// GetKey returns an API key by id.
func (s *CatalogStore) GetKey(_ context.Context, accountID, id string) (*catalog.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.AccountID == accountID && k.ID == id {
			return k, nil
		}
	}
	return nil, fmt.Errorf("api key %q: %w", id, catalog.ErrNotFound)
}

// GetProfile returns an agent profile by id.
func (s *CatalogStore) GetProfile(_ context.Context, accountID, id string) (*catalog.AgentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[accountID][id]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", id, catalog.ErrNotFound)
	}
	return p, nil
}

// SaveKey upserts an API key by lookup prefix.
func (s *CatalogStore) SaveKey(_ context.Context, k *catalog.APIKey) error {
	if k.KeyPrefix == "" || k.KeyHash == "" {
		return fmt.Errorf("save key: key_prefix and key_hash are required")
	}
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	if existing, ok := s.keys[k.KeyPrefix]; ok && existing.ID != k.ID {
		s.mu.Unlock()
		return fmt.Errorf("save key: prefix %q: %w", k.KeyPrefix, catalog.ErrAlreadyExists)
	}
	s.keys[k.KeyPrefix] = k
	s.mu.Unlock()

	s.notify(k.AccountID)
	return nil
}

// SaveProfile upserts an agent profile.
func (s *CatalogStore) SaveProfile(_ context.Context, p *catalog.AgentProfile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	if s.profiles[p.AccountID] == nil {
		s.profiles[p.AccountID] = make(map[string]*catalog.AgentProfile)
	}
	s.profiles[p.AccountID][p.ID] = p
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// TouchKey records a successful authentication.
func (s *CatalogStore) TouchKey(_ context.Context, keyID string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == keyID {
			k.LastUsedAt = when
			return nil
		}
	}
	return fmt.Errorf("touch key %q: %w", keyID, catalog.ErrNotFound)
}

// ListPacks returns the account's enabled capability packs.
func (s *CatalogStore) ListPacks(_ context.Context, accountID string) ([]*catalog.CapabilityPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.CapabilityPack
	for _, p := range s.packs[accountID] {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListPackTools returns the enabled tools of one pack.
func (s *CatalogStore) ListPackTools(_ context.Context, accountID, packID string) ([]*catalog.BusinessTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.BusinessTool
	for _, t := range s.packTools[accountID] {
		if t.PackID == packID && t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

// SavePack upserts a capability pack by alias.
func (s *CatalogStore) SavePack(_ context.Context, p *catalog.CapabilityPack) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	rows := s.packs[p.AccountID]
	replaced := false
	for i, existing := range rows {
		if existing.Alias == p.Alias {
			rows[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		s.packs[p.AccountID] = append(rows, p)
	}
	s.mu.Unlock()

	s.notify(p.AccountID)
	return nil
}

// SavePackTool upserts a business tool by (pack, name).
func (s *CatalogStore) SavePackTool(_ context.Context, t *catalog.BusinessTool) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.mu.Lock()
	rows := s.packTools[t.AccountID]
	replaced := false
	for i, existing := range rows {
		if existing.PackID == t.PackID && existing.Name == t.Name {
			rows[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.packTools[t.AccountID] = append(rows, t)
	}
	s.mu.Unlock()

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
	s.mu.RLock()
	listeners := append([]catalog.ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(accountID)
	}
}

// Compile-time interface verification.
var _ catalog.Store = (*CatalogStore)(nil)
