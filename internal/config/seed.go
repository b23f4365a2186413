package config

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
)

// Seed is a declarative catalog snapshot loaded at boot. Rows without an
// id get one generated; references between rows (profile ids, project ids,
// pack ids) must therefore carry explicit ids in the file.
type Seed struct {
	Systems         []*catalog.System             `yaml:"systems"`
	Projects        []*catalog.Project            `yaml:"projects"`
	Integrations    []*catalog.ProjectIntegration `yaml:"integrations"`
	Categories      []*catalog.ToolCategory       `yaml:"categories"`
	Mappings        []*catalog.CategoryMapping    `yaml:"mappings"`
	APIKeys         []*catalog.APIKey             `yaml:"api_keys"`
	Profiles        []*catalog.AgentProfile       `yaml:"profiles"`
	AgentPolicies   []*catalog.AgentPolicy        `yaml:"agent_policies"`
	ProjectPolicies []*catalog.ProjectPolicy      `yaml:"project_policies"`
	UserPolicies    []*catalog.UserPolicy         `yaml:"user_policies"`
	Packs           []*catalog.CapabilityPack     `yaml:"packs"`
	PackTools       []*catalog.BusinessTool       `yaml:"pack_tools"`
	Credentials     []*credential.Credential      `yaml:"credentials"`
}

// Empty reports whether the seed carries no rows at all.
func (s *Seed) Empty() bool {
	return s == nil || (len(s.Systems) == 0 && len(s.Projects) == 0 &&
		len(s.Integrations) == 0 && len(s.Categories) == 0 &&
		len(s.Mappings) == 0 && len(s.APIKeys) == 0 && len(s.Profiles) == 0 &&
		len(s.AgentPolicies) == 0 && len(s.ProjectPolicies) == 0 &&
		len(s.UserPolicies) == 0 && len(s.Packs) == 0 &&
		len(s.PackTools) == 0 && len(s.Credentials) == 0)
}

// LoadSeedFile parses a seed YAML file.
func LoadSeedFile(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	return &seed, nil
}

// LoadSeedFromConfigFile extracts the "seed" section of the config file,
// if any. Viper's mapstructure decoding cannot honor the catalog types'
// YAML tags, so the file is re-read with the YAML decoder directly.
func LoadSeedFromConfigFile(path string) (*Seed, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var wrapper struct {
		Seed *Seed `yaml:"seed"`
	}
	if err := yaml.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing seed section of %s: %w", path, err)
	}
	return wrapper.Seed, nil
}

// Merge appends other's rows onto s.
func (s *Seed) Merge(other *Seed) {
	if other == nil {
		return
	}
	s.Systems = append(s.Systems, other.Systems...)
	s.Projects = append(s.Projects, other.Projects...)
	s.Integrations = append(s.Integrations, other.Integrations...)
	s.Categories = append(s.Categories, other.Categories...)
	s.Mappings = append(s.Mappings, other.Mappings...)
	s.APIKeys = append(s.APIKeys, other.APIKeys...)
	s.Profiles = append(s.Profiles, other.Profiles...)
	s.AgentPolicies = append(s.AgentPolicies, other.AgentPolicies...)
	s.ProjectPolicies = append(s.ProjectPolicies, other.ProjectPolicies...)
	s.UserPolicies = append(s.UserPolicies, other.UserPolicies...)
	s.Packs = append(s.Packs, other.Packs...)
	s.PackTools = append(s.PackTools, other.PackTools...)
	s.Credentials = append(s.Credentials, other.Credentials...)
}

// Apply upserts every seed row into the stores. Order matters: systems
// and projects land before the rows that reference them.
func (s *Seed) Apply(ctx context.Context, store catalog.Store, creds credential.Store) error {
	for _, sys := range s.Systems {
		fillID(&sys.ID)
		if err := store.SaveSystem(ctx, sys); err != nil {
			return fmt.Errorf("seeding system %q: %w", sys.Alias, err)
		}
	}
	for _, p := range s.Projects {
		fillID(&p.ID)
		if err := store.SaveProject(ctx, p); err != nil {
			return fmt.Errorf("seeding project %q: %w", p.Slug, err)
		}
	}
	for _, pi := range s.Integrations {
		fillID(&pi.ID)
		if err := store.SaveIntegration(ctx, pi); err != nil {
			return fmt.Errorf("seeding integration %s/%s: %w", pi.ProjectID, pi.SystemAlias, err)
		}
	}
	for _, c := range s.Categories {
		fillID(&c.ID)
		if err := store.SaveCategory(ctx, c); err != nil {
			return fmt.Errorf("seeding category %q: %w", c.Key, err)
		}
	}
	for _, m := range s.Mappings {
		fillID(&m.ID)
		if err := store.SaveMapping(ctx, m); err != nil {
			return fmt.Errorf("seeding mapping %q: %w", m.Pattern, err)
		}
	}
	for _, p := range s.Profiles {
		fillID(&p.ID)
		if err := store.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("seeding profile %q: %w", p.Name, err)
		}
	}
	for _, k := range s.APIKeys {
		fillID(&k.ID)
		if err := store.SaveKey(ctx, k); err != nil {
			return fmt.Errorf("seeding api key %q: %w", k.Name, err)
		}
	}
	for _, p := range s.AgentPolicies {
		fillID(&p.ID)
		if err := store.SaveAgentPolicy(ctx, p); err != nil {
			return fmt.Errorf("seeding agent policy for key %s: %w", p.APIKeyID, err)
		}
	}
	for _, p := range s.ProjectPolicies {
		fillID(&p.ID)
		if err := store.SaveProjectPolicy(ctx, p); err != nil {
			return fmt.Errorf("seeding project policy %q: %w", p.ProjectIdentifier, err)
		}
	}
	for _, p := range s.UserPolicies {
		fillID(&p.ID)
		if err := store.SaveUserPolicy(ctx, p); err != nil {
			return fmt.Errorf("seeding user policy for %s: %w", p.UserID, err)
		}
	}
	for _, p := range s.Packs {
		fillID(&p.ID)
		if err := store.SavePack(ctx, p); err != nil {
			return fmt.Errorf("seeding pack %q: %w", p.Alias, err)
		}
	}
	for _, t := range s.PackTools {
		fillID(&t.ID)
		if err := store.SavePackTool(ctx, t); err != nil {
			return fmt.Errorf("seeding pack tool %q: %w", t.Name, err)
		}
	}
	for _, c := range s.Credentials {
		fillID(&c.ID)
		if err := creds.Save(ctx, c); err != nil {
			return fmt.Errorf("seeding credential for %s: %w", c.SystemAlias, err)
		}
	}
	return nil
}

func fillID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
