package category

import (
	"context"
	"testing"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// fakeStore serves policies and mappings from struct fields and counts
// mapping loads so caching behavior is observable.
type fakeStore struct {
	agent           *catalog.AgentPolicy
	projectPolicies []*catalog.ProjectPolicy
	user            *catalog.UserPolicy
	mappings        []*catalog.CategoryMapping
	mappingLoads    int
}

func (s *fakeStore) GetAgentPolicy(_ context.Context, _, apiKeyID string) (*catalog.AgentPolicy, error) {
	if s.agent == nil || s.agent.APIKeyID != apiKeyID {
		return nil, catalog.ErrNotFound
	}
	return s.agent, nil
}

func (s *fakeStore) ListProjectPolicies(_ context.Context, _ string) ([]*catalog.ProjectPolicy, error) {
	return s.projectPolicies, nil
}

func (s *fakeStore) GetUserPolicy(_ context.Context, _, userID string) (*catalog.UserPolicy, error) {
	if s.user == nil || s.user.UserID != userID {
		return nil, catalog.ErrNotFound
	}
	return s.user, nil
}

func (s *fakeStore) ListMappings(_ context.Context, _ string) ([]*catalog.CategoryMapping, error) {
	s.mappingLoads++
	return s.mappings, nil
}

func mapping(pattern, key string) *catalog.CategoryMapping {
	return &catalog.CategoryMapping{AccountID: "acct-1", Pattern: pattern, CategoryKey: key}
}

func TestResolveIntersectsLayers(t *testing.T) {
	tests := []struct {
		name      string
		store     *fakeStore
		in        Input
		effective []string
		open      bool
	}{
		{
			name:  "no layers means unrestricted",
			store: &fakeStore{},
			in:    Input{AccountID: "acct-1", APIKeyID: "key-1"},
			open:  true,
		},
		{
			name: "single agent layer",
			store: &fakeStore{
				agent: &catalog.AgentPolicy{APIKeyID: "key-1", AllowedCategories: []string{"read", "write"}},
			},
			in:        Input{AccountID: "acct-1", APIKeyID: "key-1"},
			effective: []string{"read", "write"},
		},
		{
			name: "agent and project intersect",
			store: &fakeStore{
				agent: &catalog.AgentPolicy{APIKeyID: "key-1", AllowedCategories: []string{"read", "write"}},
				projectPolicies: []*catalog.ProjectPolicy{
					{ProjectIdentifier: "PROJ-123", AllowedCategories: []string{"read"}, Active: true},
				},
			},
			in:        Input{AccountID: "acct-1", APIKeyID: "key-1", ProjectIdentifier: "PROJ-123"},
			effective: []string{"read"},
		},
		{
			name: "disjoint layers yield the empty set",
			store: &fakeStore{
				agent: &catalog.AgentPolicy{APIKeyID: "key-1", AllowedCategories: []string{"write"}},
				projectPolicies: []*catalog.ProjectPolicy{
					{ProjectIdentifier: "PROJ-123", AllowedCategories: []string{"read"}, Active: true},
				},
			},
			in:        Input{AccountID: "acct-1", APIKeyID: "key-1", ProjectIdentifier: "PROJ-123"},
			effective: []string{},
		},
		{
			name: "inactive project policy is skipped",
			store: &fakeStore{
				projectPolicies: []*catalog.ProjectPolicy{
					{ProjectIdentifier: "PROJ-123", AllowedCategories: []string{"read"}, Active: false},
				},
			},
			in:   Input{AccountID: "acct-1", ProjectIdentifier: "PROJ-123"},
			open: true,
		},
		{
			name: "three layers",
			store: &fakeStore{
				agent: &catalog.AgentPolicy{APIKeyID: "key-1", AllowedCategories: []string{"read", "write", "admin"}},
				projectPolicies: []*catalog.ProjectPolicy{
					{ProjectIdentifier: "PROJ-*", AllowedCategories: []string{"read", "admin"}, Active: true},
				},
				user: &catalog.UserPolicy{UserID: "u-1", AllowedCategories: []string{"read"}},
			},
			in:        Input{AccountID: "acct-1", APIKeyID: "key-1", ProjectIdentifier: "PROJ-9", UserID: "u-1"},
			effective: []string{"read"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewResolver(tt.store, nil, tt.in).Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if tt.open {
				if res.Effective != nil {
					t.Fatalf("Effective = %v, want nil (unrestricted)", res.Effective)
				}
				return
			}
			if res.Effective == nil {
				t.Fatal("Effective = nil, want a restriction")
			}
			if len(res.Effective) != len(tt.effective) {
				t.Fatalf("Effective = %v, want %v", res.Effective, tt.effective)
			}
			for _, c := range tt.effective {
				if _, ok := res.Effective[c]; !ok {
					t.Errorf("missing category %q", c)
				}
			}
		})
	}
}

func TestProjectPolicyExactBeatsGlob(t *testing.T) {
	store := &fakeStore{
		projectPolicies: []*catalog.ProjectPolicy{
			{ProjectIdentifier: "PROJ-*", AllowedCategories: []string{"wide"}, Active: true},
			{ProjectIdentifier: "PROJ-123", AllowedCategories: []string{"narrow"}, Active: true},
		},
	}
	res, err := NewResolver(store, nil, Input{AccountID: "acct-1", ProjectIdentifier: "PROJ-123"}).Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := res.Effective["narrow"]; !ok {
		t.Errorf("Effective = %v, want the exact-match policy", res.Effective)
	}
}

func TestAllowed(t *testing.T) {
	restricted := &Resolution{Effective: map[string]struct{}{"read": {}}}
	if !restricted.Allowed([]string{"read", "write"}) {
		t.Error("overlapping categories denied")
	}
	if restricted.Allowed([]string{"write"}) {
		t.Error("disjoint categories allowed")
	}
	if restricted.Allowed(nil) {
		t.Error("uncategorized tool allowed under restriction")
	}

	open := &Resolution{}
	if !open.Allowed(nil) {
		t.Error("uncategorized tool denied without restriction")
	}
}

func TestClassifyDeduplicatesAndCaches(t *testing.T) {
	store := &fakeStore{
		mappings: []*catalog.CategoryMapping{
			mapping("sf_*", "crm"),
			mapping("*_list", "read"),
			mapping("sf_contact_*", "crm"),
		},
	}
	cache := NewCache(16)
	r := NewResolver(store, cache, Input{AccountID: "acct-1"})

	cats, err := r.Classify(context.Background(), "sf_contact_list")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(cats) != 2 || cats[0] != "crm" || cats[1] != "read" {
		t.Errorf("categories = %v, want [crm read]", cats)
	}

	// A second resolver hits the shared cache without reloading mappings.
	r2 := NewResolver(store, cache, Input{AccountID: "acct-1"})
	if _, err := r2.Classify(context.Background(), "sf_contact_list"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if store.mappingLoads != 1 {
		t.Errorf("mapping loads = %d, want 1", store.mappingLoads)
	}
}

func TestToolAllowed(t *testing.T) {
	store := &fakeStore{
		agent:    &catalog.AgentPolicy{APIKeyID: "key-1", AllowedCategories: []string{"read"}},
		mappings: []*catalog.CategoryMapping{mapping("*_list", "read"), mapping("*_create", "write")},
	}
	r := NewResolver(store, nil, Input{AccountID: "acct-1", APIKeyID: "key-1"})
	ctx := context.Background()

	if ok, err := r.ToolAllowed(ctx, "sf_contact_list"); err != nil || !ok {
		t.Errorf("list allowed = %v (%v), want true", ok, err)
	}
	if ok, err := r.ToolAllowed(ctx, "sf_contact_create"); err != nil || ok {
		t.Errorf("create allowed = %v (%v), want false", ok, err)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Put(Key("acct-1", "a"), []string{"one"})
	c.Put(Key("acct-1", "b"), []string{"two"})

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get(Key("acct-1", "a")); !ok {
		t.Fatal("a missing before eviction")
	}
	c.Put(Key("acct-1", "c"), []string{"three"})

	if _, ok := c.Get(Key("acct-1", "b")); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get(Key("acct-1", "a")); !ok {
		t.Error("recently used entry evicted")
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("size after clear = %d", c.Size())
	}
}
