// Package category computes effective tool-category permissions by
// intersecting the agent, project and user policy layers, and classifies
// tools into categories via glob pattern mappings.
package category

import (
	"context"
	"errors"
	"fmt"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// Store is the slice of the catalog the resolver reads.
type Store interface {
	GetAgentPolicy(ctx context.Context, accountID, apiKeyID string) (*catalog.AgentPolicy, error)
	ListProjectPolicies(ctx context.Context, accountID string) ([]*catalog.ProjectPolicy, error)
	GetUserPolicy(ctx context.Context, accountID, userID string) (*catalog.UserPolicy, error)
	ListMappings(ctx context.Context, accountID string) ([]*catalog.CategoryMapping, error)
}

// Input identifies the caller whose layers are intersected.
type Input struct {
	AccountID string
	// APIKeyID selects the agent policy layer; empty skips it.
	APIKeyID string
	// ProjectIdentifier is matched against project policies (exact first,
	// then glob); empty skips the project layer.
	ProjectIdentifier string
	// UserID selects the user policy layer; empty skips it.
	UserID string
}

// Resolution is the outcome of intersecting the policy layers.
// Effective == nil means no restriction: every tool passes the categorical
// check. A non-nil (possibly empty) set restricts.
type Resolution struct {
	Effective map[string]struct{}
	Agent     []string
	Project   []string
	User      []string
	Restricted bool
}

// Allowed reports whether a tool with the given categories passes the
// categorical check. Uncategorized tools fail whenever restricted.
func (r *Resolution) Allowed(categories []string) bool {
	if r.Effective == nil {
		return true
	}
	if len(categories) == 0 {
		return false
	}
	for _, c := range categories {
		if _, ok := r.Effective[c]; ok {
			return true
		}
	}
	return false
}

// Resolver computes and memoizes one caller's resolution. Instances are
// request-scoped and discarded; only the classification Cache is shared.
type Resolver struct {
	store Store
	cache *Cache
	in    Input

	mappings       []*catalog.CategoryMapping
	mappingsLoaded bool
	resolution     *Resolution
}

// NewResolver creates a request-scoped resolver. cache may be nil.
func NewResolver(store Store, cache *Cache, in Input) *Resolver {
	return &Resolver{store: store, cache: cache, in: in}
}

// Resolve computes the effective category set. Layers combine by set
// intersection; an absent or empty layer contributes nothing.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	if r.resolution != nil {
		return r.resolution, nil
	}

	res := &Resolution{}

	if r.in.APIKeyID != "" {
		p, err := r.store.GetAgentPolicy(ctx, r.in.AccountID, r.in.APIKeyID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("load agent policy: %w", err)
		}
		if p != nil {
			res.Agent = p.AllowedCategories
		}
	}

	if r.in.ProjectIdentifier != "" {
		match, err := r.matchProjectPolicy(ctx)
		if err != nil {
			return nil, err
		}
		if match != nil {
			res.Project = match.AllowedCategories
		}
	}

	if r.in.UserID != "" {
		p, err := r.store.GetUserPolicy(ctx, r.in.AccountID, r.in.UserID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("load user policy: %w", err)
		}
		if p != nil {
			res.User = p.AllowedCategories
		}
	}

	var effective map[string]struct{}
	for _, layer := range [][]string{res.Agent, res.Project, res.User} {
		if len(layer) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(layer))
		for _, c := range layer {
			set[c] = struct{}{}
		}
		if effective == nil {
			effective = set
			continue
		}
		for c := range effective {
			if _, ok := set[c]; !ok {
				delete(effective, c)
			}
		}
	}

	res.Effective = effective
	res.Restricted = effective != nil
	r.resolution = res
	return res, nil
}

// matchProjectPolicy finds the policy for the caller's project identifier:
// exact match first, then the first glob match among active policies.
func (r *Resolver) matchProjectPolicy(ctx context.Context) (*catalog.ProjectPolicy, error) {
	policies, err := r.store.ListProjectPolicies(ctx, r.in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load project policies: %w", err)
	}

	for _, p := range policies {
		if p.Active && p.ProjectIdentifier == r.in.ProjectIdentifier {
			return p, nil
		}
	}
	for _, p := range policies {
		if p.Active && catalog.GlobMatch(p.ProjectIdentifier, r.in.ProjectIdentifier) {
			return p, nil
		}
	}
	return nil, nil
}

// Classify returns the deduplicated categories whose mapping patterns match
// the tool name. Results are served from the shared cache when present.
func (r *Resolver) Classify(ctx context.Context, toolName string) ([]string, error) {
	var key uint64
	if r.cache != nil {
		key = Key(r.in.AccountID, toolName)
		if cats, ok := r.cache.Get(key); ok {
			return cats, nil
		}
	}

	if !r.mappingsLoaded {
		mappings, err := r.store.ListMappings(ctx, r.in.AccountID)
		if err != nil {
			return nil, fmt.Errorf("load category mappings: %w", err)
		}
		r.mappings = mappings
		r.mappingsLoaded = true
	}

	var categories []string
	seen := make(map[string]struct{})
	for _, m := range r.mappings {
		if !catalog.GlobMatch(m.Pattern, toolName) {
			continue
		}
		if _, dup := seen[m.CategoryKey]; dup {
			continue
		}
		seen[m.CategoryKey] = struct{}{}
		categories = append(categories, m.CategoryKey)
	}

	if r.cache != nil {
		r.cache.Put(key, categories)
	}
	return categories, nil
}

// ToolAllowed applies the categorical check to one tool name.
func (r *Resolver) ToolAllowed(ctx context.Context, toolName string) (bool, error) {
	res, err := r.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if res.Effective == nil {
		return true, nil
	}
	categories, err := r.Classify(ctx, toolName)
	if err != nil {
		return false, err
	}
	return res.Allowed(categories), nil
}
