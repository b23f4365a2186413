// Package permission decides whether a caller may see or invoke a tool.
// It layers explicit block patterns, agent profiles, category overrides and
// the layered category resolver on top of the safe/power mode gate.
package permission

import (
	"context"
	"fmt"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/category"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// Request carries everything the checker needs for one decision.
type Request struct {
	// Name is the sanitized tool name.
	Name string
	// Type is the tool's side-effect class.
	Type tool.Type
	// Mode is the caller's resolved mode (safe or power).
	Mode catalog.Mode
	// AllowedPatterns gate write tools in power mode; empty means all.
	AllowedPatterns []string
	// BlockedPatterns deny unconditionally.
	BlockedPatterns []string
	// Profile, when non-nil and active, replaces the resolver's categorical
	// check with the profile's exclude/include/category rules.
	Profile *catalog.AgentProfile
	// CategoryOverride, when non-nil, is an explicit allowed-category list
	// (used by live policy editing). Distinguish nil (unset) from empty.
	CategoryOverride []string
	// Resolver computes the layered effective category set. May be nil when
	// a profile or override is supplied.
	Resolver *category.Resolver
}

// Decision is the outcome of a permission check. Reason is user-facing.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }
func allow() Decision             { return Decision{Allowed: true, Reason: "allowed"} }
func allowAs(why string) Decision { return Decision{Allowed: true, Reason: why} }

// Check evaluates one tool against the caller's permission layers.
// The categorical layers run first (block patterns, profile, override,
// resolver), then the mode gate for write tools.
func Check(ctx context.Context, req Request) (Decision, error) {
	if catalog.MatchAny(req.BlockedPatterns, req.Name) {
		return deny(fmt.Sprintf("Tool %q is explicitly blocked for this API key", req.Name)), nil
	}

	categorical, err := categoricalCheck(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if !categorical.Allowed {
		return categorical, nil
	}

	switch req.Type {
	case tool.TypeResource, tool.TypeSystemRead, tool.TypeContext:
		return allow(), nil

	case tool.TypeSystemWrite:
		if req.Mode != catalog.ModePower {
			return deny(fmt.Sprintf("Tool %q performs writes and requires Power mode; this session runs in safe mode", req.Name)), nil
		}
		if len(req.AllowedPatterns) > 0 && !catalog.MatchAny(req.AllowedPatterns, req.Name) {
			return deny(fmt.Sprintf("Tool %q does not match any allowed-tool pattern for this API key", req.Name)), nil
		}
		return allowAs("allowed in Power mode"), nil

	default:
		return deny(fmt.Sprintf("Unknown tool type %q", req.Type)), nil
	}
}

// categoricalCheck applies, in priority order: agent profile, explicit
// category override, layered resolver. Exactly one layer decides.
func categoricalCheck(ctx context.Context, req Request) (Decision, error) {
	categories, err := classify(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	if req.Profile != nil {
		if req.Profile.IsToolAllowed(req.Name, categories) {
			return allow(), nil
		}
		return deny(fmt.Sprintf("Tool %q is not permitted by agent profile %q", req.Name, req.Profile.Name)), nil
	}

	if req.CategoryOverride != nil {
		if len(categories) == 0 {
			return deny(fmt.Sprintf("Tool %q is uncategorized and the caller's categories are restricted", req.Name)), nil
		}
		if len(req.CategoryOverride) == 0 {
			return allow(), nil
		}
		for _, c := range categories {
			for _, o := range req.CategoryOverride {
				if c == o {
					return allow(), nil
				}
			}
		}
		return deny(fmt.Sprintf("Tool %q categories do not intersect the allowed set", req.Name)), nil
	}

	if req.Resolver != nil {
		res, err := req.Resolver.Resolve(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("resolve categories: %w", err)
		}
		if !res.Allowed(categories) {
			if len(categories) == 0 {
				return deny(fmt.Sprintf("Tool %q is uncategorized and category policies restrict this caller", req.Name)), nil
			}
			return deny(fmt.Sprintf("Tool %q categories are outside the caller's effective category set", req.Name)), nil
		}
	}

	return allow(), nil
}

// classify fetches the tool's categories via the resolver when one is
// available. Profiles and overrides still need the category list, so the
// resolver doubles as the classification source.
func classify(ctx context.Context, req Request) ([]string, error) {
	if req.Resolver == nil {
		return nil, nil
	}
	cats, err := req.Resolver.Classify(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("classify tool: %w", err)
	}
	return cats, nil
}
