package catalog

import (
	"testing"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"*", "anything_at_all", true},
		{"*_list", "sf_contact_list", true},
		{"*_list", "sf_contact_create", false},
		{"salesforce_*", "salesforce_contact_list", true},
		{"salesforce_*", "jira_issue_list", false},
		{"jira_issue_get", "jira_issue_get", true},
		{"[", "bracket", false}, // malformed pattern never matches
	}

	for _, tt := range tests {
		if got := GlobMatch(tt.pattern, tt.name); got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestAgentProfileIsToolAllowed(t *testing.T) {
	tests := []struct {
		name       string
		profile    AgentProfile
		tool       string
		categories []string
		want       bool
	}{
		{
			name:    "exclude wins over include",
			profile: AgentProfile{ExcludeTools: []string{"*_delete"}, IncludeTools: []string{"sf_*"}},
			tool:    "sf_contact_delete",
			want:    false,
		},
		{
			name:    "include bypasses category check",
			profile: AgentProfile{IncludeTools: []string{"sf_*"}, AllowedCategories: []string{"crm.read"}},
			tool:    "sf_contact_create",
			want:    true,
		},
		{
			name:    "empty category set means unrestricted",
			profile: AgentProfile{},
			tool:    "anything",
			want:    true,
		},
		{
			name:       "category intersection allows",
			profile:    AgentProfile{AllowedCategories: []string{"crm.read", "crm.write"}},
			tool:       "sf_contact_list",
			categories: []string{"crm.read"},
			want:       true,
		},
		{
			name:       "disjoint categories deny",
			profile:    AgentProfile{AllowedCategories: []string{"crm.read"}},
			tool:       "jira_issue_create",
			categories: []string{"tracker.write"},
			want:       false,
		},
		{
			name:    "uncategorized tool denied under restriction",
			profile: AgentProfile{AllowedCategories: []string{"crm.read"}},
			tool:    "mystery_tool",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.profile.IsToolAllowed(tt.tool, tt.categories); got != tt.want {
				t.Errorf("IsToolAllowed(%q, %v) = %v, want %v", tt.tool, tt.categories, got, tt.want)
			}
		})
	}
}

func TestSystemValidate(t *testing.T) {
	valid := func() *System {
		return &System{
			AccountID: "acc-1",
			Alias:     "jira",
			Enabled:   true,
			Interfaces: []Interface{
				{
					Alias:   "rest",
					Type:    InterfaceAPI,
					BaseURL: "https://example.atlassian.net",
					Resources: []Resource{
						{
							Alias: "issues",
							Actions: []Action{
								{Alias: "list", Method: "GET", Path: "/rest/api/3/search", MCPEnabled: true},
								{Alias: "create", Method: "POST", Path: "/rest/api/3/issue", MCPEnabled: true},
							},
						},
					},
				},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*System)
		wantErr bool
	}{
		{name: "valid tree", mutate: func(s *System) {}},
		{name: "missing account", mutate: func(s *System) { s.AccountID = "" }, wantErr: true},
		{name: "bad alias", mutate: func(s *System) { s.Alias = "has spaces" }, wantErr: true},
		{name: "bad interface type", mutate: func(s *System) { s.Interfaces[0].Type = "SOAP" }, wantErr: true},
		{name: "missing base url", mutate: func(s *System) { s.Interfaces[0].BaseURL = "" }, wantErr: true},
		{
			name: "duplicate action alias",
			mutate: func(s *System) {
				r := &s.Interfaces[0].Resources[0]
				r.Actions = append(r.Actions, Action{Alias: "list", Method: "GET", Path: "/x"})
			},
			wantErr: true,
		},
		{
			name:    "unsupported method",
			mutate:  func(s *System) { s.Interfaces[0].Resources[0].Actions[0].Method = "TRACE" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSystemDigestStable(t *testing.T) {
	s := &System{AccountID: "acc-1", Alias: "jira", Enabled: true}

	d1 := s.Digest()
	d2 := s.Digest()
	if d1 == "" || d1 != d2 {
		t.Errorf("Digest() not stable: %q vs %q", d1, d2)
	}
	if len(d1) != 64 {
		t.Errorf("Digest() length = %d, want 64 hex chars", len(d1))
	}

	// Digest ignores the stored digest itself.
	s.SchemaDigest = d1
	if got := s.Digest(); got != d1 {
		t.Errorf("Digest() after stamping = %q, want %q", got, d1)
	}

	// Any content change moves the digest.
	s.Name = "Jira Cloud"
	if got := s.Digest(); got == d1 {
		t.Error("Digest() unchanged after content change")
	}
}

func TestActionIsReader(t *testing.T) {
	for _, tt := range []struct {
		method string
		want   bool
	}{
		{"GET", true}, {"HEAD", true}, {"OPTIONS", true},
		{"POST", false}, {"PUT", false}, {"PATCH", false}, {"DELETE", false},
	} {
		a := &Action{Method: tt.method}
		if got := a.IsReader(); got != tt.want {
			t.Errorf("IsReader(%s) = %v, want %v", tt.method, got, tt.want)
		}
	}
}
