package tool

import (
	"regexp"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already clean", "salesforce_contact_list", "salesforce_contact_list"},
		{"uppercase", "Salesforce_Contact_List", "salesforce_contact_list"},
		{"spaces and dashes", "jira issue-tracker get", "jira_issue_tracker_get"},
		{"collapses runs", "a--b__c", "a_b_c"},
		{"trims edges", "_internal_", "internal"},
		{"unicode replaced", "café_crm", "caf_crm"},
		{"dots", "api.v2.list", "api_v2_list"},
		{"empty", "", ""},
		{"only separators", "--__--", ""},
	}

	valid := regexp.MustCompile(`^[a-z0-9_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeName(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !valid.MatchString(got) {
				t.Errorf("SanitizeName(%q) = %q violates ^[a-z0-9_]*$", tt.input, got)
			}
		})
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{"Salesforce CRM", "a--b", "jira.issue.GET", "x"}
	for _, in := range inputs {
		once := SanitizeName(in)
		twice := SanitizeName(once)
		if once != twice {
			t.Errorf("SanitizeName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNameTemplates(t *testing.T) {
	if got := SystemToolName("Salesforce", "Contacts", "List All"); got != "salesforce_contacts_list_all" {
		t.Errorf("SystemToolName = %q", got)
	}
	if got := BusinessToolName("sales-ops", "create lead"); got != "sales_ops_create_lead" {
		t.Errorf("BusinessToolName = %q", got)
	}
}

func TestTypeClassification(t *testing.T) {
	if !TypeSystemWrite.IsWrite() {
		t.Error("system_write must require power mode")
	}
	for _, typ := range []Type{TypeSystemRead, TypeContext, TypeResource} {
		if typ.IsWrite() {
			t.Errorf("%s must not require power mode", typ)
		}
	}
	if Type("prompt").IsValid() {
		t.Error("unknown tool type must be invalid")
	}
}
