package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/actionbridge/actionbridge/internal/adapter/outbound/memory"
)

const seedYAML = `
systems:
  - account_id: acct-1
    alias: crm
    name: Acme CRM
    enabled: true
    interfaces:
      - alias: api
        type: API
        base_url: https://crm.example.com/v2
        auth:
          type: api_key
          header: X-Token
        resources:
          - alias: contacts
            actions:
              - alias: list
                method: GET
                path: /contacts
                is_mcp_enabled: true
projects:
  - id: proj-1
    account_id: acct-1
    slug: apollo
categories:
  - account_id: acct-1
    key: crm_read
    risk_level: low
mappings:
  - account_id: acct-1
    pattern: "crm_*_list"
    category: crm_read
api_keys:
  - id: key-1
    account_id: acct-1
    name: ci key
    key_prefix: ak_live_ab
    key_hash: 0000000000000000000000000000000000000000000000000000000000000000
    mode: safe
credentials:
  - account_id: acct-1
    system_alias: crm
    api_key: secret-value
`

func TestLoadSeedFileAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile: %v", err)
	}
	if seed.Empty() {
		t.Fatal("seed parsed empty")
	}

	ctx := context.Background()
	store := memory.NewCatalogStore()
	creds := memory.NewCredentialStore()
	if err := seed.Apply(ctx, store, creds); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	sys, err := store.GetSystem(ctx, "acct-1", "crm")
	if err != nil {
		t.Fatalf("GetSystem: %v", err)
	}
	if sys.ID == "" {
		t.Error("system id was not generated")
	}
	if len(sys.Interfaces) != 1 || len(sys.Interfaces[0].Resources) != 1 {
		t.Fatalf("system tree = %+v", sys)
	}
	if !sys.Interfaces[0].Resources[0].Actions[0].MCPEnabled {
		t.Error("is_mcp_enabled did not round-trip")
	}

	if _, err := store.GetProject(ctx, "acct-1", "apollo"); err != nil {
		t.Errorf("GetProject: %v", err)
	}
	if _, err := store.GetKeyByPrefix(ctx, "ak_live_ab"); err != nil {
		t.Errorf("GetKeyByPrefix: %v", err)
	}

	cred, err := creds.Get(ctx, "acct-1", "crm", nil)
	if err != nil {
		t.Fatalf("credential Get: %v", err)
	}
	if cred.APIKey != "secret-value" {
		t.Errorf("credential api_key = %q", cred.APIKey)
	}

	cats, err := store.ListCategories(ctx, "acct-1")
	if err != nil || len(cats) != 1 {
		t.Errorf("ListCategories = %v, %v", cats, err)
	}
	maps, err := store.ListMappings(ctx, "acct-1")
	if err != nil || len(maps) != 1 {
		t.Errorf("ListMappings = %v, %v", maps, err)
	}
}

func TestLoadSeedFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actionbridge.yaml")
	content := "server:\n  addr: \"127.0.0.1:8080\"\nseed:\n  projects:\n    - account_id: acct-1\n      slug: inline\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	seed, err := LoadSeedFromConfigFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFromConfigFile: %v", err)
	}
	if seed == nil || len(seed.Projects) != 1 || seed.Projects[0].Slug != "inline" {
		t.Fatalf("seed = %+v", seed)
	}

	none, err := LoadSeedFromConfigFile("")
	if err != nil || none != nil {
		t.Errorf("empty path = %+v, %v", none, err)
	}
}
