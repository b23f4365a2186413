package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/actionbridge/actionbridge/internal/adapter/outbound/memory"
	"github.com/actionbridge/actionbridge/internal/domain/action"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
	"github.com/actionbridge/actionbridge/internal/port/outbound"
)

// fakeCaller records every request and replies from a scripted queue. The
// last scripted result repeats once the queue runs dry.
type fakeCaller struct {
	requests []outbound.Request
	results  []action.CallResult
}

func (f *fakeCaller) Call(_ context.Context, req outbound.Request) action.CallResult {
	f.requests = append(f.requests, req)
	if len(f.results) == 0 {
		return action.Ok(200, map[string]interface{}{})
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, _ catalog.AuthConfig, cred *credential.Credential) (string, time.Time, error) {
	f.calls++
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	expires := time.Now().Add(time.Hour)
	cred.OAuthAccessToken = f.token
	cred.OAuthExpiresAt = expires
	return f.token, expires, nil
}

func execTarget(auth catalog.AuthConfig, act *catalog.Action) ExecTarget {
	return ExecTarget{
		System: &catalog.System{
			ID:        "sys-1",
			AccountID: "acct-1",
			Alias:     "tracker",
		},
		Interface: &catalog.Interface{
			Alias:      "api",
			Type:       catalog.InterfaceAPI,
			BaseURL:    "https://tracker.example.com/rest",
			ParsedAuth: auth,
		},
		Action: act,
	}
}

func seedTokenCredential(t *testing.T, store *memory.CredentialStore, token string) {
	t.Helper()
	err := store.Save(context.Background(), &credential.Credential{
		ID:          "cred-1",
		AccountID:   "acct-1",
		SystemAlias: "tracker",
		Token:       token,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestExecuteSubstitutesPathAndShapesQuery(t *testing.T) {
	caller := &fakeCaller{results: []action.CallResult{
		action.Ok(200, map[string]interface{}{"id": "ISS-1"}),
	}}
	creds := memory.NewCredentialStore()
	seedTokenCredential(t, creds, "tok-123")
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthBearer}, &catalog.Action{
		Alias:  "get",
		Method: "GET",
		Path:   "/issues/{issue_id}",
	})
	env := exec.Execute(context.Background(), target, map[string]interface{}{
		"issue_id": "ISS-1",
		"expand":   "comments",
	})

	if env["success"] != true {
		t.Fatalf("envelope = %v, want success", env)
	}
	if len(caller.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(caller.requests))
	}
	req := caller.requests[0]
	if req.URL != "https://tracker.example.com/rest/issues/ISS-1" {
		t.Errorf("URL = %q", req.URL)
	}
	if req.Query["expand"] != "comments" {
		t.Errorf("query = %v", req.Query)
	}
	if _, leaked := req.Query["issue_id"]; leaked {
		t.Error("consumed path parameter leaked into query")
	}
	if req.Headers["Authorization"] != "Bearer tok-123" {
		t.Errorf("Authorization = %q", req.Headers["Authorization"])
	}
	if req.Timeout != outbound.SingleCallTimeout {
		t.Errorf("Timeout = %v", req.Timeout)
	}
}

func TestExecuteMissingPathParameter(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "get",
		Method: "GET",
		Path:   "/issues/{issue_id}",
	})
	env := exec.Execute(context.Background(), target, map[string]interface{}{})

	if env["success"] != false {
		t.Fatalf("envelope = %v, want failure", env)
	}
	if msg, _ := env["error"].(string); msg != "missing path parameter issue_id" {
		t.Errorf("error = %q", msg)
	}
	if len(caller.requests) != 0 {
		t.Error("upstream was called despite validation failure")
	}
}

func TestExecuteAutoInjectsExternalID(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/projects/{project_key}/issues",
	})
	target.ExternalID = "PROJ-7"
	env := exec.Execute(context.Background(), target, map[string]interface{}{})

	if env["success"] != true {
		t.Fatalf("envelope = %v, want success", env)
	}
	if got := caller.requests[0].URL; got != "https://tracker.example.com/rest/projects/PROJ-7/issues" {
		t.Errorf("URL = %q", got)
	}
}

func TestExecuteClientValueWinsOverExternalID(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/projects/{project_key}/issues",
	})
	target.ExternalID = "PROJ-7"
	exec.Execute(context.Background(), target, map[string]interface{}{"project_key": "OTHER"})

	if got := caller.requests[0].URL; got != "https://tracker.example.com/rest/projects/OTHER/issues" {
		t.Errorf("URL = %q", got)
	}
}

func TestExecuteWriterBodyAndStaticHeaders(t *testing.T) {
	caller := &fakeCaller{results: []action.CallResult{
		action.Ok(201, map[string]interface{}{"id": "ISS-2"}),
	}}
	creds := memory.NewCredentialStore()
	seedTokenCredential(t, creds, "tok-123")
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthBearer}, &catalog.Action{
		Alias:   "create",
		Method:  "POST",
		Path:    "/issues",
		Headers: map[string]string{"X-Atlassian-Token": "no-check"},
	})
	exec.Execute(context.Background(), target, map[string]interface{}{
		"data": map[string]interface{}{"summary": "broken build"},
	})

	req := caller.requests[0]
	if req.Body["summary"] != "broken build" {
		t.Errorf("body = %v", req.Body)
	}
	if req.Headers["X-Atlassian-Token"] != "no-check" {
		t.Errorf("static header missing: %v", req.Headers)
	}
}

func TestExecuteBaseURLOverride(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/issues",
	})
	target.System.Variables = map[string]string{"base_url": "https://mirror.example.com/"}
	exec.Execute(context.Background(), target, map[string]interface{}{})

	if got := caller.requests[0].URL; got != "https://mirror.example.com/issues" {
		t.Errorf("URL = %q", got)
	}
}

func TestExecuteMissingCredential(t *testing.T) {
	caller := &fakeCaller{}
	exec := NewExecutorService(caller, &fakeRefresher{}, memory.NewCredentialStore(), WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthBearer}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/issues",
	})
	env := exec.Execute(context.Background(), target, map[string]interface{}{})

	if env["success"] != false {
		t.Fatalf("envelope = %v, want failure", env)
	}
	if msg, _ := env["error"].(string); msg != `no credential configured for system "tracker"` {
		t.Errorf("error = %q", msg)
	}
}

func TestExecuteOAuthPasswordRefreshesExpiredToken(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	err := creds.Save(context.Background(), &credential.Credential{
		ID:               "cred-1",
		AccountID:        "acct-1",
		SystemAlias:      "tracker",
		Username:         "svc",
		Password:         "pw",
		OAuthAccessToken: "stale",
		OAuthExpiresAt:   time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	refresher := &fakeRefresher{token: "fresh"}
	exec := NewExecutorService(caller, refresher, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{
		Type:     catalog.AuthOAuth2Password,
		TokenURL: "https://id.example.com/token",
	}, &catalog.Action{Alias: "list", Method: "GET", Path: "/issues"})
	env := exec.Execute(context.Background(), target, map[string]interface{}{})

	if env["success"] != true {
		t.Fatalf("envelope = %v, want success", env)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}
	if got := caller.requests[0].Headers["Authorization"]; got != "Bearer fresh" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestExecuteOAuthRefreshFailure(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	err := creds.Save(context.Background(), &credential.Credential{
		ID:          "cred-1",
		AccountID:   "acct-1",
		SystemAlias: "tracker",
		Username:    "svc",
		Password:    "pw",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	refresher := &fakeRefresher{err: errors.New("token endpoint returned 401")}
	exec := NewExecutorService(caller, refresher, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{
		Type:     catalog.AuthOAuth2Password,
		TokenURL: "https://id.example.com/token",
	}, &catalog.Action{Alias: "list", Method: "GET", Path: "/issues"})
	env := exec.Execute(context.Background(), target, map[string]interface{}{})

	if env["success"] != false {
		t.Fatalf("envelope = %v, want failure", env)
	}
	if len(caller.requests) != 0 {
		t.Error("upstream was called without a usable token")
	}
}

func TestExecuteAPIKeyHeaderPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		custom     map[string]string
		cfgHeader  string
		wantHeader string
	}{
		{"custom_settings wins", map[string]string{"api_key_header": "X-Custom"}, "X-Auth", "X-Custom"},
		{"config header", nil, "X-Auth", "X-Auth"},
		{"default header", nil, "", "X-API-Key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{}
			creds := memory.NewCredentialStore()
			err := creds.Save(context.Background(), &credential.Credential{
				ID:             "cred-1",
				AccountID:      "acct-1",
				SystemAlias:    "tracker",
				APIKey:         "shh",
				CustomSettings: tt.custom,
			})
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

			target := execTarget(catalog.AuthConfig{
				Type:   catalog.AuthAPIKey,
				Header: tt.cfgHeader,
			}, &catalog.Action{Alias: "list", Method: "GET", Path: "/issues"})
			exec.Execute(context.Background(), target, map[string]interface{}{})

			if got := caller.requests[0].Headers[tt.wantHeader]; got != "shh" {
				t.Errorf("headers = %v, want %s=shh", caller.requests[0].Headers, tt.wantHeader)
			}
		})
	}
}

func TestExecuteSessionAuth(t *testing.T) {
	caller := &fakeCaller{}
	creds := memory.NewCredentialStore()
	err := creds.Save(context.Background(), &credential.Credential{
		ID:               "cred-1",
		AccountID:        "acct-1",
		SystemAlias:      "tracker",
		SessionCookie:    "JSESSIONID=abc",
		CSRFToken:        "csrf-1",
		SessionExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthSession}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/issues",
	})
	exec.Execute(context.Background(), target, map[string]interface{}{})

	req := caller.requests[0]
	if req.Headers["Cookie"] != "JSESSIONID=abc" || req.Headers["X-CSRF-Token"] != "csrf-1" {
		t.Errorf("headers = %v", req.Headers)
	}
}

func TestExecuteFetchAllPages(t *testing.T) {
	page := func(ids ...string) action.CallResult {
		items := make([]interface{}, len(ids))
		for i, id := range ids {
			items[i] = map[string]interface{}{"id": id}
		}
		return action.Ok(200, map[string]interface{}{"items": items})
	}
	caller := &fakeCaller{results: []action.CallResult{
		page("a", "b"),
		page("c"),
	}}
	creds := memory.NewCredentialStore()
	exec := NewExecutorService(caller, &fakeRefresher{}, creds, WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/issues",
		Pagination: map[string]interface{}{
			"default_size": 2,
			"max_size":     2,
		},
	})
	env := exec.Execute(context.Background(), target, map[string]interface{}{
		"fetch_all_pages": true,
		"status":          "open",
	})

	if env["success"] != true {
		t.Fatalf("envelope = %v, want success", env)
	}
	data, _ := env["data"].([]interface{})
	if len(data) != 3 {
		t.Fatalf("items = %d, want 3", len(data))
	}
	meta, _ := env["pagination"].(map[string]interface{})
	if meta["pages_fetched"] != 2 {
		t.Errorf("pagination = %v", meta)
	}
	for i, req := range caller.requests {
		if req.Query["status"] != "open" {
			t.Errorf("page %d lost base query: %v", i, req.Query)
		}
		if req.Timeout != outbound.PageCallTimeout {
			t.Errorf("page %d timeout = %v", i, req.Timeout)
		}
	}
	if caller.requests[0].Query["page"] != "1" || caller.requests[1].Query["page"] != "2" {
		t.Errorf("page params = %v, %v", caller.requests[0].Query, caller.requests[1].Query)
	}
}

func TestExecuteFetchAllIgnoredWithoutPagination(t *testing.T) {
	caller := &fakeCaller{}
	exec := NewExecutorService(caller, &fakeRefresher{}, memory.NewCredentialStore(), WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "list",
		Method: "GET",
		Path:   "/issues",
	})
	exec.Execute(context.Background(), target, map[string]interface{}{"fetch_all_pages": true})

	if len(caller.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(caller.requests))
	}
	if _, leaked := caller.requests[0].Query["fetch_all_pages"]; leaked {
		t.Error("fetch_all_pages leaked into query")
	}
}

func TestRollback(t *testing.T) {
	caller := &fakeCaller{results: []action.CallResult{action.Ok(204, nil)}}
	exec := NewExecutorService(caller, &fakeRefresher{}, memory.NewCredentialStore(), WithExecutorLogger(testLogger()))

	target := execTarget(catalog.AuthConfig{Type: catalog.AuthNone}, &catalog.Action{
		Alias:  "create",
		Method: "POST",
		Path:   "/issues",
	})

	env, executed := exec.Rollback(context.Background(), target, map[string]interface{}{
		"method": "DELETE",
		"path":   "/issues/ISS-2",
	})
	if !executed {
		t.Fatal("rollback was not executed")
	}
	if env["success"] != true {
		t.Fatalf("envelope = %v", env)
	}
	req := caller.requests[0]
	if req.Method != "DELETE" || req.URL != "https://tracker.example.com/rest/issues/ISS-2" {
		t.Errorf("request = %s %s", req.Method, req.URL)
	}

	if _, executed := exec.Rollback(context.Background(), target, map[string]interface{}{
		"note": "manual cleanup required",
	}); executed {
		t.Error("descriptive payload should not dispatch")
	}
}
