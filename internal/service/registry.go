package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/actionbridge/actionbridge/internal/domain/action"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/permission"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// Registry is the materialized tool set of one (account, project) pair.
// Immutable after construction; the service caches and evicts whole
// registries.
type Registry struct {
	accountID string
	projectID string
	tools     map[string]tool.Tool
	order     []string
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (tool.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of materialized tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// List returns the descriptors the caller may see, applying the permission
// checker to every tool in materialization order. The request's Name and
// Type fields are filled per tool; the remaining fields carry the caller's
// permission layers.
func (r *Registry) List(ctx context.Context, req permission.Request) ([]tool.Descriptor, error) {
	out := make([]tool.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name].Descriptor()
		check := req
		check.Name = d.Name
		check.Type = d.Type
		decision, err := permission.Check(ctx, check)
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			out = append(out, d)
		}
	}
	return out, nil
}

// RegistryService materializes and caches tool registries per
// (account, project). Catalog writes evict every registry of the affected
// account.
type RegistryService struct {
	store    catalog.Store
	executor *ExecutorService
	audits   *AuditService
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Registry
}

// RegistryOption configures RegistryService.
type RegistryOption func(*RegistryService)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(s *RegistryService) {
		s.logger = logger
	}
}

// NewRegistryService creates a registry service and subscribes to catalog
// change notifications for cache eviction.
func NewRegistryService(store catalog.Store, executor *ExecutorService, audits *AuditService, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{
		store:    store,
		executor: executor,
		audits:   audits,
		logger:   slog.Default(),
		cache:    make(map[string]*Registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	store.OnChange(s.evictAccount)
	return s
}

func cacheKey(accountID, projectID string) string {
	return accountID + "\x00" + projectID
}

// Materialize returns the registry for (account, project), building it on
// first use. projectID may be empty for unbound keys.
func (s *RegistryService) Materialize(ctx context.Context, accountID, projectID string) (*Registry, error) {
	key := cacheKey(accountID, projectID)

	s.mu.RLock()
	reg, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return reg, nil
	}

	reg, err := s.build(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cache[key]; ok {
		return existing, nil
	}
	s.cache[key] = reg
	s.logger.Info("registry materialized",
		"account_id", accountID, "project_id", projectID, "tools", reg.Len())
	return reg, nil
}

// evictAccount drops every cached registry of an account. Registered as
// the catalog change listener.
func (s *RegistryService) evictAccount(accountID string) {
	prefix := accountID + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.cache, key)
		}
	}
}

// CacheSize returns the number of cached registries, for health reporting.
func (s *RegistryService) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// build materializes the system, business and audit tool families. Context
// tools are session-local and owned by the server core, not the registry.
func (s *RegistryService) build(ctx context.Context, accountID, projectID string) (*Registry, error) {
	reg := &Registry{
		accountID: accountID,
		projectID: projectID,
		tools:     make(map[string]tool.Tool),
	}

	var (
		project      *catalog.Project
		integrations map[string]*catalog.ProjectIntegration
	)
	if projectID != "" {
		var err error
		project, err = s.store.GetProjectByID(ctx, accountID, projectID)
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", projectID, err)
		}
		list, err := s.store.ListIntegrations(ctx, accountID, projectID)
		if err != nil {
			return nil, fmt.Errorf("load integrations: %w", err)
		}
		integrations = make(map[string]*catalog.ProjectIntegration, len(list))
		for _, pi := range list {
			integrations[pi.SystemAlias] = pi
		}
	}

	refs, err := s.store.ListActions(ctx, accountID, "")
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	index := make(map[string]catalog.ActionRef, len(refs))

	for _, ref := range refs {
		index[actionKey(ref.System.Alias, ref.Resource.Alias, ref.Action.Alias)] = ref

		name := tool.SystemToolName(ref.System.Alias, ref.Resource.Alias, ref.Action.Alias)
		integ := integrations[ref.System.Alias]
		if integ != nil {
			if !integ.Enabled {
				continue
			}
			if len(integ.AllowedActions) > 0 && !containsString(integ.AllowedActions, name) {
				continue
			}
		}

		target := buildTarget(ref, project, integ)
		st, err := newSystemTool(name, ref, target, s.executor)
		if err != nil {
			s.logger.Warn("skipping tool with invalid schema",
				"tool", name, "error", err)
			continue
		}
		reg.add(name, st)
	}

	if err := s.buildBusinessTools(ctx, reg, index, project, integrations); err != nil {
		return nil, err
	}

	for _, at := range s.buildAuditTools(accountID, projectID) {
		reg.add(at.Descriptor().Name, at)
	}

	return reg, nil
}

func (r *Registry) add(name string, t tool.Tool) {
	if _, dup := r.tools[name]; dup {
		return
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

func actionKey(system, resource, act string) string {
	return system + "\x00" + resource + "\x00" + act
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// buildTarget resolves the execution context of one action: external id for
// auto-injection and the credential scope.
func buildTarget(ref catalog.ActionRef, project *catalog.Project, integ *catalog.ProjectIntegration) ExecTarget {
	target := ExecTarget{
		System:    ref.System,
		Interface: ref.Interface,
		Action:    ref.Action,
	}
	if project != nil {
		id := project.ID
		target.ProjectID = &id
		target.ExternalID = project.ExternalMappings[ref.System.Alias]
	}
	if integ != nil {
		if integ.ExternalID != "" {
			target.ExternalID = integ.ExternalID
		}
		target.ProjectScoped = integ.CredentialSource == catalog.CredentialProject
	}
	return target
}

// buildBusinessTools materializes the enabled capability-pack tools, each
// wrapping a referenced system action.
func (s *RegistryService) buildBusinessTools(ctx context.Context, reg *Registry, index map[string]catalog.ActionRef, project *catalog.Project, integrations map[string]*catalog.ProjectIntegration) error {
	packs, err := s.store.ListPacks(ctx, reg.accountID)
	if err != nil {
		return fmt.Errorf("list packs: %w", err)
	}
	for _, pack := range packs {
		if !pack.Enabled {
			continue
		}
		tools, err := s.store.ListPackTools(ctx, reg.accountID, pack.ID)
		if err != nil {
			return fmt.Errorf("list pack tools: %w", err)
		}
		for _, bt := range tools {
			if !bt.Enabled {
				continue
			}
			ref, ok := index[actionKey(bt.SystemAlias, bt.ResourceAlias, bt.ActionAlias)]
			if !ok {
				s.logger.Warn("business tool references unknown action",
					"pack", pack.Alias, "tool", bt.Name,
					"system", bt.SystemAlias, "action", bt.ActionAlias)
				continue
			}
			name := tool.BusinessToolName(pack.Alias, bt.Name)
			target := buildTarget(ref, project, integrations[bt.SystemAlias])
			b, err := newBusinessTool(name, ref, bt, target, s.executor)
			if err != nil {
				s.logger.Warn("skipping business tool with invalid schema",
					"tool", name, "error", err)
				continue
			}
			reg.add(name, b)
		}
	}
	return nil
}

// systemTool is a generated tool wrapping one catalog action.
type systemTool struct {
	desc   tool.Descriptor
	target ExecTarget
	schema *gojsonschema.Schema
	exec   *ExecutorService

	// inversePath is the sibling DELETE action's path template, when the
	// resource has one keyed by a single placeholder. Successful creates
	// then carry a delete_created rollback payload.
	inversePath  string
	inverseParam string
}

// newSystemTool builds a system tool. The advertised schema drops the
// auto-injected path parameter when an external mapping resolves it, and
// the compiled validation schema matches the advertised one.
func newSystemTool(name string, ref catalog.ActionRef, target ExecTarget, exec *ExecutorService) (*systemTool, error) {
	act := ref.Action

	typ := tool.TypeSystemWrite
	if act.IsReader() {
		typ = tool.TypeSystemRead
	}

	schema := act.ParametersSchema
	if target.ExternalID != "" {
		if injected := action.InjectableParam(act.Path); injected != "" {
			schema = action.PruneSchema(schema, injected)
		}
	}

	st := &systemTool{
		desc: tool.Descriptor{
			Name:         name,
			Description:  describeAction(ref),
			LLMHints:     act.LLMHints,
			InputSchema:  schema,
			OutputSchema: act.OutputSchema,
			Type:         typ,
			Examples:     act.Examples,
		},
		target: target,
		exec:   exec,
	}

	if act.Method == "POST" {
		st.inversePath, st.inverseParam = inverseDelete(ref.Resource)
	}

	if len(schema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("compile parameters schema: %w", err)
		}
		st.schema = compiled
	}
	return st, nil
}

// inverseDelete finds a DELETE action on the resource addressed by exactly
// one placeholder, the shape a created id can fill.
func inverseDelete(res *catalog.Resource) (path, param string) {
	for i := range res.Actions {
		act := &res.Actions[i]
		if act.Method != "DELETE" {
			continue
		}
		names := action.Placeholders(act.Path)
		if len(names) == 1 {
			return act.Path, names[0]
		}
	}
	return "", ""
}

func describeAction(ref catalog.ActionRef) string {
	if ref.Action.Description != "" {
		return ref.Action.Description
	}
	return fmt.Sprintf("%s %s on %s %s", ref.Action.Method, ref.Action.Alias, ref.System.Name, ref.Resource.Alias)
}

func (t *systemTool) Descriptor() tool.Descriptor {
	return t.desc
}

// Execute validates the arguments against the action schema and dispatches
// through the executor. Validation and upstream failures both come back as
// error envelopes, never Go errors.
func (t *systemTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	if env, ok := validateArgs(t.schema, args); !ok {
		return tool.Result{Payload: env, IsError: true}, nil
	}
	env := t.exec.Execute(ctx, t.target, args)
	res := envelopeResult(env)
	if !res.IsError {
		res.Rollback = t.rollbackPayload(env)
	}
	return res, nil
}

// rollbackPayload builds the delete_created inverse for a successful create
// when the upstream returned an id and the resource has a keyed DELETE.
func (t *systemTool) rollbackPayload(env map[string]interface{}) map[string]interface{} {
	if t.inversePath == "" {
		return nil
	}
	data, ok := env["data"].(map[string]interface{})
	if !ok {
		return nil
	}
	id, ok := data["id"]
	if !ok {
		return nil
	}
	created := action.Stringify(id)
	return map[string]interface{}{
		"type":       "delete_created",
		"system":     t.target.System.Alias,
		"created_id": created,
		"method":     "DELETE",
		"path":       strings.Replace(t.inversePath, "{"+t.inverseParam+"}", created, 1),
	}
}

// validateArgs checks args against a compiled schema. ok is false when
// validation failed, with the error envelope to return.
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) (map[string]interface{}, bool) {
	if schema == nil {
		return nil, true
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return action.ValidationEnvelope("argument validation failed: %v", err), false
	}
	if res.Valid() {
		return nil, true
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return map[string]interface{}{
		"success":           false,
		"error":             "invalid arguments",
		"validation_errors": msgs,
	}, false
}

// envelopeResult converts an executor envelope into a tool result.
func envelopeResult(env map[string]interface{}) tool.Result {
	isErr := false
	if ok, present := env["success"].(bool); present && !ok {
		isErr = true
	}
	return tool.Result{Payload: env, IsError: isErr}
}

// Compile-time interface verification.
var _ tool.Tool = (*systemTool)(nil)

// businessTool wraps a system action with business-level defaults and
// field mappings.
type businessTool struct {
	desc     tool.Descriptor
	target   ExecTarget
	defaults map[string]interface{}
	fieldMap map[string]string
	outMap   map[string]string
	schema   *gojsonschema.Schema
	exec     *ExecutorService
}

func newBusinessTool(name string, ref catalog.ActionRef, bt *catalog.BusinessTool, target ExecTarget, exec *ExecutorService) (*businessTool, error) {
	act := ref.Action

	typ := tool.TypeSystemWrite
	if act.IsReader() {
		typ = tool.TypeSystemRead
	}

	schema := act.ParametersSchema
	if target.ExternalID != "" {
		if injected := action.InjectableParam(act.Path); injected != "" {
			schema = action.PruneSchema(schema, injected)
		}
	}

	desc := bt.Description
	if desc == "" {
		desc = describeAction(ref)
	}

	b := &businessTool{
		desc: tool.Descriptor{
			Name:         name,
			Description:  desc,
			LLMHints:     act.LLMHints,
			InputSchema:  schema,
			OutputSchema: act.OutputSchema,
			Type:         typ,
			Examples:     act.Examples,
		},
		target:   target,
		defaults: bt.DefaultParams,
		fieldMap: bt.FieldMapping,
		outMap:   bt.OutputMapping,
		exec:     exec,
	}

	if len(schema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return nil, fmt.Errorf("compile parameters schema: %w", err)
		}
		b.schema = compiled
	}
	return b, nil
}

func (t *businessTool) Descriptor() tool.Descriptor {
	return t.desc
}

// Execute merges defaults under the caller's arguments, renames business
// fields to API fields, validates, dispatches, and renames result fields
// back to business names.
func (t *businessTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	merged := make(map[string]interface{}, len(t.defaults)+len(args))
	for k, v := range t.defaults {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}
	for business, api := range t.fieldMap {
		if v, ok := merged[business]; ok {
			delete(merged, business)
			merged[api] = v
		}
	}

	if env, ok := validateArgs(t.schema, merged); !ok {
		return tool.Result{Payload: env, IsError: true}, nil
	}

	env := t.exec.Execute(ctx, t.target, merged)
	if data, ok := env["data"].(map[string]interface{}); ok && len(t.outMap) > 0 {
		mapped := make(map[string]interface{}, len(data))
		for k, v := range data {
			mapped[k] = v
		}
		for api, business := range t.outMap {
			if v, ok := mapped[api]; ok {
				delete(mapped, api)
				mapped[business] = v
			}
		}
		env["data"] = mapped
	}
	return envelopeResult(env), nil
}

var _ tool.Tool = (*businessTool)(nil)
