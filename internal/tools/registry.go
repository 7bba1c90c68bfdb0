package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/errkind"
)

// Registry holds every tool available to a chat pipeline turn, grounded on
// the teacher's ToolRegistry (internal/agent/tool_registry.go): name-keyed
// map behind a RWMutex, Register/Get/Execute. Unlike the teacher's version,
// Execute validates params against the tool's own JSON Schema before
// calling it, since nothing upstream of this package does that for us.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds tool, replacing any existing tool of the same name and
// invalidating its cached compiled schema.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	r.tools[tool.Name()] = tool
	r.mu.Unlock()

	r.schemaMu.Lock()
	delete(r.schemas, tool.Name())
	r.schemaMu.Unlock()
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns every registered tool's name/description/schema as
// chatpipeline.ToolSpec, ready to hand to CompletionRequest.Tools.
func (r *Registry) Specs() []chatpipeline.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]chatpipeline.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema(), &schema); err != nil {
			schema = map[string]any{"type": "object"}
		}
		specs = append(specs, chatpipeline.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return specs
}

// Execute validates params against name's schema, then runs it. Schema
// compilation results are cached per tool name (pluginsdk.ValidateConfig's
// compileSchema idiom), since the same tool is called repeatedly across
// rounds and sessions.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (Result, error) {
	tool, ok := r.Get(name)
	if !ok {
		return Result{OK: false, Err: fmt.Sprintf("tool not found: %s", name)}, withKind(ErrNotFound, errkind.NotFound)
	}

	schema, err := r.compileSchema(name, tool.Schema())
	if err != nil {
		return Result{OK: false, Err: fmt.Sprintf("tool %s has an invalid schema: %v", name, err)}, withKind(err, errkind.Internal)
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return Result{OK: false, Err: "parameters are not valid JSON"}, withKind(ErrInvalidParams, errkind.Validation)
	}
	if err := schema.Validate(decoded); err != nil {
		return Result{OK: false, Err: fmt.Sprintf("parameters invalid: %v", err)}, withKind(ErrInvalidParams, errkind.Validation)
	}

	return tool.Execute(ctx, params)
}

func (r *Registry) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	if cached, ok := r.schemas[name]; ok {
		return cached, nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema for %s: %w", name, err)
	}
	r.schemas[name] = compiled
	return compiled, nil
}
