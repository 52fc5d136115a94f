// Package tools provides the built-in tool registry used by the agent
// graph.
//
// Every tool carries a JSON Schema for its arguments; ValidateArgs runs the
// schema before anything reaches a tool function, so execution code can
// assume well-typed input. Tools also declare the capabilities they need
// and whether they are destructive; the policy enforcer reads both.
package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/llm"
)

// Tool is the interface all built-in tools implement.
type Tool interface {
	// Definition returns the LLM-facing tool definition: name, description,
	// and JSON Schema parameter specification.
	Definition() llm.ToolDefinition

	// RequiredCapabilities lists the capabilities the policy enforcer must
	// grant before this tool may run.
	RequiredCapabilities() []string

	// Destructive reports whether the tool requires explicit confirmation.
	Destructive() bool

	// Execute runs the tool with validated arguments and returns a result
	// string for the LLM. The context carries the trace ID and deadline.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the registered tools and their compiled argument schemas.
// Populate it at startup before serving requests; Register is not safe to
// call concurrently with lookups.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds t and compiles its argument schema. It panics on a
// duplicate name or an uncompilable schema; both are wiring bugs.
func (r *Registry) Register(t Tool) {
	def := t.Definition()
	name := def.Function.Name
	if _, dup := r.tools[name]; dup {
		panic("tools: duplicate tool registration: " + name)
	}

	schemaDoc, err := json.Marshal(def.Function.Parameters)
	if err != nil {
		panic("tools: unmarshalable schema for " + name + ": " + err.Error())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(schemaDoc)); err != nil {
		panic("tools: bad schema resource for " + name + ": " + err.Error())
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		panic("tools: uncompilable schema for " + name + ": " + err.Error())
	}

	r.tools[name] = t
	r.schemas[name] = schema
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// IsRegistered reports whether name is a known tool.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Definitions returns LLM tool definitions for every registered tool. The
// slice order is non-deterministic; providers treat tools as an unordered
// set.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	return defs
}

// ValidateArgs checks raw against the tool's argument schema and returns
// the decoded arguments. An unknown tool name and every schema failure are
// validation-class errors; nothing reaches a tool function without passing
// here.
func (r *Registry) ValidateArgs(name string, raw map[string]any) (map[string]any, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return nil, kerrors.NotFound("unknown tool %q", name)
	}
	// Round-trip through JSON so typed values (int vs float64) normalize to
	// what the schema validator expects.
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, kerrors.Validation("tool %s: arguments are not serializable: %v", name, err)
	}
	var normalized any
	if err := json.Unmarshal(doc, &normalized); err != nil {
		return nil, kerrors.Validation("tool %s: arguments are not valid JSON: %v", name, err)
	}
	if err := schema.Validate(normalized); err != nil {
		return nil, kerrors.Validation("tool %s: %v", name, err)
	}
	validated, ok := normalized.(map[string]any)
	if !ok {
		return nil, kerrors.Validation("tool %s: arguments must be an object", name)
	}
	return validated, nil
}
