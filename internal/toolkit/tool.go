// Package toolkit defines the Tool contract (§6), a Registry of tools keyed
// by name, the streaming tool-call Accumulator (§4.3), and the Tool
// Executor that parses, validates, and dispatches finalized tool calls.
package toolkit

import (
	"context"
	"encoding/json"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/step"
)

// Tool is the contract a tool implementation satisfies (§6). Tool instances
// are registered once and shared across runs; they must not retain
// per-call mutable state beyond what IsConcurrencySafe allows for.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's argument schema as a JSON Schema object.
	Parameters() json.RawMessage
	// IsConcurrencySafe reports whether two Execute calls for this tool may
	// run concurrently, including across runs (§5).
	IsConcurrencySafe() bool
	// Execute runs the tool against parsed args, honoring ctx cancellation
	// and sig for cooperative abort. Implementations must never panic past
	// this boundary — the Executor converts recovered panics into an
	// unsuccessful ToolResult, but a well-behaved Tool returns its own
	// errors here.
	Execute(ctx context.Context, args map[string]any, ec execctx.Context, sig *abort.Signal) (step.ToolResult, error)
}

// Registry is a name-keyed lookup of registered Tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a Registry from the given tools, keyed by Name().
// Later entries with a duplicate name overwrite earlier ones.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Lookup returns the Tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns every registered tool's JSON Schema, for handing to the
// LLM stream call as tool declarations.
func (r *Registry) Schemas() []ToolSchema {
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// ToolSchema is the provider-agnostic tool declaration sent alongside an LLM
// stream call (§6).
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}
