// Package state implements the Workflow State cache and Context Resolver
// (§4.7/§4.8): the per-(workflow_id, session_id) node-output cache composite
// workflows use for idempotent resume, the template-variable substitution
// their node input_templates go through, and the Step-to-LLM-message
// projection every Runnable that talks to an llm.Client uses.
package state

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
)

// outputKey identifies one cached node output. Iteration is nil for a
// non-loop node; LoopWorkflow sets it per §4.6.4.
type outputKey struct {
	nodeID    string
	iteration int
	hasIter   bool
}

// Cache is the in-memory Workflow State of §4.7, scoped to one
// (workflow_id, session_id) pair.
type Cache struct {
	store     store.Store
	sessionID string
	workflowID string

	mu      sync.Mutex
	outputs map[outputKey]string
}

// NewCache builds an empty Cache for one workflow execution.
func NewCache(st store.Store, sessionID, workflowID string) *Cache {
	return &Cache{
		store:      st,
		sessionID:  sessionID,
		workflowID: workflowID,
		outputs:    make(map[outputKey]string),
	}
}

// LoadFromHistory bulk-loads the cache from every assistant Step already
// persisted for this workflow_id in the session, keyed by node_id (and
// iteration, when present). Must be called once at the start of a
// (re)execution of the workflow — §4.7.
func (c *Cache) LoadFromHistory(ctx context.Context) error {
	steps, err := c.store.GetSteps(ctx, c.sessionID, store.StepFilter{WorkflowID: c.workflowID})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range steps {
		if s.Role != step.RoleAssistant || s.NodeID == "" {
			continue
		}
		key := outputKey{nodeID: s.NodeID}
		if s.Iteration != nil {
			key.iteration = *s.Iteration
			key.hasIter = true
		}
		// Steps are returned in ascending sequence order, so the last
		// write for a given key wins — exactly "last assistant content".
		c.outputs[key] = s.Content
	}
	return nil
}

// HasOutput reports whether nodeID (optionally at iteration) has a cached
// output — true even when the cached value is the empty string. Callers
// must not substitute a missing-key check for this: idempotency depends on
// distinguishing "never ran" from "ran and produced nothing" (§4.7, §8
// invariant 8).
func (c *Cache) HasOutput(nodeID string, iteration *int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outputs[keyFor(nodeID, iteration)]
	return ok
}

// GetOutput returns the cached output for nodeID (optionally at
// iteration), and whether it was present.
func (c *Cache) GetOutput(nodeID string, iteration *int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.outputs[keyFor(nodeID, iteration)]
	return v, ok
}

// SetOutput caches content for nodeID (optionally at iteration).
func (c *Cache) SetOutput(nodeID, content string, iteration *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[keyFor(nodeID, iteration)] = content
}

func keyFor(nodeID string, iteration *int) outputKey {
	if iteration == nil {
		return outputKey{nodeID: nodeID}
	}
	return outputKey{nodeID: nodeID, iteration: *iteration, hasIter: true}
}

// LoopContext carries the per-iteration variables a LoopWorkflow exposes to
// its inner Runnable's input_template (§4.6.4): the current iteration and,
// for i > 0, the previous iteration's output for a named node.
type LoopContext struct {
	Iteration int
	Last      map[string]string
}

// Resolver substitutes §4.8's template variable grammar against a Cache
// and, as a fallback for {<node_id>.output}, the Session Store.
type Resolver struct {
	cache      *Cache
	store      store.Store
	sessionID  string
	workflowID string
	rootInput  string
	loop       *LoopContext
}

// NewResolver builds a Resolver for one workflow execution. rootInput is
// the workflow-level input substituted for {input}; loop may be nil
// outside a LoopWorkflow iteration.
func NewResolver(cache *Cache, st store.Store, sessionID, workflowID, rootInput string, loop *LoopContext) *Resolver {
	return &Resolver{cache: cache, store: st, sessionID: sessionID, workflowID: workflowID, rootInput: rootInput, loop: loop}
}

var templateVar = struct{ open, close string }{"{", "}"}

// Resolve substitutes every {variable} occurrence in tmpl per §4.8's
// grammar. Unknown references resolve to the empty string; Resolve never
// returns an error for an unrecognized variable.
func (r *Resolver) Resolve(ctx context.Context, tmpl string) string {
	var out strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, templateVar.open)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], templateVar.close)
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start

		out.WriteString(rest[:start])
		name := rest[start+1 : end]
		out.WriteString(r.resolveVar(ctx, name))
		rest = rest[end+1:]
	}
	return out.String()
}

func (r *Resolver) resolveVar(ctx context.Context, name string) string {
	switch {
	case name == "input":
		return r.rootInput
	case name == "loop.iteration":
		if r.loop == nil {
			return ""
		}
		return strconv.Itoa(r.loop.Iteration)
	case strings.HasPrefix(name, "loop.last."):
		if r.loop == nil {
			return ""
		}
		nodeID := strings.TrimPrefix(name, "loop.last.")
		return r.loop.Last[nodeID]
	case strings.HasSuffix(name, ".output"):
		nodeID := strings.TrimSuffix(name, ".output")
		return r.resolveNodeOutput(ctx, nodeID)
	default:
		return ""
	}
}

func (r *Resolver) resolveNodeOutput(ctx context.Context, nodeID string) string {
	if v, ok := r.cache.GetOutput(nodeID, nil); ok {
		return v
	}
	content, ok, err := r.store.GetLastAssistantContent(ctx, r.sessionID, nodeID, r.workflowID)
	if err != nil || !ok {
		return ""
	}
	return content
}

// ToLLMMessage is the message adapter of §4.8: it projects a Step into the
// LLM message shape, dropping every field that is placement metadata and
// never part of the model payload.
func ToLLMMessage(s step.Step) llm.Message {
	switch s.Role {
	case step.RoleUser:
		return llm.Message{Role: "user", Content: s.Content}
	case step.RoleAssistant:
		msg := llm.Message{Role: "assistant", Content: s.Content}
		if len(s.ToolCalls) > 0 {
			msg.ToolCalls = make([]llm.ToolCallRequest, len(s.ToolCalls))
			for i, tc := range s.ToolCalls {
				msg.ToolCalls[i] = llm.ToolCallRequest{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			}
		}
		return msg
	case step.RoleTool:
		return llm.Message{Role: "tool", Content: s.Content, ToolCallID: s.ToolCallID, Name: s.Name}
	case step.RoleSystem:
		return llm.Message{Role: "system", Content: s.Content}
	default:
		return llm.Message{Role: string(s.Role), Content: s.Content}
	}
}

// BuildMessages projects an ordered slice of Steps into LLM messages,
// optionally prepending a system prompt.
func BuildMessages(systemPrompt string, steps []step.Step) []llm.Message {
	out := make([]llm.Message, 0, len(steps)+1)
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, s := range steps {
		out = append(out, ToLLMMessage(s))
	}
	return out
}
