// Package execctx defines the immutable per-run ExecutionContext (§3.5)
// threaded through every Runnable.run call.
package execctx

import (
	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/telemetry"
	"github.com/goa-ai/agentrun/internal/wire"
)

// callStackKey is the metadata key under which Runnable-as-Tool threads the
// immutable call stack used for cycle detection (§4.10).
const callStackKey = "_call_stack"

// Context is the immutable execution context carried through one run tree.
// Construct the root with New; derive children with Child, which never
// mutates the parent.
type Context struct {
	SessionID string
	RunID     string
	Wire      *wire.Wire
	Abort     *abort.Signal

	WorkflowID   string
	NodeID       string
	ParentRunID  string
	RunnableID   string
	RunnableType string
	Iteration    *int

	TraceID string
	SpanID  string
	Depth   int

	Metadata map[string]any

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// New constructs the root ExecutionContext for a session. The caller owns
// the returned Wire and Abort signal for the lifetime of the run tree.
// Logger and Tracer default to no-ops until WithTelemetry attaches real
// ones.
func New(sessionID, runID string, w *wire.Wire, sig *abort.Signal) Context {
	return Context{
		SessionID: sessionID,
		RunID:     runID,
		Wire:      w,
		Abort:     sig,
		Metadata:  map[string]any{},
	}
}

// WithTelemetry returns a copy of c with logger and tracer attached. Every
// descendant derived via Child or WithCallStack carries the same instances,
// since both copy the struct wholesale.
func (c Context) WithTelemetry(logger telemetry.Logger, tracer telemetry.Tracer) Context {
	c.logger = logger
	c.tracer = tracer
	return c
}

// Logger returns the attached Logger, or a no-op if WithTelemetry was never
// called.
func (c Context) Logger() telemetry.Logger {
	if c.logger == nil {
		return telemetry.NewNoopLogger()
	}
	return c.logger
}

// Tracer returns the attached Tracer, or a no-op if WithTelemetry was never
// called.
func (c Context) Tracer() telemetry.Tracer {
	if c.tracer == nil {
		return telemetry.NewNoopTracer()
	}
	return c.tracer
}

// Option mutates a field on a derived child Context.
type Option func(*Context)

// WithRunID overrides the child's RunID (always required for a real child).
func WithRunID(runID string) Option { return func(c *Context) { c.RunID = runID } }

// WithWorkflowID sets workflow placement metadata.
func WithWorkflowID(id string) Option { return func(c *Context) { c.WorkflowID = id } }

// WithNodeID sets workflow placement metadata.
func WithNodeID(id string) Option { return func(c *Context) { c.NodeID = id } }

// WithRunnable sets the id/type of the Runnable producing Steps under this context.
func WithRunnable(id, typ string) Option {
	return func(c *Context) {
		c.RunnableID = id
		c.RunnableType = typ
	}
}

// WithIteration sets the loop iteration (§4.6.4).
func WithIteration(i int) Option { return func(c *Context) { c.Iteration = &i } }

// WithParentRunID sets the parent run id for a nested invocation.
func WithParentRunID(id string) Option { return func(c *Context) { c.ParentRunID = id } }

// WithBranchKey stashes a parallel-branch disambiguator in Metadata.
func WithBranchKey(key string) Option {
	return func(c *Context) { c.Metadata["branch_key"] = key }
}

// Child derives a new ExecutionContext: SessionID and Wire and Abort are
// inherited by default (shared ownership), Depth increments by one, and
// Metadata is a fresh shallow copy so no derived context can mutate a
// sibling's or ancestor's map.
func (c Context) Child(opts ...Option) Context {
	child := c
	child.Depth = c.Depth + 1
	child.Metadata = make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		child.Metadata[k] = v
	}
	// A child does not inherit workflow placement fields unless an option
	// re-sets them explicitly — these are per-node, not ambient.
	child.WorkflowID = ""
	child.NodeID = ""
	child.Iteration = nil
	child.ParentRunID = c.RunID
	for _, opt := range opts {
		opt(&child)
	}
	return child
}

// BranchKey returns the branch disambiguator stashed by WithBranchKey, or
// "" if none is set.
func (c Context) BranchKey() string {
	if v, ok := c.Metadata["branch_key"].(string); ok {
		return v
	}
	return ""
}

// CallStack returns the immutable Runnable-as-Tool call stack carried in
// Metadata, or nil if this context has never passed through the adapter.
func (c Context) CallStack() []string {
	v, ok := c.Metadata[callStackKey].([]string)
	if !ok {
		return nil
	}
	return v
}

// WithCallStack returns a new Context whose Metadata carries stack appended
// with runnableID. The original stack slice is never mutated — a fresh
// slice is allocated, per §9's "never share a mutable stack" requirement.
func (c Context) WithCallStack(runnableID string) Context {
	child := c
	child.Metadata = make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		child.Metadata[k] = v
	}
	prev := c.CallStack()
	next := make([]string, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, runnableID)
	child.Metadata[callStackKey] = next
	return child
}
