// Package runnabletool implements the Runnable-as-Tool adapter (§4.10):
// wrapping any Runnable so it can be offered to an LLM as a callable tool,
// with depth and cycle guards enforced before the wrapped Runnable ever
// runs.
package runnabletool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/runnable"
	"github.com/goa-ai/agentrun/internal/step"
)

// DefaultMaxDepth is the nesting limit applied when Options.MaxDepth is
// unset (§4.10).
const DefaultMaxDepth = 5

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {"type": "string"},
		"context": {"type": "string"}
	},
	"required": ["task"]
}`)

// Options configures a Tool's naming and nesting limit.
type Options struct {
	// Name overrides the default "call_<runnable.id>" tool name.
	Name string
	// Description is the tool description surfaced to the LLM.
	Description string
	// MaxDepth overrides DefaultMaxDepth when > 0.
	MaxDepth int
}

// Tool adapts a Runnable into toolkit.Tool (§4.10). It is constructed per
// wrapped Runnable and shared across every invocation of that Runnable as a
// tool.
type Tool struct {
	runnable runnable.Runnable
	name     string
	desc     string
	maxDepth int
}

// New wraps r as a Tool. opts.Name defaults to "call_<r.ID()>".
func New(r runnable.Runnable, opts Options) *Tool {
	name := opts.Name
	if name == "" {
		name = "call_" + r.ID()
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Tool{runnable: r, name: name, desc: opts.Description, maxDepth: maxDepth}
}

func (t *Tool) Name() string                { return t.name }
func (t *Tool) Description() string         { return t.desc }
func (t *Tool) Parameters() json.RawMessage { return schema }

// IsConcurrencySafe reports false conservatively: the wrapped Runnable may
// itself drive tool execution with mixed concurrency-safety, and re-entrant
// Session Store writes under the same session_id are only as safe as the
// Store's sequence allocation guarantees, not as safe as an arbitrary tool
// with no side effects beyond its own return value.
func (t *Tool) IsConcurrencySafe() bool { return false }

// Execute enforces the cycle guard then the depth guard (the cycle check
// runs first, so a self-reference is reported as "Circular reference
// detected" even where the depth limit would also be exceeded), builds the
// child ExecutionContext, and runs the wrapped Runnable. Any error returned by
// the wrapped Runnable is converted into an unsuccessful ToolResult; it
// never propagates past this boundary (§4.10).
func (t *Tool) Execute(ctx context.Context, args map[string]any, ec execctx.Context, sig *abort.Signal) (result step.ToolResult, err error) {
	start := time.Now()

	task, _ := args["task"].(string)
	extraContext, _ := args["context"].(string)

	if slices.Contains(ec.CallStack(), t.runnable.ID()) {
		return failure(start, "Circular reference detected"), nil
	}
	if ec.Depth+1 > t.maxDepth {
		return failure(start, "Maximum nesting depth exceeded"), nil
	}

	childEC := ec.WithCallStack(t.runnable.ID()).Child(
		execctx.WithRunID(uuid.NewString()),
		execctx.WithParentRunID(ec.RunID),
		execctx.WithRunnable(t.runnable.ID(), string(t.runnable.RunnableType())),
	)

	input := task
	if extraContext != "" {
		input = fmt.Sprintf("%s\n\n%s", task, extraContext)
	}

	out, runErr := t.runnable.Run(ctx, input, childEC)
	if runErr != nil {
		return failure(start, runErr.Error()), nil
	}

	return step.ToolResult{
		IsSuccess: true,
		Content:   out.Response,
		StartTime: start,
		EndTime:   time.Now(),
		Duration:  time.Since(start),
	}, nil
}

func failure(start time.Time, msg string) step.ToolResult {
	return step.ToolResult{
		IsSuccess: false,
		Error:     msg,
		StartTime: start,
		EndTime:   time.Now(),
		Duration:  time.Since(start),
	}
}
