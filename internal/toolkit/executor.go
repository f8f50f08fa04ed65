package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/toolerrors"
)

// Executor dispatches finalized tool calls against a Registry (§4.3). It
// does not persist anything; callers (the Step Executor) are responsible
// for turning each ToolResult into a Step.
type Executor struct {
	registry *Registry

	mu        sync.Mutex
	schemas   map[string]*jsonschema.Schema
}

// NewExecutor builds an Executor over registry. Tool argument schemas are
// compiled lazily on first use and cached for the Executor's lifetime.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry, schemas: make(map[string]*jsonschema.Schema)}
}

// Execute runs every call in calls, preserving input order in the returned
// slice. Calls are batched per §4.3's simplest-correct policy: the whole
// batch runs concurrently only if every member tool is concurrency-safe;
// otherwise the batch runs serially so an unsafe tool never overlaps
// itself (or anything else in the batch).
func (ex *Executor) Execute(ctx context.Context, calls []step.ToolCall, ec execctx.Context, sig *abort.Signal) []step.ToolResult {
	results := make([]step.ToolResult, len(calls))

	if allConcurrencySafe(ex.registry, calls) {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call step.ToolCall) {
				defer wg.Done()
				results[i] = ex.executeOne(ctx, call, ec, sig)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = ex.executeOne(ctx, call, ec, sig)
	}
	return results
}

func allConcurrencySafe(registry *Registry, calls []step.ToolCall) bool {
	for _, call := range calls {
		t, ok := registry.Lookup(call.Name)
		if !ok || !t.IsConcurrencySafe() {
			return false
		}
	}
	return true
}

func (ex *Executor) executeOne(ctx context.Context, call step.ToolCall, ec execctx.Context, sig *abort.Signal) (result step.ToolResult) {
	start := time.Now()
	result = step.ToolResult{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		InputArgs:  call.Arguments,
		StartTime:  start,
	}

	defer func() {
		if r := recover(); r != nil {
			result = ex.failure(result, start, fmt.Errorf("tool %s panicked: %v", call.Name, r))
		}
	}()

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return ex.failure(result, start, toolerrors.New("Invalid JSON arguments"))
		}
	}

	t, ok := ex.registry.Lookup(call.Name)
	if !ok {
		return ex.failure(result, start, toolerrors.Errorf("Tool %s not found", call.Name))
	}

	if schema := ex.schemaFor(t); schema != nil {
		if err := validateArgs(schema, args); err != nil {
			return ex.failure(result, start, toolerrors.NewWithCause("Invalid JSON arguments", err))
		}
	}

	res, err := t.Execute(ctx, args, ec, sig)
	if err != nil {
		return ex.failure(result, start, err)
	}
	res.ToolName = call.Name
	res.ToolCallID = call.ID
	res.InputArgs = call.Arguments
	res.StartTime = start
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(start)
	if !res.IsSuccess && res.Error == "" {
		res.Error = "tool reported failure"
	}
	return res
}

func (ex *Executor) failure(result step.ToolResult, start time.Time, err error) step.ToolResult {
	result.IsSuccess = false
	result.Error = err.Error()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	return result
}

// schemaFor compiles and caches the JSON Schema declared by t.Parameters(),
// returning nil if t declares no schema (empty/absent Parameters).
func (ex *Executor) schemaFor(t Tool) *jsonschema.Schema {
	raw := t.Parameters()
	if len(raw) == 0 {
		return nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if s, ok := ex.schemas[t.Name()]; ok {
		return s
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://" + t.Name() + ".json"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		ex.schemas[t.Name()] = nil
		return nil
	}
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		ex.schemas[t.Name()] = nil
		return nil
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		ex.schemas[t.Name()] = nil
		return nil
	}
	ex.schemas[t.Name()] = schema
	return schema
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	payload := map[string]any{}
	for k, v := range args {
		payload[k] = v
	}
	return schema.Validate(payload)
}
