// Package stepexec implements the Step Executor (§4.2): the LLM-and-tools
// loop that turns one user Step into zero or more assistant/tool Steps. It
// is the lowest layer that touches an llm.Client directly; Agent (in
// internal/runnable) drives one Executor per run.
package stepexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/telemetry"
	"github.com/goa-ai/agentrun/internal/toolerrors"
	"github.com/goa-ai/agentrun/internal/toolkit"
)

// DefaultMaxSteps bounds the number of assistant turns a single Executor.Run
// call may take before it is forced to terminate (§4.2 edge case: runaway
// tool loop).
const DefaultMaxSteps = 25

// Options configures an Executor.
type Options struct {
	// MaxSteps caps assistant turns. <= 0 uses DefaultMaxSteps.
	MaxSteps int
	// ValidateBedrockOrdering, when the llm.Client reports
	// RequiresThinkingOrder, rejects a malformed thinking/tool_use/
	// tool_result sequence instead of silently sending it upstream.
	ValidateBedrockOrdering bool
	// Logger and Tracer report executor failure paths and wrap each turn
	// in a span. Both default to no-ops when nil.
	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// Executor runs the assistant/tool loop for one conversation turn.
type Executor struct {
	client   llm.Client
	store    store.Store
	tools    *toolkit.Executor
	registry *toolkit.Registry
	opts     Options
}

// New builds an Executor over the given LLM client, persistence, and tool
// registry.
func New(client llm.Client, st store.Store, registry *toolkit.Registry, opts Options) *Executor {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Executor{
		client:   client,
		store:    st,
		tools:    toolkit.NewExecutor(registry),
		registry: registry,
		opts:     opts,
	}
}

// Run executes the assistant/tool loop starting from the conversation
// history already persisted for ec.SessionID (the caller is responsible for
// having saved the triggering user Step before calling Run). It returns the
// content of the final assistant Step that produced no further tool calls.
//
// Run emits STEP_DELTA for streamed content, STEP_COMPLETED once per
// finalized Step, onto ec.Wire. It never emits RUN_* events — those are the
// Run Lifecycle's responsibility (§4.9), one layer up.
func (e *Executor) Run(ctx context.Context, ec execctx.Context, history []llm.Message) (string, error) {
	messages := history

	for turn := 0; turn < e.opts.MaxSteps; turn++ {
		if err := ec.Abort.Err(); err != nil {
			return "", err
		}

		assistantStep, toolCalls, err := e.runOneTurn(ctx, ec, messages)
		if err != nil {
			return "", err
		}

		if len(toolCalls) == 0 {
			return assistantStep.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      string(step.RoleAssistant),
			Content:   assistantStep.Content,
			ToolCalls: toLLMToolCalls(toolCalls),
		})

		if err := ec.Abort.Err(); err != nil {
			return "", err
		}

		results := e.tools.Execute(ctx, toolCalls, ec, ec.Abort)
		for i, res := range results {
			toolStep, err := e.persistToolStep(ctx, ec, res)
			if err != nil {
				return "", err
			}
			messages = append(messages, llm.Message{
				Role:       string(step.RoleTool),
				Content:    toolResultContent(res),
				ToolCallID: toolCalls[i].ID,
				Name:       res.ToolName,
			})
			_ = toolStep
		}
	}

	err := fmt.Errorf("stepexec: exceeded max steps (%d) without a final response", e.opts.MaxSteps)
	e.opts.Logger.Error(ctx, "stepexec: max steps exceeded", "run_id", ec.RunID, "session_id", ec.SessionID, "max_steps", e.opts.MaxSteps)
	return "", err
}

// ResumePendingToolCalls re-executes tool calls that were recorded on an
// assistant Step but never answered with a tool Step, the crash-recovery
// path of §4.2: a process died after persisting the assistant Step and
// before the tool results were persisted and the loop continued.
func (e *Executor) ResumePendingToolCalls(ctx context.Context, ec execctx.Context, pending step.Step) ([]step.ToolResult, error) {
	answered := make(map[string]bool, len(pending.ToolCalls))
	for _, call := range pending.ToolCalls {
		if _, err := e.store.GetStepByToolCallID(ctx, ec.SessionID, call.ID); err == nil {
			answered[call.ID] = true
		}
	}

	var remaining []step.ToolCall
	for _, call := range pending.ToolCalls {
		if !answered[call.ID] {
			remaining = append(remaining, call)
		}
	}
	if len(remaining) == 0 {
		return nil, nil
	}

	results := e.tools.Execute(ctx, remaining, ec, ec.Abort)
	for _, res := range results {
		if _, err := e.persistToolStep(ctx, ec, res); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// runOneTurn streams one assistant response, accumulating content deltas
// and tool-call fragments, then persists and returns the finalized Step.
func (e *Executor) runOneTurn(ctx context.Context, ec execctx.Context, messages []llm.Message) (step.Step, []step.ToolCall, error) {
	ctx, span := e.opts.Tracer.Start(ctx, "stepexec.turn")
	span.AddEvent("turn.start", "run_id", ec.RunID, "session_id", ec.SessionID)
	defer span.End()

	chunks, errs := e.client.Stream(ctx, messages, e.registry.Schemas())

	stepID := uuid.NewString()
	var content string
	acc := toolkit.NewAccumulator()
	var usage llm.Usage
	started := time.Now()
	firstTokenAt := time.Time{}

	for chunk := range chunks {
		if err := ec.Abort.Err(); err != nil {
			return step.Step{}, nil, err
		}

		if chunk.Content != "" {
			if firstTokenAt.IsZero() {
				firstTokenAt = time.Now()
			}
			content += chunk.Content
			emitDelta(ec, stepID, chunk.Content, nil)
		}
		for _, frag := range chunk.ToolCalls {
			acc.Add(frag)
			emitDelta(ec, stepID, "", []step.ToolCall{{ID: frag.ID, Name: frag.Name, Arguments: frag.Arguments}})
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}

	if err := <-errs; err != nil {
		e.opts.Logger.Error(ctx, "stepexec: stream failed", "run_id", ec.RunID, "session_id", ec.SessionID, "error", err.Error())
		span.RecordError(err)
		return step.Step{}, nil, err
	}

	toolCalls := acc.Finalize()

	if e.opts.ValidateBedrockOrdering && e.client.RequiresThinkingOrder() {
		if err := validateOrdering(content, toolCalls); err != nil {
			e.opts.Logger.Error(ctx, "stepexec: tool call ordering invalid", "run_id", ec.RunID, "session_id", ec.SessionID, "error", err.Error())
			span.RecordError(err)
			return step.Step{}, nil, err
		}
	}

	seq, err := e.store.AllocateSequence(ctx, ec.SessionID)
	if err != nil {
		e.opts.Logger.Error(ctx, "stepexec: allocate sequence failed", "run_id", ec.RunID, "session_id", ec.SessionID, "error", err.Error())
		span.RecordError(err)
		return step.Step{}, nil, err
	}

	firstTokenMS := int64(0)
	if !firstTokenAt.IsZero() {
		firstTokenMS = firstTokenAt.Sub(started).Milliseconds()
	}

	s := step.Step{
		ID:           stepID,
		SessionID:    ec.SessionID,
		RunID:        ec.RunID,
		Sequence:     seq,
		Role:         step.RoleAssistant,
		Content:      content,
		ToolCalls:    toolCalls,
		WorkflowID:   ec.WorkflowID,
		NodeID:       ec.NodeID,
		ParentRunID:  ec.ParentRunID,
		BranchKey:    ec.BranchKey(),
		Iteration:    ec.Iteration,
		RunnableID:   ec.RunnableID,
		RunnableType: ec.RunnableType,
		TraceID:      ec.TraceID,
		SpanID:       ec.SpanID,
		Depth:        ec.Depth,
		Metrics: step.Metrics{
			DurationMS:          time.Since(started).Milliseconds(),
			FirstTokenLatencyMS: firstTokenMS,
			InputTokens:         usage.PromptTokens,
			OutputTokens:        usage.CompletionTokens,
			TotalTokens:         usage.TotalTokens,
			ModelName:           e.client.ModelName(),
			Provider:            e.client.Provider(),
		},
		CreatedAt: time.Now(),
	}

	if err := e.store.SaveStep(ctx, s); err != nil {
		e.opts.Logger.Error(ctx, "stepexec: save assistant step failed", "run_id", ec.RunID, "session_id", ec.SessionID, "error", err.Error())
		span.RecordError(err)
		return step.Step{}, nil, err
	}
	emitCompleted(ec, s)

	return s, toolCalls, nil
}

func (e *Executor) persistToolStep(ctx context.Context, ec execctx.Context, res step.ToolResult) (step.Step, error) {
	seq, err := e.store.AllocateSequence(ctx, ec.SessionID)
	if err != nil {
		e.opts.Logger.Error(ctx, "stepexec: allocate sequence failed for tool step", "run_id", ec.RunID, "session_id", ec.SessionID, "tool_call_id", res.ToolCallID, "error", err.Error())
		return step.Step{}, err
	}
	s := step.Step{
		ID:           uuid.NewString(),
		SessionID:    ec.SessionID,
		RunID:        ec.RunID,
		Sequence:     seq,
		Role:         step.RoleTool,
		Content:      toolResultContent(res),
		ToolCallID:   res.ToolCallID,
		Name:         res.ToolName,
		WorkflowID:   ec.WorkflowID,
		NodeID:       ec.NodeID,
		ParentRunID:  ec.ParentRunID,
		BranchKey:    ec.BranchKey(),
		Iteration:    ec.Iteration,
		RunnableID:   ec.RunnableID,
		RunnableType: ec.RunnableType,
		TraceID:      ec.TraceID,
		SpanID:       ec.SpanID,
		Depth:        ec.Depth,
		Metrics: step.Metrics{
			ToolExecTimeMS: res.Duration.Milliseconds(),
		},
		CreatedAt: time.Now(),
	}
	if err := e.store.SaveStep(ctx, s); err != nil {
		e.opts.Logger.Error(ctx, "stepexec: save tool step failed", "run_id", ec.RunID, "session_id", ec.SessionID, "tool_call_id", res.ToolCallID, "error", err.Error())
		return step.Step{}, err
	}
	emitCompleted(ec, s)
	return s, nil
}

func toolResultContent(res step.ToolResult) string {
	if !res.IsSuccess {
		return res.Error
	}
	return res.Content
}

func toLLMToolCalls(calls []step.ToolCall) []llm.ToolCallRequest {
	out := make([]llm.ToolCallRequest, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCallRequest{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func emitDelta(ec execctx.Context, stepID, content string, toolCalls []step.ToolCall) {
	if ec.Wire == nil {
		return
	}
	ec.Wire.Emit(step.Event{
		Kind:             step.EventStepDelta,
		RunID:            ec.RunID,
		ParentRunID:      ec.ParentRunID,
		Depth:            ec.Depth,
		NestedRunnableID: ec.RunnableID,
		Timestamp:        time.Now(),
		StepID:           stepID,
		Delta:            &step.Delta{Content: content, ToolCalls: toolCalls},
	})
}

func emitCompleted(ec execctx.Context, s step.Step) {
	if ec.Wire == nil {
		return
	}
	sCopy := s
	ec.Wire.Emit(step.Event{
		Kind:             step.EventStepCompleted,
		RunID:            ec.RunID,
		ParentRunID:      ec.ParentRunID,
		Depth:            ec.Depth,
		NestedRunnableID: ec.RunnableID,
		Timestamp:        time.Now(),
		StepID:           s.ID,
		Step:             &sCopy,
	})
}

// validateOrdering is the optional Bedrock-shaped check run before the
// assistant Step is persisted: it rejects a turn in which any finalized
// tool call has an empty id. It does not inspect content, and it does not
// check where text appears relative to the tool calls.
func validateOrdering(content string, calls []step.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	for _, c := range calls {
		if c.ID == "" {
			return toolerrors.New("tool_use block missing id before tool_result ordering check")
		}
	}
	return nil
}
