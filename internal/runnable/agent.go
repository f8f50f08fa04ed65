package runnable

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/stepexec"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/workflow/state"
)

// Agent is a Runnable that drives one Step Executor session over a model, a
// static tool list, and an optional system prompt (§4.6.1). Agents are
// stateless across runs — all state lives in the Session Store.
type Agent struct {
	id           string
	systemPrompt string
	store        store.Store
	executor     *stepexec.Executor
}

// NewAgent builds an Agent identified by id, running systemPrompt (may be
// empty) ahead of the session history on every turn.
func NewAgent(id, systemPrompt string, st store.Store, executor *stepexec.Executor) *Agent {
	return &Agent{id: id, systemPrompt: systemPrompt, store: st, executor: executor}
}

func (a *Agent) ID() string         { return a.id }
func (a *Agent) RunnableType() Type { return TypeAgent }

// Run implements Runnable (§4.6.1): it mints a User Step for input, builds
// the LLM message list from the session's history up to and including that
// Step, then drives the Step Executor loop to a final response.
func (a *Agent) Run(ctx context.Context, input string, ec execctx.Context) (RunOutput, error) {
	ec = withRunnable(ec, a.id, TypeAgent)

	return RunLifecycle(ctx, a.store, ec, a.id, TypeAgent, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		if err := ec.Abort.Err(); err != nil {
			return "", step.RunMetrics{}, err
		}

		userStep, err := a.saveUserStep(ctx, ec, input)
		if err != nil {
			return "", step.RunMetrics{}, err
		}

		history, err := a.store.GetSteps(ctx, ec.SessionID, store.StepFilter{EndSeq: userStep.Sequence})
		if err != nil {
			return "", step.RunMetrics{}, err
		}
		messages := state.BuildMessages(a.systemPrompt, history)

		response, err := a.executor.Run(ctx, ec, messages)
		if err != nil {
			return "", step.RunMetrics{}, err
		}

		metrics, err := a.sumMetrics(ctx, ec)
		if err != nil {
			return "", step.RunMetrics{}, err
		}
		return response, metrics, nil
	})
}

func (a *Agent) saveUserStep(ctx context.Context, ec execctx.Context, input string) (step.Step, error) {
	seq, err := a.store.AllocateSequence(ctx, ec.SessionID)
	if err != nil {
		return step.Step{}, err
	}
	s := step.Step{
		ID:           uuid.NewString(),
		SessionID:    ec.SessionID,
		RunID:        ec.RunID,
		Sequence:     seq,
		Role:         step.RoleUser,
		Content:      input,
		WorkflowID:   ec.WorkflowID,
		NodeID:       ec.NodeID,
		ParentRunID:  ec.ParentRunID,
		BranchKey:    ec.BranchKey(),
		Iteration:    ec.Iteration,
		RunnableID:   ec.RunnableID,
		RunnableType: ec.RunnableType,
		Depth:        ec.Depth,
		CreatedAt:    time.Now(),
	}
	if err := a.store.SaveStep(ctx, s); err != nil {
		return step.Step{}, err
	}
	return s, nil
}

// sumMetrics rolls up every Step produced during this run (§4.6.1 step 4).
func (a *Agent) sumMetrics(ctx context.Context, ec execctx.Context) (step.RunMetrics, error) {
	steps, err := a.store.GetSteps(ctx, ec.SessionID, store.StepFilter{RunID: ec.RunID})
	if err != nil {
		return step.RunMetrics{}, err
	}
	var m step.Metrics
	var toolCalls int
	for _, s := range steps {
		m.Add(s.Metrics)
		toolCalls += len(s.ToolCalls)
	}
	return step.RunMetrics{
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		TotalTokens:    m.TotalTokens,
		ToolCallsCount: toolCalls,
	}, nil
}

func withRunnable(ec execctx.Context, id string, typ Type) execctx.Context {
	ec.RunnableID = id
	ec.RunnableType = string(typ)
	return ec
}
