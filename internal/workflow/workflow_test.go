package workflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/runnable"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
)

// fakeRunnable is a minimal runnable.Runnable double: it returns a fixed
// response, optionally derived from its input, persists that response as an
// assistant Step the way an Agent does, and counts how many times it
// actually ran (as opposed to being skipped by a cache hit).
type fakeRunnable struct {
	id       string
	store    store.Store
	respond  func(input string) string
	runCount int32
}

func newFakeRunnable(id string, st store.Store, respond func(string) string) *fakeRunnable {
	return &fakeRunnable{id: id, store: st, respond: respond}
}

func (f *fakeRunnable) ID() string                 { return f.id }
func (f *fakeRunnable) RunnableType() runnable.Type { return runnable.TypeAgent }

func (f *fakeRunnable) Run(ctx context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	atomic.AddInt32(&f.runCount, 1)
	return runnable.RunLifecycle(ctx, f.store, ec, f.id, runnable.TypeAgent, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		resp := f.respond(input)
		seq, err := f.store.AllocateSequence(ctx, ec.SessionID)
		if err != nil {
			return "", step.RunMetrics{}, err
		}
		if err := f.store.SaveStep(ctx, step.Step{
			ID: ec.RunID + "-assistant", SessionID: ec.SessionID, RunID: ec.RunID, Sequence: seq,
			Role: step.RoleAssistant, Content: resp, WorkflowID: ec.WorkflowID, NodeID: ec.NodeID,
			BranchKey: ec.BranchKey(), Iteration: ec.Iteration,
		}); err != nil {
			return "", step.RunMetrics{}, err
		}
		return resp, step.RunMetrics{OutputTokens: len(resp)}, nil
	})
}

// failingRunnable always fails, to exercise error propagation.
type failingRunnable struct {
	id    string
	store store.Store
}

func (f *failingRunnable) ID() string                 { return f.id }
func (f *failingRunnable) RunnableType() runnable.Type { return runnable.TypeAgent }

func (f *failingRunnable) Run(ctx context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	return runnable.RunLifecycle(ctx, f.store, ec, f.id, runnable.TypeAgent, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		return "", step.RunMetrics{}, fmt.Errorf("boom")
	})
}
