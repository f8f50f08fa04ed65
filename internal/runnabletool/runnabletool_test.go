package runnabletool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/runnable"
)

// stubRunnable is a minimal runnable.Runnable double that records the
// ExecutionContext it was invoked with and returns a fixed response.
type stubRunnable struct {
	id        string
	response  string
	err       error
	lastEC    execctx.Context
	lastInput string
}

func (s *stubRunnable) ID() string                 { return s.id }
func (s *stubRunnable) RunnableType() runnable.Type { return runnable.TypeAgent }

func (s *stubRunnable) Run(_ context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	s.lastEC = ec
	s.lastInput = input
	if s.err != nil {
		return runnable.RunOutput{}, s.err
	}
	return runnable.RunOutput{RunID: ec.RunID, Response: s.response}, nil
}

func newTestEC() execctx.Context {
	return execctx.New("sess-1", "run-1", nil, abort.New())
}

func TestExecuteRunsWrappedRunnableAndReturnsSuccess(t *testing.T) {
	inner := &stubRunnable{id: "researcher", response: "42"}
	tool := New(inner, Options{})

	result, err := tool.Execute(context.Background(), map[string]any{"task": "compute"}, newTestEC(), abort.New())
	require.NoError(t, err)
	require.True(t, result.IsSuccess)
	require.Equal(t, "42", result.Content)
	require.Equal(t, "call_researcher", tool.Name())
}

func TestExecuteCombinesTaskAndContext(t *testing.T) {
	inner := &stubRunnable{id: "researcher", response: "ok"}
	tool := New(inner, Options{})

	_, err := tool.Execute(context.Background(), map[string]any{"task": "t", "context": "c"}, newTestEC(), abort.New())
	require.NoError(t, err)
	require.Equal(t, "t\n\nc", inner.lastInput)
}

func TestExecuteFailsWhenDepthExceedsMax(t *testing.T) {
	inner := &stubRunnable{id: "r", response: "unreached"}
	tool := New(inner, Options{MaxDepth: 1})

	ec := newTestEC()
	ec.Depth = 1 // ec.Depth+1 > maxDepth(1)

	result, err := tool.Execute(context.Background(), map[string]any{"task": "x"}, ec, abort.New())
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.Contains(t, result.Error, "nesting depth")
}

func TestExecuteFailsOnCycle(t *testing.T) {
	inner := &stubRunnable{id: "r", response: "unreached"}
	tool := New(inner, Options{})

	ec := newTestEC().WithCallStack("r")

	result, err := tool.Execute(context.Background(), map[string]any{"task": "x"}, ec, abort.New())
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.Contains(t, result.Error, "Circular")
}

func TestExecuteConvertsInnerErrorIntoUnsuccessfulResult(t *testing.T) {
	inner := &stubRunnable{id: "r", err: context.DeadlineExceeded}
	tool := New(inner, Options{})

	result, err := tool.Execute(context.Background(), map[string]any{"task": "x"}, newTestEC(), abort.New())
	require.NoError(t, err)
	require.False(t, result.IsSuccess)
	require.NotEmpty(t, result.Error)
}

func TestIsConcurrencySafeIsFalse(t *testing.T) {
	tool := New(&stubRunnable{id: "r"}, Options{})
	require.False(t, tool.IsConcurrencySafe())
}
