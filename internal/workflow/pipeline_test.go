package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/store"
)

func TestPipelineRunsNodesInOrderAndChainsOutput(t *testing.T) {
	mem := store.NewMemory()
	var seenByB string

	a := newFakeRunnable("a", mem, func(input string) string { return "A:" + input })
	b := newFakeRunnable("b", mem, func(input string) string { seenByB = input; return "B:" + input })

	pl := NewPipeline("pipe-1", mem,
		Node{ID: "a", Runnable: a, InputTemplate: "{input}"},
		Node{ID: "b", Runnable: b, InputTemplate: "{a.output}"},
	)

	ec := execctx.New("sess-1", "run-1", nil, abort.New())
	out, err := pl.Run(context.Background(), "start", ec)
	require.NoError(t, err)
	require.Equal(t, "B:A:start", out.Response)
	require.Equal(t, "A:start", seenByB)
}

func TestPipelineSkipsNodeAlreadyCachedFromHistory(t *testing.T) {
	mem := store.NewMemory()
	a := newFakeRunnable("a", mem, func(input string) string { return "A:" + input })

	ec := execctx.New("sess-2", "run-1", nil, abort.New())
	pl := NewPipeline("pipe-1", mem, Node{ID: "a", Runnable: a, InputTemplate: "{input}"})
	_, err := pl.Run(context.Background(), "start", ec)
	require.NoError(t, err)
	require.EqualValues(t, 1, a.runCount)

	// Rerunning the same workflow/session must skip node "a" entirely,
	// reusing its cached output instead of invoking the runnable again.
	ec2 := execctx.New("sess-2", "run-2", nil, abort.New())
	out, err := pl.Run(context.Background(), "start", ec2)
	require.NoError(t, err)
	require.Equal(t, "A:start", out.Response)
	require.EqualValues(t, 1, a.runCount)
}

func TestPipelinePropagatesNodeError(t *testing.T) {
	mem := store.NewMemory()
	a := &failingRunnable{id: "a", store: mem}
	pl := NewPipeline("pipe-err", mem, Node{ID: "a", Runnable: a, InputTemplate: "{input}"})

	ec := execctx.New("sess-3", "run-1", nil, abort.New())
	_, err := pl.Run(context.Background(), "start", ec)
	require.Error(t, err)
}
