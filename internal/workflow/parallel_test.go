package workflow

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/store"
)

func TestParallelJoinConcatRunsAllBranches(t *testing.T) {
	mem := store.NewMemory()
	a := newFakeRunnable("a", mem, func(input string) string { return "A:" + input })
	b := newFakeRunnable("b", mem, func(input string) string { return "B:" + input })

	par := NewParallel("par-1", mem, JoinConcat, nil,
		Branch{NodeID: "a", Runnable: a, InputTemplate: "{input}"},
		Branch{NodeID: "b", Runnable: b, InputTemplate: "{input}"},
	)

	ec := execctx.New("sess-1", "run-1", nil, abort.New())
	out, err := par.Run(context.Background(), "x", ec)
	require.NoError(t, err)

	parts := strings.Split(out.Response, "\n\n")
	sort.Strings(parts)
	require.Equal(t, []string{"A:x", "B:x"}, parts)
}

func TestParallelJoinFirstAndLast(t *testing.T) {
	mem := store.NewMemory()
	a := newFakeRunnable("a", mem, func(input string) string { return "first" })
	b := newFakeRunnable("b", mem, func(input string) string { return "second" })

	first := NewParallel("par-first", mem, JoinFirst, nil,
		Branch{NodeID: "a", Runnable: a, InputTemplate: "{input}"},
		Branch{NodeID: "b", Runnable: b, InputTemplate: "{input}"},
	)
	ec := execctx.New("sess-2", "run-1", nil, abort.New())
	out, err := first.Run(context.Background(), "x", ec)
	require.NoError(t, err)
	require.Equal(t, "first", out.Response)

	last := NewParallel("par-last", mem, JoinLast, nil,
		Branch{NodeID: "a", Runnable: a, InputTemplate: "{input}"},
		Branch{NodeID: "b", Runnable: b, InputTemplate: "{input}"},
	)
	ec2 := execctx.New("sess-3", "run-1", nil, abort.New())
	out2, err := last.Run(context.Background(), "x", ec2)
	require.NoError(t, err)
	require.Equal(t, "second", out2.Response)
}

func TestParallelJoinCustomRequiresFunction(t *testing.T) {
	mem := store.NewMemory()
	a := newFakeRunnable("a", mem, func(input string) string { return "a" })
	par := NewParallel("par-bad", mem, JoinCustom, nil, Branch{NodeID: "a", Runnable: a, InputTemplate: "{input}"})

	ec := execctx.New("sess-4", "run-1", nil, abort.New())
	_, err := par.Run(context.Background(), "x", ec)
	require.Error(t, err)
}

func TestParallelPropagatesBranchError(t *testing.T) {
	mem := store.NewMemory()
	a := &failingRunnable{id: "a", store: mem}
	b := newFakeRunnable("b", mem, func(input string) string { return "b" })

	par := NewParallel("par-err", mem, JoinConcat, nil,
		Branch{NodeID: "a", Runnable: a, InputTemplate: "{input}"},
		Branch{NodeID: "b", Runnable: b, InputTemplate: "{input}"},
	)
	ec := execctx.New("sess-5", "run-1", nil, abort.New())
	_, err := par.Run(context.Background(), "x", ec)
	require.Error(t, err)
}
