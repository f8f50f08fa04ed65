package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/store"
)

func TestLoopRunsUntilPredicateStops(t *testing.T) {
	mem := store.NewMemory()
	count := 0
	inner := newFakeRunnable("inner", mem, func(input string) string {
		count++
		return fmt.Sprintf("iter-%d", count)
	})

	stopAfter3 := func(lastOutput string) bool { return lastOutput != "iter-3" }
	lp := NewLoop("loop-1", "inner", mem, inner, "{input}", 10, stopAfter3)

	ec := execctx.New("sess-1", "run-1", nil, abort.New())
	out, err := lp.Run(context.Background(), "start", ec)
	require.NoError(t, err)
	require.Equal(t, "iter-3", out.Response)
	require.Equal(t, 3, count)
}

func TestLoopStopsAtMaxIterations(t *testing.T) {
	mem := store.NewMemory()
	count := 0
	inner := newFakeRunnable("inner", mem, func(input string) string {
		count++
		return "again"
	})
	alwaysContinue := func(string) bool { return true }
	lp := NewLoop("loop-2", "inner", mem, inner, "{input}", 3, alwaysContinue)

	ec := execctx.New("sess-2", "run-1", nil, abort.New())
	out, err := lp.Run(context.Background(), "start", ec)
	require.NoError(t, err)
	require.Equal(t, "again", out.Response)
	require.Equal(t, 3, count)
}

func TestLoopExposesIterationAndLastOutputToTemplate(t *testing.T) {
	mem := store.NewMemory()
	var seenInputs []string
	inner := newFakeRunnable("inner", mem, func(input string) string {
		seenInputs = append(seenInputs, input)
		return "out-" + input
	})

	calls := 0
	stopAfter2 := func(string) bool {
		calls++
		return calls < 2
	}
	lp := NewLoop("loop-3", "inner", mem, inner, "{loop.iteration}:{loop.last.inner}", 5, stopAfter2)

	ec := execctx.New("sess-3", "run-1", nil, abort.New())
	_, err := lp.Run(context.Background(), "start", ec)
	require.NoError(t, err)

	require.Equal(t, []string{"0:", "1:out-0:"}, seenInputs)
}
