package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/step"
)

// recordingLogger counts Debug/Error calls so tests can assert a failure
// path actually logged rather than silently swallowing the error.
type recordingLogger struct {
	mu     sync.Mutex
	debugN int
	errorN int
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {
	l.mu.Lock()
	l.debugN++
	l.mu.Unlock()
}
func (l *recordingLogger) Info(context.Context, string, ...any) {}
func (l *recordingLogger) Warn(context.Context, string, ...any) {}
func (l *recordingLogger) Error(context.Context, string, ...any) {
	l.mu.Lock()
	l.errorN++
	l.mu.Unlock()
}

func (l *recordingLogger) counts() (debug, errs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugN, l.errorN
}

func TestAllocateSequenceDistinctUnderConcurrency(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 100
	seqs := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			seq, err := m.AllocateSequence(ctx, "s1")
			require.NoError(t, err)
			seqs[idx] = seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, s := range seqs {
		require.False(t, seen[s], "duplicate sequence %d", s)
		seen[s] = true
	}
}

func TestSaveStepUpsertByKeyReplacesNoDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s1 := step.Step{ID: "a", SessionID: "s1", Sequence: 1, Role: step.RoleUser, Content: "hi"}
	require.NoError(t, m.SaveStep(ctx, s1))

	s1Updated := step.Step{ID: "a-replay", SessionID: "s1", Sequence: 1, Role: step.RoleUser, Content: "hi-updated"}
	require.NoError(t, m.SaveStep(ctx, s1Updated))

	steps, err := m.GetSteps(ctx, "s1", StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, "hi-updated", steps[0].Content)
	require.Equal(t, "a-replay", steps[0].ID)
}

func TestGetStepsSortedBySequence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, seq := range []int{3, 1, 2} {
		require.NoError(t, m.SaveStep(ctx, step.Step{ID: "x", SessionID: "s1", Sequence: seq}))
	}

	steps, err := m.GetSteps(ctx, "s1", StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i := 1; i < len(steps); i++ {
		require.Less(t, steps[i-1].Sequence, steps[i].Sequence)
	}
}

func TestDeleteStepsRangeDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for seq := 1; seq <= 5; seq++ {
		require.NoError(t, m.SaveStep(ctx, step.Step{ID: "x", SessionID: "s1", Sequence: seq}))
	}

	count, err := m.DeleteSteps(ctx, "s1", 3)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	steps, err := m.GetSteps(ctx, "s1", StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 2)
}

func TestGetLastStepEmptySession(t *testing.T) {
	m := NewMemory()
	_, err := m.GetLastStep(context.Background(), "empty")
	require.ErrorIs(t, err, ErrStepNotFound)
}

func TestGetMaxSequenceZeroForEmptySession(t *testing.T) {
	m := NewMemory()
	seq, err := m.GetMaxSequence(context.Background(), "empty")
	require.NoError(t, err)
	require.Equal(t, 0, seq)
}

func TestRunLifecycleAndListPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		r := step.Run{
			ID:        "r" + string(rune('0'+i)),
			SessionID: "s1",
			Status:    step.StatusRunning,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, m.SaveRun(ctx, r))
	}

	runs, err := m.ListRuns(ctx, ListRunsOptions{SessionID: "s1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Newest first: offset 1 skips the single newest run.
	require.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt) || runs[0].CreatedAt.Equal(runs[1].CreatedAt))
}

func TestDeleteRunCascadesOnlyWhenRequested(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveRun(ctx, step.Run{ID: "r1", SessionID: "s1"}))
	require.NoError(t, m.SaveStep(ctx, step.Step{ID: "st1", SessionID: "s1", Sequence: 1}))

	require.NoError(t, m.DeleteRun(ctx, "r1", DeleteRunOptions{CascadeSteps: false}))
	steps, err := m.GetSteps(ctx, "s1", StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 1, "steps must survive a non-cascading delete")

	require.NoError(t, m.SaveRun(ctx, step.Run{ID: "r2", SessionID: "s1"}))
	require.NoError(t, m.DeleteRun(ctx, "r2", DeleteRunOptions{CascadeSteps: true}))
	steps, err = m.GetSteps(ctx, "s1", StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 0, "cascading delete must remove the session's steps")
}

func TestGetStepByToolCallID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveStep(ctx, step.Step{
		ID: "tool1", SessionID: "s1", Sequence: 3, Role: step.RoleTool, ToolCallID: "c1",
	}))

	found, err := m.GetStepByToolCallID(ctx, "s1", "c1")
	require.NoError(t, err)
	require.Equal(t, "tool1", found.ID)

	_, err = m.GetStepByToolCallID(ctx, "s1", "missing")
	require.ErrorIs(t, err, ErrStepNotFound)
}

func TestWithLoggerReportsNotFoundAndStaysQuietOnCleanCascade(t *testing.T) {
	logger := &recordingLogger{}
	m := NewMemory(WithLogger(logger))
	ctx := context.Background()

	_, err := m.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrRunNotFound)

	debug, errs := logger.counts()
	require.Greater(t, debug, 0, "not-found lookup must log a Debug event")
	require.Equal(t, 0, errs)

	require.NoError(t, m.SaveRun(ctx, step.Run{ID: "r1", SessionID: "s1"}))
	require.NoError(t, m.DeleteRun(ctx, "r1", DeleteRunOptions{CascadeSteps: true}))

	_, errs = logger.counts()
	require.Equal(t, 0, errs, "a cascade delete with no steps to remove must not log an error")
}

func TestGetLastAssistantContentFiltersByNodeAndWorkflow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveStep(ctx, step.Step{
		ID: "a1", SessionID: "s1", Sequence: 1, Role: step.RoleAssistant,
		Content: "first", WorkflowID: "wf", NodeID: "n1",
	}))
	require.NoError(t, m.SaveStep(ctx, step.Step{
		ID: "a2", SessionID: "s1", Sequence: 2, Role: step.RoleAssistant,
		Content: "second", WorkflowID: "wf", NodeID: "n1",
	}))

	content, ok, err := m.GetLastAssistantContent(ctx, "s1", "n1", "wf")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", content)

	_, ok, err = m.GetLastAssistantContent(ctx, "s1", "missing-node", "wf")
	require.NoError(t, err)
	require.False(t, ok)
}
