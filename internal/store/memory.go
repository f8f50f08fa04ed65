package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/telemetry"
)

// sessionState holds everything the in-memory Store tracks for one session.
// maxSeq is tracked independently of len(steps) because allocate_sequence
// must not reclaim gaps left by reservations that were never committed
// (§4.1).
type sessionState struct {
	mu     sync.Mutex
	maxSeq int
	// steps is keyed by sequence for O(1) upsert; ordering is recomputed on
	// read via sortedSteps.
	steps map[int]step.Step
}

// Memory is the in-memory Store implementation: the primary,
// conformance-tested backend for this module. It is safe for concurrent
// use by multiple goroutines.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	runs     map[string]step.Run
	logger   telemetry.Logger
}

// Option configures a Memory Store at construction time.
type Option func(*Memory)

// WithLogger attaches a Logger used to report not-found lookups and
// cascade-delete failures.
func WithLogger(logger telemetry.Logger) Option {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory constructs an empty in-memory Store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		sessions: make(map[string]*sessionState),
		runs:     make(map[string]step.Run),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) session(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &sessionState{steps: make(map[int]step.Step)}
		m.sessions[sessionID] = s
	}
	return s
}

// AllocateSequence implements Store. Allocation is serialized per session
// via the session's own mutex — the only hot spot per §9 — so distinct
// concurrent callers always observe distinct, monotonically increasing
// values.
func (m *Memory) AllocateSequence(_ context.Context, sessionID string) (int, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSeq++
	return s.maxSeq, nil
}

// SaveStep implements Store: upsert by (session_id, sequence).
func (m *Memory) SaveStep(_ context.Context, st step.Step) error {
	s := m.session(st.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[st.Sequence] = st
	if st.Sequence > s.maxSeq {
		s.maxSeq = st.Sequence
	}
	return nil
}

// SaveStepsBatch implements Store.
func (m *Memory) SaveStepsBatch(ctx context.Context, steps []step.Step) error {
	for _, s := range steps {
		if err := m.SaveStep(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func matchesFilter(s step.Step, f StepFilter) bool {
	if f.StartSeq != 0 && s.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq != 0 && s.Sequence > f.EndSeq {
		return false
	}
	if f.RunID != "" && s.RunID != f.RunID {
		return false
	}
	if f.WorkflowID != "" && s.WorkflowID != f.WorkflowID {
		return false
	}
	if f.NodeID != "" && s.NodeID != f.NodeID {
		return false
	}
	if f.BranchKey != "" && s.BranchKey != f.BranchKey {
		return false
	}
	if f.RunnableID != "" && s.RunnableID != f.RunnableID {
		return false
	}
	return true
}

// GetSteps implements Store: always returns results sorted ascending by
// sequence, regardless of insertion order.
func (m *Memory) GetSteps(_ context.Context, sessionID string, filter StepFilter) ([]step.Step, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]step.Step, 0, len(s.steps))
	for _, st := range s.steps {
		if matchesFilter(st, filter) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetLastStep implements Store.
func (m *Memory) GetLastStep(ctx context.Context, sessionID string) (step.Step, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var best step.Step
	found := false
	for _, st := range s.steps {
		if !found || st.Sequence > best.Sequence {
			best = st
			found = true
		}
	}
	if !found {
		m.logger.Debug(ctx, "store: no steps for session", "session_id", sessionID)
		return step.Step{}, ErrStepNotFound
	}
	return best, nil
}

// GetMaxSequence implements Store.
func (m *Memory) GetMaxSequence(_ context.Context, sessionID string) (int, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeq, nil
}

// DeleteSteps implements Store: range delete of sequence >= startSeq. This
// does not reset maxSeq — a subsequent AllocateSequence still advances
// past whatever was deleted, matching retry's expectation that a retried
// run reuses the session without re-colliding on old sequence numbers that
// might still be referenced elsewhere (e.g. cached Workflow State keyed by
// node_id rather than sequence).
func (m *Memory) DeleteSteps(_ context.Context, sessionID string, startSeq int) (int, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for seq := range s.steps {
		if seq >= startSeq {
			delete(s.steps, seq)
			count++
		}
	}
	return count, nil
}

// SaveRun implements Store.
func (m *Memory) SaveRun(_ context.Context, r step.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

// GetRun implements Store.
func (m *Memory) GetRun(ctx context.Context, runID string) (step.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		m.logger.Debug(ctx, "store: run not found", "run_id", runID)
		return step.Run{}, ErrRunNotFound
	}
	return r, nil
}

// ListRuns implements Store, newest-first, honoring Limit/Offset.
func (m *Memory) ListRuns(_ context.Context, opts ListRunsOptions) ([]step.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]step.Run, 0)
	for _, r := range m.runs {
		if opts.SessionID != "" && r.SessionID != opts.SessionID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []step.Run{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteRun implements Store, cascading to Steps only when opts.CascadeSteps
// is set (SPEC_FULL §4).
func (m *Memory) DeleteRun(ctx context.Context, runID string, opts DeleteRunOptions) error {
	m.mu.Lock()
	r, ok := m.runs[runID]
	if ok {
		delete(m.runs, runID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug(ctx, "store: run not found for delete", "run_id", runID)
		return ErrRunNotFound
	}
	if opts.CascadeSteps && r.SessionID != "" {
		if _, err := m.DeleteSteps(ctx, r.SessionID, 0); err != nil {
			wrapped := fmt.Errorf("cascade delete steps for session %s: %w", r.SessionID, err)
			m.logger.Error(ctx, "store: cascade delete failed", "run_id", runID, "session_id", r.SessionID, "error", wrapped.Error())
			return wrapped
		}
	}
	return nil
}

// GetStepByToolCallID implements Store.
func (m *Memory) GetStepByToolCallID(ctx context.Context, sessionID, toolCallID string) (step.Step, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		if st.Role == step.RoleTool && st.ToolCallID == toolCallID {
			return st, nil
		}
	}
	m.logger.Debug(ctx, "store: tool call step not found", "session_id", sessionID, "tool_call_id", toolCallID)
	return step.Step{}, ErrStepNotFound
}

// GetLastAssistantContent implements Store.
func (m *Memory) GetLastAssistantContent(_ context.Context, sessionID, nodeID, workflowID string) (string, bool, error) {
	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var best step.Step
	found := false
	for _, st := range s.steps {
		if st.Role != step.RoleAssistant {
			continue
		}
		if nodeID != "" && st.NodeID != nodeID {
			continue
		}
		if workflowID != "" && st.WorkflowID != workflowID {
			continue
		}
		if !found || st.Sequence > best.Sequence {
			best = st
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	return best.Content, true, nil
}
