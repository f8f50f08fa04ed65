// Package store defines the Session Store contract (§4.1): the
// append-with-idempotency persistence model over which Steps, Runs, and
// sequence allocation are defined. Every Runnable implementation in this
// module is written only against this interface, never against a concrete
// backend — see store/mongostore for the reference production mapping and
// this package's Memory type for the conformance-tested default.
package store

import (
	"context"
	"errors"

	"github.com/goa-ai/agentrun/internal/step"
)

// Sentinel errors returned by Store implementations. Implementations must
// return these (or wrap them with %w) rather than ad hoc strings so callers
// can branch with errors.Is.
var (
	ErrStepNotFound = errors.New("store: step not found")
	ErrRunNotFound  = errors.New("store: run not found")
)

// StepFilter narrows a get_steps query (§4.1). All non-zero fields are
// ANDed together. Limit <= 0 means unlimited.
type StepFilter struct {
	StartSeq   int
	EndSeq     int
	RunID      string
	WorkflowID string
	NodeID     string
	BranchKey  string
	RunnableID string
	Limit      int
}

// ListRunsOptions narrows list_runs (§4.1), extended with the pagination
// the original Python implementation offers (SPEC_FULL §4).
type ListRunsOptions struct {
	SessionID string
	Limit     int
	Offset    int
}

// DeleteRunOptions controls whether delete_run cascades to the run's Steps.
// The core never relies on cascading (§4.1); CascadeSteps defaults to false
// so callers opt in explicitly, matching the original implementation's
// behavior only when asked for.
type DeleteRunOptions struct {
	CascadeSteps bool
}

// Store is the Session Store contract of §4.1.
type Store interface {
	// AllocateSequence atomically returns an integer strictly greater than
	// the maximum sequence currently persisted for sessionID. Concurrent
	// callers receive distinct values; linearizable per session.
	AllocateSequence(ctx context.Context, sessionID string) (int, error)

	// SaveStep upserts by (session_id, sequence): a Step with the same key
	// already present is replaced in place, never duplicated.
	SaveStep(ctx context.Context, s step.Step) error

	// SaveStepsBatch is a bulk variant of SaveStep. Atomicity per Step is
	// sufficient; the whole batch need not be one transaction.
	SaveStepsBatch(ctx context.Context, steps []step.Step) error

	// GetSteps returns Steps matching filter sorted ascending by sequence.
	GetSteps(ctx context.Context, sessionID string, filter StepFilter) ([]step.Step, error)

	// GetLastStep returns the Step with maximum sequence, or ErrStepNotFound
	// if the session has no Steps.
	GetLastStep(ctx context.Context, sessionID string) (step.Step, error)

	// GetMaxSequence returns 0 if the session has no Steps.
	GetMaxSequence(ctx context.Context, sessionID string) (int, error)

	// DeleteSteps deletes all Steps with sequence >= startSeq and returns
	// the count removed.
	DeleteSteps(ctx context.Context, sessionID string, startSeq int) (int, error)

	// SaveRun upserts a Run by ID.
	SaveRun(ctx context.Context, r step.Run) error
	// GetRun returns ErrRunNotFound if runID is unknown.
	GetRun(ctx context.Context, runID string) (step.Run, error)
	// ListRuns returns Runs for a session, newest first, honoring pagination.
	ListRuns(ctx context.Context, opts ListRunsOptions) ([]step.Run, error)
	// DeleteRun removes the Run record, cascading to Steps per opts.
	DeleteRun(ctx context.Context, runID string, opts DeleteRunOptions) error

	// GetStepByToolCallID finds the tool Step answering a given assistant
	// tool_call id within a session.
	GetStepByToolCallID(ctx context.Context, sessionID, toolCallID string) (step.Step, error)

	// GetLastAssistantContent returns the content of the most recent
	// assistant Step matching workflowID/nodeID (workflowID may be empty to
	// match any). Used by the Context Resolver (§4.8).
	GetLastAssistantContent(ctx context.Context, sessionID, nodeID, workflowID string) (string, bool, error)
}
