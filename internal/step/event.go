package step

import "time"

// EventKind enumerates the typed StepEvent stream.
type EventKind string

const (
	EventRunStarted    EventKind = "RUN_STARTED"
	EventRunCompleted  EventKind = "RUN_COMPLETED"
	EventRunFailed     EventKind = "RUN_FAILED"
	EventStepDelta     EventKind = "STEP_DELTA"
	EventStepCompleted EventKind = "STEP_COMPLETED"
)

// Delta carries an incremental piece of a Step under construction.
type Delta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Event is the typed event-stream currency emitted onto a Wire.
//
// Invariant: for a given StepID, zero or more EventStepDelta precede
// exactly one EventStepCompleted. RUN_STARTED always precedes any STEP_*
// event of the same run; RUN_COMPLETED/RUN_FAILED always follows them.
type Event struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id"`
	// ParentRunID is set for nested runs (Runnable-as-Tool, composite workflows).
	ParentRunID      string    `json:"parent_run_id,omitempty"`
	Depth            int       `json:"depth"`
	NestedRunnableID string    `json:"nested_runnable_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`

	// StepID + Delta are set for EventStepDelta.
	StepID string `json:"step_id,omitempty"`
	Delta  *Delta `json:"delta,omitempty"`

	// Step is set for EventStepCompleted: the full finalized snapshot.
	Step *Step `json:"step,omitempty"`

	// Run-lifecycle fields, set for RUN_* events.
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
