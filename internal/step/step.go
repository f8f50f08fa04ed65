// Package step defines the durable domain model of a conversation
// trajectory: Steps, Runs, the typed StepEvent stream, and the metrics
// that travel alongside them. Types here are immutable by convention —
// callers must treat a Step or Run value as a snapshot and construct a
// new value rather than mutate one in place.
package step

import "time"

// Role identifies who produced a Step's content.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is one assistant-declared tool invocation request. Arguments is
// kept as a raw string (not json.RawMessage) because streaming providers
// deliver it as a concatenated fragment that is not guaranteed to be valid
// JSON until the final fragment arrives.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Metrics captures the observable cost of producing a Step.
type Metrics struct {
	DurationMS         int64  `json:"duration_ms,omitempty"`
	FirstTokenLatencyMS int64 `json:"first_token_latency_ms,omitempty"`
	InputTokens        int    `json:"input_tokens,omitempty"`
	OutputTokens       int    `json:"output_tokens,omitempty"`
	TotalTokens        int    `json:"total_tokens,omitempty"`
	ToolExecTimeMS     int64  `json:"tool_exec_time_ms,omitempty"`
	ModelName          string `json:"model_name,omitempty"`
	Provider           string `json:"provider,omitempty"`
}

// Add accumulates another Metrics into m, summing counters and durations
// and keeping the first non-empty ModelName/Provider seen. Used by Agent to
// roll up metrics across every Step produced in a run.
func (m *Metrics) Add(other Metrics) {
	m.DurationMS += other.DurationMS
	m.ToolExecTimeMS += other.ToolExecTimeMS
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.TotalTokens += other.TotalTokens
	if m.FirstTokenLatencyMS == 0 {
		m.FirstTokenLatencyMS = other.FirstTokenLatencyMS
	}
	if m.ModelName == "" {
		m.ModelName = other.ModelName
	}
	if m.Provider == "" {
		m.Provider = other.Provider
	}
}

// Step is a single recorded event in a conversation trajectory. The ordered
// list of Steps for a session, after the message-adapter projection
// (see internal/workflow/state.ToLLMMessage), is exactly the conversation
// the LLM should see.
type Step struct {
	ID       string `json:"id"`
	SessionID string `json:"session_id"`
	RunID    string `json:"run_id"`
	// Sequence is monotonic within SessionID. (SessionID, Sequence) is unique.
	Sequence int  `json:"sequence"`
	Role     Role `json:"role"`
	// Content may be empty; Step carries no separate null marker, so null
	// and empty content are both the empty string.
	Content string `json:"content,omitempty"`

	// ToolCalls is populated only for RoleAssistant steps that requested
	// tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are populated only for RoleTool steps.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// Workflow placement metadata. All may be empty for a bare Agent run.
	WorkflowID   string `json:"workflow_id,omitempty"`
	NodeID       string `json:"node_id,omitempty"`
	ParentRunID  string `json:"parent_run_id,omitempty"`
	BranchKey    string `json:"branch_key,omitempty"`
	Iteration    *int   `json:"iteration,omitempty"`

	RunnableID   string `json:"runnable_id,omitempty"`
	RunnableType string `json:"runnable_type,omitempty"`

	TraceID      string `json:"trace_id,omitempty"`
	SpanID       string `json:"span_id,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Depth        int    `json:"depth"`

	Metrics Metrics `json:"metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// RunMetrics aggregates the cost of one Runnable.run invocation.
type RunMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	InputTokens    int       `json:"input_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	TotalTokens    int       `json:"total_tokens,omitempty"`
	ToolCallsCount int       `json:"tool_calls_count,omitempty"`
}

// Run represents one call to Runnable.run.
type Run struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	RunnableID      string     `json:"runnable_id"`
	RunnableType    string     `json:"runnable_type"`
	InputQuery      string     `json:"input_query"`
	ResponseContent string     `json:"response_content,omitempty"`
	Status          Status     `json:"status"`
	ParentRunID     string     `json:"parent_run_id,omitempty"`
	Metrics         RunMetrics `json:"metrics"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ToolResult is the value returned by a tool invocation.
type ToolResult struct {
	ToolName   string        `json:"tool_name"`
	ToolCallID string        `json:"tool_call_id"`
	InputArgs  string        `json:"input_args"`
	Content    string        `json:"content"`
	Output     any           `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	IsSuccess  bool          `json:"is_success"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
}
