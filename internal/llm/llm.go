// Package llm defines the provider-agnostic streaming chat-completion
// contract the core requires (§6) and the chunk/fragment shapes the Step
// Executor assembles into Steps. Concrete provider bindings live in the
// llm/anthropic, llm/openai, and llm/bedrock subpackages; the core never
// imports those directly — only this package's interfaces.
package llm

import (
	"context"
	"encoding/json"

	"github.com/goa-ai/agentrun/internal/toolkit"
)

// Message is one entry of the conversation handed to Stream. It mirrors the
// message-adapter output of §4.8: role plus content plus, for assistant
// messages, tool_calls, and for tool messages, tool_call_id/name.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string
	Name       string
}

// ToolCallRequest is an assistant-declared tool invocation as it appears in
// a reconstructed Message (as opposed to a streaming fragment).
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// Usage reports token accounting for one LLM call, when the provider
// supplies it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one item of the streamed response (§6).
type Chunk struct {
	Content   string
	ToolCalls []toolkit.ChunkToolCall
	Usage     *Usage
}

// Client is the streaming chat-completions interface the core requires.
type Client interface {
	// Stream initiates a streaming call and returns an iterator-shaped
	// channel of Chunks. The channel is closed when the stream ends; any
	// terminal error is delivered via errs before closing, mirroring a
	// single-value-or-error iterator without requiring generics-heavy
	// iterator types across the module boundary.
	Stream(ctx context.Context, messages []Message, tools []toolkit.ToolSchema) (<-chan Chunk, <-chan error)

	// ModelName and Provider identify the client for step.Metrics tagging.
	ModelName() string
	Provider() string

	// RequiresThinkingOrder reports whether this provider enforces the
	// thinking→tool_use→tool_result assembly order validated by
	// stepexec's optional Bedrock-shaped check (SPEC_FULL §2/§3.7).
	RequiresThinkingOrder() bool
}

// MarshalArguments is a small helper adapters use to turn a typed tool
// input into the string form step.ToolCall.Arguments expects.
func MarshalArguments(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
