// Package openai is a thin llm.Client adapter over the OpenAI Chat
// Completions streaming API. It is the adapter that most directly exercises
// the index-keyed tool-call fragment merge in internal/toolkit: OpenAI
// streams tool_calls as repeated deltas keyed by array index, which is the
// shape toolkit.Accumulator was built against.
package openai

import (
	"context"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/toolkit"
)

// ChatClient captures the SDK surface used here so tests can fake it.
type ChatClient interface {
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Client implements llm.Client on top of OpenAI chat completions.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client for the given model (e.g. sdk.ChatModelGPT4o).
func New(chat ChatClient, model string) *Client {
	return &Client{chat: chat, model: model}
}

func (c *Client) ModelName() string           { return c.model }
func (c *Client) Provider() string            { return "openai" }
func (c *Client) RequiresThinkingOrder() bool { return false }

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []toolkit.ToolSchema) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 32)
	errs := make(chan error, 1)

	body := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}

	stream := c.chat.NewStreaming(ctx, body)

	go func() {
		defer close(chunks)
		defer close(errs)

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				chunks <- llm.Chunk{Content: delta.Content}
			}

			if len(delta.ToolCalls) > 0 {
				frags := make([]toolkit.ChunkToolCall, 0, len(delta.ToolCalls))
				for _, tc := range delta.ToolCalls {
					frags = append(frags, toolkit.ChunkToolCall{
						Index:     int(tc.Index),
						ID:        tc.ID,
						Type:      "function",
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
				}
				chunks <- llm.Chunk{ToolCalls: frags}
			}

			if chunk.Usage.TotalTokens > 0 {
				chunks <- llm.Chunk{Usage: &llm.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func toOpenAIMessages(messages []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func toOpenAITools(tools []toolkit.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  toFunctionParameters(t.Parameters),
		}))
	}
	return out
}

func toFunctionParameters(raw []byte) shared.FunctionParameters {
	var params shared.FunctionParameters
	_ = params.UnmarshalJSON(raw)
	return params
}
