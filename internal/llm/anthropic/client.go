// Package anthropic is a thin llm.Client adapter over the Anthropic
// Messages streaming API, grounded on the teacher's model.Client binding:
// it translates the module's provider-agnostic Message/Chunk shapes into
// Anthropic SDK calls and exists to exercise the streaming-chunk contract
// of §6, not to be a feature-complete provider client (thinking blocks,
// image content, and prompt caching are left to a real production binding).
package anthropic

import (
	"context"
	"encoding/json"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/toolkit"
)

// MessagesClient captures the subset of the Anthropic SDK used here,
// satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements llm.Client on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// New builds a Client. model is an Anthropic model identifier (e.g. one of
// the typed constants in github.com/anthropics/anthropic-sdk-go).
func New(msg MessagesClient, model string, maxTokens int64) *Client {
	return &Client{msg: msg, model: model, maxTokens: maxTokens}
}

func (c *Client) ModelName() string           { return c.model }
func (c *Client) Provider() string            { return "anthropic" }
func (c *Client) RequiresThinkingOrder() bool { return true }

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []toolkit.ToolSchema) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 32)
	errs := make(chan error, 1)

	body := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(messages),
		Tools:     toAnthropicTools(tools),
	}

	stream := c.msg.NewStreaming(ctx, body)

	go func() {
		defer close(chunks)
		defer close(errs)
		defer stream.Close()

		toolIndex := map[int64]*toolkit.ChunkToolCall{}
		for stream.Next() {
			evt := stream.Current()
			switch delta := evt.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if delta.ContentBlock.Type == "tool_use" {
					toolIndex[delta.Index] = &toolkit.ChunkToolCall{
						Index: int(delta.Index),
						ID:    delta.ContentBlock.ID,
						Type:  "function",
						Name:  delta.ContentBlock.Name,
					}
					chunks <- llm.Chunk{ToolCalls: []toolkit.ChunkToolCall{*toolIndex[delta.Index]}}
				}
			case sdk.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case sdk.TextDelta:
					chunks <- llm.Chunk{Content: d.Text}
				case sdk.InputJSONDelta:
					if tc, ok := toolIndex[delta.Index]; ok {
						frag := toolkit.ChunkToolCall{Index: tc.Index, Arguments: d.PartialJSON}
						chunks <- llm.Chunk{ToolCalls: []toolkit.ChunkToolCall{frag}}
					}
				}
			case sdk.MessageDeltaEvent:
				if delta.Usage.OutputTokens > 0 {
					chunks <- llm.Chunk{Usage: &llm.Usage{CompletionTokens: int(delta.Usage.OutputTokens)}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func toAnthropicMessages(messages []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user", "tool":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toAnthropicTools(tools []toolkit.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: schema["properties"],
		}, t.Name))
	}
	return out
}
