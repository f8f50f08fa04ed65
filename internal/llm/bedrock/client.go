// Package bedrock is a thin llm.Client adapter over the Bedrock Converse
// Stream API, used for models (notably Claude via Bedrock) that enforce a
// strict thinking→tool_use→tool_result content ordering. RequiresThinkingOrder
// reports true here so internal/stepexec's optional ordering check is
// exercised for at least one provider.
package bedrock

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go/document"

	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/toolkit"
)

// ConverseStreamAPI captures the subset of the Bedrock runtime client used
// here, satisfied by *bedrockruntime.Client.
type ConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements llm.Client against Bedrock's ConverseStream API.
type Client struct {
	api     ConverseStreamAPI
	modelID string
}

// New builds a Client for the given Bedrock model identifier (inference
// profile ARN or foundation model id).
func New(api ConverseStreamAPI, modelID string) *Client {
	return &Client{api: api, modelID: modelID}
}

func (c *Client) ModelName() string           { return c.modelID }
func (c *Client) Provider() string            { return "bedrock" }
func (c *Client) RequiresThinkingOrder() bool { return true }

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []toolkit.ToolSchema) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 32)
	errs := make(chan error, 1)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    &c.modelID,
		Messages:   toBedrockMessages(messages),
		ToolConfig: toBedrockToolConfig(tools),
	}

	out, err := c.api.ConverseStream(ctx, input)
	if err != nil {
		go func() {
			errs <- err
			close(chunks)
			close(errs)
		}()
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := out.GetStream()
		defer stream.Close()

		toolIndex := map[int32]string{}
		for event := range stream.Events() {
			switch v := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolIndex[v.Value.ContentBlockIndex] = toolkitOrEmpty(tu.Value.Name)
					chunks <- llm.Chunk{ToolCalls: []toolkit.ChunkToolCall{{
						Index: int(v.Value.ContentBlockIndex),
						ID:    toolkitOrEmpty(tu.Value.ToolUseId),
						Type:  "function",
						Name:  toolkitOrEmpty(tu.Value.Name),
					}}}
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					chunks <- llm.Chunk{Content: d.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					chunks <- llm.Chunk{ToolCalls: []toolkit.ChunkToolCall{{
						Index:     int(v.Value.ContentBlockIndex),
						Arguments: toolkitOrEmpty(d.Value.Input),
					}}}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if u := v.Value.Usage; u != nil {
					chunks <- llm.Chunk{Usage: &llm.Usage{
						PromptTokens:     int(derefInt32(u.InputTokens)),
						CompletionTokens: int(derefInt32(u.OutputTokens)),
						TotalTokens:      int(derefInt32(u.TotalTokens)),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func toolkitOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt32(i *int32) int32 {
	if i == nil {
		return 0
	}
	return *i
}

func toBedrockMessages(messages []llm.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		var role types.ConversationRole
		switch m.Role {
		case "assistant":
			role = types.ConversationRoleAssistant
		default:
			role = types.ConversationRoleUser
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func toBedrockToolConfig(tools []toolkit.ToolSchema) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        &t.Name,
				Description: &t.Description,
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: toDocument(t.Parameters),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

// toDocument adapts a raw JSON Schema object into the smithy document.
// Interface Bedrock's InputSchema expects.
func toDocument(raw json.RawMessage) document.Interface {
	var v any
	_ = json.Unmarshal(raw, &v)
	return document.NewLazyDocument(v)
}
