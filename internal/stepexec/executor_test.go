package stepexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/llm"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/toolkit"
	"github.com/goa-ai/agentrun/internal/wire"
)

// fakeClient replays a fixed sequence of turns, one []llm.Chunk slice per
// call to Stream, so tests can script a tool-call-then-final-answer loop
// without a live provider.
type fakeClient struct {
	turns [][]llm.Chunk
	n     int
}

func (f *fakeClient) ModelName() string           { return "fake-model" }
func (f *fakeClient) Provider() string             { return "fake" }
func (f *fakeClient) RequiresThinkingOrder() bool  { return false }

func (f *fakeClient) Stream(_ context.Context, _ []llm.Message, _ []toolkit.ToolSchema) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 16)
	errs := make(chan error, 1)

	turn := f.turns[f.n]
	f.n++
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range turn {
			chunks <- c
		}
	}()
	return chunks, errs
}

func newCtx(w *wire.Wire) execctx.Context {
	return execctx.New("sess-1", "run-1", w, abort.New())
}

func TestExecutorTerminatesWithoutToolCalls(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{{Content: "hello "}, {Content: "world"}},
	}}
	mem := store.NewMemory()
	reg := toolkit.NewRegistry()
	ex := New(client, mem, reg, Options{})

	content, err := ex.Run(context.Background(), newCtx(nil), []llm.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "hello world", content)

	steps, err := mem.GetSteps(context.Background(), "sess-1", store.StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, step.RoleAssistant, steps[0].Role)
}

func TestExecutorExecutesToolThenContinues(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{
			{ToolCalls: []toolkit.ChunkToolCall{{Index: 0, ID: "c1", Type: "function", Name: "echo"}}},
			{ToolCalls: []toolkit.ChunkToolCall{{Index: 0, Arguments: `{"msg":"hi"}`}}},
		},
		{{Content: "done"}},
	}}

	mem := store.NewMemory()
	reg := toolkitRegistryWithEcho(t)
	ex := New(client, mem, reg, Options{})

	content, err := ex.Run(context.Background(), newCtx(nil), []llm.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "done", content)

	steps, err := mem.GetSteps(context.Background(), "sess-1", store.StepFilter{})
	require.NoError(t, err)
	require.Len(t, steps, 3) // assistant(tool_call) -> tool -> assistant(final)
	require.Equal(t, step.RoleAssistant, steps[0].Role)
	require.Equal(t, step.RoleTool, steps[1].Role)
	require.Equal(t, step.RoleAssistant, steps[2].Role)
}

func TestExecutorEmitsDeltaAndCompletedEvents(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{{Content: "a"}, {Content: "b"}},
	}}
	mem := store.NewMemory()
	w := wire.New(8)
	sub := w.Subscribe()
	ex := New(client, mem, toolkit.NewRegistry(), Options{})

	_, err := ex.Run(context.Background(), newCtx(w), []llm.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	w.Close()

	var kinds []step.EventKind
	for ev := range sub.Events() {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(t, kinds, step.EventStepDelta)
	require.Contains(t, kinds, step.EventStepCompleted)
}

func toolkitRegistryWithEcho(t *testing.T) *toolkit.Registry {
	t.Helper()
	return toolkit.NewRegistry(&scriptedEcho{})
}

// scriptedEcho mirrors the signature toolkit.Tool requires, with a nil
// schema (a tool with no declared parameters).
type scriptedEcho struct{}

func (scriptedEcho) Name() string                { return "echo" }
func (scriptedEcho) Description() string         { return "echoes its input" }
func (scriptedEcho) Parameters() json.RawMessage { return nil }
func (scriptedEcho) IsConcurrencySafe() bool     { return true }
func (scriptedEcho) Execute(_ context.Context, args map[string]any, _ execctx.Context, _ *abort.Signal) (step.ToolResult, error) {
	msg, _ := args["msg"].(string)
	return step.ToolResult{IsSuccess: true, Content: msg}, nil
}
