package toolkit

import "github.com/goa-ai/agentrun/internal/step"

// ChunkToolCall is the provider-agnostic fragment shape streaming LLM
// clients deliver for an in-progress tool call (§6): fields other than
// Index may be absent on any given fragment and are merged by the
// Accumulator as they arrive.
type ChunkToolCall struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// Accumulator merges streaming tool-call fragments by Index (§4.3):
// Id/Type are overwritten by the latest fragment, Name/Arguments are
// string-concatenated (OpenAI semantics — the last write for Arguments is
// a concatenation, never a replacement).
type Accumulator struct {
	order   []int
	entries map[int]*entry
}

type entry struct {
	id, typ, name, arguments string
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[int]*entry)}
}

// Add merges one fragment into the accumulator.
func (a *Accumulator) Add(frag ChunkToolCall) {
	e, ok := a.entries[frag.Index]
	if !ok {
		e = &entry{}
		a.entries[frag.Index] = e
		a.order = append(a.order, frag.Index)
	}
	if frag.ID != "" {
		e.id = frag.ID
	}
	if frag.Type != "" {
		e.typ = frag.Type
	}
	e.name += frag.Name
	e.arguments += frag.Arguments
}

// Finalize returns the accumulated tool calls in first-seen index order.
// Per §4.3, only entries with a non-empty Id are included in the result.
func (a *Accumulator) Finalize() []step.ToolCall {
	out := make([]step.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		e := a.entries[idx]
		if e.id == "" {
			continue
		}
		out = append(out, step.ToolCall{ID: e.id, Name: e.name, Arguments: e.arguments})
	}
	return out
}

// IsEmpty reports whether any fragment has been accumulated.
func (a *Accumulator) IsEmpty() bool {
	return len(a.order) == 0
}
