package toolkit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorMergesFragmentsByIndex(t *testing.T) {
	a := NewAccumulator()
	a.Add(ChunkToolCall{Index: 0, ID: "c1", Type: "function", Name: "ls"})
	a.Add(ChunkToolCall{Index: 0, Arguments: `{"path":`})
	a.Add(ChunkToolCall{Index: 0, Arguments: `"."}`})
	a.Add(ChunkToolCall{Index: 1, ID: "c2", Name: "cat"})

	calls := a.Finalize()
	require.Len(t, calls, 2)
	require.Equal(t, "c1", calls[0].ID)
	require.Equal(t, "ls", calls[0].Name)
	require.Equal(t, `{"path":"."}`, calls[0].Arguments)
	require.Equal(t, "c2", calls[1].ID)
}

func TestAccumulatorDropsEntriesWithoutID(t *testing.T) {
	a := NewAccumulator()
	a.Add(ChunkToolCall{Index: 0, Name: "orphan"})
	require.Empty(t, a.Finalize())
	require.False(t, a.IsEmpty())
}

func TestAccumulatorEmpty(t *testing.T) {
	a := NewAccumulator()
	require.True(t, a.IsEmpty())
	require.Empty(t, a.Finalize())
}
