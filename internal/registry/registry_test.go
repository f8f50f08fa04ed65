package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/abort"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := New()
	sig := abort.New()

	_, ok := r.Lookup("run-1")
	require.False(t, ok)

	r.Register("run-1", sig)
	got, ok := r.Lookup("run-1")
	require.True(t, ok)
	require.Same(t, sig, got)

	r.Unregister("run-1")
	_, ok = r.Lookup("run-1")
	require.False(t, ok)
}

func TestCancelAbortsRegisteredSignal(t *testing.T) {
	r := New()
	sig := abort.New()
	r.Register("run-1", sig)

	require.NoError(t, r.Cancel("run-1", "user requested stop"))
	require.True(t, sig.IsAborted())
	require.Equal(t, "user requested stop", sig.Reason())
}

func TestCancelUnknownRunReturnsError(t *testing.T) {
	r := New()
	err := r.Cancel("missing", "whatever")
	require.Error(t, err)
}
