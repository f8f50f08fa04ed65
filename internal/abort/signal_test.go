package abort

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalLatchesFirstReason(t *testing.T) {
	s := New()
	require.False(t, s.IsAborted())
	s.Abort("first")
	s.Abort("second")
	require.True(t, s.IsAborted())
	require.Equal(t, "first", s.Reason())

	err := s.Err()
	require.Error(t, err)
	var cancelErr *CancelError
	require.ErrorAs(t, err, &cancelErr)
	require.Equal(t, "first", cancelErr.Reason)
}

func TestSignalConcurrentAbort(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Abort("concurrent")
		}()
	}
	wg.Wait()
	require.True(t, s.IsAborted())
}

func TestZeroSignalNotAborted(t *testing.T) {
	var s Signal
	require.False(t, s.IsAborted())
	require.NoError(t, s.Err())
}
