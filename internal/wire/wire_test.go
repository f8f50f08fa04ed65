package wire

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai/agentrun/internal/step"
)

// recordingLogger counts Debug calls, for asserting the lossy-drop
// backpressure path reports through the attached Logger.
type recordingLogger struct {
	mu     sync.Mutex
	debugN int
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {
	l.mu.Lock()
	l.debugN++
	l.mu.Unlock()
}
func (l *recordingLogger) Info(context.Context, string, ...any)  {}
func (l *recordingLogger) Warn(context.Context, string, ...any)  {}
func (l *recordingLogger) Error(context.Context, string, ...any) {}

func (l *recordingLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugN
}

func TestSubscribeReceivesEvents(t *testing.T) {
	w := New(4)
	sub := w.Subscribe()

	w.Emit(step.Event{Kind: step.EventRunStarted, RunID: "r1"})
	w.Emit(step.Event{Kind: step.EventStepCompleted, RunID: "r1", StepID: "s1"})

	evt := <-sub.Events()
	require.Equal(t, step.EventRunStarted, evt.Kind)
	evt = <-sub.Events()
	require.Equal(t, step.EventStepCompleted, evt.Kind)
}

func TestCloseTerminatesStream(t *testing.T) {
	w := New(4)
	sub := w.Subscribe()
	w.Close()

	_, ok := <-sub.Events()
	require.False(t, ok)
}

func TestStepDeltaDroppedUnderBackpressureStepCompletedNeverDropped(t *testing.T) {
	w := New(2)
	sub := w.Subscribe()

	// Fill the buffer with deltas, then overflow it — oldest deltas must be
	// dropped, never the completion event. The completion Emit blocks until
	// the reader below makes room, so it runs on its own goroutine.
	for i := 0; i < 5; i++ {
		w.Emit(step.Event{Kind: step.EventStepDelta, StepID: "s1"})
	}
	go w.Emit(step.Event{Kind: step.EventStepCompleted, StepID: "s1"})

	var gotCompleted bool
	timeout := time.After(time.Second)
	for !gotCompleted {
		select {
		case evt := <-sub.Events():
			if evt.Kind == step.EventStepCompleted {
				gotCompleted = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for STEP_COMPLETED")
		}
	}
}

func TestWithLoggerReportsDroppedDeltas(t *testing.T) {
	logger := &recordingLogger{}
	w := New(2, WithLogger(logger))
	sub := w.Subscribe()

	for i := 0; i < 5; i++ {
		w.Emit(step.Event{Kind: step.EventStepDelta, StepID: "s1"})
	}
	go w.Emit(step.Event{Kind: step.EventStepCompleted, StepID: "s1"})

	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-sub.Events():
			if evt.Kind == step.EventStepCompleted {
				require.Greater(t, logger.count(), 0)
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for STEP_COMPLETED")
		}
	}
}

func TestSubscribeAfterCloseGetsClosedChannel(t *testing.T) {
	w := New(4)
	w.Close()
	sub := w.Subscribe()
	_, ok := <-sub.Events()
	require.False(t, ok)
}
