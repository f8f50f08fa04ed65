package runnable

import (
	"context"
	"errors"
	"time"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
)

// Work is the body a concrete Runnable supplies to RunLifecycle: it does
// the actual work and returns the final response content plus the token
// usage accumulated while producing it.
type Work func(ctx context.Context) (response string, metrics step.RunMetrics, err error)

// RunLifecycle wraps fn in the status machine and RUN_* event emission of
// §4.9. Every Runnable implementation calls this exactly once per Run call
// rather than emitting RUN_STARTED/RUN_COMPLETED/RUN_FAILED itself.
func RunLifecycle(ctx context.Context, st store.Store, ec execctx.Context, runnableID string, typ Type, inputQuery string, fn Work) (RunOutput, error) {
	logger := ec.Logger()
	ctx, span := ec.Tracer().Start(ctx, "runnable.run")
	span.AddEvent("run.runnable", "runnable_id", runnableID, "runnable_type", string(typ))
	defer span.End()

	start := time.Now()
	run := step.Run{
		ID:           ec.RunID,
		SessionID:    ec.SessionID,
		RunnableID:   runnableID,
		RunnableType: string(typ),
		InputQuery:   inputQuery,
		Status:       step.StatusRunning,
		ParentRunID:  ec.ParentRunID,
		Metrics:      step.RunMetrics{StartTime: start},
		CreatedAt:    start,
	}
	if err := st.SaveRun(ctx, run); err != nil {
		logger.Error(ctx, "lifecycle: save run failed", "run_id", ec.RunID, "runnable_id", runnableID, "error", err.Error())
		span.RecordError(err)
		return RunOutput{}, err
	}
	logger.Info(ctx, "lifecycle: run started", "run_id", ec.RunID, "runnable_id", runnableID, "runnable_type", string(typ))
	emitRunEvent(ec, step.EventRunStarted, "", "")

	response, metrics, err := runGuarded(ctx, fn)

	run.Metrics = metrics
	run.Metrics.StartTime = start
	run.Metrics.EndTime = time.Now()
	run.Metrics.DurationMS = run.Metrics.EndTime.Sub(start).Milliseconds()

	if err != nil {
		var cancelErr *abort.CancelError
		if errors.As(err, &cancelErr) {
			run.Status = step.StatusCancelled
		} else {
			run.Status = step.StatusFailed
		}
		logger.Error(ctx, "lifecycle: run failed", "run_id", ec.RunID, "runnable_id", runnableID, "status", string(run.Status), "error", err.Error())
		span.RecordError(err)
		if saveErr := st.SaveRun(ctx, run); saveErr != nil {
			logger.Error(ctx, "lifecycle: save failed run failed", "run_id", ec.RunID, "error", saveErr.Error())
			return RunOutput{}, saveErr
		}
		emitRunEvent(ec, step.EventRunFailed, "", err.Error())
		return RunOutput{RunID: ec.RunID, Metrics: run.Metrics}, err
	}

	run.Status = step.StatusCompleted
	run.ResponseContent = response
	if err := st.SaveRun(ctx, run); err != nil {
		logger.Error(ctx, "lifecycle: save completed run failed", "run_id", ec.RunID, "error", err.Error())
		span.RecordError(err)
		return RunOutput{}, err
	}
	logger.Info(ctx, "lifecycle: run completed", "run_id", ec.RunID, "runnable_id", runnableID, "duration_ms", run.Metrics.DurationMS)
	emitRunEvent(ec, step.EventRunCompleted, response, "")

	return RunOutput{RunID: ec.RunID, Response: response, Metrics: run.Metrics}, nil
}

// runGuarded recovers a panicking Work body into the "exited without
// output" failure §4.9 names for a buggy caller, rather than letting it
// escape past the lifecycle boundary.
func runGuarded(ctx context.Context, fn Work) (response string, metrics step.RunMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errExitedWithoutOutput(r)
		}
	}()
	return fn(ctx)
}

type exitedWithoutOutputError struct{ cause any }

func (e *exitedWithoutOutputError) Error() string {
	return "runnable exited without producing an output or an error"
}

func errExitedWithoutOutput(cause any) error {
	return &exitedWithoutOutputError{cause: cause}
}

func emitRunEvent(ec execctx.Context, kind step.EventKind, response, errMsg string) {
	if ec.Wire == nil {
		return
	}
	ec.Wire.Emit(step.Event{
		Kind:             kind,
		RunID:            ec.RunID,
		ParentRunID:      ec.ParentRunID,
		Depth:            ec.Depth,
		NestedRunnableID: ec.RunnableID,
		Timestamp:        time.Now(),
		Response:         response,
		Error:            errMsg,
	})
}
