// Package runnable defines the Runnable contract (§4.6) uniformly
// implemented by Agent and every composite workflow, plus the Run Lifecycle
// wrapper (§4.9) every concrete Runnable is run behind.
package runnable

import (
	"context"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/step"
)

// Type enumerates the kinds of Runnable the registry and telemetry layers
// tag Steps/Runs with.
type Type string

const (
	TypeAgent    Type = "agent"
	TypePipeline Type = "pipeline"
	TypeParallel Type = "parallel"
	TypeLoop     Type = "loop"
)

// RunOutput is the value every Runnable.Run call resolves to on success.
type RunOutput struct {
	RunID    string
	Response string
	Metrics  step.RunMetrics
}

// Runnable is the uniform contract: exactly one RUN_STARTED and exactly one
// RUN_COMPLETED or RUN_FAILED event is emitted onto ec.Wire per call,
// regardless of which concrete implementation runs.
type Runnable interface {
	ID() string
	RunnableType() Type
	Run(ctx context.Context, input string, ec execctx.Context) (RunOutput, error)
}
