package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/runnable"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/workflow/state"
)

// ContinuePredicate decides whether a Loop should run another iteration,
// given the output just produced (§4.6.4). It must be pure over that
// output — no hidden state, so replays and retries are deterministic.
type ContinuePredicate func(lastOutput string) bool

// Loop is the §4.6.4 LoopWorkflow: repeatedly executes an inner Runnable,
// exposing {loop.iteration} to its input template on every iteration (0 on
// the first) and {loop.last.<node_id>} from the second iteration on (empty
// on the first).
type Loop struct {
	id            string
	nodeID        string
	inner         runnable.Runnable
	inputTemplate string
	maxIterations int
	continuePred  ContinuePredicate
	store         store.Store
}

// NewLoop builds a Loop identified by id, running inner up to
// maxIterations times (or until continuePred returns false), resolving
// inner's input from inputTemplate on every iteration.
func NewLoop(id, nodeID string, st store.Store, inner runnable.Runnable, inputTemplate string, maxIterations int, continuePred ContinuePredicate) *Loop {
	return &Loop{
		id:            id,
		nodeID:        nodeID,
		inner:         inner,
		inputTemplate: inputTemplate,
		maxIterations: maxIterations,
		continuePred:  continuePred,
		store:         st,
	}
}

func (l *Loop) ID() string                 { return l.id }
func (l *Loop) RunnableType() runnable.Type { return runnable.TypeLoop }

// Run implements runnable.Runnable (§4.6.4).
func (l *Loop) Run(ctx context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	ec = withWorkflowRunnable(ec, l.id, runnable.TypeLoop)

	return runnable.RunLifecycle(ctx, l.store, ec, l.id, runnable.TypeLoop, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		cache := state.NewCache(l.store, ec.SessionID, l.id)
		if err := cache.LoadFromHistory(ctx); err != nil {
			return "", step.RunMetrics{}, err
		}

		var lastOutput string
		var total step.RunMetrics
		last := map[string]string{}

		for i := 0; i < l.maxIterations; i++ {
			if err := ec.Abort.Err(); err != nil {
				return "", step.RunMetrics{}, err
			}

			iter := i
			loopCtx := &state.LoopContext{Iteration: iter, Last: last}

			if cached, ok := cache.GetOutput(l.nodeID, &iter); ok {
				lastOutput = cached
				last[l.nodeID] = cached
				if iter+1 == l.maxIterations || !l.evaluate(cached) {
					break
				}
				continue
			}

			resolver := state.NewResolver(cache, l.store, ec.SessionID, l.id, input, loopCtx)
			iterInput := resolver.Resolve(ctx, l.inputTemplate)

			childEC := ec.Child(
				execctx.WithRunID(uuid.NewString()),
				execctx.WithWorkflowID(l.id),
				execctx.WithNodeID(l.nodeID),
				execctx.WithParentRunID(ec.RunID),
				execctx.WithIteration(iter),
				execctx.WithRunnable(l.inner.ID(), string(l.inner.RunnableType())),
			)

			out, err := l.inner.Run(ctx, iterInput, childEC)
			if err != nil {
				return "", step.RunMetrics{}, err
			}

			cache.SetOutput(l.nodeID, out.Response, &iter)
			lastOutput = out.Response
			last[l.nodeID] = out.Response
			total = addRunMetrics(total, out.Metrics)

			if iter+1 == l.maxIterations || !l.evaluate(out.Response) {
				break
			}
		}

		return lastOutput, total, nil
	})
}

func (l *Loop) evaluate(output string) bool {
	if l.continuePred == nil {
		return false
	}
	return l.continuePred(output)
}
