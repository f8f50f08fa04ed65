// Package workflow implements the composite Runnables of §4.6.2–§4.6.4:
// PipelineWorkflow (sequential, idempotent-skip nodes), ParallelWorkflow
// (concurrent branches with an explicit join strategy), and LoopWorkflow
// (iterate an inner Runnable to a predicate).
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

// Node is one step of a PipelineWorkflow: a child Runnable plus the
// template its input is resolved from.
type Node struct {
	ID            string
	Runnable      runnable.Runnable
	InputTemplate string
}

// Pipeline is the §4.6.2 PipelineWorkflow: a fixed sequence of Nodes
// executed in order, each skipped (its cached output reused) when the
// Workflow State already has an output for its node_id.
type Pipeline struct {
	id    string
	nodes []Node
	store store.Store
}

// NewPipeline builds a Pipeline identified by id over nodes, executed in
// the given order.
func NewPipeline(id string, st store.Store, nodes ...Node) *Pipeline {
	return &Pipeline{id: id, nodes: nodes, store: st}
}

func (p *Pipeline) ID() string                 { return p.id }
func (p *Pipeline) RunnableType() runnable.Type { return runnable.TypePipeline }

// Run implements runnable.Runnable (§4.6.2).
func (p *Pipeline) Run(ctx context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	ec = withWorkflowRunnable(ec, p.id, runnable.TypePipeline)

	return runnable.RunLifecycle(ctx, p.store, ec, p.id, runnable.TypePipeline, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		cache := state.NewCache(p.store, ec.SessionID, p.id)
		if err := cache.LoadFromHistory(ctx); err != nil {
			return "", step.RunMetrics{}, err
		}

		var lastOutput string
		var totalMetrics step.RunMetrics

		for _, node := range p.nodes {
			if err := ec.Abort.Err(); err != nil {
				return "", step.RunMetrics{}, err
			}

			if cached, ok := cache.GetOutput(node.ID, nil); ok {
				lastOutput = cached
				continue
			}

			resolver := state.NewResolver(cache, p.store, ec.SessionID, p.id, input, nil)
			nodeInput := resolver.Resolve(ctx, node.InputTemplate)

			childEC := ec.Child(
				execctx.WithRunID(uuid.NewString()),
				execctx.WithWorkflowID(p.id),
				execctx.WithNodeID(node.ID),
				execctx.WithParentRunID(ec.RunID),
				execctx.WithRunnable(node.Runnable.ID(), string(node.Runnable.RunnableType())),
			)

			out, err := node.Runnable.Run(ctx, nodeInput, childEC)
			if err != nil {
				return "", step.RunMetrics{}, err
			}

			cache.SetOutput(node.ID, out.Response, nil)
			lastOutput = out.Response
			totalMetrics = addRunMetrics(totalMetrics, out.Metrics)
		}

		return lastOutput, totalMetrics, nil
	})
}

func addRunMetrics(a, b step.RunMetrics) step.RunMetrics {
	a.InputTokens += b.InputTokens
	a.OutputTokens += b.OutputTokens
	a.TotalTokens += b.TotalTokens
	a.ToolCallsCount += b.ToolCallsCount
	return a
}

func withWorkflowRunnable(ec execctx.Context, id string, typ runnable.Type) execctx.Context {
	ec.RunnableID = id
	ec.RunnableType = string(typ)
	return ec
}
