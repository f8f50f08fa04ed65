package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/runnable"
	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/workflow/state"
)

// Join selects how a Parallel's branch outputs are combined into one
// response (§4.6.3, resolving the join-strategy Open Question of spec §9 by
// making the strategy an explicit field on the workflow definition).
type Join string

const (
	// JoinConcat concatenates every branch's output in declaration order,
	// separated by a blank line. The default and simplest join.
	JoinConcat Join = "concat"
	// JoinFirst keeps only the first-declared branch's output.
	JoinFirst Join = "first"
	// JoinLast keeps only the last-declared branch's output.
	JoinLast Join = "last"
	// JoinCustom defers aggregation to the customJoin func passed to
	// NewParallel; constructing a Parallel with JoinCustom and a nil
	// customJoin is a configuration error surfaced at Run time.
	JoinCustom Join = "custom"
)

// Branch is one concurrently-executed arm of a Parallel.
type Branch struct {
	NodeID        string
	Runnable      runnable.Runnable
	InputTemplate string
}

// Parallel is the §4.6.3 ParallelWorkflow: every Branch runs concurrently,
// each disambiguated by a branch_key so their Steps never collide, and the
// branch outputs are combined per Join.
type Parallel struct {
	id          string
	branches    []Branch
	join        Join
	customJoin  func(outputs []string) string
	store       store.Store
}

// NewParallel builds a Parallel identified by id over branches, combined
// via join. If join == JoinCustom, customJoin must be non-nil.
func NewParallel(id string, st store.Store, join Join, customJoin func([]string) string, branches ...Branch) *Parallel {
	return &Parallel{id: id, branches: branches, join: join, customJoin: customJoin, store: st}
}

func (p *Parallel) ID() string                 { return p.id }
func (p *Parallel) RunnableType() runnable.Type { return runnable.TypeParallel }

// Run implements runnable.Runnable (§4.6.3).
func (p *Parallel) Run(ctx context.Context, input string, ec execctx.Context) (runnable.RunOutput, error) {
	ec = withWorkflowRunnable(ec, p.id, runnable.TypeParallel)

	return runnable.RunLifecycle(ctx, p.store, ec, p.id, runnable.TypeParallel, input, func(ctx context.Context) (string, step.RunMetrics, error) {
		if p.join == JoinCustom && p.customJoin == nil {
			return "", step.RunMetrics{}, fmt.Errorf("workflow: parallel %q configured with JoinCustom but no custom join function", p.id)
		}

		cache := state.NewCache(p.store, ec.SessionID, p.id)
		if err := cache.LoadFromHistory(ctx); err != nil {
			return "", step.RunMetrics{}, err
		}

		outputs := make([]string, len(p.branches))
		metricsPerBranch := make([]step.RunMetrics, len(p.branches))
		errs := make([]error, len(p.branches))

		var wg sync.WaitGroup
		for i, branch := range p.branches {
			wg.Add(1)
			go func(i int, branch Branch) {
				defer wg.Done()
				outputs[i], metricsPerBranch[i], errs[i] = p.runBranch(ctx, ec, cache, input, branch)
			}(i, branch)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return "", step.RunMetrics{}, err
			}
		}

		var total step.RunMetrics
		for _, m := range metricsPerBranch {
			total = addRunMetrics(total, m)
		}

		return p.aggregate(outputs), total, nil
	})
}

func (p *Parallel) runBranch(ctx context.Context, ec execctx.Context, cache *state.Cache, rootInput string, branch Branch) (string, step.RunMetrics, error) {
	if err := ec.Abort.Err(); err != nil {
		return "", step.RunMetrics{}, err
	}

	if cached, ok := cache.GetOutput(branch.NodeID, nil); ok {
		return cached, step.RunMetrics{}, nil
	}

	resolver := state.NewResolver(cache, p.store, ec.SessionID, p.id, rootInput, nil)
	branchInput := resolver.Resolve(ctx, branch.InputTemplate)

	childEC := ec.Child(
		execctx.WithRunID(uuid.NewString()),
		execctx.WithWorkflowID(p.id),
		execctx.WithNodeID(branch.NodeID),
		execctx.WithParentRunID(ec.RunID),
		execctx.WithBranchKey("branch_"+branch.NodeID),
		execctx.WithRunnable(branch.Runnable.ID(), string(branch.Runnable.RunnableType())),
	)

	out, err := branch.Runnable.Run(ctx, branchInput, childEC)
	if err != nil {
		return "", step.RunMetrics{}, err
	}

	cache.SetOutput(branch.NodeID, out.Response, nil)
	return out.Response, out.Metrics, nil
}

func (p *Parallel) aggregate(outputs []string) string {
	switch p.join {
	case JoinFirst:
		if len(outputs) == 0 {
			return ""
		}
		return outputs[0]
	case JoinLast:
		if len(outputs) == 0 {
			return ""
		}
		return outputs[len(outputs)-1]
	case JoinCustom:
		return p.customJoin(outputs)
	default: // JoinConcat
		return strings.Join(outputs, "\n\n")
	}
}
