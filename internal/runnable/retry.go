package runnable

import (
	"context"

	"github.com/google/uuid"

	"github.com/goa-ai/agentrun/internal/abort"
	"github.com/goa-ai/agentrun/internal/execctx"
	"github.com/goa-ai/agentrun/internal/store"
	"github.com/goa-ai/agentrun/internal/wire"
)

// Retry implements §4.9's retry-from-sequence: it deletes every Step with
// sequence >= fromSeq, then reruns r against the same session with a fresh
// run_id. The caller supplies the same input that originally produced the
// Step being retried from; the context reconstructed from Steps up to
// fromSeq-1 is simply whatever remains in the store after the delete.
func Retry(ctx context.Context, st store.Store, r Runnable, ec execctx.Context, fromSeq int, input string) (RunOutput, error) {
	if _, err := st.DeleteSteps(ctx, ec.SessionID, fromSeq); err != nil {
		return RunOutput{}, err
	}
	ec.RunID = uuid.NewString()
	ec.ParentRunID = ""
	return r.Run(ctx, input, ec)
}

// Fork implements §4.9's fork-a-session: Steps with sequence < forkSeq are
// copied from sourceSessionID into a new session with identical sequences,
// then r is run on the new session starting from forkSeq. Step ids are
// regenerated — per §4.9, (session_id, sequence) is the stable identity, not
// a Step's own id.
func Fork(ctx context.Context, st store.Store, r Runnable, sourceSessionID, newSessionID string, forkSeq int, w *wire.Wire, sig *abort.Signal, input string) (RunOutput, error) {
	steps, err := st.GetSteps(ctx, sourceSessionID, store.StepFilter{EndSeq: forkSeq - 1})
	if err != nil {
		return RunOutput{}, err
	}
	if forkSeq <= 1 {
		// EndSeq 0 means "no upper bound"; no Step lies below sequence 1.
		steps = nil
	}

	for i := range steps {
		steps[i].ID = uuid.NewString()
		steps[i].SessionID = newSessionID
	}
	if len(steps) > 0 {
		if err := st.SaveStepsBatch(ctx, steps); err != nil {
			return RunOutput{}, err
		}
	}

	ec := execctx.New(newSessionID, uuid.NewString(), w, sig)
	return r.Run(ctx, input, ec)
}
