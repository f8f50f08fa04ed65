// Package registry implements the process-wide AbortSignal registry of
// §3.12/§6/§9: the only contract point the core exposes for an (otherwise
// out-of-scope) HTTP or CLI surface to pause or cancel a running run_id
// without reaching into the core's internals.
package registry

import (
	"fmt"
	"sync"

	"github.com/goa-ai/agentrun/internal/abort"
)

// Signals is a process-wide map of run_id -> *abort.Signal. The caller that
// starts a root run registers its Signal before the run and unregisters it
// afterwards (cmd/agentrund does so around its REPL); Runnable
// implementations do not touch the registry. An external caller that knows
// a run_id can then call Cancel without any other coupling to the run.
type Signals struct {
	mu      sync.RWMutex
	signals map[string]*abort.Signal
}

// New returns an empty Signals registry.
func New() *Signals {
	return &Signals{signals: make(map[string]*abort.Signal)}
}

// Register associates runID with sig. Call at Run entry, for the root run
// only — nested runs share the root's Signal and must not re-register.
func (r *Signals) Register(runID string, sig *abort.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[runID] = sig
}

// Unregister removes runID's entry. Call at Run exit (success, failure, or
// cancellation alike) so the registry does not grow unbounded.
func (r *Signals) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signals, runID)
}

// Lookup returns the Signal registered for runID, if any.
func (r *Signals) Lookup(runID string) (*abort.Signal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sig, ok := r.signals[runID]
	return sig, ok
}

// Cancel aborts the run_id's Signal with reason. Returns an error if
// run_id is not (or no longer) registered — e.g. because the run has
// already completed.
func (r *Signals) Cancel(runID, reason string) error {
	sig, ok := r.Lookup(runID)
	if !ok {
		return fmt.Errorf("registry: run %q not found", runID)
	}
	sig.Abort(reason)
	return nil
}
