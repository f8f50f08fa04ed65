// Package abort implements the cooperative cancellation primitive shared by
// every task descending from one root Run. Raising the signal aborts every
// descendant cooperatively — there is no forced preemption.
package abort

import "sync"

// Signal is a latching, mutable cancellation flag plus an optional reason.
// Once aborted it remains aborted for the life of the Signal. A zero Signal
// is usable (not aborted).
type Signal struct {
	mu      sync.RWMutex
	aborted bool
	reason  string
}

// New returns a fresh, non-aborted Signal.
func New() *Signal {
	return &Signal{}
}

// Abort latches the signal. The first call's reason wins; subsequent calls
// are no-ops so that the originating reason is preserved.
func (s *Signal) Abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}
	s.aborted = true
	s.reason = reason
}

// IsAborted reports whether the signal has been raised.
func (s *Signal) IsAborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aborted
}

// Reason returns the reason passed to the first Abort call, or "" if the
// signal has not been raised.
func (s *Signal) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Err returns a *CancelError if the signal has been raised, nil otherwise.
// Suspension points (§5) use this to turn a poll into a propagatable error.
func (s *Signal) Err() error {
	if !s.IsAborted() {
		return nil
	}
	return &CancelError{Reason: s.Reason()}
}

// CancelError is returned by suspension points once a Signal has latched.
// The Run Lifecycle treats this error specially: it records the Run as
// CANCELLED instead of FAILED.
type CancelError struct {
	Reason string
}

func (e *CancelError) Error() string {
	if e.Reason == "" {
		return "aborted"
	}
	return "aborted: " + e.Reason
}
