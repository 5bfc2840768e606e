package collector

import "fmt"

// InvariantError is raised when the collector detects a state the
// hooks should never be able to produce (an empty scope stack on pop,
// an empty assignment stack on PopAssign, a hook guard exit without
// entry).
// It is fatal to the trial: callers recover it at the top level and
// finalize the trial as unfinished.
type InvariantError struct {
	Reason string
	Cause  error
}

func (e *InvariantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provenance invariant violated: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("provenance invariant violated: %s", e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

func invariant(reason string) {
	panic(&InvariantError{Reason: reason})
}

// PersistenceError wraps a failure draining a buffer to the
// store.Persistence collaborator. It is fatal to provenance, but must
// never mask a user exception already in flight:
// Engine.Invoke re-panics the original recovered value, not the
// PersistenceError, when both occur during the same call.
type PersistenceError struct {
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %v", e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// CallError describes a panic recovered from a user-supplied callable,
// together with the name of the activation it ran under. Engine.Invoke
// does not construct one: it re-panics the recovered value unchanged
// after its bookkeeping (close, dependency wiring, exception recording).
type CallError struct {
	Recovered any
	Activation string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call into %q panicked: %v", e.Activation, e.Recovered)
}
