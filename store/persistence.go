package store

import (
	"context"
	"time"
)

// Persistence is the external collaborator the core drains buffers
// into. The relational schema and its migrations are out of scope;
// this interface is the entire boundary contract.
type Persistence interface {
	WriteCodeComponents(ctx context.Context, trialID int64, partial bool, records []CodeComponent) error
	WriteEvaluations(ctx context.Context, trialID int64, partial bool, records []Evaluation) error
	WriteActivations(ctx context.Context, trialID int64, partial bool, records []Activation) error
	WriteDependencies(ctx context.Context, trialID int64, partial bool, records []Dependency) error
	WriteValues(ctx context.Context, trialID int64, partial bool, records []Value) error
	WriteCompartments(ctx context.Context, trialID int64, partial bool, records []Compartment) error
	WriteExceptions(ctx context.Context, trialID int64, partial bool, records []ExceptionRecord) error

	// FinalizeTrial issues the single trial update on the final
	// (non-partial) store: (trial_id, main_id, finish_time, status).
	FinalizeTrial(ctx context.Context, trialID int64, mainID int64, finishedAt time.Time, status TrialStatus) error
}
