// Package memsink is an in-memory store.Persistence, used by
// cmd/nowtrace and available to tests. It is adapted from cache.go's
// TypeSafeCache: the same sync.Map-backed container, repurposed here to
// append ordered record batches per trial instead of keying single
// values.
package memsink

import (
	"context"
	"sync"
	"time"

	"github.com/noworkflow/provenance/store"
)

// trialRecords is every buffer kind accumulated for one trial.
type trialRecords struct {
	mu             sync.Mutex
	codeComponents []store.CodeComponent
	evaluations    []store.Evaluation
	activations    []store.Activation
	dependencies   []store.Dependency
	values         []store.Value
	compartments   []store.Compartment
	exceptions     []store.ExceptionRecord

	mainID     int64
	finishedAt time.Time
	status     store.TrialStatus
}

// Sink is a store.Persistence backed by an in-process map of trials,
// keeping one ordered slice per record kind rather than single values,
// since every Write* call appends a batch.
type Sink struct {
	trials sync.Map // int64 trialID -> *trialRecords
}

// New creates an empty Sink.
func New() *Sink { return &Sink{} }

func (s *Sink) trial(trialID int64) *trialRecords {
	v, _ := s.trials.LoadOrStore(trialID, &trialRecords{})
	return v.(*trialRecords)
}

func (s *Sink) WriteCodeComponents(_ context.Context, trialID int64, _ bool, records []store.CodeComponent) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codeComponents = append(t.codeComponents, records...)
	return nil
}

func (s *Sink) WriteEvaluations(_ context.Context, trialID int64, _ bool, records []store.Evaluation) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evaluations = upsertEvaluations(t.evaluations, records)
	return nil
}

func (s *Sink) WriteActivations(_ context.Context, trialID int64, _ bool, records []store.Activation) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activations = append(t.activations, records...)
	return nil
}

func (s *Sink) WriteDependencies(_ context.Context, trialID int64, _ bool, records []store.Dependency) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dependencies = append(t.dependencies, records...)
	return nil
}

func (s *Sink) WriteValues(_ context.Context, trialID int64, _ bool, records []store.Value) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = append(t.values, records...)
	return nil
}

func (s *Sink) WriteCompartments(_ context.Context, trialID int64, _ bool, records []store.Compartment) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compartments = append(t.compartments, records...)
	return nil
}

func (s *Sink) WriteExceptions(_ context.Context, trialID int64, _ bool, records []store.ExceptionRecord) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exceptions = append(t.exceptions, records...)
	return nil
}

func (s *Sink) FinalizeTrial(_ context.Context, trialID int64, mainID int64, finishedAt time.Time, status store.TrialStatus) error {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mainID = mainID
	t.finishedAt = finishedAt
	t.status = status
	return nil
}

// upsertEvaluations appends records whose id hasn't been seen yet and
// overwrites in place otherwise, since an activation's own Evaluation
// gets its moment/value id filled in at close, possibly after an
// earlier partial flush already wrote the placeholder, and
// store.Buffer re-sends it as a dirty record rather than a fresh one.
func upsertEvaluations(existing []store.Evaluation, batch []store.Evaluation) []store.Evaluation {
	index := make(map[int64]int, len(existing))
	for i, e := range existing {
		index[e.ID] = i
	}
	for _, e := range batch {
		if pos, ok := index[e.ID]; ok {
			existing[pos] = e
			continue
		}
		index[e.ID] = len(existing)
		existing = append(existing, e)
	}
	return existing
}

// Snapshot returns a copy of every record buffered for trialID, for
// tests and cmd/nowtrace's summary output.
func (s *Sink) Snapshot(trialID int64) (
	codeComponents []store.CodeComponent,
	evaluations []store.Evaluation,
	activations []store.Activation,
	dependencies []store.Dependency,
	values []store.Value,
	compartments []store.Compartment,
	exceptions []store.ExceptionRecord,
	status store.TrialStatus,
) {
	t := s.trial(trialID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]store.CodeComponent(nil), t.codeComponents...),
		append([]store.Evaluation(nil), t.evaluations...),
		append([]store.Activation(nil), t.activations...),
		append([]store.Dependency(nil), t.dependencies...),
		append([]store.Value(nil), t.values...),
		append([]store.Compartment(nil), t.compartments...),
		append([]store.ExceptionRecord(nil), t.exceptions...),
		t.status
}
