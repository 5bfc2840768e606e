package collector

import (
	"context"
	"testing"
	"time"

	"github.com/noworkflow/provenance/store"
)

// fakeClock lets tests control now() deterministically.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// fakePersistence records the records of every Write* call except
// WriteCodeComponents, plus the FinalizeTrial status, standing in for persistence/memsink in tests that want to assert
// directly on what reached the boundary.
type fakePersistence struct {
	evaluations  []store.Evaluation
	activations  []store.Activation
	dependencies []store.Dependency
	values       []store.Value
	compartments []store.Compartment
	exceptions   []store.ExceptionRecord
	finalized    bool
	status       store.TrialStatus
}

func (p *fakePersistence) WriteCodeComponents(context.Context, int64, bool, []store.CodeComponent) error {
	return nil
}
func (p *fakePersistence) WriteEvaluations(_ context.Context, _ int64, _ bool, r []store.Evaluation) error {
	p.evaluations = append(p.evaluations, r...)
	return nil
}
func (p *fakePersistence) WriteActivations(_ context.Context, _ int64, _ bool, r []store.Activation) error {
	p.activations = append(p.activations, r...)
	return nil
}
func (p *fakePersistence) WriteDependencies(_ context.Context, _ int64, _ bool, r []store.Dependency) error {
	p.dependencies = append(p.dependencies, r...)
	return nil
}
func (p *fakePersistence) WriteValues(_ context.Context, _ int64, _ bool, r []store.Value) error {
	p.values = append(p.values, r...)
	return nil
}
func (p *fakePersistence) WriteCompartments(_ context.Context, _ int64, _ bool, r []store.Compartment) error {
	p.compartments = append(p.compartments, r...)
	return nil
}
func (p *fakePersistence) WriteExceptions(_ context.Context, _ int64, _ bool, r []store.ExceptionRecord) error {
	p.exceptions = append(p.exceptions, r...)
	return nil
}
func (p *fakePersistence) FinalizeTrial(_ context.Context, _ int64, _ int64, _ time.Time, status store.TrialStatus) error {
	p.finalized = true
	p.status = status
	return nil
}

// noDefinitions answers every lookup as unresolved.
type noDefinitions struct{}

func (noDefinitions) CodeBlockID(int64) (int64, bool)            { return 0, false }
func (noDefinitions) ArgumentsOf(int64) (ArgumentSpec, bool) { return ArgumentSpec{}, false }

func newTestEngine(t *testing.T) (*Engine, *fakePersistence, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	persistence := &fakePersistence{}
	e := NewEngine(Config{
		TrialID:       1,
		MainID:        0,
		SaveFrequency: 0,
		Persistence:   persistence,
		Definitions:   noDefinitions{},
		Clock:         clk,
	})
	return e, persistence, clk
}
