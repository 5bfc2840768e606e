package collector

import (
	"context"
	"time"

	"github.com/noworkflow/provenance/clock"
	"github.com/noworkflow/provenance/store"
)

// Engine is the single entry point the instrumented code and the host
// integration talk to: it implements Hooks, the AssignValue/PopAssign/
// Assign assignment API, and Store, wiring together the stores, the
// clock, the value interner and the activation manager. It is not safe
// for concurrent use from more than
// one goroutine; singleFlight only checks that every hook call's own
// guard entry and exit are balanced. It does not check cross-goroutine
// exclusion, which Go cannot check portably, nor that Before/After hook
// pairs are balanced.
type Engine struct {
	trialID int64
	mainID  int64

	codeComponents *store.Buffer[store.CodeComponent]
	evaluations    *store.Buffer[store.Evaluation]
	activations    *store.Buffer[store.Activation]
	dependencies   *store.Buffer[store.Dependency]
	compartments   *store.Buffer[store.Compartment]
	exceptions     *store.Buffer[store.ExceptionRecord]

	values *valueInterner
	acts   *activationManager

	flush       *clock.FlushScheduler
	persistence store.Persistence
	definitions DefinitionProvider
	host        Host

	guard     singleFlight
	pool      *scopePool
	extensions extensionChain

	status store.TrialStatus
}

// Config collects the constructor arguments for Engine, mirroring
// config.Settings plus the
// collaborators every engine needs wired in.
type Config struct {
	TrialID       int64
	MainID        int64
	SaveFrequency time.Duration

	Persistence store.Persistence
	Definitions DefinitionProvider
	Globals     GlobalResolver
	Host        Host
	Clock       clock.Clock
	Recorder    store.Recorder
}

// NewEngine constructs an Engine with the synthetic "<now>" root already
// in place, ready to receive hook calls.
func NewEngine(cfg Config) *Engine {
	if cfg.Recorder == nil {
		cfg.Recorder = store.NoopRecorder
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	e := &Engine{
		trialID:        cfg.TrialID,
		mainID:         cfg.MainID,
		codeComponents: store.NewBuffer[store.CodeComponent]("code_component", cfg.Recorder),
		evaluations:    store.NewBuffer[store.Evaluation]("evaluation", cfg.Recorder),
		activations:    store.NewBuffer[store.Activation]("activation", cfg.Recorder),
		dependencies:   store.NewBuffer[store.Dependency]("dependency", cfg.Recorder),
		compartments:   store.NewBuffer[store.Compartment]("compartment", cfg.Recorder),
		exceptions:     store.NewBuffer[store.ExceptionRecord]("exception", cfg.Recorder),
		persistence:    cfg.Persistence,
		definitions:    cfg.Definitions,
		host:           cfg.Host,
		pool:           newScopePool(),
		status:         store.TrialRunning,
	}
	valuesBuf := store.NewBuffer[store.Value]("value", cfg.Recorder)
	e.values = newValueInterner(valuesBuf)
	e.flush = clock.NewFlushScheduler(clk, cfg.SaveFrequency)
	e.acts = newActivationManager(e.evaluations, e.activations, e.values, cfg.Globals, e.flush.Now())

	return e
}

// Use registers a HookExtension (logging, tracing, ...), ordered by
// Order() ascending.
func (e *Engine) Use(ext HookExtension) { e.extensions.use(ext) }

// alive reports whether hook entry should proceed at all, the
// weak-reference teardown tolerance every hook checks first.
func (e *Engine) alive() bool {
	return e.host == nil || e.host.Alive()
}

// now is the single place a partial flush can be triggered, exactly at
// hook entry, never mid-hook.
func (e *Engine) now() time.Time {
	moment, shouldFlush := e.flush.Tick()
	if shouldFlush {
		if err := e.Store(context.Background(), true, store.TrialRunning); err != nil {
			panic(&PersistenceError{Cause: err})
		}
	}
	return moment
}

// valuesBuffer exposes the Value buffer for Store's draining pass; the
// interner owns it so every AddValue call stays consistent with the
// self-typed root bookkeeping.
func (e *Engine) valuesBuffer() *store.Buffer[store.Value] { return e.values.buf }

// Store drains every buffer in the same order as the original
// Collector.store: code components, evaluations, activations,
// dependencies, values, compartments, exceptions. On a non-partial
// store it additionally finalizes the trial.
func (e *Engine) Store(ctx context.Context, partial bool, status store.TrialStatus) error {
	if err := e.codeComponents.FastStore(ctx, func(ctx context.Context, r []store.CodeComponent) error {
		return e.persistence.WriteCodeComponents(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.evaluations.FastStore(ctx, func(ctx context.Context, r []store.Evaluation) error {
		return e.persistence.WriteEvaluations(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.activations.FastStore(ctx, func(ctx context.Context, r []store.Activation) error {
		return e.persistence.WriteActivations(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.dependencies.FastStore(ctx, func(ctx context.Context, r []store.Dependency) error {
		return e.persistence.WriteDependencies(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.valuesBuffer().FastStore(ctx, func(ctx context.Context, r []store.Value) error {
		return e.persistence.WriteValues(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.compartments.FastStore(ctx, func(ctx context.Context, r []store.Compartment) error {
		return e.persistence.WriteCompartments(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}
	if err := e.exceptions.FastStore(ctx, func(ctx context.Context, r []store.ExceptionRecord) error {
		return e.persistence.WriteExceptions(ctx, e.trialID, partial, r)
	}, partial); err != nil {
		return err
	}

	e.status = status
	if !partial {
		e.flush.MarkFlushed(e.flush.Now())
		return e.persistence.FinalizeTrial(ctx, e.trialID, e.mainID, e.flush.Now(), status)
	}
	return nil
}

// Root returns the synthetic "<now>" activation, the entry point for
// top-level code.
func (e *Engine) Root() *runtimeActivation { return e.acts.Root() }
