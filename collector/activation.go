package collector

import (
	"time"

	"github.com/noworkflow/provenance/store"
)

// Host is the weak back-reference to the owning "metascript". Once
// Alive() reports false, hook entry becomes a no-op instead
// of operating on a torn-down host; Go has no weak GC references, so a
// plain non-owning field plus an explicit liveness flag does the job.
type Host interface {
	Alive() bool
}

// GlobalResolver is the pluggable third lookup tier standing in for
// CPython's __builtins__. The engine only ever consults it
// after context and closure-context have both missed.
type GlobalResolver interface {
	Lookup(name string) (value any, ok bool)
}

// DefinitionProvider supplies the definition-time facts the core
// consumes but never generates: for a function's definition id, its
// CodeBlockID and its ArgumentSpec.
type DefinitionProvider interface {
	CodeBlockID(definitionID int64) (int64, bool)
	ArgumentsOf(definitionID int64) (ArgumentSpec, bool)
}

// Param is one formal parameter: its declared code component id and
// name.
type Param struct {
	CodeID int64
	Name   string
}

// ArgumentSpec mirrors the source's (positional_list, default_values,
// vararg_descriptor?, kwarg_descriptor?, kw_only_list) tuple.
type ArgumentSpec struct {
	Positional []Param
	Defaults   []dependencyRecord
	Vararg     *Param
	Kwarg      *Param
	KwOnly     []Param
}

// pendingAssign is the Assign(moment, value, depa) record queued by
// AssignValue and consumed by PopAssign.
type pendingAssign struct {
	moment time.Time
	value  any
	depa   *dependencyScope
	ldepa  []*dependencyScope // one depa per element, when the RHS was a collection literal
}

// Activation is the transient runtime state layered on top of a
// committed store.Activation.
// It is exported under this name because it is the type every Hooks
// method takes; runtimeActivation would read oddly on a public surface.
type Activation = runtimeActivation

type runtimeActivation struct {
	id           int64
	name         string
	start        time.Time
	codeBlockID  int64
	evaluationID int64
	committed    bool // false only for the synthetic "<now>" root

	closure *runtimeActivation
	caller  *runtimeActivation

	context map[string]store.Evaluation
	scopes  scopeStack
	pending []pendingAssign

	// set between call.before and _call's guaranteed-cleanup phase.
	callMode         store.DependencyMode
	noDefinition     bool
	callDefinitionID int64
}

func newRuntimeActivation(id int64, name string, start time.Time, codeBlockID, evaluationID int64, closure, caller *runtimeActivation) *runtimeActivation {
	a := &runtimeActivation{
		id:           id,
		name:         name,
		start:        start,
		codeBlockID:  codeBlockID,
		evaluationID: evaluationID,
		closure:      closure,
		caller:       caller,
		context:          make(map[string]store.Evaluation),
		committed:        true,
		callDefinitionID: -1,
	}
	a.scopes.push(newPlainScope())
	return a
}

// activationManager owns the Evaluation/Activation buffers and the
// name-binding context each activation carries.
type activationManager struct {
	evalBuf *store.Buffer[store.Evaluation]
	actBuf  *store.Buffer[store.Activation]
	values  *valueInterner

	byID map[int64]*runtimeActivation
	root *runtimeActivation
	last *runtimeActivation

	globalEvaluations map[string]store.Evaluation
	globals           GlobalResolver
}

func newActivationManager(evalBuf *store.Buffer[store.Evaluation], actBuf *store.Buffer[store.Activation], values *valueInterner, globals GlobalResolver, start time.Time) *activationManager {
	m := &activationManager{
		evalBuf:           evalBuf,
		actBuf:            actBuf,
		values:            values,
		byID:              make(map[int64]*runtimeActivation),
		globalEvaluations: make(map[string]store.Evaluation),
		globals:           globals,
	}

	evalRec, evalID := evalBuf.DryAdd(func(id int64) store.Evaluation {
		return store.Evaluation{ID: id, CodeComponentID: -1, ActivationID: -1, Moment: start}
	})
	actRec, actID := actBuf.DryAdd(func(id int64) store.Activation {
		return store.Activation{ID: id, Name: "<now>", Start: start, CodeBlockID: -1, EvaluationID: evalRec.ID}
	})
	_ = actRec

	root := newRuntimeActivation(actID, "<now>", start, -1, evalID, nil, nil)
	root.committed = false
	m.byID[actID] = root
	m.root = root
	m.last = root

	return m
}

// Root returns the synthetic "<now>" activation.
func (m *activationManager) Root() *runtimeActivation { return m.root }

// Last returns the currently-innermost open activation.
func (m *activationManager) Last() *runtimeActivation { return m.last }

// StartActivation creates an Evaluation with placeholder moment/value,
// wraps it in an Activation with an empty context and one initial plain
// scope, links closure to parent by default, and records it as the new
// last activation.
func (m *activationManager) StartActivation(name string, codeComponentID, definitionID int64, parent *runtimeActivation, now time.Time) *runtimeActivation {
	if parent == nil {
		parent = m.root
	}

	_, evalID := m.evalBuf.Add(func(id int64) store.Evaluation {
		return store.Evaluation{ID: id, CodeComponentID: codeComponentID, ActivationID: parent.id, Moment: now}
	})

	var closureID, callerID *int64
	pid := parent.id
	closureID, callerID = &pid, &pid

	_, actID := m.actBuf.Add(func(id int64) store.Activation {
		return store.Activation{
			ID:           id,
			Name:         name,
			Start:        now,
			CodeBlockID:  definitionID,
			EvaluationID: evalID,
			ClosureID:    closureID,
			CallerID:     callerID,
		}
	})

	act := newRuntimeActivation(actID, name, now, definitionID, evalID, parent, parent)
	m.byID[actID] = act
	m.last = act
	return act
}

// CloseActivation fills the activation's own Evaluation's moment and
// value id, then restores last to the caller.
func (m *activationManager) CloseActivation(act *runtimeActivation, valueID int64, now time.Time) {
	if act.committed {
		m.evalBuf.UpdateByID(act.evaluationID, func(e *store.Evaluation) {
			e.Moment = now
			e.ValueID = valueID
		})
	}

	if act.caller != nil {
		m.last = act.caller
	} else {
		m.last = m.root
	}
}

// Bind records name -> evaluation in act's own context (used by the
// assignment engine and parameter matching).
func (m *activationManager) Bind(act *runtimeActivation, name string, eval store.Evaluation) {
	act.context[name] = eval
}

// Lookup walks act.context, then act.closure.context transitively, then
// the process-wide globalEvaluations map, then the GlobalResolver,
// lazily materializing and caching a synthetic global Evaluation on
// first resolution through the resolver.
func (m *activationManager) Lookup(act *runtimeActivation, name string, now time.Time) (store.Evaluation, bool) {
	for a := act; a != nil; a = a.closure {
		if ev, ok := a.context[name]; ok {
			return ev, true
		}
	}

	if ev, ok := m.globalEvaluations[name]; ok {
		return ev, true
	}

	if m.globals == nil {
		return store.Evaluation{}, false
	}
	val, ok := m.globals.Lookup(name)
	if !ok {
		return store.Evaluation{}, false
	}

	valueID := m.values.AddValue(val)
	_, evalID := m.evalBuf.Add(func(id int64) store.Evaluation {
		return store.Evaluation{ID: id, CodeComponentID: -1, ActivationID: m.root.id, Moment: now, ValueID: valueID}
	})
	ev := store.Evaluation{ID: evalID, CodeComponentID: -1, ActivationID: m.root.id, ValueID: valueID}
	m.globalEvaluations[name] = ev
	return ev, true
}
