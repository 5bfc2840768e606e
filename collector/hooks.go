package collector

import (
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/noworkflow/provenance/store"
)

// Hooks is the surface the transformed host code calls into. Each hook
// takes the current Activation first; before-hooks push a scope,
// after-hooks pop it and return the captured value unchanged. Unlike a
// closure-based decorator chain, before/after are two ordinary methods
// rather than a closure returned from the before call: the Activation
// already carries the scope stack, so there is nothing for a closure to
// capture that act doesn't already expose.
type Hooks interface {
	Literal(act *Activation, codeID int64, value any, mode store.DependencyMode) any
	Name(act *Activation, codeID int64, hasCode bool, identifier string, value any, mode store.DependencyMode) any

	OperationBefore(act *Activation)
	OperationAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any

	ContainerBefore(act *Activation)
	ContainerAfter(act *Activation, codeID int64, value any) any

	ItemBefore(act *Activation)
	ItemAfter(act *Activation, codeID int64, value any, key any) any

	DictBefore(act *Activation)
	DictAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any
	ListBefore(act *Activation)
	ListAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any
	SetBefore(act *Activation)
	SetAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any
	TupleBefore(act *Activation)
	TupleAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any

	DictKeyBefore(act *Activation)
	DictKeyAfter(act *Activation, codeID int64, value any) any
	DictValueBefore(act *Activation)
	DictValueAfter(act *Activation, codeID int64, value any) any

	FuncBefore(act *Activation)
	FuncAfter(act *Activation, codeID, funcID int64, fn any, mode store.DependencyMode) *Activation
	FunctionDef(act *Activation, definitionID int64, fn any, name string) any
	ArgumentBefore(act *Activation)
	ArgumentAfter(act *Activation, codeID int64, value any, mode store.DependencyMode, argName, kind string) any
	ReturnBefore(act *Activation)
	ReturnAfter(act *Activation, value any) any
}

var _ Hooks = (*Engine)(nil)

// runHook wraps fn with the registered HookExtension chain and the
// reentrancy guard; alive() is checked by each hook before calling this,
// so fn always executes with a live host.
func (e *Engine) runHook(name string, act *Activation, fn func()) {
	e.guard.enter()
	defer e.guard.leave()
	e.extensions.run(HookOperation{Hook: name, ActivationName: act.name}, fn)
}

// Literal creates a Value, creates an Evaluation, and adds a Dependency
// into the current top scope with the given mode.
func (e *Engine) Literal(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	if !e.alive() {
		return value
	}
	e.runHook("literal", act, func() {
		now := e.now()
		valueID := e.values.AddValue(value)
		_, evalID := e.evaluations.Add(func(id int64) store.Evaluation {
			return store.Evaluation{ID: id, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
		})
		act.scopes.top().add(dependencyRecord{
			dependencyActivationID: act.id, dependencyEvaluationID: evalID,
			value: value, valueID: valueID, mode: mode,
		})
	})
	return value
}

// Name looks up identifier through the activation chain when a code
// component is present, reusing the resolved evaluation's value id, and
// emits an assignment edge back to it.
func (e *Engine) Name(act *Activation, codeID int64, hasCode bool, identifier string, value any, mode store.DependencyMode) any {
	if !e.alive() {
		return value
	}
	e.runHook("name", act, func() {
		now := e.now()

		var lookup store.Evaluation
		var found bool
		if hasCode {
			lookup, found = e.acts.Lookup(act, identifier, now)
		}

		var valueID int64
		if found {
			valueID = lookup.ValueID
		} else {
			valueID = e.values.AddValue(value)
		}

		_, evalID := e.evaluations.Add(func(id int64) store.Evaluation {
			return store.Evaluation{ID: id, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
		})

		act.scopes.top().add(dependencyRecord{
			dependencyActivationID: act.id, dependencyEvaluationID: evalID,
			value: value, valueID: valueID, mode: mode,
		})

		if found {
			e.addDependency(act.id, evalID, lookup.ActivationID, lookup.ID, store.ModeAssignment)
		}
	})
	return value
}

func (e *Engine) OperationBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("operation.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

func (e *Engine) OperationAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	if !e.alive() {
		return value
	}
	e.runHook("operation.after", act, func() {
		now := e.now()
		scope := act.scopes.pop()
		evalID, valueID := e.evaluate(act, codeID, value, now, scope)
		e.pool.release(scope)
		act.scopes.top().add(dependencyRecord{
			dependencyActivationID: act.id, dependencyEvaluationID: evalID,
			value: value, valueID: valueID, mode: mode,
		})
	})
	return value
}

// ContainerBefore/After is the simpler container capture path: it
// pushes a compartment scope and, transparently, records the
// captured value as the pending key slot of the enclosing collection.
func (e *Engine) ContainerBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("container.before", act, func() {
		act.scopes.push(e.pool.acquire(scopeCompartment))
	})
}

func (e *Engine) ContainerAfter(act *Activation, codeID int64, value any) any {
	if !e.alive() {
		return value
	}
	e.runHook("container.after", act, func() {
		inner := act.scopes.pop()
		e.pool.release(inner)
		enclosing := act.scopes.top()
		enclosing.pendingKey = value
		enclosing.hasPendingKey = true
	})
	return value
}

// ItemBefore/After captures one element of a list/set/tuple literal:
// collapse the inner scope to a single Dependency (reusing it when it is
// the sole collected dependency, else synthesising an Evaluation), then
// record it into the enclosing collection scope's dependency list and
// item list.
func (e *Engine) ItemBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("item.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

func (e *Engine) ItemAfter(act *Activation, codeID int64, value any, key any) any {
	if !e.alive() {
		return value
	}
	e.runHook("item.after", act, func() {
		now := e.now()
		scope := act.scopes.pop()
		dep := e.collapseToDependency(act, codeID, value, now, scope, store.ModeItem)
		e.pool.release(scope)

		if key == nil {
			key = value
		}
		enclosing := act.scopes.top()
		enclosing.add(dep)
		enclosing.items = append(enclosing.items, compartmentItem{keyRepr: reprKey(key), memberValueID: dep.valueID, moment: now})
	})
	return value
}

func (e *Engine) collectionBefore(act *Activation) {
	if !e.alive() {
		return
	}
	act.scopes.push(e.pool.acquire(scopeCollection))
}

func (e *Engine) collectionAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	if !e.alive() {
		return value
	}
	if mode == "" {
		mode = store.ModeCollection
	}
	e.runHook("collection.after", act, func() {
		now := e.now()
		scope := act.scopes.pop()
		evalID, valueID := e.evaluate(act, codeID, value, now, scope)
		for _, item := range scope.items {
			e.compartments.Add(func(id int64) store.Compartment {
				return store.Compartment{ID: id, ContainerValueID: valueID, KeyRepr: item.keyRepr, MemberValueID: item.memberValueID, Moment: item.moment}
			})
		}
		subs := append([]dependencyRecord(nil), scope.dependencies...)
		e.pool.release(scope)
		act.scopes.top().add(dependencyRecord{
			dependencyActivationID: act.id, dependencyEvaluationID: evalID,
			value: value, valueID: valueID, mode: mode, subDependencies: subs,
		})
	})
	return value
}

func (e *Engine) DictBefore(act *Activation)  { e.collectionBefore(act) }
func (e *Engine) ListBefore(act *Activation)  { e.collectionBefore(act) }
func (e *Engine) SetBefore(act *Activation)   { e.collectionBefore(act) }
func (e *Engine) TupleBefore(act *Activation) { e.collectionBefore(act) }

func (e *Engine) DictAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	return e.collectionAfter(act, codeID, value, mode)
}
func (e *Engine) ListAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	return e.collectionAfter(act, codeID, value, mode)
}
func (e *Engine) SetAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	return e.collectionAfter(act, codeID, value, mode)
}
func (e *Engine) TupleAfter(act *Activation, codeID int64, value any, mode store.DependencyMode) any {
	return e.collectionAfter(act, codeID, value, mode)
}

// DictKeyBefore/After pushes a compartment scope that stays open (it is
// popped by the matching DictValueAfter, not here) while the key
// expression of a dict display is captured.
func (e *Engine) DictKeyBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("dict_key.before", act, func() {
		act.scopes.push(e.pool.acquire(scopeCompartment))
	})
}

func (e *Engine) DictKeyAfter(act *Activation, codeID int64, value any) any {
	if !e.alive() {
		return value
	}
	e.runHook("dict_key.after", act, func() {
		top := act.scopes.top()
		top.pendingKey = value
		top.hasPendingKey = true
	})
	return value
}

func (e *Engine) DictValueBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("dict_value.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

// DictValueAfter pops the value scope pushed by DictValueBefore, then
// the key scope held open since DictKeyBefore, merges their
// dependencies, and records one item into the enclosing dict's
// collection scope.
func (e *Engine) DictValueAfter(act *Activation, codeID int64, value any) any {
	if !e.alive() {
		return value
	}
	e.runHook("dict_value.after", act, func() {
		now := e.now()
		valueScope := act.scopes.pop()
		keyScope := act.scopes.pop()

		merged := newPlainScope()
		merged.dependencies = append(merged.dependencies, keyScope.dependencies...)
		merged.dependencies = append(merged.dependencies, valueScope.dependencies...)

		valueID := e.findValueID(value, merged, true)
		_, evalID := e.evaluations.Add(func(id int64) store.Evaluation {
			return store.Evaluation{ID: id, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
		})
		e.createDependencies(act.id, evalID, merged)

		dep := dependencyRecord{dependencyActivationID: act.id, dependencyEvaluationID: evalID, value: value, valueID: valueID, mode: store.ModeItem}

		enclosing := act.scopes.top()
		enclosing.add(dep)
		enclosing.items = append(enclosing.items, compartmentItem{keyRepr: reprKey(keyScope.pendingKey), memberValueID: valueID, moment: now})

		e.pool.release(valueScope)
		e.pool.release(keyScope)
	})
	return value
}

// FuncBefore pushes a plain scope for evaluating the callee expression.
func (e *Engine) FuncBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("func.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

// FuncAfter collapses the callee scope to a single "func" Dependency
// (reusing it when that is the sole collected dependency), starts the
// call's Activation, and records the func dependency into the callee's
// own base scope.
func (e *Engine) FuncAfter(act *Activation, codeID, funcID int64, fn any, mode store.DependencyMode) *Activation {
	if !e.alive() {
		return act
	}
	var callee *Activation
	e.runHook("func.after", act, func() {
		now := e.now()
		scope := act.scopes.pop()
		dep := e.collapseToDependency(act, funcID, fn, now, scope, store.ModeFunc)
		e.pool.release(scope)

		callee = e.startCall(act, codeID, funcID, fn, mode, now)
		callee.scopes.top().add(dep)
	})
	return callee
}

// startCall is `call`: it begins a new Activation bound to the callable
// with definition id -1 ("no known definition" until a function_def
// decoration proves otherwise) and primes it with one plain scope.
// funcID doubles as the callable's own definition id when the caller
// knows it statically (a direct call to a tracked user function);
// Invoke consults it to decide whether to run EnterFunctionDef.
func (e *Engine) startCall(act *Activation, codeID, funcID int64, fn any, mode store.DependencyMode, now time.Time) *Activation {
	name := callableName(fn)
	callee := e.acts.StartActivation(name, codeID, -1, act, now)
	callee.callMode = mode
	callee.noDefinition = true
	callee.callDefinitionID = funcID
	return callee
}

// FunctionDef decorates a function definition at the point the def
// statement executes in the enclosing activation: it records the
// defined callable itself as a "decorate" Evaluation/Dependency in
// act's current scope, and binds name into act's own context so a
// later Name lookup for it (including from within a recursive call)
// resolves. definitionID doubles as the decorate Evaluation's code
// component id and the key a later call passes back as FuncAfter's
// funcID to trigger EnterFunctionDef's parameter matching.
func (e *Engine) FunctionDef(act *Activation, definitionID int64, fn any, name string) any {
	if !e.alive() {
		return fn
	}
	e.runHook("function_def", act, func() {
		now := e.now()
		valueID := e.values.AddValue(fn)
		_, evalID := e.evaluations.Add(func(id int64) store.Evaluation {
			return store.Evaluation{ID: id, CodeComponentID: definitionID, ActivationID: act.id, Moment: now, ValueID: valueID}
		})
		act.scopes.top().add(dependencyRecord{
			dependencyActivationID: act.id, dependencyEvaluationID: evalID,
			value: fn, valueID: valueID, mode: store.ModeDecorate,
		})
		if name != "" {
			e.acts.Bind(act, name, store.Evaluation{
				ID: evalID, CodeComponentID: definitionID, ActivationID: act.id, Moment: now, ValueID: valueID,
			})
		}
	})
	return fn
}

func callableName(fn any) string {
	if fn == nil {
		return "<call>"
	}
	v := reflect.ValueOf(fn)
	if v.Kind() == reflect.Func && v.Pointer() != 0 {
		if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
			if name := rf.Name(); name != "" {
				return name
			}
		}
	}
	return fmt.Sprintf("%T", fn)
}

// Invoke is `_call`: it runs fn (the actual user callable) under
// callee's activation. A panic is recorded as an ExceptionRecord and
// re-raised only after the guaranteed-cleanup phase below has closed
// the activation and wired every dependency, exactly as Python's
// try/except/finally does.
func (e *Engine) Invoke(caller, callee *Activation, fn func() any) (result any) {
	if !e.alive() {
		return nil
	}
	e.guard.enter()
	defer e.guard.leave()

	var recovered any
	var panicked bool

	// A PersistenceError raised by a partial flush during cleanup must not
	// mask the user panic already recovered from fn.
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*PersistenceError); ok && panicked {
				panic(recovered)
			}
			panic(r)
		}
	}()

	e.extensions.run(HookOperation{Hook: "call", ActivationName: callee.name}, func() {
		if callee.callDefinitionID != -1 {
			e.EnterFunctionDef(callee, callee.callDefinitionID)
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					recovered = r
					panicked = true
				}
			}()
			result = fn()
		}()

		now := e.now()
		if panicked {
			e.recordException(callee, recovered, now)
		}

		var valueID int64
		for _, frame := range callee.scopes.frames {
			if id := e.findValueIDNoCreate(result, frame); id != 0 {
				valueID = id
				break
			}
		}
		if valueID == 0 {
			valueID = e.values.AddValue(result)
		}

		e.acts.CloseActivation(callee, valueID, now)

		// callee.evaluationID's own ActivationID is the caller's id
		// (StartActivation records the call there), so the dependency
		// edges drawn from it must be anchored on caller, not callee.
		base := callee.scopes.frames[0]
		e.createDependencies(caller.id, callee.evaluationID, base)
		if callee.noDefinition {
			e.createArgumentDependencies(caller.id, callee.evaluationID, base)
		}

		caller.scopes.top().add(dependencyRecord{
			dependencyActivationID: caller.id, dependencyEvaluationID: callee.evaluationID,
			value: result, valueID: valueID, mode: callee.callMode,
		})
	})

	if panicked {
		panic(recovered)
	}
	return result
}

func (e *Engine) ArgumentBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("argument.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

// ArgumentAfter collapses the inner scope to a single Dependency, tags
// it with the parameter name/kind, and pushes it into act's (the
// callee's) base scope with mode "argument".
func (e *Engine) ArgumentAfter(act *Activation, codeID int64, value any, mode store.DependencyMode, argName, kind string) any {
	if !e.alive() {
		return value
	}
	if mode == "" {
		mode = store.ModeArgument
	}
	if kind == "" {
		kind = "argument"
	}
	e.runHook("argument.after", act, func() {
		now := e.now()
		scope := act.scopes.pop()
		dep := e.collapseToDependency(act, codeID, value, now, scope, mode)
		dep.mode = mode
		dep.argName = argName
		dep.argKind = kind
		act.scopes.top().add(dep)
	})
	return value
}

func (e *Engine) ReturnBefore(act *Activation) {
	if !e.alive() {
		return
	}
	e.runHook("return.before", act, func() {
		act.scopes.push(e.pool.acquire(scopePlain))
	})
}

func (e *Engine) ReturnAfter(act *Activation, value any) any {
	if !e.alive() {
		return value
	}
	e.runHook("return.after", act, func() {
		scope := act.scopes.pop()
		e.createDependencies(act.id, act.evaluationID, scope)
		e.pool.release(scope)
	})
	return value
}

// collapseToDependency is the shared "collapse a one-shot scope to a
// single Dependency, reusing it when it is the sole collected
// dependency" pattern shared by item/func/argument.
func (e *Engine) collapseToDependency(act *Activation, codeID int64, value any, now time.Time, scope *dependencyScope, mode store.DependencyMode) dependencyRecord {
	if len(scope.dependencies) == 1 {
		return scope.dependencies[0]
	}
	evalID, valueID := e.evaluate(act, codeID, value, now, scope)
	return dependencyRecord{
		dependencyActivationID: act.id, dependencyEvaluationID: evalID,
		value: value, valueID: valueID, mode: mode,
	}
}

// evaluate creates an Evaluation for value, resolving its value id via
// the bind rule over scope, and draws dependency edges from scope's
// collected dependencies.
func (e *Engine) evaluate(act *Activation, codeID int64, value any, now time.Time, scope *dependencyScope) (evalID, valueID int64) {
	valueID = e.findValueID(value, scope, true)
	_, evalID = e.evaluations.Add(func(id int64) store.Evaluation {
		return store.Evaluation{ID: id, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
	})
	e.createDependencies(act.id, evalID, scope)
	return
}

func (e *Engine) createDependencies(actID, evalID int64, scope *dependencyScope) {
	if scope == nil {
		return
	}
	for _, dep := range scope.dependencies {
		e.addDependency(actID, evalID, dep.dependencyActivationID, dep.dependencyEvaluationID, dep.mode)
	}
}

// createArgumentDependencies additionally draws dependency-mode edges
// from each argument-mode collected dep, making builtin calls (known
// definition id -1) transitively depend on their arguments.
func (e *Engine) createArgumentDependencies(actID, evalID int64, scope *dependencyScope) {
	for _, dep := range scope.dependencies {
		if dep.mode.IsArgumentLike() {
			e.addDependency(actID, evalID, dep.dependencyActivationID, dep.dependencyEvaluationID, store.ModeDependency)
		}
	}
}

func (e *Engine) addDependency(dependentActivationID, dependentEvaluationID, dependencyActivationID, dependencyEvaluationID int64, mode store.DependencyMode) {
	e.dependencies.Add(func(id int64) store.Dependency {
		return store.Dependency{
			ID: id,
			DependentActivationID:  dependentActivationID,
			DependentEvaluationID:  dependentEvaluationID,
			DependencyActivationID: dependencyActivationID,
			DependencyEvaluationID: dependencyEvaluationID,
			Mode: mode,
		}
	})
}

// findValueID implements the bind rule: when scope already
// references the exact same runtime object, reuse its value id and
// rewrite that dependency's mode; otherwise mint a fresh Value when
// create is true.
func (e *Engine) findValueID(value any, scope *dependencyScope, create bool) int64 {
	if id := e.findValueIDNoCreate(value, scope); id != 0 {
		return id
	}
	if create {
		return e.values.AddValue(value)
	}
	return 0
}

func (e *Engine) findValueIDNoCreate(value any, scope *dependencyScope) int64 {
	if scope == nil || len(scope.dependencies) == 0 {
		return 0
	}
	if isImmutable(value) && len(scope.dependencies) != 1 {
		return 0
	}
	for i := range scope.dependencies {
		dep := &scope.dependencies[i]
		if sameObject(dep.value, value) {
			dep.mode = dep.mode.WithBindSuffix()
			return dep.valueID
		}
	}
	return 0
}

func (e *Engine) recordException(act *Activation, recovered any, now time.Time) {
	typ := fmt.Sprintf("%T", recovered)
	msg := fmt.Sprint(recovered)
	e.exceptions.Add(func(id int64) store.ExceptionRecord {
		return store.ExceptionRecord{ID: id, ActivationID: act.id, Type: typ, Message: msg, Moment: now}
	})
}

func isImmutable(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Interface:
		return false
	default:
		return true
	}
}

func reprKey(key any) string {
	return fmt.Sprintf("[%#v]", key)
}
