package collector

import (
	"fmt"
	"reflect"
	"time"

	"github.com/noworkflow/provenance/store"
)

// AssignTarget is a single- or multiple-assignment target pattern,
// the Go stand-in for an AST Name/Tuple/List/Starred node.
// A target with no Elements is a plain name; one with Elements is a
// tuple/list pattern, at most one of which may set Starred.
type AssignTarget struct {
	CodeID   int64
	Name     string
	Starred  bool
	Elements []AssignTarget
}

// AssignValue queues the evaluated right-hand side for the next Assign
// call, the Go port of `assign_value`. depa carries the
// collected dependencies of the RHS expression.
func (e *Engine) AssignValue(act *Activation, now time.Time, value any, depa *dependencyScope) {
	act.pending = append(act.pending, pendingAssign{moment: now, value: value, depa: depa})
}

// AssignValueList is AssignValue for a right-hand side that was itself a
// collection literal: ldepa carries one dependency scope per collected
// element, letting Assign route sub-dependencies precisely instead of
// falling back to the aggregate clone (customDependency case 1).
func (e *Engine) AssignValueList(act *Activation, now time.Time, value any, depa *dependencyScope, ldepa []*dependencyScope) {
	act.pending = append(act.pending, pendingAssign{moment: now, value: value, depa: depa, ldepa: ldepa})
}

// PopAssign pops the most recently queued AssignValue, LIFO, mirroring
// nested assignment statements (`a = b = expr`) queuing and draining in
// the right order.
func (e *Engine) PopAssign(act *Activation) pendingAssign {
	n := len(act.pending)
	if n == 0 {
		invariant("pop from empty assignment stack")
	}
	p := act.pending[n-1]
	act.pending = act.pending[:n-1]
	return p
}

// Assign pops the pending (value, depa, ldepa) triple and walks target,
// binding one name (direct case) or unpacking a tuple/list pattern
// (multiple-target case), starred element included.
func (e *Engine) Assign(act *Activation, target AssignTarget, mode store.DependencyMode) {
	if !e.alive() {
		return
	}
	if mode == "" {
		mode = store.ModeAssign
	}
	e.runHook("assign", act, func() {
		p := e.PopAssign(act)
		e.assignTo(act, target, p.moment, p.value, p.depa, p.ldepa, mode)
	})
}

func (e *Engine) assignTo(act *Activation, target AssignTarget, now time.Time, value any, depa *dependencyScope, ldepa []*dependencyScope, mode store.DependencyMode) {
	if len(target.Elements) == 0 {
		e.bindName(act, now, target.CodeID, target.Name, value, depa, mode)
		return
	}
	e.assignMultiple(act, target.Elements, now, value, depa, ldepa, mode)
}

// assignMultiple implements the starred-unpacking walk: targets before
// the starred element are matched left to right, targets after it are
// matched right to left, and the starred target (if any) collects
// whatever is left in the middle.
func (e *Engine) assignMultiple(act *Activation, elements []AssignTarget, now time.Time, value any, depa *dependencyScope, ldepa []*dependencyScope, mode store.DependencyMode) {
	items, ok := sequenceOf(value)
	if !ok {
		invariant("multiple-target assignment against a non-sequence value")
	}

	n := len(elements)
	starIndex := -1
	for i, el := range elements {
		if el.Starred {
			starIndex = i
			break
		}
	}

	assignOne := func(elementIndex, valueIndex int) {
		sub := e.customDependency(depa, ldepa, valueIndex, n)
		e.assignTo(act, elements[elementIndex], now, items[valueIndex], sub, nil, mode)
	}

	if starIndex == -1 {
		for i := 0; i < n && i < len(items); i++ {
			assignOne(i, i)
		}
		return
	}

	for i := 0; i < starIndex; i++ {
		assignOne(i, i)
	}
	tailLen := n - starIndex - 1
	for i := n - 1; i > starIndex; i-- {
		valueIndex := len(items) - (n - i)
		assignOne(i, valueIndex)
	}

	lo := starIndex
	hi := len(items) - tailLen
	if hi < lo {
		hi = lo
	}
	middle := append([]any(nil), items[lo:hi]...)
	sub := depa
	if sub != nil {
		sub = depa.clone(mode)
	}
	e.assignTo(act, elements[starIndex], now, middle, sub, nil, mode)
}

// customDependency resolves the dependency scope to use for the
// element at valueIndex of an n-element unpacking, trying in order:
// (1) an explicit per-element scope from AssignValueList, when present;
// (2) the sole collected dependency's own recorded sub-dependencies,
// when its shape matches n exactly (propagated straight from a
// collection literal's Evaluation); (3) an aggregate clone of the whole
// depa, retagged as ModeAssign, as the conservative fallback.
func (e *Engine) customDependency(depa *dependencyScope, ldepa []*dependencyScope, valueIndex, n int) *dependencyScope {
	if ldepa != nil && valueIndex < len(ldepa) {
		return ldepa[valueIndex]
	}
	if depa == nil {
		return nil
	}
	if len(depa.dependencies) == 1 && len(depa.dependencies[0].subDependencies) == n {
		sub := newPlainScope()
		sub.add(depa.dependencies[0].subDependencies[valueIndex])
		return sub
	}
	return depa.clone(store.ModeAssign)
}

// bindName creates the target name's own Evaluation, draws dependency
// edges from scope, binds the name in act's context for future Lookup
// calls, and records a Dependency into act's current top scope.
func (e *Engine) bindName(act *Activation, now time.Time, codeID int64, name string, value any, scope *dependencyScope, mode store.DependencyMode) {
	valueID := e.findValueID(value, scope, true)
	_, evalID := e.evaluations.Add(func(id int64) store.Evaluation {
		return store.Evaluation{ID: id, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
	})
	e.createDependencies(act.id, evalID, scope)

	eval := store.Evaluation{ID: evalID, CodeComponentID: codeID, ActivationID: act.id, Moment: now, ValueID: valueID}
	e.acts.Bind(act, name, eval)

	act.scopes.top().add(dependencyRecord{
		dependencyActivationID: act.id, dependencyEvaluationID: evalID,
		value: value, valueID: valueID, mode: mode,
	})
}

func sequenceOf(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if items, ok := value.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return nil, false
	}
}

// expandPositionalSplat expands a "*args" call-site marker dependency
// into one "argument"-kind dependency per element, by the splatted
// value's length, mirroring a *lst call-site argument being unpacked
// positionally rather than bound as a single list.
func expandPositionalSplat(dep dependencyRecord) []dependencyRecord {
	items, ok := sequenceOf(dep.value)
	if !ok {
		return nil
	}
	out := make([]dependencyRecord, len(items))
	for i := range items {
		expanded := dep
		expanded.argKind = "argument"
		out[i] = expanded
	}
	return out
}

// expandKeywordSplat expands a "**kwargs" call-site marker dependency
// into one "keyword"-kind dependency per key of the splatted map,
// mirroring a **d call-site argument being unpacked by key rather than
// bound as a single dict.
func expandKeywordSplat(dep dependencyRecord) map[string]dependencyRecord {
	keys, ok := mapKeysOf(dep.value)
	if !ok {
		return nil
	}
	out := make(map[string]dependencyRecord, len(keys))
	for _, key := range keys {
		expanded := dep
		expanded.argKind = "keyword"
		expanded.argName = key
		out[key] = expanded
	}
	return out
}

func mapKeysOf(value any) ([]string, bool) {
	if value == nil {
		return nil, false
	}
	if m, ok := value.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		return keys, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, fmt.Sprint(k.Interface()))
	}
	return keys, true
}

// MatchArguments binds every formal parameter of spec to the
// ArgumentAfter-tagged dependencies collected in callee's base scope:
// positional params are filled left to right from collected positional
// arguments, falling back to a same-named keyword argument and then to
// spec's defaults; any positional surplus is gathered into *args; kw-only
// params are matched by name only; any keyword surplus is gathered
// into **kwargs. A call-site "*" marker expands by the splatted value's
// length and a "**" marker expands by its keys, before any of that
// matching happens.
func (e *Engine) MatchArguments(callee *Activation, spec ArgumentSpec, now time.Time) {
	base := callee.scopes.frames[0]

	var positional []dependencyRecord
	keyword := make(map[string]dependencyRecord)
	for _, dep := range base.dependencies {
		switch dep.argKind {
		case "argument":
			positional = append(positional, dep)
		case "keyword":
			keyword[dep.argName] = dep
		case "*":
			positional = append(positional, expandPositionalSplat(dep)...)
		case "**":
			for name, expanded := range expandKeywordSplat(dep) {
				keyword[name] = expanded
			}
		}
	}

	matched := make(map[string]dependencyRecord, len(spec.Positional)+len(spec.KwOnly)+2)
	pos := 0
	defaultsOffset := len(spec.Positional) - len(spec.Defaults)

	for i, param := range spec.Positional {
		if pos < len(positional) {
			matched[param.Name] = positional[pos]
			pos++
			continue
		}
		if dep, ok := keyword[param.Name]; ok {
			matched[param.Name] = dep
			delete(keyword, param.Name)
			continue
		}
		if di := i - defaultsOffset; di >= 0 && di < len(spec.Defaults) {
			matched[param.Name] = spec.Defaults[di]
		}
	}

	if spec.Vararg != nil {
		surplus := positional[pos:]
		values := make([]any, len(surplus))
		varargScope := newPlainScope()
		for i, dep := range surplus {
			values[i] = dep.value
			varargScope.add(dep)
		}
		matched[spec.Vararg.Name] = dependencyRecord{
			value: values, valueID: e.findValueID(values, varargScope, true),
			mode: store.ModeAssign, subDependencies: append([]dependencyRecord(nil), surplus...),
		}
	}

	for _, param := range spec.KwOnly {
		if dep, ok := keyword[param.Name]; ok {
			matched[param.Name] = dep
			delete(keyword, param.Name)
		}
	}

	if spec.Kwarg != nil {
		kwargScope := newPlainScope()
		values := make(map[string]any, len(keyword))
		var subs []dependencyRecord
		for name, dep := range keyword {
			values[name] = dep.value
			kwargScope.add(dep)
			subs = append(subs, dep)
		}
		matched[spec.Kwarg.Name] = dependencyRecord{
			value: values, valueID: e.findValueID(values, kwargScope, true),
			mode: store.ModeAssign, subDependencies: subs,
		}
	}

	allParams := make([]Param, 0, len(spec.Positional)+len(spec.KwOnly)+2)
	allParams = append(allParams, spec.Positional...)
	allParams = append(allParams, spec.KwOnly...)
	if spec.Vararg != nil {
		allParams = append(allParams, *spec.Vararg)
	}
	if spec.Kwarg != nil {
		allParams = append(allParams, *spec.Kwarg)
	}

	for _, param := range allParams {
		dep, ok := matched[param.Name]
		if !ok {
			continue
		}
		e.bindParam(callee, now, param, dep)
	}
}

func (e *Engine) bindParam(callee *Activation, now time.Time, param Param, dep dependencyRecord) {
	scope := newPlainScope()
	scope.add(dep)
	e.bindName(callee, now, param.CodeID, param.Name, dep.value, scope, store.ModeAssign)
}

// EnterFunctionDef replaces the closure-wrapping style of instrumenting
// a function definition: rather than wrapping the callable in a
// closure before it is ever called, Invoke calls this once per call,
// right after it has started callee's activation, whenever the call
// carries a known definition id (callee.callDefinitionID, set from
// FuncAfter's funcID). It resolves the real CodeBlockID (proving
// the call was not into an untracked builtin) and runs MatchArguments
// against the definition's ArgumentSpec.
func (e *Engine) EnterFunctionDef(callee *Activation, definitionID int64) {
	if e.definitions == nil {
		return
	}
	blockID, ok := e.definitions.CodeBlockID(definitionID)
	if !ok {
		return
	}
	callee.codeBlockID = blockID
	callee.noDefinition = false

	spec, ok := e.definitions.ArgumentsOf(definitionID)
	if !ok {
		return
	}
	e.MatchArguments(callee, spec, e.now())
}
