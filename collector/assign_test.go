package collector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noworkflow/provenance/store"
)

func TestAssignSingleTargetBindsNameInContext(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()

	depa := newPlainScope()
	e.AssignValue(root, clk.Now(), 42, depa)
	e.Assign(root, AssignTarget{CodeID: 1, Name: "x"}, store.ModeAssign)

	eval, ok := e.acts.Lookup(root, "x", clk.Now())
	require.True(t, ok)
	require.Equal(t, 1, root.scopes.depth())
	require.NotZero(t, eval.ValueID)
}

func TestAssignMultipleTargetUnpacksInOrder(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()

	depa := newPlainScope()
	e.AssignValue(root, clk.Now(), []any{1, 2, 3}, depa)
	e.Assign(root, AssignTarget{
		Elements: []AssignTarget{
			{CodeID: 1, Name: "a"},
			{CodeID: 2, Name: "b"},
			{CodeID: 3, Name: "c"},
		},
	}, store.ModeAssign)

	now := clk.Now()
	for i, name := range []string{"a", "b", "c"} {
		eval, ok := e.acts.Lookup(root, name, now)
		require.True(t, ok, "name %q must be bound", name)
		vals := e.valuesBuffer().All()
		require.NotZero(t, eval.ValueID)
		require.Equal(t, fmt.Sprint(i+1), reprOfValueID(vals, eval.ValueID), "name %q must receive element %d", name, i)
	}
}

func reprOfValueID(vals []store.Value, id int64) string {
	for _, v := range vals {
		if v.ID == id {
			return v.Repr
		}
	}
	return ""
}

func TestAssignStarredTargetCollectsMiddleSlice(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()

	depa := newPlainScope()
	e.AssignValue(root, clk.Now(), []any{1, 2, 3, 4, 5}, depa)
	e.Assign(root, AssignTarget{
		Elements: []AssignTarget{
			{CodeID: 1, Name: "head"},
			{CodeID: 2, Name: "mid", Starred: true},
			{CodeID: 3, Name: "tail"},
		},
	}, store.ModeAssign)

	now := clk.Now()
	_, ok := e.acts.Lookup(root, "head", now)
	require.True(t, ok)
	midEval, ok := e.acts.Lookup(root, "mid", now)
	require.True(t, ok)
	require.Equal(t, fmt.Sprintf("%#v", []any{2, 3, 4}), reprOfValueID(e.valuesBuffer().All(), midEval.ValueID))
	_, ok = e.acts.Lookup(root, "tail", now)
	require.True(t, ok)
}

func TestPopAssignIsLIFO(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()

	scopeA := newPlainScope()
	scopeB := newPlainScope()
	e.AssignValue(root, clk.Now(), "first", scopeA)
	e.AssignValue(root, clk.Now(), "second", scopeB)

	popped := e.PopAssign(root)
	require.Equal(t, "second", popped.value, "PopAssign must drain most-recently-queued first")

	popped = e.PopAssign(root)
	require.Equal(t, "first", popped.value)
}

func TestPopAssignOnEmptyStackPanics(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	require.Panics(t, func() { e.PopAssign(root) })
}

func TestMatchArgumentsBindsPositionalKeywordAndDefaults(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()
	now := clk.Now()

	callee := e.acts.StartActivation("f", 1, -1, root, now)
	base := callee.scopes.top()
	base.add(dependencyRecord{value: 10, mode: store.ModeArgument, argKind: "argument"})
	base.add(dependencyRecord{value: 20, argName: "c", mode: store.ModeArgument, argKind: "keyword"})

	spec := ArgumentSpec{
		Positional: []Param{{CodeID: 1, Name: "a"}, {CodeID: 2, Name: "b"}},
		Defaults:   []dependencyRecord{{value: 99}},
		KwOnly:     []Param{{CodeID: 3, Name: "c"}},
	}
	e.MatchArguments(callee, spec, now)

	_, ok := e.acts.Lookup(callee, "a", now)
	require.True(t, ok, "positional argument must bind to the first formal parameter")
	_, ok = e.acts.Lookup(callee, "b", now)
	require.True(t, ok, "missing positional falls back to its default")
	_, ok = e.acts.Lookup(callee, "c", now)
	require.True(t, ok, "keyword-only argument must bind by name")
}

func TestMatchArgumentsExpandsPositionalSplat(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()
	now := clk.Now()

	callee := e.acts.StartActivation("f", 1, -1, root, now)
	base := callee.scopes.top()
	base.add(dependencyRecord{value: []any{1, 2, 3}, mode: store.ModeArgument, argKind: "*"})

	spec := ArgumentSpec{
		Positional: []Param{{CodeID: 1, Name: "a"}, {CodeID: 2, Name: "b"}, {CodeID: 3, Name: "c"}},
	}
	e.MatchArguments(callee, spec, now)

	for _, name := range []string{"a", "b", "c"} {
		_, ok := e.acts.Lookup(callee, name, now)
		require.True(t, ok, "splat element must bind to parameter %q", name)
	}
}

func TestMatchArgumentsExpandsKeywordSplat(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()
	now := clk.Now()

	callee := e.acts.StartActivation("f", 1, -1, root, now)
	base := callee.scopes.top()
	base.add(dependencyRecord{value: map[string]any{"a": 1, "b": 2}, mode: store.ModeArgument, argKind: "**"})

	spec := ArgumentSpec{
		Positional: []Param{{CodeID: 1, Name: "a"}, {CodeID: 2, Name: "b"}},
	}
	e.MatchArguments(callee, spec, now)

	_, ok := e.acts.Lookup(callee, "a", now)
	require.True(t, ok, "keyword splat entry must bind to its matching parameter name")
	_, ok = e.acts.Lookup(callee, "b", now)
	require.True(t, ok)
}

func TestMatchArgumentsGathersVarargSurplus(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()
	now := clk.Now()

	callee := e.acts.StartActivation("f", 1, -1, root, now)
	base := callee.scopes.top()
	base.add(dependencyRecord{value: 1, mode: store.ModeArgument, argKind: "argument"})
	base.add(dependencyRecord{value: 2, mode: store.ModeArgument, argKind: "argument"})
	base.add(dependencyRecord{value: 3, mode: store.ModeArgument, argKind: "argument"})

	spec := ArgumentSpec{
		Positional: []Param{{CodeID: 1, Name: "a"}},
		Vararg:     &Param{CodeID: 2, Name: "rest"},
	}
	e.MatchArguments(callee, spec, now)

	_, ok := e.acts.Lookup(callee, "a", now)
	require.True(t, ok)
	restEval, ok := e.acts.Lookup(callee, "rest", now)
	require.True(t, ok, "positional surplus must be gathered into the vararg parameter")
	require.NotZero(t, restEval.ValueID)
}
