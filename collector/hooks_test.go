package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noworkflow/provenance/store"
)

// withScopeConservation wraps a hook call and asserts the activation's
// scope-stack depth after the call matches want, catching any hook that
// fails to balance its own push/pop pair.
func withScopeConservation(t *testing.T, act *Activation, want int, fn func()) {
	t.Helper()
	fn()
	require.Equal(t, want, act.scopes.depth(), "scope stack depth must be conserved across the hook call")
}

func TestLiteralRecordsValueAndDependency(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	withScopeConservation(t, root, 1, func() {
		got := e.Literal(root, 10, 42, store.ModeDependency)
		require.Equal(t, 42, got)
	})

	require.Equal(t, store.ModeDependency, root.scopes.top().dependencies[0].mode)
	vals := e.valuesBuffer().All()
	require.NotEmpty(t, vals)
}

func TestOperationCombinesTwoLiteralsIntoOneDependency(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	e.OperationBefore(root)
	require.Equal(t, 2, root.scopes.depth())

	e.Literal(root, 1, 2, store.ModeDependency)
	e.Literal(root, 2, 3, store.ModeDependency)
	require.Len(t, root.scopes.top().dependencies, 2)

	e.OperationAfter(root, 3, 5, store.ModeAssign)
	require.Equal(t, 1, root.scopes.depth())
	require.Len(t, root.scopes.top().dependencies, 1)
	require.Equal(t, store.ModeAssign, root.scopes.top().dependencies[0].mode)

	deps := e.dependencies.All()
	require.Len(t, deps, 2, "operation.after draws one edge per collected operand")
}

func TestBindRuleReusesValueIDForSameObjectAndRewritesMode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	shared := &struct{ N int }{N: 7}

	e.OperationBefore(root)
	e.Literal(root, 1, shared, store.ModeDependency)
	scope := root.scopes.top()
	require.Len(t, scope.dependencies, 1)
	firstValueID := scope.dependencies[0].valueID

	reused := e.findValueIDNoCreate(shared, scope)
	require.Equal(t, firstValueID, reused, "same pointer must resolve to the same value id")
	require.True(t, scope.dependencies[0].mode.HasBindSuffix() || scope.dependencies[0].mode == store.ModeAssign,
		"bind rule must rewrite the dependency's mode on reuse")
	e.OperationAfter(root, 2, shared, store.ModeAssign)
}

func TestBindRuleSkipsImmutableValuesWithMultipleDependencies(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	e.OperationBefore(root)
	e.Literal(root, 1, 5, store.ModeDependency)
	e.Literal(root, 2, 5, store.ModeDependency)
	scope := root.scopes.top()
	require.Len(t, scope.dependencies, 2)

	id := e.findValueIDNoCreate(5, scope)
	require.Zero(t, id, "an immutable value with more than one collected dependency must not be reused")
	e.OperationAfter(root, 3, 10, store.ModeAssign)
}

func TestListCollectsItemsAsCompartments(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	e.ListBefore(root)
	require.Equal(t, 2, root.scopes.depth())

	e.ItemBefore(root)
	e.Literal(root, 1, "a", store.ModeDependency)
	e.ItemAfter(root, 2, "a", nil)

	e.ItemBefore(root)
	e.Literal(root, 1, "b", store.ModeDependency)
	e.ItemAfter(root, 2, "b", nil)

	e.ListAfter(root, 3, []any{"a", "b"}, "")
	require.Equal(t, 1, root.scopes.depth())

	compartments := e.compartments.All()
	require.Len(t, compartments, 2)
}

func TestDictKeyValuePairsIntoOneItem(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	e.DictBefore(root)
	e.DictKeyBefore(root)
	e.Literal(root, 1, "key", store.ModeDependency)
	e.DictKeyAfter(root, 1, "key")
	require.Equal(t, 3, root.scopes.depth(), "key scope stays open until DictValueAfter pops it")

	e.DictValueBefore(root)
	e.Literal(root, 2, "value", store.ModeDependency)
	e.DictValueAfter(root, 2, "value")
	require.Equal(t, 2, root.scopes.depth())

	e.DictAfter(root, 3, map[string]any{"key": "value"}, "")
	require.Equal(t, 1, root.scopes.depth())

	compartments := e.compartments.All()
	require.Len(t, compartments, 1)
	require.Equal(t, `["key"]`, compartments[0].KeyRepr)
}

func TestInvokeClosesActivationAndWiresArgumentDependencies(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	e.FuncBefore(root)
	e.Literal(root, 1, "builtin", store.ModeDependency)
	callee := e.FuncAfter(root, 2, -1, "builtin", store.ModeDependency)
	require.NotNil(t, callee)
	require.Equal(t, 1, root.scopes.depth())

	e.ArgumentBefore(callee)
	e.Literal(callee, 3, 99, store.ModeDependency)
	e.ArgumentAfter(callee, 3, 99, store.ModeArgument, "x", "argument")

	result := e.Invoke(root, callee, func() any { return 100 })
	require.Equal(t, 100, result)

	deps := e.dependencies.All()
	var dependencyModeEdges int
	for _, d := range deps {
		if d.Mode == store.ModeDependency && d.DependentActivationID == root.id && d.DependentEvaluationID == callee.evaluationID {
			dependencyModeEdges++
		}
	}
	require.Equal(t, 2, dependencyModeEdges,
		"the reused func dependency plus the derived edge createArgumentDependencies adds for the argument-mode dep")
}

func TestFunctionDefRecordsDecorateDependencyAndBindsName(t *testing.T) {
	e, _, clk := newTestEngine(t)
	root := e.Root()

	fn := func() {}
	got := e.FunctionDef(root, 5, fn, "helper")
	require.NotNil(t, got)

	require.Len(t, root.scopes.top().dependencies, 1)
	require.Equal(t, store.ModeDecorate, root.scopes.top().dependencies[0].mode)

	eval, ok := e.acts.Lookup(root, "helper", clk.Now())
	require.True(t, ok, "the defined function's name must resolve in the enclosing scope")
	require.NotZero(t, eval.ValueID)
}

// stubDefinitions answers definitionID 42 with a fixed block id and
// argument spec, and everything else as unresolved.
type stubDefinitions struct {
	blockID int64
	spec    ArgumentSpec
}

func (d stubDefinitions) CodeBlockID(definitionID int64) (int64, bool) {
	if definitionID == 42 {
		return d.blockID, true
	}
	return 0, false
}

func (d stubDefinitions) ArgumentsOf(definitionID int64) (ArgumentSpec, bool) {
	if definitionID == 42 {
		return d.spec, true
	}
	return ArgumentSpec{}, false
}

func TestInvokeWiresEnterFunctionDefWhenDefinitionIDKnown(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	persistence := &fakePersistence{}
	e := NewEngine(Config{
		TrialID:     1,
		Persistence: persistence,
		Definitions: stubDefinitions{
			blockID: 7,
			spec:    ArgumentSpec{Positional: []Param{{CodeID: 1, Name: "x"}}},
		},
		Clock: clk,
	})
	root := e.Root()

	e.FuncBefore(root)
	e.Literal(root, 1, "f", store.ModeDependency)
	callee := e.FuncAfter(root, 2, 42, "f", store.ModeDependency)
	require.Equal(t, int64(42), callee.callDefinitionID)

	e.ArgumentBefore(callee)
	e.Literal(callee, 3, 99, store.ModeDependency)
	e.ArgumentAfter(callee, 3, 99, store.ModeArgument, "", "argument")

	var boundDuringCall bool
	result := e.Invoke(root, callee, func() any {
		_, boundDuringCall = e.acts.Lookup(callee, "x", clk.Now())
		return 1
	})

	require.Equal(t, 1, result)
	require.True(t, boundDuringCall, "EnterFunctionDef must match arguments before the callable body runs")
	require.False(t, callee.noDefinition, "a matched definition must clear noDefinition")
	require.Equal(t, int64(7), callee.codeBlockID)
}

func TestInvokeRecordsExceptionAndRepanics(t *testing.T) {
	e, persistence, _ := newTestEngine(t)
	root := e.Root()

	e.FuncBefore(root)
	e.Literal(root, 1, "boom", store.ModeDependency)
	callee := e.FuncAfter(root, 2, -1, "boom", store.ModeDependency)

	require.Panics(t, func() {
		e.Invoke(root, callee, func() any { panic("kaboom") })
	})

	require.NoError(t, e.Store(context.Background(), false, store.TrialFinished))
	require.Len(t, persistence.exceptions, 1)
	require.Equal(t, "kaboom", persistence.exceptions[0].Message)
}
