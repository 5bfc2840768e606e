package collector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noworkflow/provenance/store"
)

func TestScopeStackPushPopOrder(t *testing.T) {
	var s scopeStack
	a := newPlainScope()
	b := newCompartmentScope()
	s.push(a)
	s.push(b)

	require.Equal(t, 2, s.depth())
	require.Same(t, b, s.top())
	require.Same(t, b, s.pop())
	require.Same(t, a, s.top())
	require.Equal(t, 1, s.depth())
}

func TestScopeStackPopEmptyPanics(t *testing.T) {
	var s scopeStack
	require.Panics(t, func() { s.pop() })
}

func TestScopeStackPeekEmptyPanics(t *testing.T) {
	var s scopeStack
	require.Panics(t, func() { s.top() })
}

func TestDependencyScopeCloneRetagsModeAndCopiesDependencies(t *testing.T) {
	s := newPlainScope()
	s.add(dependencyRecord{value: 1, mode: store.ModeDependency})
	s.add(dependencyRecord{value: 2, mode: store.ModeItem})

	clone := s.clone(store.ModeAssign)
	require.Len(t, clone.dependencies, 2)
	for _, d := range clone.dependencies {
		require.Equal(t, store.ModeAssign, d.mode)
	}
	require.Equal(t, store.ModeDependency, s.dependencies[0].mode, "clone must not mutate the source scope")
}

func TestGuardLeaveWithoutEnterPanics(t *testing.T) {
	var g singleFlight
	require.Panics(t, func() { g.leave() })
}

func TestGuardBalancedEnterLeaveDoesNotPanic(t *testing.T) {
	var g singleFlight
	require.NotPanics(t, func() {
		g.enter()
		g.enter()
		g.leave()
		g.leave()
	})
}

// TestHookCallsConserveScopeDepth drives a handful of hooks in sequence
// and checks the activation's scope stack returns to its starting depth
// after every paired before/after call, the property that catches any
// hook which leaks or double-pops a frame.
func TestHookCallsConserveScopeDepth(t *testing.T) {
	e, _, _ := newTestEngine(t)
	root := e.Root()

	checkpoint := func(want int) {
		require.Equal(t, want, root.scopes.depth())
	}

	checkpoint(1)
	e.OperationBefore(root)
	checkpoint(2)
	e.Literal(root, 1, 1, store.ModeDependency)
	checkpoint(2)
	e.OperationAfter(root, 2, 1, store.ModeAssign)
	checkpoint(1)

	e.ListBefore(root)
	checkpoint(2)
	e.ItemBefore(root)
	checkpoint(3)
	e.ItemAfter(root, 3, "x", nil)
	checkpoint(2)
	e.ListAfter(root, 4, []any{"x"}, "")
	checkpoint(1)
}
