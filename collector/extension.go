package collector

import "sort"

// HookExtension is middleware around a hook invocation, adapted from
// Extension (extension.go): instead of wrapping "resolve" and "update"
// operations on a dependency graph, it wraps provenance hook calls
// keyed by hook name. Order mirrors the original ordering semantics
// (lower runs first, outermost).
type HookExtension interface {
	Name() string
	Order() int
	Wrap(op HookOperation, next func())
}

// HookOperation describes which hook is executing and on behalf of
// which activation, the provenance analogue of Operation.
type HookOperation struct {
	Hook           string
	ActivationName string
}

// BaseHookExtension gives a default pass-through Wrap, mirroring
// BaseExtension.
type BaseHookExtension struct {
	name  string
	order int
}

func NewBaseHookExtension(name string, order int) BaseHookExtension {
	return BaseHookExtension{name: name, order: order}
}

func (e BaseHookExtension) Name() string { return e.name }
func (e BaseHookExtension) Order() int   { return e.order }
func (e BaseHookExtension) Wrap(_ HookOperation, next func()) { next() }

// extensionChain holds registered extensions sorted by Order, lowest
// first, matching UseExtension's ordering contract.
type extensionChain struct {
	extensions []HookExtension
}

func (c *extensionChain) use(ext HookExtension) {
	c.extensions = append(c.extensions, ext)
	sort.SliceStable(c.extensions, func(i, j int) bool {
		return c.extensions[i].Order() < c.extensions[j].Order()
	})
}

// run invokes fn wrapped by every registered extension, outermost first.
func (c *extensionChain) run(op HookOperation, fn func()) {
	wrapped := fn
	for i := len(c.extensions) - 1; i >= 0; i-- {
		ext := c.extensions[i]
		inner := wrapped
		wrapped = func() { ext.Wrap(op, inner) }
	}
	wrapped()
}
