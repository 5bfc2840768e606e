package collector

import "sync"

// scopePool reuses dependencyScope frames across hook calls, adapted
// from PoolManager (pool_manager.go): the engine is single-threaded by
// contract, so unlike that pool this one needs no hit/miss metrics
// under a mutex, sync.Pool's own free list is enough.
type scopePool struct {
	pool sync.Pool
}

func newScopePool() *scopePool {
	return &scopePool{
		pool: sync.Pool{
			New: func() any { return &dependencyScope{} },
		},
	}
}

// acquire returns a scope of the given kind, reused from the pool when
// possible, with its dependency/item slices truncated to zero length
// but retaining prior capacity.
func (p *scopePool) acquire(kind scopeKind) *dependencyScope {
	s := p.pool.Get().(*dependencyScope)
	s.reset(kind)
	return s
}

// release returns a scope to the pool once the hook that owned it has
// finished consuming its dependencies/items. Callers must not retain a
// reference to s afterward.
func (p *scopePool) release(s *dependencyScope) {
	if s == nil {
		return
	}
	p.pool.Put(s)
}
