package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Recorder receives buffer-level instrumentation events. It is satisfied
// by storemetrics.Prometheus; tests use a no-op recorder. Keeping the
// interface here (rather than importing storemetrics) avoids a cycle
// between store and storemetrics.
type Recorder interface {
	ObserveBuffered(kind string, total int)
	ObserveFlush(kind string, drained int, partial bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveBuffered(string, int)    {}
func (noopRecorder) ObserveFlush(string, int, bool) {}

// NoopRecorder is the zero-cost Recorder used when no metrics backend is
// configured.
var NoopRecorder Recorder = noopRecorder{}

// Buffer is a typed, append-only record buffer with partial-flush
// support. DryAdd constructs a record and returns its id
// without enqueuing it (used for the synthetic "<now>" root). Add both
// constructs and enqueues. FastStore drains everything past the
// high-water mark — plus any record updated in place since its own
// flush (see UpdateByID) — to a sink, in ascending id order, and is
// idempotent: a second call with nothing new or dirty drains zero
// records.
type Buffer[T any] struct {
	kind     string
	mu       sync.Mutex
	nextID   int64
	records  []T
	posByID  map[int64]int // enqueued records only; dry-added ids are absent
	drained  int           // high-water mark over records[]
	dirty    map[int]struct{}
	recorder Recorder
}

// NewBuffer creates an empty buffer for the given record kind (used only
// for metrics labels and error messages).
func NewBuffer[T any](kind string, recorder Recorder) *Buffer[T] {
	if recorder == nil {
		recorder = NoopRecorder
	}
	return &Buffer[T]{kind: kind, recorder: recorder, posByID: make(map[int64]int)}
}

// DryAdd allocates the next id and builds the record via build, but does
// NOT enqueue it into the buffer. Used for the synthetic "<now>"
// activation/evaluation pair, which must never reach persistence.
func (b *Buffer[T]) DryAdd(build func(id int64) T) (T, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	return build(id), id
}

// Add allocates the next id, builds the record, and enqueues it.
func (b *Buffer[T]) Add(build func(id int64) T) (T, int64) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	rec := build(id)
	b.records = append(b.records, rec)
	b.posByID[id] = len(b.records) - 1
	n := len(b.records)
	b.mu.Unlock()
	b.recorder.ObserveBuffered(b.kind, n)
	return rec, id
}

// Commit enqueues a record that was previously minted via DryAdd (and
// possibly mutated, e.g. to splice in a self-reference) under its
// already-assigned id.
func (b *Buffer[T]) Commit(id int64, rec T) {
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.posByID[id] = len(b.records) - 1
	n := len(b.records)
	b.mu.Unlock()
	b.recorder.ObserveBuffered(b.kind, n)
}

// UpdateByID mutates a previously committed record in place (the one
// exception to immutability: an activation's Evaluation gets its
// moment/value_id filled in at close). If the
// record had already been flushed, it is marked dirty so the next
// FastStore re-sends it (a persistence layer keyed by id can treat this
// as an upsert). Reports false if id was never committed (e.g. the
// dry-added "<now>" root, which is never enqueued).
func (b *Buffer[T]) UpdateByID(id int64, mutate func(*T)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.posByID[id]
	if !ok {
		return false
	}
	mutate(&b.records[pos])
	if pos < b.drained {
		if b.dirty == nil {
			b.dirty = make(map[int]struct{})
		}
		b.dirty[pos] = struct{}{}
	}
	return true
}

// Len returns the number of records currently held (flushed or not).
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// All returns a copy of every record added so far, flushed or not. Used
// by tests and invariant checks, never by the hot hook path.
func (b *Buffer[T]) All() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.records))
	copy(out, b.records)
	return out
}

// FastStore drains records past the high-water mark, plus any
// previously-flushed record dirtied by UpdateByID, to sink in ascending
// id order, then advances the mark. Calling it twice in a row with
// nothing new or dirty drains zero records the second time.
func (b *Buffer[T]) FastStore(ctx context.Context, sink func(context.Context, []T) error, partial bool) error {
	b.mu.Lock()
	positions := make([]int, 0, len(b.dirty)+len(b.records)-b.drained)
	for pos := range b.dirty {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for pos := b.drained; pos < len(b.records); pos++ {
		positions = append(positions, pos)
	}
	batch := make([]T, len(positions))
	for i, pos := range positions {
		batch[i] = b.records[pos]
	}
	newDrained := len(b.records)
	b.dirty = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		b.recorder.ObserveFlush(b.kind, 0, partial)
		return nil
	}

	if err := sink(ctx, batch); err != nil {
		return fmt.Errorf("flushing %s buffer: %w", b.kind, err)
	}

	b.mu.Lock()
	b.drained = newDrained
	b.mu.Unlock()

	b.recorder.ObserveFlush(b.kind, len(batch), partial)
	return nil
}
