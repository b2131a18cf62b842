// Package visited implements the per-search scratch buffer spec.md §4.3
// describes: a reusable array of length max_elements, generation-tagged
// so that "has this search already touched location i" is answered by
// comparing buf[i] against the current borrow's generation instead of
// zeroing the whole array on every borrow.
//
// Grounded on pkg/pool/pool.go's sync.Pool-of-typed-buffers pattern
// (VectorPool/BufferPool), generalized from plain reusable slices to
// generation-tagged ones.
package visited

import "sync"

// List is a borrowed scratch buffer. Visit and Visited are the only
// operations a search loop needs; Release returns it to the Pool it
// came from.
type List struct {
	pool *Pool
	gen  uint32
	tags []uint32
}

// Visit marks loc as touched by the current search.
func (l *List) Visit(loc uint32) {
	l.tags[loc] = l.gen
}

// Visited reports whether loc has already been touched by the current
// search.
func (l *List) Visited(loc uint32) bool {
	return l.tags[loc] == l.gen
}

// Release returns the buffer to its pool for reuse by a later Borrow.
// Safe to call at most once; calling it from a defer immediately after
// Borrow covers every exit path, including error returns, the way the
// teacher's pool.Put calls are used.
func (l *List) Release() {
	l.pool.put(l)
}

// Pool hands out generation-tagged List buffers sized to capacity
// locations. A single mutex serializes borrow/return, matching
// spec.md §4.3's "small mutex; typical hot path has one free list per
// worker thread to avoid contention" guidance — callers that want
// per-thread pools simply construct one Pool per worker.
type Pool struct {
	mu       sync.Mutex
	free     []*List
	capacity uint32
	nextGen  uint32
}

// NewPool creates a pool of buffers sized for capacity locations.
func NewPool(capacity uint32) *Pool {
	return &Pool{capacity: capacity}
}

// Resize grows the buffer capacity for subsequently borrowed Lists.
// Existing free buffers smaller than the new capacity are discarded
// rather than mutated in place, since spec.md's layered graph only
// grows (vacant slots reuse existing locations, never extend past
// max_elements), so capacity only ever needs to grow to current_idx.
func (p *Pool) Resize(capacity uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capacity <= p.capacity {
		return
	}
	p.capacity = capacity
	p.free = p.free[:0]
}

// Borrow returns a List with a fresh generation; every tag compares
// unvisited until Visit is called, with no per-borrow zeroing pass.
func (p *Pool) Borrow() *List {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextGen++
	gen := p.nextGen

	n := len(p.free)
	if n == 0 {
		return &List{pool: p, gen: gen, tags: make([]uint32, p.capacity)}
	}
	l := p.free[n-1]
	p.free = p.free[:n-1]
	l.gen = gen
	if uint32(len(l.tags)) < p.capacity {
		l.tags = make([]uint32, p.capacity)
	}
	return l
}

func (p *Pool) put(l *List) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, l)
}
