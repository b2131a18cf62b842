// Package layergraph implements the per-location layered neighbor-list
// graph of spec.md §4.4: for each location, one neighbor-list array per
// level the node occupies, capacity M per level above 0 and 2M at
// level 0, with no structural resize once a location's level is set up.
//
// Grounded on the teacher's pkg/graph/graph.go shape — a dense,
// slice-indexed state guarded by per-shard locks — generalized from
// that package's map[entityID]-keyed Leiden clustering state to a
// []loc-indexed neighbor-list store, which is what O(1) node_at access
// requires.
package layergraph

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
)

// node holds one location's per-level neighbor lists. Capacity is
// fixed at setup time; len(neighbors[l]) is the current length.
type node struct {
	level     uint8
	neighbors [][]uint32
}

// Graph is the layered neighbor-list structure. M is the per-level
// fan-out cap (2M at level 0).
type Graph struct {
	m uint32

	mu    sync.RWMutex // guards nodes slice growth only (setup_location)
	locks []sync.Mutex // link_list_locks[loc]
	nodes []*node
}

// New creates a graph sized for maxElements locations with fan-out M.
func New(m uint32, maxElements uint32) *Graph {
	return &Graph{
		m:     m,
		locks: make([]sync.Mutex, maxElements),
		nodes: make([]*node, maxElements),
	}
}

func (g *Graph) capFor(level int) int {
	if level == 0 {
		return int(2 * g.m)
	}
	return int(g.m)
}

// Lock acquires loc's neighbor-list mutex. Callers hold it across a
// read-then-write sequence (e.g. snapshot neighbors, then overwrite
// after running the selection heuristic), matching spec.md §4.5.5's
// "under v's lock" flow.
func (g *Graph) Lock(loc uint32) { g.locks[loc].Lock() }

// Unlock releases loc's neighbor-list mutex.
func (g *Graph) Unlock(loc uint32) { g.locks[loc].Unlock() }

// SetupLocation allocates loc's neighbor-list skeleton for the given
// level (0-indexed, i.e. the node occupies levels 0..=level). Must be
// called once per fresh or resurrected location before any other
// operation touches it. No further structural resize is permitted
// afterward — only neighbor-array contents change.
func (g *Graph) SetupLocation(loc uint32, level uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if loc >= uint32(len(g.nodes)) {
		return hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.SetupLocation", "loc out of range")
	}
	n := &node{level: level, neighbors: make([][]uint32, int(level)+1)}
	for l := range n.neighbors {
		n.neighbors[l] = make([]uint32, 0, g.capFor(l))
	}
	g.nodes[loc] = n
	return nil
}

// Level returns the highest level loc occupies.
func (g *Graph) Level(loc uint32) uint8 {
	g.mu.RLock()
	n := g.nodes[loc]
	g.mu.RUnlock()
	if n == nil {
		return 0
	}
	return n.level
}

// Neighbors returns a copy of loc's neighbor list at level. Callers
// that intend to mutate based on this snapshot should hold Lock(loc)
// across both the read and the subsequent SetNeighbors/AppendNeighbor
// call to avoid racing a concurrent mutator.
func (g *Graph) Neighbors(loc uint32, level uint8) ([]uint32, error) {
	g.mu.RLock()
	n := g.nodes[loc]
	g.mu.RUnlock()
	if n == nil {
		return nil, hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.Neighbors", "loc not set up")
	}
	if int(level) >= len(n.neighbors) {
		return nil, hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.Neighbors", "level past node's level")
	}
	out := make([]uint32, len(n.neighbors[level]))
	copy(out, n.neighbors[level])
	return out, nil
}

// Len reports loc's current neighbor-list length at level without
// copying.
func (g *Graph) Len(loc uint32, level uint8) int {
	g.mu.RLock()
	n := g.nodes[loc]
	g.mu.RUnlock()
	if n == nil || int(level) >= len(n.neighbors) {
		return 0
	}
	return len(n.neighbors[level])
}

// SetNeighbors overwrites loc's neighbor list at level. Callers must
// hold Lock(loc). Fails with internal if ids exceeds the level's
// capacity or contains a self-link, per spec.md invariants 5-6.
func (g *Graph) SetNeighbors(loc uint32, level uint8, ids []uint32) error {
	g.mu.RLock()
	n := g.nodes[loc]
	g.mu.RUnlock()
	if n == nil || int(level) >= len(n.neighbors) {
		return hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.SetNeighbors", "level past node's level")
	}
	if len(ids) > g.capFor(int(level)) {
		return hnswerr.New(hnswerr.CodeInternal, "layergraph.SetNeighbors", "neighbor list exceeds level capacity")
	}
	for _, id := range ids {
		if id == loc {
			return hnswerr.New(hnswerr.CodeInternal, "layergraph.SetNeighbors", "self-link")
		}
	}
	buf := n.neighbors[level][:0]
	buf = append(buf, ids...)
	n.neighbors[level] = buf
	return nil
}

// AppendNeighbor adds id to loc's neighbor list at level if there is
// room. Callers must hold Lock(loc). Returns false (no error) when the
// list is already at capacity, so the caller can fall back to the
// selection-heuristic re-pruning path of spec.md §4.5.5.
func (g *Graph) AppendNeighbor(loc uint32, level uint8, id uint32) (bool, error) {
	g.mu.RLock()
	n := g.nodes[loc]
	g.mu.RUnlock()
	if n == nil || int(level) >= len(n.neighbors) {
		return false, hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.AppendNeighbor", "level past node's level")
	}
	if id == loc {
		return false, hnswerr.New(hnswerr.CodeInternal, "layergraph.AppendNeighbor", "self-link")
	}
	if len(n.neighbors[level]) >= g.capFor(int(level)) {
		return false, nil
	}
	n.neighbors[level] = append(n.neighbors[level], id)
	return true, nil
}

// IsSetUp reports whether loc has had SetupLocation called on it.
func (g *Graph) IsSetUp(loc uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[loc] != nil
}

// ByteSize estimates the total bytes backing every location's
// neighbor-list slices, for memory-pressure reporting.
func (g *Graph) ByteSize() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var total int64
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, ids := range n.neighbors {
			total += int64(cap(ids)) * 4
		}
	}
	return total
}

// Save persists the layered graph section of spec.md §6's file
// format: for each loc in 0..current_idx, a level byte followed by
// each level's neighbor-list length and entries.
func (g *Graph) Save(w io.Writer, currentIdx uint32) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for loc := uint32(0); loc < currentIdx; loc++ {
		n := g.nodes[loc]
		if n == nil {
			// A slot below currentIdx that was never set up still
			// needs a level byte so loc indices line up on load.
			if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
				return hnswerr.Wrap(hnswerr.CodeUnavailable, "layergraph.Save", "write level", err)
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
				return hnswerr.Wrap(hnswerr.CodeUnavailable, "layergraph.Save", "write length", err)
			}
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, n.level); err != nil {
			return hnswerr.Wrap(hnswerr.CodeUnavailable, "layergraph.Save", "write level", err)
		}
		for l := 0; l <= int(n.level); l++ {
			ids := n.neighbors[l]
			if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
				return hnswerr.Wrap(hnswerr.CodeUnavailable, "layergraph.Save", "write length", err)
			}
			for _, id := range ids {
				if err := binary.Write(w, binary.LittleEndian, id); err != nil {
					return hnswerr.Wrap(hnswerr.CodeUnavailable, "layergraph.Save", "write neighbor", err)
				}
			}
		}
	}
	return nil
}

// Load replaces the graph's contents from r for the first currentIdx
// locations.
func (g *Graph) Load(r io.Reader, currentIdx uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]*node, len(g.nodes))
	for loc := uint32(0); loc < currentIdx; loc++ {
		var level uint8
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return hnswerr.Wrap(hnswerr.CodeDataLoss, "layergraph.Load", "read level", err)
		}
		n := &node{level: level, neighbors: make([][]uint32, int(level)+1)}
		for l := 0; l <= int(level); l++ {
			var ln uint32
			if err := binary.Read(r, binary.LittleEndian, &ln); err != nil {
				return hnswerr.Wrap(hnswerr.CodeDataLoss, "layergraph.Load", "read length", err)
			}
			if int(ln) > g.capFor(l) {
				return hnswerr.New(hnswerr.CodeOutOfRange, "layergraph.Load", "neighbor list exceeds level capacity")
			}
			ids := make([]uint32, ln, g.capFor(l))
			for i := range ids {
				if err := binary.Read(r, binary.LittleEndian, &ids[i]); err != nil {
					return hnswerr.Wrap(hnswerr.CodeDataLoss, "layergraph.Load", "read neighbor", err)
				}
			}
			n.neighbors[l] = ids
		}
		nodes[loc] = n
	}
	g.nodes = nodes
	return nil
}
