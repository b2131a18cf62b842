package hnsw

import (
	"fmt"
	"sort"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
)

// Insert adds label with the given raw vector bytes, or updates it in
// place if label is already live (spec.md §9: update-in-place wins
// regardless of ReplaceDeleted, which only gates whether a fresh
// insert may steal a vacant slot). If label's slot was soft-deleted,
// ReplaceDeleted decides the outcome: when enabled, the slot is
// unmarked and the new vector lands in it via the same update path
// (spec.md §8's insert-delete-insert round trip); when disabled, the
// caller must call Unmark first. vector must be exactly
// dimension*element-size bytes.
func (idx *Index) Insert(label uint64, vector []byte) error {
	if len(vector) != idx.store.Stride() {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Insert", "vector byte length mismatch")
	}

	lock := idx.labelLock(label)
	lock.Lock()
	defer lock.Unlock()

	if loc, ok := idx.store.GetLoc(label); ok {
		if idx.store.IsDeleted(loc) {
			if !idx.cfg.ReplaceDeleted {
				return hnswerr.New(hnswerr.CodeUnavailable, "hnsw.Insert", "label's slot is deleted; unmark it or enable replace_deleted")
			}
			if err := idx.store.UnmarkDeleted(loc); err != nil {
				return err
			}
		}
		return idx.updateLocked(loc, vector)
	}

	prepared := idx.preprocess(vector)

	loc, err := idx.store.PreferAdd(label)
	if err != nil {
		if code, _ := hnswerr.Of(err); code == hnswerr.CodeResourceExhausted && idx.cfg.ReplaceDeleted {
			vloc, verr := idx.store.GetVacant(label)
			if verr != nil {
				return err
			}
			loc = vloc
		} else {
			return err
		}
	}

	if err := idx.store.SetVector(loc, prepared); err != nil {
		return err
	}

	level := idx.randomLevel()
	if err := idx.graph.SetupLocation(loc, uint8(level)); err != nil {
		return err
	}

	idx.entryMu.Lock()
	if !idx.hasEntry {
		idx.hasEntry = true
		idx.entryLoc = loc
		idx.maxLevel = int32(level)
		idx.entryMu.Unlock()
		if idx.cfg.CollectMetrics && idx.metrics != nil {
			idx.metrics.Counter("hnsw.inserts", 1)
		}
		return nil
	}
	entry := idx.entryLoc
	topLevel := idx.maxLevel
	idx.entryMu.Unlock()

	current := idx.greedyDescend(prepared, entry, topLevel, int32(level))

	for l := min32(int32(level), topLevel); l >= 0; l-- {
		cands := idx.baseLayerSearch(prepared, current, idx.cfg.EfConstruction, uint8(l), nil)
		cap := idx.capForLevel(uint8(l))
		selected := selectNeighbors(cands, cap, func(a, b uint32) float32 { return idx.distanceLocs(a, b) })
		next, err := idx.mutualConnect(loc, uint8(l), selected)
		if err != nil {
			return err
		}
		current = next
	}

	if int32(level) > topLevel {
		idx.entryMu.Lock()
		if int32(level) > idx.maxLevel {
			idx.maxLevel = int32(level)
			idx.entryLoc = loc
		}
		idx.entryMu.Unlock()
	}

	if idx.cfg.CollectMetrics && idx.metrics != nil {
		idx.metrics.Counter("hnsw.inserts", 1)
	}
	return nil
}

// updateLocked replaces the vector stored at loc and repairs its
// surroundings in the three steps of spec.md §4.5.7, grounded on
// update_point/repair_connections_for_update: (1) gather the 2-hop
// candidate closure around loc at each level it occupies and re-select
// loc's own neighbor list from it; (2) for every direct neighbor v,
// re-select v's own neighbor list from that same closure (plus loc
// itself) using distances measured from v, since v's old list was
// chosen before loc moved; (3) re-run the insert descent+connect
// pipeline for loc itself from the current entry point, promoting the
// entry point if loc's level now exceeds it. Caller must hold label's
// shard lock.
func (idx *Index) updateLocked(loc uint32, vector []byte) error {
	prepared := idx.preprocess(vector)
	if err := idx.store.SetVector(loc, prepared); err != nil {
		return err
	}

	level := idx.graph.Level(loc)
	for l := int(level); l >= 0; l-- {
		idx.graph.Lock(loc)
		direct, err := idx.graph.Neighbors(loc, uint8(l))
		idx.graph.Unlock(loc)
		if err != nil {
			return err
		}

		seen := map[uint32]bool{loc: true}
		closure := make([]uint32, 0, len(direct)*4)
		for _, n := range direct {
			if !seen[n] {
				seen[n] = true
				closure = append(closure, n)
			}
			idx.graph.Lock(n)
			hop2, herr := idx.graph.Neighbors(n, uint8(l))
			idx.graph.Unlock(n)
			if herr != nil {
				continue
			}
			for _, n2 := range hop2 {
				if !seen[n2] {
					seen[n2] = true
					closure = append(closure, n2)
				}
			}
		}

		cands := make([]candidate, 0, len(closure))
		for _, c := range closure {
			cands = append(cands, candidate{c, idx.distanceLocs(loc, c)})
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

		cap := idx.capForLevel(uint8(l))
		selected := selectNeighbors(cands, cap, func(a, b uint32) float32 { return idx.distanceLocs(a, b) })
		if _, err := idx.mutualConnect(loc, uint8(l), selected); err != nil {
			return err
		}

		repairSet := append(append([]uint32{}, closure...), loc)
		for _, v := range direct {
			if err := idx.repairNeighborLocked(v, uint8(l), repairSet, idx.capForLevel(uint8(l))); err != nil {
				return err
			}
		}
	}

	idx.entryMu.RLock()
	hasEntry := idx.hasEntry
	entry := idx.entryLoc
	topLevel := idx.maxLevel
	idx.entryMu.RUnlock()

	if hasEntry && entry != loc {
		current := idx.greedyDescend(prepared, entry, topLevel, int32(level))
		for l := min32(int32(level), topLevel); l >= 0; l-- {
			cands := idx.baseLayerSearch(prepared, current, idx.cfg.EfConstruction, uint8(l), nil)
			filtered := make([]candidate, 0, len(cands))
			for _, c := range cands {
				if c.loc != loc {
					filtered = append(filtered, c)
				}
			}
			cap := idx.capForLevel(uint8(l))
			selected := selectNeighbors(filtered, cap, func(a, b uint32) float32 { return idx.distanceLocs(a, b) })
			next, err := idx.mutualConnect(loc, uint8(l), selected)
			if err != nil {
				return err
			}
			current = next
		}

		if int32(level) > topLevel {
			idx.entryMu.Lock()
			if int32(level) > idx.maxLevel {
				idx.maxLevel = int32(level)
				idx.entryLoc = loc
			}
			idx.entryMu.Unlock()
		}
	}

	if idx.cfg.CollectMetrics && idx.metrics != nil {
		idx.metrics.Counter("hnsw.updates", 1)
	}
	return nil
}

// repairNeighborLocked re-selects v's neighbor list at level from
// candidates (a shared 2-hop closure), using distances measured from v
// rather than from whichever node the closure was originally gathered
// around. This is the per-neighbor repair step of an update that
// mutualConnect's back-link-and-reprune logic does not perform, since
// mutualConnect only touches a neighbor's list when it is full.
func (idx *Index) repairNeighborLocked(v uint32, level uint8, candidates []uint32, cap int) error {
	cands := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == v {
			continue
		}
		cands = append(cands, candidate{c, idx.distanceLocs(v, c)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	selected := selectNeighbors(cands, cap, func(a, b uint32) float32 { return idx.distanceLocs(a, b) })

	idx.graph.Lock(v)
	defer idx.graph.Unlock(v)
	return idx.graph.SetNeighbors(v, level, selected)
}

// Update replaces label's vector, re-linking its neighbor lists.
// Returns not-found if label is not tracked at all, and unavailable if
// label's slot is soft-deleted (callers must Unmark it first; Update
// does not consult ReplaceDeleted).
func (idx *Index) Update(label uint64, vector []byte) error {
	if len(vector) != idx.store.Stride() {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Update", "vector byte length mismatch")
	}
	lock := idx.labelLock(label)
	lock.Lock()
	defer lock.Unlock()

	loc, ok := idx.store.GetLoc(label)
	if !ok {
		return hnswerr.New(hnswerr.CodeNotFound, "hnsw.Update", fmt.Sprintf("label %d not live", label))
	}
	if idx.store.IsDeleted(loc) {
		return hnswerr.New(hnswerr.CodeUnavailable, "hnsw.Update", "label's slot is deleted; unmark it or enable replace_deleted")
	}
	return idx.updateLocked(loc, vector)
}

// Unmark restores a soft-deleted label to live status in place,
// without reassigning it to a new slot (spec.md §9: the companion
// operation the update-on-deleted error message points callers to).
func (idx *Index) Unmark(label uint64) error {
	lock := idx.labelLock(label)
	lock.Lock()
	defer lock.Unlock()

	loc, ok := idx.store.GetLoc(label)
	if !ok {
		return hnswerr.New(hnswerr.CodeNotFound, "hnsw.Unmark", fmt.Sprintf("label %d not tracked", label))
	}
	return idx.store.UnmarkDeleted(loc)
}

// Delete soft-deletes label. Its neighbor lists are left untouched so
// other nodes' edges still traverse through it during search filtering
// (spec.md §4.5.8); the slot becomes eligible for vacant-slot reuse if
// ReplaceDeleted is enabled.
func (idx *Index) Delete(label uint64) error {
	lock := idx.labelLock(label)
	lock.Lock()
	defer lock.Unlock()

	loc, ok := idx.store.GetLoc(label)
	if !ok {
		return hnswerr.New(hnswerr.CodeNotFound, "hnsw.Delete", fmt.Sprintf("label %d not live", label))
	}
	if err := idx.store.MarkDeleted(loc); err != nil {
		return err
	}
	if idx.cfg.CollectMetrics && idx.metrics != nil {
		idx.metrics.Counter("hnsw.deletes", 1)
	}
	return nil
}

