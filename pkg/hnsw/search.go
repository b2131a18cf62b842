package hnsw

import (
	"sort"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
)

// Search returns up to q.K nearest neighbors of q.Query, spec.md
// §4.5.9: greedy-descend from the global entry point to level 0, then
// an ef-bounded best-first search at the base layer with ef = max(Ef,
// K), optionally filtered by q.IsAllowed.
func (idx *Index) Search(q QueryContext) ([]SearchResult, error) {
	if len(q.Query) != idx.store.Stride() {
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Search", "query byte length mismatch")
	}
	if q.K <= 0 {
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Search", "k must be > 0")
	}
	if idx.cfg.SearchLimiter != nil && !idx.cfg.SearchLimiter.Allow() {
		return nil, hnswerr.New(hnswerr.CodeUnavailable, "hnsw.Search", "search rate limit exceeded")
	}

	idx.entryMu.RLock()
	hasEntry := idx.hasEntry
	entry := idx.entryLoc
	topLevel := idx.maxLevel
	idx.entryMu.RUnlock()
	if !hasEntry {
		return nil, nil
	}

	query := idx.preprocess(q.Query)

	current := idx.greedyDescend(query, entry, topLevel, 0)

	ef := idx.cfg.Ef
	if q.K > ef {
		ef = q.K
	}
	cands := idx.baseLayerSearch(query, current, ef, 0, q.IsAllowed)

	if len(cands) > q.K {
		cands = cands[:q.K]
	}
	out := make([]SearchResult, len(cands))
	for i, c := range cands {
		out[i] = SearchResult{Label: idx.store.GetLabel(c.loc), Distance: c.dist}
	}
	return out, nil
}

// RangeSearch returns every admissible element within radius of query,
// sorted ascending by distance. It is not part of the distilled
// neighbor-count API; it is supplemented for callers that want a
// distance threshold instead of a fixed K (grounded on
// original_source/tann/hnsw_engine.cc's RangeQuery, which widens ef
// until the frontier's closest unexplored candidate exceeds radius).
func (idx *Index) RangeSearch(query []byte, radius float32, allow func(uint64) bool) ([]SearchResult, error) {
	if len(query) != idx.store.Stride() {
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.RangeSearch", "query byte length mismatch")
	}
	if idx.cfg.SearchLimiter != nil && !idx.cfg.SearchLimiter.Allow() {
		return nil, hnswerr.New(hnswerr.CodeUnavailable, "hnsw.RangeSearch", "search rate limit exceeded")
	}

	idx.entryMu.RLock()
	hasEntry := idx.hasEntry
	entry := idx.entryLoc
	topLevel := idx.maxLevel
	idx.entryMu.RUnlock()
	if !hasEntry {
		return nil, nil
	}

	prepared := idx.preprocess(query)
	current := idx.greedyDescend(prepared, entry, topLevel, 0)

	ef := idx.cfg.Ef
	if ef < int(idx.cfg.M)*4 {
		ef = int(idx.cfg.M) * 4
	}
	var out []SearchResult
	for {
		cands := idx.baseLayerSearch(prepared, current, ef, 0, allow)
		out = out[:0]
		for _, c := range cands {
			if c.dist <= radius {
				out = append(out, SearchResult{Label: idx.store.GetLabel(c.loc), Distance: c.dist})
			}
		}
		if len(cands) < ef || cands[len(cands)-1].dist > radius {
			break
		}
		if uint32(ef) >= idx.store.Size() {
			break
		}
		ef *= 2
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// VectorByLabel returns a copy of the raw vector bytes stored for
// label, supplemented from original_source/tann/hnsw_index.cc's
// GetDataByLabel for callers rehydrating results without a separate
// side store.
func (idx *Index) VectorByLabel(label uint64) ([]byte, error) {
	loc, ok := idx.store.GetLoc(label)
	if !ok {
		return nil, hnswerr.New(hnswerr.CodeNotFound, "hnsw.VectorByLabel", "label not live")
	}
	v, err := idx.store.GetVector(loc)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}
