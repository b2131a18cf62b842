package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/gibram-io/hnswgo/pkg/layergraph"
	"github.com/gibram-io/hnswgo/pkg/logging"
	"github.com/gibram-io/hnswgo/pkg/memory"
	"github.com/gibram-io/hnswgo/pkg/metrics"
	"github.com/gibram-io/hnswgo/pkg/simd"
	"github.com/gibram-io/hnswgo/pkg/vecstore"
	"github.com/gibram-io/hnswgo/pkg/visited"
)

// numLabelShards is K in spec.md §5's "label_op_locks[hash(label) % K]",
// approximately 64 Ki striped mutexes.
const numLabelShards = 1 << 16

// SearchResult is one hit returned by Search/RangeSearch.
type SearchResult struct {
	Label    uint64
	Distance float32
}

// QueryContext bundles a search request, matching spec.md §4.5.9.
type QueryContext struct {
	Query     []byte
	K         int
	IsAllowed func(label uint64) bool
}

// Index is the HNSW engine (C5): a vector store, a layered graph, and
// the insert/update/delete/search algorithms tying them together.
type Index struct {
	cfg   Config
	space simd.Space
	mult  float64

	store   *vecstore.Store
	graph   *layergraph.Graph
	visited *visited.Pool

	log     *logging.Logger
	metrics *metrics.Collector

	rngMu sync.Mutex
	rng   *rand.Rand

	entryMu  sync.RWMutex
	hasEntry bool
	entryLoc uint32
	maxLevel int32

	labelLocks [numLabelShards]sync.Mutex
}

// New constructs an empty index from cfg, filling in defaults for
// unset tunables and then rejecting anything still invalid via
// Config.Validate.
func New(cfg Config) (*Index, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 200
	}
	if cfg.Ef == 0 {
		cfg.Ef = 50
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = vecstore.DefaultBatchSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	space := simd.NewSpace(cfg.Metric, cfg.Element, cfg.Dimension)
	store, err := vecstore.New(vecstore.Config{
		Space:         space,
		BatchSize:     cfg.BatchSize,
		MaxElements:   cfg.MaxElements,
		VacantEnabled: cfg.ReplaceDeleted,
	})
	if err != nil {
		return nil, err
	}

	return &Index{
		cfg:      cfg,
		space:    space,
		mult:     cfg.mult(),
		store:    store,
		graph:    layergraph.New(cfg.M, cfg.MaxElements),
		visited:  visited.NewPool(cfg.MaxElements),
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		rng:      rand.New(rand.NewSource(int64(cfg.RandomSeed))),
		maxLevel: -1,
	}, nil
}

// Size returns the number of live elements.
func (idx *Index) Size() uint32 { return idx.store.Size() }

// Footprint reports the index's current byte usage, for wiring into a
// memory.Manager's pressure monitor.
func (idx *Index) Footprint() memory.IndexFootprint {
	return memory.IndexFootprint{
		VectorBytes: idx.store.ByteSize(),
		GraphBytes:  idx.graph.ByteSize(),
		ElementsLen: idx.store.CurrentIdx(),
	}
}

// Config returns the index's runtime configuration.
func (idx *Index) Config() Config { return idx.cfg }

func (idx *Index) capForLevel(level uint8) int {
	if level == 0 {
		return int(2 * idx.cfg.M)
	}
	return int(idx.cfg.M)
}

func (idx *Index) labelLock(label uint64) *sync.Mutex {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(label >> (8 * i))
	}
	h := xxhash.Sum64(buf[:])
	return &idx.labelLocks[h%numLabelShards]
}

// randomLevel draws level = floor(-ln(U) * mult), spec.md §4.5.1.
func (idx *Index) randomLevel() int {
	idx.rngMu.Lock()
	u := idx.rng.Float64()
	idx.rngMu.Unlock()
	for u == 0 {
		idx.rngMu.Lock()
		u = idx.rng.Float64()
		idx.rngMu.Unlock()
	}
	return int(math.Floor(-math.Log(u) * idx.mult))
}

func (idx *Index) distanceToQuery(query []byte, loc uint32) float32 {
	d, err := idx.store.GetDistanceToQuery(query, loc)
	if err != nil {
		// loc past current_idx signals graph corruption (spec.md §7's
		// out-of-range class); the engine's invariants should prevent
		// this from ever firing outside a bug.
		idx.log.Error("distance lookup failed loc=%d err=%v", loc, err)
		return float32(math.Inf(1))
	}
	return d
}

func (idx *Index) distanceLocs(a, b uint32) float32 {
	d, err := idx.store.GetDistance(a, b)
	if err != nil {
		idx.log.Error("distance lookup failed a=%d b=%d err=%v", a, b, err)
		return float32(math.Inf(1))
	}
	return d
}

func (idx *Index) preprocess(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	if !idx.space.PreprocessRequired() || idx.cfg.IsNormalized {
		return out
	}
	switch idx.cfg.Element {
	case simd.Float32:
		f := castF32(out)
		idx.space.PreprocessInPlace(f)
	}
	return out
}

// greedyDescend hill-climbs from current toward query from fromLevel
// down to (and not including) toLevel, spec.md §4.5.2.
func (idx *Index) greedyDescend(query []byte, current uint32, fromLevel, toLevel int32) uint32 {
	curDist := idx.distanceToQuery(query, current)
	for level := fromLevel; level > toLevel; level-- {
		changed := true
		for changed {
			changed = false
			idx.graph.Lock(current)
			neighbors, err := idx.graph.Neighbors(current, uint8(level))
			idx.graph.Unlock(current)
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				d := idx.distanceToQuery(query, n)
				if d < curDist {
					current = n
					curDist = d
					changed = true
				}
			}
		}
	}
	return current
}

// admit reports whether loc may enter the "top" result set: live (not
// soft-deleted) and passing an optional label allow-list.
func (idx *Index) admit(loc uint32, allow func(uint64) bool) bool {
	if idx.store.IsDeleted(loc) {
		return false
	}
	if allow == nil {
		return true
	}
	return allow(idx.store.GetLabel(loc))
}

// baseLayerSearch is the ef-bounded best-first search of spec.md
// §4.5.3, returning up to ef admissible candidates sorted ascending by
// distance.
func (idx *Index) baseLayerSearch(query []byte, entry uint32, ef int, level uint8, allow func(uint64) bool) []candidate {
	vis := idx.visited.Borrow()
	defer vis.Release()

	frontier := &minHeap{}
	top := &maxHeap{}
	heap.Init(frontier)
	heap.Init(top)

	d0 := idx.distanceToQuery(query, entry)
	vis.Visit(entry)
	heap.Push(frontier, candidate{entry, d0})
	if idx.admit(entry, allow) {
		heap.Push(top, candidate{entry, d0})
	}

	var visitedCount, distCount int64

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if top.Len() > 0 {
			worst := (*top)[0]
			full := top.Len() >= ef
			if c.dist > worst.dist && (full || allow == nil) {
				break
			}
		}

		idx.graph.Lock(c.loc)
		neighbors, err := idx.graph.Neighbors(c.loc, level)
		idx.graph.Unlock(c.loc)
		if err != nil {
			continue
		}

		for _, n := range neighbors {
			if vis.Visited(n) {
				continue
			}
			vis.Visit(n)
			visitedCount++

			worstDist := float32(math.Inf(1))
			if top.Len() > 0 {
				worstDist = (*top)[0].dist
			}
			d := idx.distanceToQuery(query, n)
			distCount++
			if top.Len() < ef || d < worstDist {
				heap.Push(frontier, candidate{n, d})
				if idx.admit(n, allow) {
					heap.Push(top, candidate{n, d})
					if top.Len() > ef {
						heap.Pop(top)
					}
				}
			}
		}
	}

	if idx.cfg.CollectMetrics && idx.metrics != nil {
		idx.metrics.Counter("hnsw.visited_count", visitedCount)
		idx.metrics.Counter("hnsw.distance_computations", distCount)
		idx.metrics.Gauge("hnsw.ef_search", int64(ef))
		idx.metrics.Histogram("hnsw.result_count", float64(top.Len()))
	}

	out := make([]candidate, len(*top))
	copy(out, *top)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// selectNeighbors is the "extendCandidates=false" pruning heuristic of
// spec.md §4.5.4: candidates must already be sorted ascending by
// distance from the query/reference point.
func selectNeighbors(candidates []candidate, cap int, distFn func(a, b uint32) float32) []uint32 {
	returned := make([]uint32, 0, cap)
	for _, c := range candidates {
		if len(returned) == cap {
			break
		}
		good := true
		for _, r := range returned {
			if distFn(c.loc, r) < c.dist {
				good = false
				break
			}
		}
		if good {
			returned = append(returned, c.loc)
		}
	}
	return returned
}

// mutualConnect writes u's neighbor list at level and links each
// selected neighbor back to u, re-pruning if a neighbor has no room,
// spec.md §4.5.5. It returns the last selected neighbor as the next
// level's descent entry point.
func (idx *Index) mutualConnect(u uint32, level uint8, selected []uint32) (uint32, error) {
	idx.graph.Lock(u)
	err := idx.graph.SetNeighbors(u, level, selected)
	idx.graph.Unlock(u)
	if err != nil {
		return 0, err
	}

	cap := idx.capForLevel(level)
	for _, v := range selected {
		idx.graph.Lock(v)
		ok, aerr := idx.graph.AppendNeighbor(v, level, u)
		if aerr != nil {
			idx.graph.Unlock(v)
			return 0, aerr
		}
		if !ok {
			cur, nerr := idx.graph.Neighbors(v, level)
			if nerr != nil {
				idx.graph.Unlock(v)
				return 0, nerr
			}
			merged := make([]uint32, 0, len(cur)+1)
			seen := make(map[uint32]bool, len(cur)+1)
			for _, n := range cur {
				if n != v && !seen[n] {
					seen[n] = true
					merged = append(merged, n)
				}
			}
			if !seen[u] && u != v {
				merged = append(merged, u)
			}
			cands := make([]candidate, 0, len(merged))
			for _, n := range merged {
				cands = append(cands, candidate{n, idx.distanceLocs(v, n)})
			}
			sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
			resel := selectNeighbors(cands, cap, func(a, b uint32) float32 { return idx.distanceLocs(a, b) })
			if serr := idx.graph.SetNeighbors(v, level, resel); serr != nil {
				idx.graph.Unlock(v)
				return 0, serr
			}
		}
		idx.graph.Unlock(v)
	}

	if len(selected) == 0 {
		return u, nil
	}
	return selected[len(selected)-1], nil
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
