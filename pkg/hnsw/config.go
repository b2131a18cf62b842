// Package hnsw is the engine component (spec.md C5): it orchestrates
// the distance kernel, vector store, layered graph, and visited-list
// pool into Insert/Update/Delete/Search over a hierarchical navigable
// small world graph.
//
// Grounded on the teacher's pkg/vector/index.go HNSWIndex — random
// level sampling, greedy descent, ef-bounded best-first search, the
// neighbor-selection heuristic, and mutual-connect-with-re-pruning are
// all that file's algorithms, generalized from its map[id]*node design
// to the location/store design spec.md §3-§4.5 requires (soft delete,
// vacant-slot reuse, striped per-node and per-label locks, a single
// global entry point).
package hnsw

import (
	"math"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/logging"
	"github.com/gibram-io/hnswgo/pkg/metrics"
	"github.com/gibram-io/hnswgo/pkg/simd"
	"golang.org/x/time/rate"
)

// Config enumerates the runtime configuration of spec.md §6.
type Config struct {
	Dimension int
	Metric    simd.Metric
	Element   simd.ElementType

	M              uint32
	EfConstruction int
	Ef             int
	MaxElements    uint32
	BatchSize      uint32
	RandomSeed     uint64

	// ReplaceDeleted governs whether a fresh insert may steal a vacant
	// slot (spec.md §9: it never governs updates to an already-live
	// label).
	ReplaceDeleted bool
	// IsNormalized skips cosine preprocessing for callers that already
	// hand in unit vectors.
	IsNormalized bool

	// CollectMetrics enables the metrics.Collector counters recorded
	// during search (spec.md §4.5.3's collect_metrics template flag).
	CollectMetrics bool

	Logger  *logging.Logger
	Metrics *metrics.Collector

	// SearchLimiter, when set, bounds query throughput: Search and
	// RangeSearch fail fast with CodeUnavailable instead of blocking
	// when the limiter has no tokens left, the way the teacher's TCP
	// server rate-limits commands per connection (pkg/server/tcp.go).
	SearchLimiter *rate.Limiter
}

// DefaultConfig returns the typical values spec.md §6 names, the way
// the teacher's vector.DefaultHNSWConfig does.
func DefaultConfig() Config {
	return Config{
		Metric:         simd.L2,
		Element:        simd.Float32,
		M:              16,
		EfConstruction: 200,
		Ef:             50,
		MaxElements:    1_000_000,
		BatchSize:      64 * 1024,
		RandomSeed:     42,
	}
}

func (c Config) mult() float64 {
	return 1.0 / math.Log(float64(c.M))
}

// Validate reports the first invalid field in c, using CodeInvalidArgument
// throughout. Dimension and MaxElements have no sensible default and must
// be set by the caller; New fills in defaults for the remaining zero-valued
// tunables (M, EfConstruction, Ef, BatchSize) before calling Validate.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "dimension must be > 0")
	}
	if c.MaxElements == 0 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "max_elements must be > 0")
	}
	if c.M < 2 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "m must be >= 2")
	}
	if c.EfConstruction <= 0 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "ef_construction must be > 0")
	}
	if c.Ef <= 0 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "ef must be > 0")
	}
	if c.BatchSize == 0 {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "batch_size must be > 0")
	}
	switch c.Metric {
	case simd.L2, simd.InnerProduct, simd.Cosine:
	default:
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "unknown metric")
	}
	switch c.Element {
	case simd.Float32, simd.Uint8, simd.Int8:
	default:
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Config.Validate", "unknown element type")
	}
	return nil
}
