package hnsw

import (
	"encoding/binary"
	"io"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/simd"
)

// fileMagic identifies the whole-index save format of spec.md §6.
const fileMagic uint64 = 0x484e53575f494458 // "HNSW_IDX"

// Save writes the whole index to w: the magic, a header matching the
// runtime configuration, the entry-point/max-level/mult state, the
// vector store section, and the layered graph section, exactly the
// layout spec.md §6 names.
func (idx *Index) Save(w io.Writer) error {
	idx.entryMu.RLock()
	hasEntry := idx.hasEntry
	entryLoc := idx.entryLoc
	maxLevel := idx.maxLevel
	idx.entryMu.RUnlock()
	if !hasEntry {
		entryLoc = 0
		maxLevel = -1
	}

	if err := binary.Write(w, binary.LittleEndian, fileMagic); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "hnsw.Save", "write magic", err)
	}

	header := []any{
		uint32(idx.cfg.Dimension),
		uint8(idx.cfg.Metric),
		uint8(idx.cfg.Element),
		idx.cfg.M,
		idx.cfg.BatchSize,
		idx.cfg.MaxElements,
		uint32(idx.cfg.EfConstruction),
		idx.cfg.RandomSeed,
		entryLoc,
		maxLevel,
		idx.mult,
	}
	for _, f := range header {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return hnswerr.Wrap(hnswerr.CodeUnavailable, "hnsw.Save", "write header", err)
		}
	}

	if err := idx.store.Save(w); err != nil {
		return err
	}
	if err := idx.graph.Save(w, idx.store.CurrentIdx()); err != nil {
		return err
	}
	return nil
}

// Load populates idx from r, produced by a prior Save. The header's
// dimension, metric, element type, m, batch_size, max_elements, and
// ef_construction must match idx's own configuration; on mismatch the
// load fails with invalid-argument and idx is left untouched (spec.md
// §6 and §7's propagation policy).
func (idx *Index) Load(r io.Reader) error {
	var magic uint64
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "hnsw.Load", "read magic", err)
	}
	if magic != fileMagic {
		return hnswerr.New(hnswerr.CodeDataLoss, "hnsw.Load", "bad file magic")
	}

	var dim uint32
	var metric, element uint8
	var m, batchSize, maxElements, efc uint32
	var seed uint64
	var entryLoc uint32
	var maxLevel int32
	var mult float64

	header := []any{
		&dim, &metric, &element, &m, &batchSize, &maxElements, &efc, &seed,
		&entryLoc, &maxLevel, &mult,
	}
	for _, f := range header {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return hnswerr.Wrap(hnswerr.CodeDataLoss, "hnsw.Load", "read header", err)
		}
	}

	if int(dim) != idx.cfg.Dimension || simd.Metric(metric) != idx.cfg.Metric || simd.ElementType(element) != idx.cfg.Element {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Load", "header does not match runtime configuration")
	}
	if m != idx.cfg.M || batchSize != idx.cfg.BatchSize || maxElements != idx.cfg.MaxElements || int(efc) != idx.cfg.EfConstruction {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "hnsw.Load", "header does not match runtime configuration")
	}

	if err := idx.store.Load(r); err != nil {
		return err
	}
	if err := idx.graph.Load(r, idx.store.CurrentIdx()); err != nil {
		return err
	}

	idx.entryMu.Lock()
	idx.hasEntry = maxLevel >= 0
	idx.entryLoc = entryLoc
	idx.maxLevel = maxLevel
	idx.entryMu.Unlock()
	idx.mult = mult
	idx.cfg.RandomSeed = seed

	return nil
}

// LoadIndex constructs a fresh index from cfg and populates it from r,
// the common case for a loader that has the saved configuration on
// hand (a CLI flag set, a config file) but no live Index yet.
func LoadIndex(cfg Config, r io.Reader) (*Index, error) {
	idx, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(r); err != nil {
		return nil, err
	}
	return idx, nil
}
