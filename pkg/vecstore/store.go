// Package vecstore implements the batched, fixed-dimension vector
// store spec.md §4.2 describes: append, in-place update, soft delete,
// vacant-slot reuse, a label<->location bimap, and binary persistence.
//
// Grounded on the teacher's pkg/store/session_store.go (striped
// label-keyed locking plus a bimap between external ids and internal
// slots) and pkg/backup/wal.go's length-prefixed encoding/binary
// framing style, generalized from that package's document/session
// domain to raw vectors.
package vecstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/simd"
)

// UnknownLabel is the reserved sentinel marking a vacant slot, per
// spec.md §3.
const UnknownLabel = ^uint64(0)

// DefaultBatchSize is the vector-store grain spec.md §6 names as the
// default: 64 Ki vectors per batch, so a single batch can be mmap'd or
// streamed and reallocation never moves existing vectors.
const DefaultBatchSize = 64 * 1024

// batch is one contiguous, SIMD-aligned block of up to capacity
// vectors, each stride bytes wide.
type batch struct {
	data     []byte
	stride   int
	capacity int
}

func newBatch(capacity, stride int) *batch {
	// over-allocate to a 64-byte boundary so the backing array starts
	// (and each vector, given a stride that is itself a multiple of
	// the element size, lands) on a cache-line boundary.
	size := capacity * stride
	raw := make([]byte, size+64)
	off := 64 - (int(alignOf(raw)) % 64)
	if off == 64 {
		off = 0
	}
	return &batch{data: raw[off : off+size], stride: stride, capacity: capacity}
}

func (b *batch) slot(i int) []byte {
	return b.data[i*b.stride : (i+1)*b.stride]
}

// Store is the batched vector store of spec.md §4.2.
type Store struct {
	space     simd.Space
	elemSize  int
	dim       int
	stride    int
	batchSize uint32
	maxElems  uint32

	metaLock sync.RWMutex // exclusive: capacity changes; shared: reads
	batches  []*batch

	currentIdx   atomic.Uint32
	deletedCount atomic.Uint32

	labelToLoc map[uint64]uint32
	locToLabel []uint64
	deleted    *roaring.Bitmap

	vacantEnabled bool
}

// Config configures a new Store.
type Config struct {
	Space         simd.Space
	BatchSize     uint32
	MaxElements   uint32
	VacantEnabled bool
}

// New allocates an empty store. No vectors are stored until the
// caller starts calling PreferAdd/GetVacant.
func New(cfg Config) (*Store, error) {
	if cfg.Space.Dim <= 0 {
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.New", "dimension must be > 0")
	}
	if cfg.MaxElements == 0 {
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.New", "max_elements must be > 0")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &Store{
		space:         cfg.Space,
		elemSize:      cfg.Space.Element.Size(),
		dim:           cfg.Space.Dim,
		batchSize:     cfg.BatchSize,
		maxElems:      cfg.MaxElements,
		labelToLoc:    make(map[uint64]uint32, 1024),
		locToLabel:    make([]uint64, cfg.MaxElements),
		deleted:       roaring.New(),
		vacantEnabled: cfg.VacantEnabled,
	}
	s.stride = s.dim * s.elemSize
	for i := range s.locToLabel {
		s.locToLabel[i] = UnknownLabel
	}
	return s, nil
}

// Size returns current_count - deleted_count, invariant 1 of spec.md §8.
func (s *Store) Size() uint32 {
	return s.currentIdx.Load() - s.deletedCount.Load()
}

// CurrentIdx returns the next location to append if no vacant slot is
// reused.
func (s *Store) CurrentIdx() uint32 { return s.currentIdx.Load() }

// DeletedCount returns the number of soft-deleted slots.
func (s *Store) DeletedCount() uint32 { return s.deletedCount.Load() }

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.dim }

// Space returns the configured distance space.
func (s *Store) Space() simd.Space { return s.space }

// MaxElements returns the hard capacity.
func (s *Store) MaxElements() uint32 { return s.maxElems }

// ByteSize returns the total bytes backing allocated batches, for
// memory-pressure reporting.
func (s *Store) ByteSize() int64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	var total int64
	for _, b := range s.batches {
		total += int64(len(b.data))
	}
	return total
}

// GetLoc resolves a live label to its location.
func (s *Store) GetLoc(label uint64) (uint32, bool) {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	loc, ok := s.labelToLoc[label]
	return loc, ok
}

// GetLabel returns the label stored at loc, or UnknownLabel if loc is
// vacant or out of range.
func (s *Store) GetLabel(loc uint32) uint64 {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	if loc >= uint32(len(s.locToLabel)) {
		return UnknownLabel
	}
	return s.locToLabel[loc]
}

// IsDeleted reports whether loc is currently soft-deleted.
func (s *Store) IsDeleted(loc uint32) bool {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	return s.deleted.Contains(loc)
}

// PreferAdd allocates a fresh location for a new label: append-only,
// never reusing a vacant slot. Fails with already-exists if label is
// already live, or resource-exhausted at capacity.
func (s *Store) PreferAdd(label uint64) (uint32, error) {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()

	if _, exists := s.labelToLoc[label]; exists {
		return 0, hnswerr.New(hnswerr.CodeAlreadyExists, "vecstore.PreferAdd", fmt.Sprintf("label %d already live", label))
	}
	idx := s.currentIdx.Load()
	if idx >= s.maxElems {
		return 0, hnswerr.New(hnswerr.CodeResourceExhausted, "vecstore.PreferAdd", "at max_elements with no vacant slots")
	}
	s.ensureBatch(idx)
	s.locToLabel[idx] = label
	s.labelToLoc[label] = idx
	s.currentIdx.Add(1)
	return idx, nil
}

// GetVacant pops the lowest-address deleted location and reassigns it
// to label. Fails if vacant reuse is disabled, no vacant slot exists,
// or label is already live.
func (s *Store) GetVacant(label uint64) (uint32, error) {
	if !s.vacantEnabled {
		return 0, hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.GetVacant", "vacant-slot reuse is disabled")
	}
	s.metaLock.Lock()
	defer s.metaLock.Unlock()

	if _, exists := s.labelToLoc[label]; exists {
		return 0, hnswerr.New(hnswerr.CodeAlreadyExists, "vecstore.GetVacant", fmt.Sprintf("label %d already live", label))
	}
	if s.deleted.IsEmpty() {
		return 0, hnswerr.New(hnswerr.CodeNotFound, "vecstore.GetVacant", "no vacant slot available")
	}
	loc := s.deleted.Minimum()
	s.deleted.Remove(loc)
	s.deletedCount.Add(^uint32(0)) // -1
	if old := s.locToLabel[loc]; old != UnknownLabel {
		delete(s.labelToLoc, old)
	}
	s.locToLabel[loc] = label
	s.labelToLoc[label] = loc
	return loc, nil
}

func (s *Store) ensureBatch(loc uint32) {
	need := int(loc)/int(s.batchSize) + 1
	for len(s.batches) < need {
		s.batches = append(s.batches, newBatch(int(s.batchSize), s.stride))
	}
}

func (s *Store) batchSlot(loc uint32) []byte {
	bi := loc / s.batchSize
	off := loc % s.batchSize
	return s.batches[bi].slot(int(off))
}

// SetVector overwrites the raw bytes stored at loc. v must be exactly
// dim*elemSize bytes.
func (s *Store) SetVector(loc uint32, v []byte) error {
	if len(v) != s.stride {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.SetVector", "vector byte length mismatch")
	}
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	if loc >= s.currentIdx.Load() {
		return hnswerr.New(hnswerr.CodeOutOfRange, "vecstore.SetVector", "loc out of range")
	}
	copy(s.batchSlot(loc), v)
	return nil
}

// GetVector returns a byte span aliasing the stored vector at loc. The
// store never relocates vectors after allocation (invariant: no
// reallocation moves an existing batch), so the returned slice remains
// valid until SetVector overwrites it or the store is discarded.
func (s *Store) GetVector(loc uint32) ([]byte, error) {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()
	if loc >= s.currentIdx.Load() {
		return nil, hnswerr.New(hnswerr.CodeOutOfRange, "vecstore.GetVector", "loc out of range")
	}
	return s.batchSlot(loc), nil
}

// GetDistance computes the distance between the vectors stored at a
// and b.
func (s *Store) GetDistance(a, b uint32) (float32, error) {
	va, err := s.GetVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := s.GetVector(b)
	if err != nil {
		return 0, err
	}
	return s.compare(va, vb), nil
}

// GetDistanceToQuery computes the distance between a raw query (not
// necessarily stored) and the vector at loc.
func (s *Store) GetDistanceToQuery(query []byte, loc uint32) (float32, error) {
	v, err := s.GetVector(loc)
	if err != nil {
		return 0, err
	}
	return s.compare(query, v), nil
}

func (s *Store) compare(a, b []byte) float32 {
	switch s.space.Element {
	case simd.Uint8:
		return s.space.CompareU8(a, b)
	case simd.Int8:
		return s.space.CompareI8(castI8(a), castI8(b))
	default:
		return s.space.CompareF32(castF32(a), castF32(b))
	}
}

// MarkDeleted soft-deletes loc: it joins the deleted set but neighbor
// lists referencing it are left untouched (spec.md §4.5.8). The label
// stays resolvable via GetLoc/GetLabel so a later Insert/Update on the
// same label can distinguish "deleted" from "never existed" (spec.md
// §9's update-on-deleted decision); only GetVacant severs the old
// label's mapping, at the moment its slot is actually reassigned.
func (s *Store) MarkDeleted(loc uint32) error {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	if loc >= s.currentIdx.Load() {
		return hnswerr.New(hnswerr.CodeOutOfRange, "vecstore.MarkDeleted", "loc out of range")
	}
	if s.deleted.Contains(loc) {
		return hnswerr.New(hnswerr.CodeAlreadyExists, "vecstore.MarkDeleted", "loc already deleted")
	}
	s.deleted.Add(loc)
	s.deletedCount.Add(1)
	return nil
}

// UnmarkDeleted clears loc's deleted bit without reassigning its
// label; callers that want to reuse the slot under a new label should
// use GetVacant instead.
func (s *Store) UnmarkDeleted(loc uint32) error {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()
	if !s.deleted.Contains(loc) {
		return hnswerr.New(hnswerr.CodeUnavailable, "vecstore.UnmarkDeleted", "loc not deleted")
	}
	s.deleted.Remove(loc)
	s.deletedCount.Add(^uint32(0))
	return nil
}

// Stride returns the per-vector byte width (dim * element size).
func (s *Store) Stride() int { return s.stride }

const hnswMagicBatch uint64 = 0x484e53575645435f // "HNSWVEC_"

// Save persists the store's state: current_idx, deleted_count, the
// deleted bitmap, loc_to_label, and the raw vector bytes, matching the
// VectorStore section of spec.md §6's file format.
func (s *Store) Save(w io.Writer) error {
	s.metaLock.RLock()
	defer s.metaLock.RUnlock()

	if err := binary.Write(w, binary.LittleEndian, s.currentIdx.Load()); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write current_idx", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.deletedCount.Load()); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write deleted_count", err)
	}

	bmBytes, err := s.deleted.ToBytes()
	if err != nil {
		return hnswerr.Wrap(hnswerr.CodeInternal, "vecstore.Save", "serialize deleted bitmap", err)
	}
	if err := writeLenPrefixed(w, bmBytes); err != nil {
		return err
	}

	labelBytes := make([]byte, 8*len(s.locToLabel))
	for i, lbl := range s.locToLabel {
		binary.LittleEndian.PutUint64(labelBytes[i*8:], lbl)
	}
	if err := writeLenPrefixed(w, labelBytes); err != nil {
		return err
	}

	nvec := s.currentIdx.Load()
	if err := binary.Write(w, binary.LittleEndian, nvec); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write nvec", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(s.dim)); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write dim", err)
	}

	h := xxhash.New()
	mw := io.MultiWriter(w, h)
	for loc := uint32(0); loc < nvec; loc++ {
		if _, err := mw.Write(s.batchSlot(loc)); err != nil {
			return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write vector bytes", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, h.Sum64()); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore.Save", "write checksum trailer", err)
	}
	return nil
}

// Load replaces the store's contents from r. On a short read or
// checksum mismatch the store is left untouched beyond the point of
// failure, per spec.md §7's propagation policy — callers should
// discard a half-loaded store.
func (s *Store) Load(r io.Reader) error {
	s.metaLock.Lock()
	defer s.metaLock.Unlock()

	var currentIdx, deletedCount uint32
	if err := binary.Read(r, binary.LittleEndian, &currentIdx); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read current_idx", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &deletedCount); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read deleted_count", err)
	}

	bmBytes, err := readLenPrefixed(r)
	if err != nil {
		return err
	}
	deleted := roaring.New()
	if err := deleted.UnmarshalBinary(bmBytes); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "decode deleted bitmap", err)
	}

	labelBytes, err := readLenPrefixed(r)
	if err != nil {
		return err
	}
	if len(labelBytes)%8 != 0 {
		return hnswerr.New(hnswerr.CodeDataLoss, "vecstore.Load", "loc_to_label length not a multiple of 8")
	}
	locToLabel := make([]uint64, len(labelBytes)/8)
	for i := range locToLabel {
		locToLabel[i] = binary.LittleEndian.Uint64(labelBytes[i*8:])
	}

	var nvec, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &nvec); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read nvec", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read dim", err)
	}
	if int(dim) != s.dim {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.Load", fmt.Sprintf("dimension mismatch: file=%d runtime=%d", dim, s.dim))
	}

	h := xxhash.New()
	body := make([]byte, int(nvec)*s.stride)
	if _, err := io.ReadFull(io.TeeReader(r, h), body); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read vector bytes", err)
	}
	var wantSum uint64
	if err := binary.Read(r, binary.LittleEndian, &wantSum); err != nil {
		return hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore.Load", "read checksum trailer", err)
	}
	if gotSum := h.Sum64(); gotSum != wantSum {
		return hnswerr.New(hnswerr.CodeDataLoss, "vecstore.Load", "vector byte checksum mismatch")
	}

	if uint32(len(locToLabel)) > s.maxElems {
		return hnswerr.New(hnswerr.CodeInvalidArgument, "vecstore.Load", "max_elements too small for loaded index")
	}

	s.currentIdx.Store(currentIdx)
	s.deletedCount.Store(deletedCount)
	s.deleted = deleted
	s.locToLabel = make([]uint64, s.maxElems)
	for i := range s.locToLabel {
		s.locToLabel[i] = UnknownLabel
	}
	copy(s.locToLabel, locToLabel)
	s.labelToLoc = make(map[uint64]uint32, len(locToLabel))
	for loc, lbl := range locToLabel {
		if lbl != UnknownLabel {
			s.labelToLoc[lbl] = uint32(loc)
		}
	}

	s.batches = nil
	for loc := uint32(0); loc < nvec; loc++ {
		s.ensureBatch(loc)
		copy(s.batchSlot(loc), body[int(loc)*s.stride:int(loc+1)*s.stride])
	}
	return nil
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore", "write length prefix", err)
	}
	if _, err := w.Write(data); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "vecstore", "write length-prefixed body", err)
	}
	return nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore", "read length prefix", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, hnswerr.Wrap(hnswerr.CodeDataLoss, "vecstore", "read length-prefixed body: short read", err)
	}
	return buf, nil
}
