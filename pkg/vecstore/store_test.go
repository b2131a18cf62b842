package vecstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/simd"
)

func f32Bytes(v ...float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func newTestStore(t *testing.T, vacant bool) *Store {
	t.Helper()
	s, err := New(Config{
		Space:         simd.NewSpace(simd.L2, simd.Float32, 2),
		BatchSize:     4,
		MaxElements:   16,
		VacantEnabled: vacant,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestPreferAddThenGetVector(t *testing.T) {
	s := newTestStore(t, false)
	loc, err := s.PreferAdd(1)
	if err != nil {
		t.Fatalf("PreferAdd: %v", err)
	}
	if err := s.SetVector(loc, f32Bytes(1, 2)); err != nil {
		t.Fatalf("SetVector: %v", err)
	}
	v, err := s.GetVector(loc)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if !bytes.Equal(v, f32Bytes(1, 2)) {
		t.Fatalf("got %v want %v", v, f32Bytes(1, 2))
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}
}

func TestPreferAddDuplicateLabel(t *testing.T) {
	s := newTestStore(t, false)
	if _, err := s.PreferAdd(1); err != nil {
		t.Fatal(err)
	}
	_, err := s.PreferAdd(1)
	if code, _ := hnswerr.Of(err); code != hnswerr.CodeAlreadyExists {
		t.Fatalf("want already-exists, got %v", err)
	}
}

func TestPreferAddAtCapacity(t *testing.T) {
	s := newTestStore(t, false)
	for i := uint64(0); i < 16; i++ {
		if _, err := s.PreferAdd(i); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	_, err := s.PreferAdd(100)
	if code, _ := hnswerr.Of(err); code != hnswerr.CodeResourceExhausted {
		t.Fatalf("want resource-exhausted, got %v", err)
	}
}

func TestVacantReuseKeepsCurrentIdx(t *testing.T) {
	s := newTestStore(t, true)
	var locs []uint32
	for i := uint64(1); i <= 10; i++ {
		loc, err := s.PreferAdd(i)
		if err != nil {
			t.Fatal(err)
		}
		locs = append(locs, loc)
	}
	if err := s.MarkDeleted(locs[2]); err != nil { // label 3
		t.Fatal(err)
	}
	before := s.CurrentIdx()
	newLoc, err := s.GetVacant(11)
	if err != nil {
		t.Fatalf("GetVacant: %v", err)
	}
	if newLoc != locs[2] {
		t.Fatalf("expected resurrected loc %d, got %d", locs[2], newLoc)
	}
	if s.CurrentIdx() != before {
		t.Fatalf("current_idx changed on vacant reuse: %d -> %d", before, s.CurrentIdx())
	}
	if got := s.GetLabel(newLoc); got != 11 {
		t.Fatalf("GetLabel(%d) = %d, want 11", newLoc, got)
	}
}

func TestGetVacantDisabled(t *testing.T) {
	s := newTestStore(t, false)
	_, err := s.GetVacant(1)
	if code, _ := hnswerr.Of(err); code != hnswerr.CodeInvalidArgument {
		t.Fatalf("want invalid-argument, got %v", err)
	}
}

func TestMarkThenUnmarkDeleted(t *testing.T) {
	s := newTestStore(t, false)
	loc, _ := s.PreferAdd(1)
	if err := s.MarkDeleted(loc); err != nil {
		t.Fatal(err)
	}
	if !s.IsDeleted(loc) {
		t.Fatal("expected deleted")
	}
	if err := s.UnmarkDeleted(loc); err != nil {
		t.Fatal(err)
	}
	if s.IsDeleted(loc) {
		t.Fatal("expected not deleted")
	}
}

func TestUnmarkDeletedNotDeleted(t *testing.T) {
	s := newTestStore(t, false)
	loc, _ := s.PreferAdd(1)
	err := s.UnmarkDeleted(loc)
	if code, _ := hnswerr.Of(err); code != hnswerr.CodeUnavailable {
		t.Fatalf("want unavailable, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, true)
	for i := uint64(1); i <= 5; i++ {
		loc, err := s.PreferAdd(i)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SetVector(loc, f32Bytes(float32(i), float32(i)*2)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkDeleted(2); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := New(Config{Space: simd.NewSpace(simd.L2, simd.Float32, 2), BatchSize: 4, MaxElements: 16, VacantEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != s.Size() {
		t.Fatalf("Size mismatch: %d vs %d", loaded.Size(), s.Size())
	}
	if !loaded.IsDeleted(2) {
		t.Fatal("deleted slot did not round-trip")
	}
	v, err := loaded.GetVector(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, f32Bytes(1, 2)) {
		t.Fatalf("vector did not round-trip: %v", v)
	}
}

func TestLoadDimensionMismatch(t *testing.T) {
	s := newTestStore(t, false)
	loc, _ := s.PreferAdd(1)
	_ = s.SetVector(loc, f32Bytes(1, 2))

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatal(err)
	}

	wrongDim, err := New(Config{Space: simd.NewSpace(simd.L2, simd.Float32, 3), BatchSize: 4, MaxElements: 16})
	if err != nil {
		t.Fatal(err)
	}
	loadErr := wrongDim.Load(&buf)
	if code, ok := hnswerr.Of(loadErr); !ok || code != hnswerr.CodeInvalidArgument {
		t.Fatalf("want invalid-argument, got %v", loadErr)
	}
}

func TestLoadCorruptedChecksum(t *testing.T) {
	s := newTestStore(t, false)
	loc, _ := s.PreferAdd(1)
	_ = s.SetVector(loc, f32Bytes(1, 2))

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF // flip a bit in the checksum trailer

	fresh, _ := New(Config{Space: simd.NewSpace(simd.L2, simd.Float32, 2), BatchSize: 4, MaxElements: 16})
	err := fresh.Load(bytes.NewReader(data))
	var hErr *hnswerr.Error
	if !errors.As(err, &hErr) || hErr.Code != hnswerr.CodeDataLoss {
		t.Fatalf("want data-loss, got %v", err)
	}
}
