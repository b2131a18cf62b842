package simd

import "testing"

func TestCompareF32L2Self(t *testing.T) {
	s := NewSpace(L2, Float32, 3)
	v := []float32{1, 2, 3}
	if d := s.CompareF32(v, v); d != 0 {
		t.Fatalf("L2(v,v) = %v, want 0", d)
	}
}

func TestCompareF32Symmetric(t *testing.T) {
	s := NewSpace(L2, Float32, 2)
	a := []float32{0, 0}
	b := []float32{3, 4}
	if s.CompareF32(a, b) != s.CompareF32(b, a) {
		t.Fatal("L2 distance is not symmetric")
	}
}

func TestCosinePreprocessIdempotent(t *testing.T) {
	s := NewSpace(Cosine, Float32, 2)
	v := []float32{3, 4}
	s.PreprocessInPlace(v)
	before := append([]float32(nil), v...)
	s.PreprocessInPlace(v)
	for i := range v {
		if diff := v[i] - before[i]; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("normalize not idempotent at %d: %v vs %v", i, v[i], before[i])
		}
	}
}

func TestCosineSelfDistanceZero(t *testing.T) {
	s := NewSpace(Cosine, Float32, 2)
	v := []float32{3, 4}
	s.PreprocessInPlace(v)
	if d := s.CompareF32(v, v); d > 1e-6 || d < -1e-6 {
		t.Fatalf("cosine(v,v) after normalize = %v, want ~0", d)
	}
}

func TestInnerProductOrderingMatchesL2Sign(t *testing.T) {
	// IP is flipped so that "closer" (larger raw dot product) yields a
	// smaller compare() value, same ordering convention as L2.
	s := NewSpace(InnerProduct, Float32, 2)
	query := []float32{1, 0}
	near := []float32{1, 0}
	far := []float32{5, 0}
	if s.CompareF32(query, near) < s.CompareF32(query, far) {
		t.Fatal("IP compare should treat the more-aligned vector as closer (smaller)")
	}
}

func TestCosineSeedScenario(t *testing.T) {
	// spec.md §8 seed scenario 4.
	s := NewSpace(Cosine, Float32, 2)
	v1 := []float32{3, 4}
	v2 := []float32{-3, -4}
	s.PreprocessInPlace(v1)
	s.PreprocessInPlace(v2)
	q := []float32{1, 0}
	d1 := s.CompareF32(q, v1)
	d2 := s.CompareF32(q, v2)
	if d1 < 0.35 || d1 > 0.45 {
		t.Fatalf("distance to v1 = %v, want ~0.4", d1)
	}
	if d2 < 1.55 || d2 > 1.65 {
		t.Fatalf("distance to v2 = %v, want ~1.6", d2)
	}
}

func TestCompareU8L2(t *testing.T) {
	s := NewSpace(L2, Uint8, 2)
	a := []uint8{10, 20}
	b := []uint8{13, 24}
	if d := s.CompareU8(a, b); d != 9+16 {
		t.Fatalf("u8 L2 = %v, want 25", d)
	}
}

func TestCompareI8L2(t *testing.T) {
	s := NewSpace(L2, Int8, 2)
	a := []int8{-10, 20}
	b := []int8{-13, 24}
	if d := s.CompareI8(a, b); d != 9+16 {
		t.Fatalf("i8 L2 = %v, want 25", d)
	}
}
