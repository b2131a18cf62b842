package hnswio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/simd"
)

func f32Bytes(vs ...float32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestWriteReadVectorFileRoundTrip(t *testing.T) {
	vecs := append(f32Bytes(1, 2, 3), f32Bytes(4, 5, 6)...)

	var buf bytes.Buffer
	if err := WriteVectorFile(&buf, 2, 3, simd.Float32, bytes.NewReader(vecs)); err != nil {
		t.Fatal(err)
	}

	vr, err := OpenVectorFileReader(&buf, simd.Float32)
	if err != nil {
		t.Fatal(err)
	}
	if vr.Header.NVec != 2 || vr.Header.Dim != 3 {
		t.Fatalf("unexpected header %+v", vr.Header)
	}

	first, err := vr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, f32Bytes(1, 2, 3)) {
		t.Fatalf("first vector mismatch: %v", first)
	}
	second, err := vr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(second, f32Bytes(4, 5, 6)) {
		t.Fatalf("second vector mismatch: %v", second)
	}
	if _, err := vr.Next(); err != io.EOF {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestWriteVectorFileShortSource(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVectorFile(&buf, 2, 3, simd.Float32, bytes.NewReader(f32Bytes(1, 2, 3)))
	if code, ok := hnswerr.Of(err); !ok || code != hnswerr.CodeDataLoss {
		t.Fatalf("want data-loss, got %v", err)
	}
}

func TestReadVectorFileHeaderShortRead(t *testing.T) {
	_, err := ReadVectorFileHeader(bytes.NewReader([]byte{1, 2, 3}))
	if code, ok := hnswerr.Of(err); !ok || code != hnswerr.CodeDataLoss {
		t.Fatalf("want data-loss, got %v", err)
	}
}
