// Package hnswio implements the vector-data bulk-ingest file format of
// spec.md §6: a 2-word header (vector count, dimension) followed by
// raw little-endian element bytes, the unit shared with ground-truth
// generator and loader collaborators external to the index itself.
//
// Grounded on the teacher's pkg/backup/wal.go encoding/binary framing
// idiom, reused here for a flat record format instead of a segmented
// write-ahead log, and on pkg/pool.BufferPool for the copy buffer
// WriteVectorFile uses to avoid a full read into memory.
package hnswio

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/pool"
	"github.com/gibram-io/hnswgo/pkg/simd"
)

// WriteVectorFile writes nvec vectors of dim elements each (stride =
// dim*element.Size() bytes) to w, matching spec.md §6's vector-data
// file format. vectors must supply exactly nvec*stride bytes in total
// across its calls.
func WriteVectorFile(w io.Writer, nvec, dim uint32, element simd.ElementType, vectors io.Reader) error {
	if err := binary.Write(w, binary.LittleEndian, nvec); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "hnswio.WriteVectorFile", "write nvec", err)
	}
	if err := binary.Write(w, binary.LittleEndian, dim); err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "hnswio.WriteVectorFile", "write dim", err)
	}

	want := int64(nvec) * int64(dim) * int64(element.Size())
	buf := pool.DefaultBufferPool.Get(64 * 1024)
	defer pool.DefaultBufferPool.Put(buf)

	n, err := io.CopyBuffer(w, io.LimitReader(vectors, want), buf)
	if err != nil {
		return hnswerr.Wrap(hnswerr.CodeUnavailable, "hnswio.WriteVectorFile", "write vector bytes", err)
	}
	if n != want {
		return hnswerr.New(hnswerr.CodeDataLoss, "hnswio.WriteVectorFile", "short write: vector source exhausted early")
	}
	return nil
}

// VectorFileHeader is the decoded 2-word header of a vector-data file.
type VectorFileHeader struct {
	NVec uint32
	Dim  uint32
}

// ReadVectorFileHeader reads and returns the header without consuming
// the vector bytes that follow, so a caller can validate dimension
// before streaming.
func ReadVectorFileHeader(r io.Reader) (VectorFileHeader, error) {
	var h VectorFileHeader
	if err := binary.Read(r, binary.LittleEndian, &h.NVec); err != nil {
		return h, hnswerr.Wrap(hnswerr.CodeDataLoss, "hnswio.ReadVectorFileHeader", "read nvec", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Dim); err != nil {
		return h, hnswerr.Wrap(hnswerr.CodeDataLoss, "hnswio.ReadVectorFileHeader", "read dim", err)
	}
	return h, nil
}

// VectorFileReader streams one vector at a time from an open
// vector-data file, avoiding a full-file read into memory for bulk
// ingest of large ground-truth sets.
type VectorFileReader struct {
	r      *bufio.Reader
	Header VectorFileHeader
	stride int
	read   uint32
}

// OpenVectorFileReader reads r's header and returns a reader positioned
// at the first vector.
func OpenVectorFileReader(r io.Reader, element simd.ElementType) (*VectorFileReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	h, err := ReadVectorFileHeader(br)
	if err != nil {
		return nil, err
	}
	return &VectorFileReader{r: br, Header: h, stride: int(h.Dim) * element.Size()}, nil
}

// Next reads the next vector's raw bytes into a freshly allocated
// slice, or returns io.EOF once every vector has been read.
func (vr *VectorFileReader) Next() ([]byte, error) {
	if vr.read >= vr.Header.NVec {
		return nil, io.EOF
	}
	buf := make([]byte, vr.stride)
	if _, err := io.ReadFull(vr.r, buf); err != nil {
		return nil, hnswerr.Wrap(hnswerr.CodeDataLoss, "hnswio.VectorFileReader.Next", "short read", err)
	}
	vr.read++
	return buf, nil
}
