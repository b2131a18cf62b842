package hnsw

import "unsafe"

// castF32 reinterprets a byte span as a float32 slice without copying,
// used by preprocess to normalize its private copy of a caller's
// query/insert bytes in place under cosine, mirroring vecstore's own
// cast helper for its internal batch storage.
func castF32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
