package vecstore

import "unsafe"

// castF32 reinterprets a byte span as a float32 slice without copying.
// Safe because VectorBatch storage is never relocated after
// allocation and every stored vector's byte length is an exact
// multiple of 4.
func castF32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// castI8 reinterprets a byte span as an int8 slice without copying.
func castI8(b []byte) []int8 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&b[0])), len(b))
}

// alignOf returns the backing array's starting address, used only to
// compute a 64-byte-aligned offset within an over-allocated buffer.
func alignOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
