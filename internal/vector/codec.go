package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector or encoded blob does not
// match the expected dimensionality.
var ErrDimensionMismatch = fmt.Errorf("vector: dimension mismatch")

// Encode packs a vector into a fixed-width binary form: one little-endian
// IEEE-754 float32 per component, 4 bytes each. The blob is what gets stored
// per chunk, so the packed form matters — it is ~5x smaller than JSON.
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode recovers a vector from its binary form. The round-trip through
// Encode is bit-exact. Returns ErrDimensionMismatch if the blob length does
// not correspond to dim float32 components.
func Decode(blob []byte, dim int) ([]float32, error) {
	if len(blob) != dim*4 {
		return nil, fmt.Errorf("%w: %d bytes, want %d (dim %d)", ErrDimensionMismatch, len(blob), dim*4, dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
