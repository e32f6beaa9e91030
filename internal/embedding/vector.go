// Package embedding turns face crops into 512-dimension vectors and matches
// them against the enrolled gallery by cosine distance.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dim is the embedding dimensionality produced by the encoder head.
const Dim = 512

// Vector is a face embedding. Raw encoder output is not unit-norm;
// normalization happens at gallery load and before matching.
type Vector []float32

// Normalize returns a unit-length copy. A zero vector comes back unchanged.
func (v Vector) Normalize() Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot is the inner product. For unit vectors this is cosine similarity.
func (v Vector) Dot(other Vector) float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(other[i])
	}
	return sum
}

// CosineDistance is 1 - cosine similarity; both vectors must already be
// normalized.
func (v Vector) CosineDistance(other Vector) float64 {
	return 1 - v.Dot(other)
}

// MarshalBlob serializes the vector as little-endian float32s, the opaque
// byte form used on the wire and for export.
func (v Vector) MarshalBlob() []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

// UnmarshalBlob parses the little-endian float32 byte form.
func UnmarshalBlob(blob []byte) (Vector, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make(Vector, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
