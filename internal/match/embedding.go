package match

import (
	"encoding/binary"
	"fmt"
	"math"
)

// embeddingByteLen is the serialized size of one embedding:
// 128 little-endian float64 values.
const embeddingByteLen = EmbeddingDim * 8

// DecodeEmbedding decodes the store's serialized embedding format
// (128 x 8-byte little-endian doubles) into a vector.
func DecodeEmbedding(data []byte) ([]float64, error) {
	if len(data) != embeddingByteLen {
		return nil, fmt.Errorf("embedding data is %d bytes, expected %d", len(data), embeddingByteLen)
	}

	vec := make([]float64, EmbeddingDim)
	for i := range vec {
		bits := binary.LittleEndian.Uint64(data[i*8:])
		vec[i] = math.Float64frombits(bits)
	}
	return vec, nil
}

// EncodeEmbedding serializes a vector into the store's embedding format.
func EncodeEmbedding(vec []float64) ([]byte, error) {
	if len(vec) != EmbeddingDim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), EmbeddingDim)
	}

	data := make([]byte, embeddingByteLen)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return data, nil
}

// ValidateEmbedding checks that a vector is usable for matching.
func ValidateEmbedding(vec []float64) error {
	if len(vec) != EmbeddingDim {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), EmbeddingDim)
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("embedding component %d is not finite", i)
		}
	}
	return nil
}

// EuclideanDistance computes the L2 distance between two vectors.
// Returns +Inf for mismatched lengths so invalid input never wins a match.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
