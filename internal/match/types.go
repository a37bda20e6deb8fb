// Package match provides face embedding matching: the ball-tree spatial
// index, the rebuildable identity cache on top of it, and the capture-quality
// tolerance tuner.
package match

// EmbeddingDim is the fixed dimension for face embeddings produced by the
// vision sidecar (ArcFace-style 128-dim float64 vectors).
const EmbeddingDim = 128

// IdentityEntry pairs an enrolled identity key with one of its embedding
// vectors. An identity enrolled with multiple photos contributes multiple
// entries carrying the same key.
type IdentityEntry struct {
	IdentityKey string
	Vector      []float64
}

// Match is the result of a nearest-identity query.
type Match struct {
	IdentityKey string
	Distance    float64
}
