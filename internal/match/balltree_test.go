package match

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func randomVector(rng *rand.Rand) []float64 {
	vec := make([]float64, EmbeddingDim)
	for i := range vec {
		vec[i] = rng.NormFloat64()
	}
	return vec
}

func randomEntries(rng *rand.Rand, n int) []IdentityEntry {
	entries := make([]IdentityEntry, n)
	for i := range entries {
		entries[i] = IdentityEntry{
			IdentityKey: fmt.Sprintf("id-%d", i),
			Vector:      randomVector(rng),
		}
	}
	return entries
}

func TestNewBallTree_EmptyFails(t *testing.T) {
	if _, err := NewBallTree(nil, DefaultLeafSize); err == nil {
		t.Fatal("expected error for zero entries")
	}
}

func TestBallTree_SingleEntry(t *testing.T) {
	entries := []IdentityEntry{{IdentityKey: "only", Vector: make([]float64, EmbeddingDim)}}
	tree, err := NewBallTree(entries, DefaultLeafSize)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	m, ok := tree.Query(make([]float64, EmbeddingDim), 0.1)
	if !ok {
		t.Fatal("expected match against identical vector")
	}
	if m.IdentityKey != "only" {
		t.Errorf("expected identity 'only', got %q", m.IdentityKey)
	}
	if m.Distance != 0 {
		t.Errorf("expected distance 0, got %f", m.Distance)
	}
}

func TestBallTree_NoMatchBeyondRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	entries := randomEntries(rng, 100)

	tree, err := NewBallTree(entries, DefaultLeafSize)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// A far-away query must not match within a tiny radius.
	far := make([]float64, EmbeddingDim)
	for i := range far {
		far[i] = 1000
	}
	if _, ok := tree.Query(far, 0.5); ok {
		t.Error("expected no match within radius 0.5 of a distant query")
	}
}

func TestBallTree_EquivalentToLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, size := range []int{1, 3, 10, 50, 200, 500} {
		for _, leafSize := range []int{1, 4, 16, 64, 100} {
			entries := randomEntries(rng, size)
			tree, err := NewBallTree(entries, leafSize)
			if err != nil {
				t.Fatalf("size=%d leaf=%d: build failed: %v", size, leafSize, err)
			}

			for q := 0; q < 25; q++ {
				vec := randomVector(rng)
				// Vary the radius so some queries match and some do not.
				radius := 5.0 + rng.Float64()*15

				got, gotOK := tree.Query(vec, radius)
				want, wantOK := linearScan(entries, vec, radius)

				if gotOK != wantOK {
					t.Fatalf("size=%d leaf=%d: tree ok=%v, scan ok=%v", size, leafSize, gotOK, wantOK)
				}
				if !gotOK {
					continue
				}
				if got.IdentityKey != want.IdentityKey {
					t.Fatalf("size=%d leaf=%d: tree found %s (%.6f), scan found %s (%.6f)",
						size, leafSize, got.IdentityKey, got.Distance, want.IdentityKey, want.Distance)
				}
				if math.Abs(got.Distance-want.Distance) > 1e-9 {
					t.Fatalf("size=%d leaf=%d: distance mismatch: tree %.12f, scan %.12f",
						size, leafSize, got.Distance, want.Distance)
				}
			}
		}
	}
}

func TestBallTree_NearestAmongSeveral(t *testing.T) {
	base := make([]float64, EmbeddingDim)
	near := make([]float64, EmbeddingDim)
	far := make([]float64, EmbeddingDim)
	near[0] = 0.3
	far[0] = 0.9

	entries := []IdentityEntry{
		{IdentityKey: "far", Vector: far},
		{IdentityKey: "near", Vector: near},
	}
	tree, err := NewBallTree(entries, DefaultLeafSize)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	m, ok := tree.Query(base, 1.0)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.IdentityKey != "near" {
		t.Errorf("expected nearest identity 'near', got %q", m.IdentityKey)
	}
	if math.Abs(m.Distance-0.3) > 1e-9 {
		t.Errorf("expected distance 0.3, got %f", m.Distance)
	}
}
