package match

import (
	"errors"
	"math"
	"sort"
)

// Ball-tree parameters. Leaf size is clamped to this range at build time.
const (
	MinLeafSize     = 4
	MaxLeafSize     = 64
	DefaultLeafSize = 16
)

// BallTree is an exact nearest-neighbour index over identity embeddings.
// Points are partitioned into nested balls (center + radius); a query prunes
// any ball that cannot contain a point closer than the current best. Unlike
// an approximate index, results are always identical to a brute-force scan.
//
// The tree is immutable once built. Entries are referenced through an index
// array into a shared arena, so nodes hold no per-point allocations.
type BallTree struct {
	entries []IdentityEntry
	idx     []int
	nodes   []ballNode
}

type ballNode struct {
	center []float64
	radius float64

	// Internal nodes split on one dimension; left/right are node indexes.
	splitDim int
	splitVal float64
	left     int
	right    int

	// Leaf nodes hold idx[start:end); leaf is marked by left == -1.
	start int
	end   int
}

// NewBallTree builds a ball-tree over the given entries.
// Returns an error when there is nothing to index.
func NewBallTree(entries []IdentityEntry, leafSize int) (*BallTree, error) {
	if len(entries) == 0 {
		return nil, errors.New("cannot build ball-tree from zero entries")
	}

	if leafSize < MinLeafSize {
		leafSize = MinLeafSize
	}
	if leafSize > MaxLeafSize {
		leafSize = MaxLeafSize
	}

	t := &BallTree{
		entries: entries,
		idx:     make([]int, len(entries)),
	}
	for i := range t.idx {
		t.idx[i] = i
	}

	t.build(0, len(entries), leafSize)
	return t, nil
}

// build constructs the subtree covering idx[start:end) and returns its node index.
func (t *BallTree) build(start, end, leafSize int) int {
	center := t.centroid(start, end)
	radius := t.maxDistanceFrom(center, start, end)

	node := ballNode{
		center: center,
		radius: radius,
		left:   -1,
		right:  -1,
		start:  start,
		end:    end,
	}

	if end-start <= leafSize {
		t.nodes = append(t.nodes, node)
		return len(t.nodes) - 1
	}

	dim := t.maxVarianceDim(start, end)
	seg := t.idx[start:end]
	sort.Slice(seg, func(i, j int) bool {
		return t.entries[seg[i]].Vector[dim] < t.entries[seg[j]].Vector[dim]
	})

	mid := (start + end) / 2
	node.splitDim = dim
	node.splitVal = t.entries[t.idx[mid]].Vector[dim]

	// Reserve the node slot before recursing so children land after it.
	t.nodes = append(t.nodes, node)
	self := len(t.nodes) - 1

	left := t.build(start, mid, leafSize)
	right := t.build(mid, end, leafSize)
	t.nodes[self].left = left
	t.nodes[self].right = right
	return self
}

// centroid computes the coordinate-wise mean of idx[start:end).
func (t *BallTree) centroid(start, end int) []float64 {
	dim := len(t.entries[t.idx[start]].Vector)
	center := make([]float64, dim)
	for _, i := range t.idx[start:end] {
		for d, v := range t.entries[i].Vector {
			center[d] += v
		}
	}
	n := float64(end - start)
	for d := range center {
		center[d] /= n
	}
	return center
}

// maxDistanceFrom returns the ball radius: the largest distance from the
// center to any point in idx[start:end).
func (t *BallTree) maxDistanceFrom(center []float64, start, end int) float64 {
	var radius float64
	for _, i := range t.idx[start:end] {
		if d := EuclideanDistance(center, t.entries[i].Vector); d > radius {
			radius = d
		}
	}
	return radius
}

// maxVarianceDim picks the coordinate dimension with the largest variance
// across idx[start:end).
func (t *BallTree) maxVarianceDim(start, end int) int {
	dim := len(t.entries[t.idx[start]].Vector)
	n := float64(end - start)

	best, bestVar := 0, -1.0
	for d := 0; d < dim; d++ {
		var sum, sumSq float64
		for _, i := range t.idx[start:end] {
			v := t.entries[i].Vector[d]
			sum += v
			sumSq += v * v
		}
		mean := sum / n
		variance := sumSq/n - mean*mean
		if variance > bestVar {
			best, bestVar = d, variance
		}
	}
	return best
}

// Query returns the nearest entry within maxDistance of the query vector,
// or ok=false when no entry qualifies.
func (t *BallTree) Query(vec []float64, maxDistance float64) (Match, bool) {
	best := Match{Distance: maxDistance}
	found := t.search(0, vec, &best, false)
	return best, found
}

// search walks the subtree rooted at node index n depth-first, updating best
// in place. Returns whether any qualifying point has been found so far.
func (t *BallTree) search(n int, vec []float64, best *Match, found bool) bool {
	node := &t.nodes[n]

	// No point inside this ball can beat the current best.
	if EuclideanDistance(vec, node.center)-node.radius > best.Distance {
		return found
	}

	if node.left == -1 {
		for _, i := range t.idx[node.start:node.end] {
			d := EuclideanDistance(vec, t.entries[i].Vector)
			if d < best.Distance || (!found && d <= best.Distance) {
				best.Distance = d
				best.IdentityKey = t.entries[i].IdentityKey
				found = true
			}
		}
		return found
	}

	// Descend the split side the query falls on first; visiting the likelier
	// child early tightens best and accelerates pruning of the other side.
	first, second := node.left, node.right
	if vec[node.splitDim] >= node.splitVal {
		first, second = node.right, node.left
	}
	found = t.search(first, vec, best, found)
	return t.search(second, vec, best, found)
}

// Count returns the number of indexed entries.
func (t *BallTree) Count() int {
	return len(t.entries)
}

// linearScan is the brute-force equivalent of a tree query, used as the
// cache fallback for small enrollment sets.
func linearScan(entries []IdentityEntry, vec []float64, maxDistance float64) (Match, bool) {
	best := Match{Distance: math.Inf(1)}
	found := false
	for i := range entries {
		d := EuclideanDistance(vec, entries[i].Vector)
		if d <= maxDistance && d < best.Distance {
			best.Distance = d
			best.IdentityKey = entries[i].IdentityKey
			found = true
		}
	}
	return best, found
}
