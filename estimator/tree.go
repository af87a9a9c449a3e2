package estimator

import (
	"math"
	"math/rand"
	"sort"
)

// Split criteria.
const (
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
	CriterionMSE     = "squared_error"
)

// Node is one entry of a flattened binary tree. Leaves have Left == -1 and
// carry Value: class proportions for classifiers, a single number otherwise.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64
}

// Tree stores nodes in a flat slice with the root at index 0.
type Tree struct {
	Nodes []Node
}

func (t *Tree) leaf(x []float64) *Node {
	n := &t.Nodes[0]
	for n.Left >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n
}

func (t *Tree) add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// columns holds, per feature, the rows of a node ordered by that feature's
// value. A row may appear several times when drawn with replacement.
type columns [][]int

// presort orders every row by each feature once per fit.
func presort(X [][]float64) columns {
	p := len(X[0])
	cols := make(columns, p)
	for f := 0; f < p; f++ {
		f := f
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return X[idx[a]][f] < X[idx[b]][f] })
		cols[f] = idx
	}
	return cols
}

// sample keeps each row count[row] times, preserving the sort order.
func (c columns) sample(count []int) columns {
	total := 0
	for _, k := range count {
		total += k
	}
	out := make(columns, len(c))
	for f, idx := range c {
		s := make([]int, 0, total)
		for _, r := range idx {
			for k := 0; k < count[r]; k++ {
				s = append(s, r)
			}
		}
		out[f] = s
	}
	return out
}

func (c columns) rows() []int { return c[0] }

// partition splits every sorted list by the rule x[feature] <= threshold.
func (c columns) partition(X [][]float64, feature int, threshold float64) (columns, columns) {
	left := make(columns, len(c))
	right := make(columns, len(c))
	for f, idx := range c {
		l := make([]int, 0, len(idx))
		r := make([]int, 0, len(idx))
		for _, row := range idx {
			if X[row][feature] <= threshold {
				l = append(l, row)
			} else {
				r = append(r, row)
			}
		}
		left[f], right[f] = l, r
	}
	return left, right
}

func midpoint(lo, hi float64) float64 {
	t := lo + (hi-lo)/2
	if t >= hi {
		return lo
	}
	return t
}

// cartBuilder grows an impurity tree. maxFeatures of 0 means all features.
type cartBuilder struct {
	x               [][]float64
	y               []float64
	criterion       string
	numClasses      int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand
}

func (b *cartBuilder) build(cols columns) *Tree {
	if b.minSamplesSplit < 2 {
		b.minSamplesSplit = 2
	}
	if b.minSamplesLeaf < 1 {
		b.minSamplesLeaf = 1
	}
	t := &Tree{}
	b.grow(t, cols, 0)
	return t
}

func (b *cartBuilder) grow(t *Tree, cols columns, depth int) int {
	idx := cols.rows()
	value, impurity := b.summarise(idx)
	self := t.add(Node{Left: -1, Right: -1, Value: value})

	if impurity <= 1e-12 || len(idx) < b.minSamplesSplit || len(idx) < 2*b.minSamplesLeaf ||
		(b.maxDepth > 0 && depth >= b.maxDepth) {
		return self
	}
	feature, threshold, ok := b.bestSplit(cols, impurity)
	if !ok {
		return self
	}

	left, right := cols.partition(b.x, feature, threshold)
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: value}
	return self
}

func (b *cartBuilder) summarise(idx []int) ([]float64, float64) {
	if b.numClasses == 0 {
		var s, sq float64
		for _, i := range idx {
			s += b.y[i]
			sq += b.y[i] * b.y[i]
		}
		n := float64(len(idx))
		m := s / n
		return []float64{m}, sq/n - m*m
	}
	counts := make([]float64, b.numClasses)
	for _, i := range idx {
		counts[int(b.y[i])]++
	}
	imp := b.classImpurity(counts, float64(len(idx)))
	for c := range counts {
		counts[c] /= float64(len(idx))
	}
	return counts, imp
}

func (b *cartBuilder) classImpurity(counts []float64, n float64) float64 {
	var s float64
	if b.criterion == CriterionEntropy {
		for _, c := range counts {
			if c > 0 {
				p := c / n
				s -= p * math.Log2(p)
			}
		}
		return s
	}
	for _, c := range counts {
		p := c / n
		s += p * p
	}
	return 1 - s
}

func (b *cartBuilder) candidateFeatures(p int) []int {
	if b.maxFeatures <= 0 || b.maxFeatures >= p || b.rng == nil {
		return allFeatures(p)
	}
	return b.rng.Perm(p)[:b.maxFeatures]
}

func (b *cartBuilder) bestSplit(cols columns, parent float64) (int, float64, bool) {
	n := len(cols.rows())
	bestScore := parent - 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	var leftCounts, rightCounts, totalCounts []float64
	var totalSum, totalSq float64
	if b.numClasses > 0 {
		leftCounts = make([]float64, b.numClasses)
		rightCounts = make([]float64, b.numClasses)
		totalCounts = make([]float64, b.numClasses)
		for _, i := range cols.rows() {
			totalCounts[int(b.y[i])]++
		}
	} else {
		for _, i := range cols.rows() {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}
	}

	for _, f := range b.candidateFeatures(len(cols)) {
		sorted := cols[f]
		for c := range leftCounts {
			leftCounts[c] = 0
		}
		var ls, lsq float64

		for pos := 0; pos < n-1; pos++ {
			i := sorted[pos]
			if b.numClasses > 0 {
				leftCounts[int(b.y[i])]++
			} else {
				ls += b.y[i]
				lsq += b.y[i] * b.y[i]
			}
			nl := pos + 1
			nr := n - nl
			if nl < b.minSamplesLeaf || nr < b.minSamplesLeaf {
				continue
			}
			lo, hi := b.x[i][f], b.x[sorted[pos+1]][f]
			if lo == hi {
				continue
			}

			var score float64
			if b.numClasses > 0 {
				for c := range rightCounts {
					rightCounts[c] = totalCounts[c] - leftCounts[c]
				}
				score = (float64(nl)*b.classImpurity(leftCounts, float64(nl)) +
					float64(nr)*b.classImpurity(rightCounts, float64(nr))) / float64(n)
			} else {
				rs, rsq := totalSum-ls, totalSq-lsq
				score = ((lsq - ls*ls/float64(nl)) + (rsq - rs*rs/float64(nr))) / float64(n)
			}
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = midpoint(lo, hi)
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
