// Package split partitions a dataset into a training and a held-out test
// part. Both splitters are deterministic for a given seed.
package split

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/types"
)

// DefaultTestSize is the held-out share used by the selector.
const DefaultTestSize = 0.2

// Split holds row indices into the original dataset.
type Split struct {
	Train []int
	Test  []int
}

func sizes(n int, testSize float64) (int, int, error) {
	if testSize <= 0 || testSize >= 1 {
		return 0, 0, errors.Wrapf(types.ErrInvalidInput, "test size %v outside (0,1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return 0, 0, errors.Wrapf(types.ErrInvalidInput, "%d rows cannot be split with test size %v", n, testSize)
	}
	return nTrain, nTest, nil
}

// Plain draws a random permutation and takes its head as the test part.
func Plain(n int, testSize float64, seed int64) (Split, error) {
	_, nTest, err := sizes(n, testSize)
	if err != nil {
		return Split{}, err
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n) //nolint:gosec // reproducible split
	return Split{
		Train: append([]int(nil), perm[nTest:]...),
		Test:  append([]int(nil), perm[:nTest]...),
	}, nil
}

// Stratified keeps each class's share of the test part within one row of
// its share of the whole dataset. Every class needs at least two rows.
func Stratified(y []float64, testSize float64, seed int64) (Split, error) {
	n := len(y)
	_, nTest, err := sizes(n, testSize)
	if err != nil {
		return Split{}, err
	}

	members := map[float64][]int{}
	for i, v := range y {
		members[v] = append(members[v], i)
	}
	classes := make([]float64, 0, len(members))
	for c, idx := range members {
		if len(idx) < 2 {
			return Split{}, errors.Wrapf(types.ErrInvalidInput, "class %v has a single row and cannot be stratified", c)
		}
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	quota := allocate(nTest, classes, members, n)

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible split
	var s Split
	for k, c := range classes {
		idx := append([]int(nil), members[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		s.Test = append(s.Test, idx[:quota[k]]...)
		s.Train = append(s.Train, idx[quota[k]:]...)
	}
	rng.Shuffle(len(s.Train), func(i, j int) { s.Train[i], s.Train[j] = s.Train[j], s.Train[i] })
	rng.Shuffle(len(s.Test), func(i, j int) { s.Test[i], s.Test[j] = s.Test[j], s.Test[i] })
	return s, nil
}

// allocate spreads total rows over classes by the largest remainder method,
// never taking every row of a class.
func allocate(total int, classes []float64, members map[float64][]int, n int) []int {
	quota := make([]int, len(classes))
	rem := make([]float64, len(classes))
	assigned := 0
	for k, c := range classes {
		exact := float64(total) * float64(len(members[c])) / float64(n)
		quota[k] = int(math.Floor(exact))
		rem[k] = exact - float64(quota[k])
		assigned += quota[k]
	}

	order := make([]int, len(classes))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })

	for left := total - assigned; left > 0; {
		progressed := false
		for _, k := range order {
			if left == 0 {
				break
			}
			if quota[k] < len(members[classes[k]])-1 {
				quota[k]++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return quota
}

// Rows gathers the selected rows of X and y.
func Rows(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for i, r := range idx {
		xs[i] = X[r]
		ys[i] = y[r]
	}
	return xs, ys
}
