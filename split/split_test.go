package split

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/types"
)

func labels(counts ...int) []float64 {
	var y []float64
	for c, n := range counts {
		for i := 0; i < n; i++ {
			y = append(y, float64(c))
		}
	}
	return y
}

func countOf(y []float64, idx []int, c float64) int {
	n := 0
	for _, i := range idx {
		if y[i] == c {
			n++
		}
	}
	return n
}

func TestStratifiedIsDeterministic(t *testing.T) {
	y := labels(50, 30, 20)
	a, err := Stratified(y, DefaultTestSize, 42)
	require.NoError(t, err)
	b, err := Stratified(y, DefaultTestSize, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Stratified(y, DefaultTestSize, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestStratifiedPreservesClassShares(t *testing.T) {
	cases := map[string][]int{
		"80/20":      {80, 20},
		"iris":       {50, 50, 50},
		"skewed":     {90, 7, 3},
		"odd counts": {33, 21, 17, 9},
	}
	for name, counts := range cases {
		counts := counts
		t.Run(name, func(t *testing.T) {
			y := labels(counts...)
			s, err := Stratified(y, DefaultTestSize, 1)
			require.NoError(t, err)

			n := len(y)
			assert.Equal(t, int(math.Ceil(0.2*float64(n))), len(s.Test))
			assert.Equal(t, n, len(s.Train)+len(s.Test))

			for c, total := range counts {
				share := float64(total) / float64(n)
				inTest := countOf(y, s.Test, float64(c))
				inTrain := countOf(y, s.Train, float64(c))
				assert.LessOrEqual(t, math.Abs(float64(inTest)-share*float64(len(s.Test))), 1.0)
				assert.LessOrEqual(t, math.Abs(float64(inTrain)-share*float64(len(s.Train))), 1.0)
				assert.Positive(t, inTrain)
			}
		})
	}
}

func TestStratifiedExact8020(t *testing.T) {
	y := labels(80, 20)
	s, err := Stratified(y, DefaultTestSize, 3)
	require.NoError(t, err)
	assert.Equal(t, 16, countOf(y, s.Test, 0))
	assert.Equal(t, 4, countOf(y, s.Test, 1))
	assert.Equal(t, 64, countOf(y, s.Train, 0))
	assert.Equal(t, 16, countOf(y, s.Train, 1))
}

func TestPlainPartitionsEveryRow(t *testing.T) {
	s, err := Plain(11, DefaultTestSize, 42)
	require.NoError(t, err)
	assert.Len(t, s.Test, 3)
	assert.Len(t, s.Train, 8)

	all := append(append([]int(nil), s.Train...), s.Test...)
	sort.Ints(all)
	for i, v := range all {
		assert.Equal(t, i, v)
	}

	again, err := Plain(11, DefaultTestSize, 42)
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestSplitRejectsDegenerateInput(t *testing.T) {
	_, err := Stratified(labels(5, 1), DefaultTestSize, 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = Plain(1, DefaultTestSize, 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = Plain(10, 1.5, 1)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestRows(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}}
	xs, ys := Rows(X, []float64{10, 11, 12}, []int{2, 0})
	assert.Equal(t, [][]float64{{2}, {0}}, xs)
	assert.Equal(t, []float64{12, 10}, ys)
}
