package estimator

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// Feature subsampling modes for forests.
const (
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesAll  = "all"
)

// RandomForest averages bootstrapped CART trees. A zero NumClasses makes it
// a regressor.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Criterion       string
	MaxFeatures     string
	Seed            int64
	NumClasses      int

	NumFeatures int
	Trees       []*Tree
}

func (f *RandomForest) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if f.NEstimators < 1 {
		return errors.Errorf("random forest: n_estimators must be positive, got %d", f.NEstimators)
	}
	if f.NumClasses > 0 {
		if err := checkLabels(y, f.NumClasses); err != nil {
			return err
		}
	}
	criterion := f.Criterion
	if criterion == "" {
		criterion = CriterionGini
		if f.NumClasses == 0 {
			criterion = CriterionMSE
		}
	}
	maxFeatures := 0
	if f.MaxFeatures == MaxFeaturesSqrt {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(p)))))
	}

	rng := rand.New(rand.NewSource(f.Seed)) //nolint:gosec // reproducible model fitting
	sorted := presort(X)
	f.NumFeatures = p
	f.Trees = make([]*Tree, f.NEstimators)
	count := make([]int, n)
	for t := range f.Trees {
		for i := range count {
			count[i] = 0
		}
		for i := 0; i < n; i++ {
			count[rng.Intn(n)]++
		}
		b := &cartBuilder{
			x:               X,
			y:               y,
			criterion:       criterion,
			numClasses:      f.NumClasses,
			maxDepth:        f.MaxDepth,
			minSamplesSplit: f.MinSamplesSplit,
			minSamplesLeaf:  f.MinSamplesLeaf,
			maxFeatures:     maxFeatures,
			rng:             rand.New(rand.NewSource(rng.Int63())), //nolint:gosec
		}
		f.Trees[t] = b.build(sorted.sample(count))
	}
	return nil
}

func (f *RandomForest) Predict(X [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, f.NumFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	width := f.NumClasses
	if width == 0 {
		width = 1
	}
	acc := make([]float64, width)
	for i, row := range X {
		for c := range acc {
			acc[c] = 0
		}
		for _, t := range f.Trees {
			for c, v := range t.leaf(row).Value {
				acc[c] += v
			}
		}
		if f.NumClasses == 0 {
			out[i] = acc[0] / float64(len(f.Trees))
		} else {
			out[i] = float64(argmax(acc))
		}
	}
	return out, nil
}
