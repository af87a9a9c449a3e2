// Package estimator implements the model families the selector searches
// over. Every estimator works on dense row-major float64 features; classifiers
// receive labels already encoded as 0..NumClasses-1 and predict those codes.
//
// Estimators are plain structs with exported state so a fitted model can be
// gob-encoded into an artifact and decoded back into an identical predictor.
package estimator

import (
	"encoding/gob"
	"math"

	"github.com/pkg/errors"
)

// Estimator is a supervised model that can be fitted and queried.
type Estimator interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

var (
	ErrEmpty      = errors.New("estimator: empty training set")
	ErrShape      = errors.New("estimator: inconsistent shapes")
	ErrNotFitted  = errors.New("estimator: model is not fitted")
	ErrBadClasses = errors.New("estimator: label outside encoded class range")
)

//nolint:gochecknoinits // gob needs the concrete types behind the Estimator interface
func init() {
	gob.Register(&Ridge{})
	gob.Register(&ElasticNet{})
	gob.Register(&LogisticRegression{})
	gob.Register(&KNeighbors{})
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
	gob.Register(&XGBoost{})
}

func checkFit(X [][]float64, y []float64) (n, p int, err error) {
	n = len(X)
	if n == 0 {
		return 0, 0, ErrEmpty
	}
	if len(y) != n {
		return 0, 0, errors.Wrapf(ErrShape, "%d rows but %d targets", n, len(y))
	}
	p = len(X[0])
	for i, row := range X {
		if len(row) != p {
			return 0, 0, errors.Wrapf(ErrShape, "row %d has %d features, want %d", i, len(row), p)
		}
	}
	return n, p, nil
}

func checkPredict(X [][]float64, p int) error {
	for i, row := range X {
		if len(row) != p {
			return errors.Wrapf(ErrShape, "row %d has %d features, want %d", i, len(row), p)
		}
	}
	return nil
}

func checkLabels(y []float64, k int) error {
	for _, v := range y {
		if v < 0 || int(v) >= k || v != math.Trunc(v) {
			return errors.Wrapf(ErrBadClasses, "label %v with %d classes", v, k)
		}
	}
	return nil
}

// argmax returns the first index of the largest value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// softmax writes the normalised exponentials of z into out.
func softmax(z, out []float64) {
	m := z[0]
	for _, v := range z[1:] {
		if v > m {
			m = v
		}
	}
	var s float64
	for i, v := range z {
		out[i] = math.Exp(v - m)
		s += out[i]
	}
	for i := range out {
		out[i] /= s
	}
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// standardizer centres and scales columns; constant columns keep scale 1.
type standardizer struct {
	Mean  []float64
	Scale []float64
}

func fitStandardizer(X [][]float64, p int) standardizer {
	s := standardizer{Mean: make([]float64, p), Scale: make([]float64, p)}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j] / n)
		if s.Scale[j] < 1e-12 {
			s.Scale[j] = 1
		}
	}
	return s
}

func (s standardizer) transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}
