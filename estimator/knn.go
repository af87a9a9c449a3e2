package estimator

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Neighbour weighting schemes.
const (
	WeightsUniform  = "uniform"
	WeightsDistance = "distance"
)

// KNeighbors predicts from the K nearest training rows under the Minkowski
// distance of order P. A zero NumClasses makes it a regressor.
type KNeighbors struct {
	K          int
	Weights    string
	P          int
	NumClasses int

	X [][]float64
	Y []float64
}

func (m *KNeighbors) Fit(X [][]float64, y []float64) error {
	if _, _, err := checkFit(X, y); err != nil {
		return err
	}
	if m.K < 1 {
		return errors.Errorf("knn: n_neighbors must be positive, got %d", m.K)
	}
	if m.P != 1 && m.P != 2 {
		return errors.Errorf("knn: p must be 1 or 2, got %d", m.P)
	}
	if m.NumClasses > 0 {
		if err := checkLabels(y, m.NumClasses); err != nil {
			return err
		}
	}
	m.X = X
	m.Y = y
	return nil
}

type neighbour struct {
	idx  int
	dist float64
}

func (m *KNeighbors) Predict(X [][]float64) ([]float64, error) {
	if m.X == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, len(m.X[0])); err != nil {
		return nil, err
	}
	k := m.K
	if k > len(m.X) {
		k = len(m.X)
	}
	nb := make([]neighbour, len(m.X))
	out := make([]float64, len(X))
	for i, q := range X {
		for j, row := range m.X {
			nb[j] = neighbour{idx: j, dist: m.distance(q, row)}
		}
		sort.SliceStable(nb, func(a, b int) bool { return nb[a].dist < nb[b].dist })
		out[i] = m.vote(nb[:k])
	}
	return out, nil
}

func (m *KNeighbors) distance(a, b []float64) float64 {
	var s float64
	if m.P == 1 {
		for i := range a {
			s += math.Abs(a[i] - b[i])
		}
		return s
	}
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return math.Sqrt(s)
}

// weights returns per-neighbour weights. With distance weighting any exact
// match takes all the weight.
func (m *KNeighbors) weights(nb []neighbour) []float64 {
	w := make([]float64, len(nb))
	if m.Weights != WeightsDistance {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	exact := false
	for i, n := range nb {
		if n.dist == 0 {
			w[i] = 1
			exact = true
		}
	}
	if exact {
		return w
	}
	for i, n := range nb {
		w[i] = 1 / n.dist
	}
	return w
}

func (m *KNeighbors) vote(nb []neighbour) float64 {
	w := m.weights(nb)
	if m.NumClasses == 0 {
		var s, total float64
		for i, n := range nb {
			s += w[i] * m.Y[n.idx]
			total += w[i]
		}
		return s / total
	}
	votes := make([]float64, m.NumClasses)
	for i, n := range nb {
		votes[int(m.Y[n.idx])] += w[i]
	}
	return float64(argmax(votes))
}
