package estimator

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// gradBuilder grows a regression tree on first and second order gradients.
// The split gain is G²/(H+lambda) summed over children minus the parent.
// Leaves take leafValue when set, otherwise the Newton step -G/(H+lambda).
type gradBuilder struct {
	x              [][]float64
	g, h           []float64
	lambda         float64
	minChildWeight float64
	maxDepth       int
	minSamplesLeaf int
	features       []int
	leafValue      func(idx []int) float64
}

func (b *gradBuilder) build(cols columns) *Tree {
	if b.minSamplesLeaf < 1 {
		b.minSamplesLeaf = 1
	}
	t := &Tree{}
	b.grow(t, cols, 0)
	return t
}

func (b *gradBuilder) sums(idx []int) (G, H float64) {
	for _, i := range idx {
		G += b.g[i]
		H += b.h[i]
	}
	return G, H
}

func (b *gradBuilder) grow(t *Tree, cols columns, depth int) int {
	idx := cols.rows()
	G, H := b.sums(idx)
	self := t.add(Node{Left: -1, Right: -1, Value: []float64{b.value(idx, G, H)}})
	if len(idx) < 2*b.minSamplesLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return self
	}

	parent := G * G / (H + b.lambda)
	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0
	for _, f := range b.features {
		sorted := cols[f]
		var gl, hl float64
		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			gl += b.g[i]
			hl += b.h[i]
			nl := pos + 1
			if nl < b.minSamplesLeaf || len(sorted)-nl < b.minSamplesLeaf {
				continue
			}
			gr, hr := G-gl, H-hl
			if hl < b.minChildWeight || hr < b.minChildWeight {
				continue
			}
			lo, hi := b.x[i][f], b.x[sorted[pos+1]][f]
			if lo == hi {
				continue
			}
			gain := 0.5 * (gl*gl/(hl+b.lambda) + gr*gr/(hr+b.lambda) - parent)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = midpoint(lo, hi)
			}
		}
	}
	if bestFeature < 0 {
		return self
	}

	left, right := cols.partition(b.x, bestFeature, bestThreshold)
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Nodes[self] = Node{Feature: bestFeature, Threshold: bestThreshold, Left: l, Right: r, Value: t.Nodes[self].Value}
	return self
}

func (b *gradBuilder) value(idx []int, G, H float64) float64 {
	if b.leafValue != nil {
		return b.leafValue(idx)
	}
	if H+b.lambda == 0 {
		return 0
	}
	return -G / (H + b.lambda)
}

func allFeatures(p int) []int {
	f := make([]int, p)
	for j := range f {
		f[j] = j
	}
	return f
}

// subsampleRows draws round(frac*n) rows without replacement, keeping at
// least one, and returns the presorted columns restricted to them. A
// fraction of 1 or more keeps every row.
func subsampleRows(rng *rand.Rand, sorted columns, n int, frac float64) columns {
	if frac >= 1 {
		return sorted
	}
	k := int(math.Max(1, math.Round(frac*float64(n))))
	count := make([]int, n)
	for _, i := range rng.Perm(n)[:k] {
		count[i] = 1
	}
	return sorted.sample(count)
}

// boostedModel holds the additive score F(x) = Init + rate * Σ trees for
// each output. Outputs are classes for classifiers and a single value for
// regressors.
type boostedModel struct {
	Init         []float64
	LearningRate float64
	// Stages[s][k] is the tree for output k in stage s.
	Stages      [][]*Tree
	NumFeatures int
}

func (m *boostedModel) scores(row []float64, out []float64) {
	copy(out, m.Init)
	for _, stage := range m.Stages {
		for k, t := range stage {
			out[k] += m.LearningRate * t.leaf(row).Value[0]
		}
	}
}

func (m *boostedModel) predict(X [][]float64, classifier bool) ([]float64, error) {
	if len(m.Init) == 0 {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, m.NumFeatures); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	f := make([]float64, len(m.Init))
	for i, row := range X {
		m.scores(row, f)
		if classifier {
			out[i] = float64(argmax(f))
		} else {
			out[i] = f[0]
		}
	}
	return out, nil
}

// GradientBoosting is stagewise least-squares or multinomial deviance
// boosting. Classifier leaves take a single Newton step on the deviance;
// regressor leaves take the mean residual.
type GradientBoosting struct {
	NEstimators  int
	LearningRate float64
	MaxDepth     int
	Subsample    float64
	Seed         int64
	NumClasses   int

	Model boostedModel
}

func (m *GradientBoosting) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.NEstimators < 1 {
		return errors.Errorf("gradient boosting: n_estimators must be positive, got %d", m.NEstimators)
	}
	subsample := m.Subsample
	if subsample <= 0 {
		subsample = 1
	}
	rng := rand.New(rand.NewSource(m.Seed)) //nolint:gosec // reproducible model fitting

	if m.NumClasses == 0 {
		return m.fitRegression(X, y, n, p, subsample, rng)
	}
	if err := checkLabels(y, m.NumClasses); err != nil {
		return err
	}
	return m.fitClassification(X, y, n, p, subsample, rng)
}

func (m *GradientBoosting) fitRegression(X [][]float64, y []float64, n, p int, subsample float64, rng *rand.Rand) error {
	m.Model = boostedModel{Init: []float64{mean(y)}, LearningRate: m.LearningRate, NumFeatures: p}
	sorted := presort(X)
	f := make([]float64, n)
	for i := range f {
		f[i] = m.Model.Init[0]
	}
	g := make([]float64, n)
	h := make([]float64, n)
	for i := range h {
		h[i] = 1
	}
	for s := 0; s < m.NEstimators; s++ {
		for i := range g {
			g[i] = f[i] - y[i]
		}
		b := &gradBuilder{x: X, g: g, h: h, maxDepth: m.MaxDepth, features: allFeatures(p)}
		t := b.build(subsampleRows(rng, sorted, n, subsample))
		for i, row := range X {
			f[i] += m.LearningRate * t.leaf(row).Value[0]
		}
		m.Model.Stages = append(m.Model.Stages, []*Tree{t})
	}
	return nil
}

func (m *GradientBoosting) fitClassification(X [][]float64, y []float64, n, p int, subsample float64, rng *rand.Rand) error {
	k := m.NumClasses
	init := make([]float64, k)
	for _, v := range y {
		init[int(v)]++
	}
	for c := range init {
		// Unseen classes get a very negative prior rather than -Inf.
		init[c] = math.Log(math.Max(init[c]/float64(n), 1e-12))
	}
	m.Model = boostedModel{Init: init, LearningRate: m.LearningRate, NumFeatures: p}
	sorted := presort(X)

	f := make([][]float64, n)
	for i := range f {
		f[i] = append([]float64(nil), init...)
	}
	prob := make([]float64, k)
	resid := make([][]float64, k)
	for c := range resid {
		resid[c] = make([]float64, n)
	}
	g := make([]float64, n)
	h := make([]float64, n)
	for i := range h {
		h[i] = 1
	}
	scale := float64(k-1) / float64(k)

	for s := 0; s < m.NEstimators; s++ {
		for i := range f {
			softmax(f[i], prob)
			for c := 0; c < k; c++ {
				target := 0.0
				if int(y[i]) == c {
					target = 1
				}
				resid[c][i] = target - prob[c]
			}
		}
		rows := subsampleRows(rng, sorted, n, subsample)
		stage := make([]*Tree, k)
		for c := 0; c < k; c++ {
			r := resid[c]
			for i := range g {
				g[i] = -r[i]
			}
			b := &gradBuilder{
				x: X, g: g, h: h, maxDepth: m.MaxDepth, features: allFeatures(p),
				leafValue: func(idx []int) float64 {
					var num, den float64
					for _, i := range idx {
						num += r[i]
						den += math.Abs(r[i]) * (1 - math.Abs(r[i]))
					}
					if den < 1e-150 {
						return 0
					}
					return scale * num / den
				},
			}
			stage[c] = b.build(rows)
		}
		for i, row := range X {
			for c, t := range stage {
				f[i][c] += m.LearningRate * t.leaf(row).Value[0]
			}
		}
		m.Model.Stages = append(m.Model.Stages, stage)
	}
	return nil
}

func (m *GradientBoosting) Predict(X [][]float64) ([]float64, error) {
	return m.Model.predict(X, m.NumClasses > 0)
}

// XGBoost is regularised second-order boosting: squared error for
// regression and softmax for classification, with row subsampling per round
// and column subsampling per tree.
type XGBoost struct {
	NEstimators     int
	LearningRate    float64
	MaxDepth        int
	Subsample       float64
	ColsampleByTree float64
	Lambda          float64
	MinChildWeight  float64
	Seed            int64
	NumClasses      int

	Model boostedModel
}

func (m *XGBoost) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.NEstimators < 1 {
		return errors.Errorf("xgboost: n_estimators must be positive, got %d", m.NEstimators)
	}
	outputs := 1
	if m.NumClasses > 0 {
		if err := checkLabels(y, m.NumClasses); err != nil {
			return err
		}
		outputs = m.NumClasses
	}
	subsample, colsample := m.Subsample, m.ColsampleByTree
	if subsample <= 0 {
		subsample = 1
	}
	if colsample <= 0 {
		colsample = 1
	}
	rng := rand.New(rand.NewSource(m.Seed)) //nolint:gosec // reproducible model fitting

	init := make([]float64, outputs)
	if m.NumClasses == 0 {
		init[0] = mean(y)
	}
	m.Model = boostedModel{Init: init, LearningRate: m.LearningRate, NumFeatures: p}
	sorted := presort(X)

	f := make([][]float64, n)
	for i := range f {
		f[i] = append([]float64(nil), init...)
	}
	g := make([][]float64, outputs)
	h := make([][]float64, outputs)
	for c := range g {
		g[c] = make([]float64, n)
		h[c] = make([]float64, n)
	}
	prob := make([]float64, outputs)
	ncols := int(math.Max(1, math.Round(colsample*float64(p))))

	for s := 0; s < m.NEstimators; s++ {
		for i := range f {
			if m.NumClasses == 0 {
				g[0][i] = f[i][0] - y[i]
				h[0][i] = 1
				continue
			}
			softmax(f[i], prob)
			for c := range prob {
				target := 0.0
				if int(y[i]) == c {
					target = 1
				}
				g[c][i] = prob[c] - target
				h[c][i] = math.Max(2*prob[c]*(1-prob[c]), 1e-16)
			}
		}
		rows := subsampleRows(rng, sorted, n, subsample)
		stage := make([]*Tree, outputs)
		for c := range stage {
			features := allFeatures(p)
			if ncols < p {
				features = rng.Perm(p)[:ncols]
				sort.Ints(features)
			}
			b := &gradBuilder{
				x: X, g: g[c], h: h[c],
				lambda:         m.Lambda,
				minChildWeight: m.MinChildWeight,
				maxDepth:       m.MaxDepth,
				features:       features,
			}
			stage[c] = b.build(rows)
		}
		for i, row := range X {
			for c, t := range stage {
				f[i][c] += m.LearningRate * t.leaf(row).Value[0]
			}
		}
		m.Model.Stages = append(m.Model.Stages, stage)
	}
	return nil
}

func (m *XGBoost) Predict(X [][]float64) ([]float64, error) {
	return m.Model.predict(X, m.NumClasses > 0)
}
