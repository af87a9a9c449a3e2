package search

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/scoring"
	"github.com/gidra39/modelselect/types"
)

func logisticLikeSpace() Space {
	return Space{
		Choice("solver", "saga", "lbfgs").When("saga",
			Choice("penalty", "l1", "l2", "elasticnet").When("elasticnet",
				Uniform("l1_ratio", 0, 1),
			),
		),
		LogUniform("C", 1e-3, 1e3),
		IntRange("depth", 3, 15),
	}
}

func TestSpaceValidate(t *testing.T) {
	require.NoError(t, logisticLikeSpace().Validate())

	dup := Space{Uniform("a", 0, 1), IntRange("a", 1, 2)}
	assert.Error(t, dup.Validate())

	badLog := Space{LogUniform("a", 0, 1)}
	assert.Error(t, badLog.Validate())

	badBranch := Space{Choice("a", "x").When("y", Uniform("b", 0, 1))}
	assert.Error(t, badBranch.Validate())
}

func TestStudyRunsExactBudgetAndKeepsBest(t *testing.T) {
	for name, sampler := range map[string]Sampler{
		"random": NewRandomSampler(1),
		"tpe":    NewTPESampler(1, DefaultStartupTrials),
	} {
		sampler := sampler
		t.Run(name, func(t *testing.T) {
			study := NewStudy(logisticLikeSpace(), sampler)
			calls := 0
			objective := func(_ context.Context, p Params) (float64, error) {
				calls++
				c := math.Log10(p.Float("C", 1))
				return -c*c - float64(p.Int("depth", 0)-7)*0.01, nil
			}
			require.NoError(t, study.Optimize(context.Background(), 30, objective))
			assert.Equal(t, 30, calls)
			assert.Len(t, study.Trials(), 30)

			best, err := study.Best()
			require.NoError(t, err)
			for _, tr := range study.Trials() {
				assert.GreaterOrEqual(t, best.Score, tr.Score)
				// Re-evaluating a trial's configuration reproduces its score.
				again, _ := objective(context.Background(), tr.Params)
				assert.Equal(t, tr.Score, again)
			}
		})
	}
}

func TestStudyRespectsConditionalParameters(t *testing.T) {
	study := NewStudy(logisticLikeSpace(), NewTPESampler(3, 5))
	require.NoError(t, study.Optimize(context.Background(), 40, func(_ context.Context, p Params) (float64, error) {
		return p.Float("C", 0), nil
	}))
	for _, tr := range study.Trials() {
		p := tr.Params
		c := p.Float("C", 0)
		assert.True(t, c >= 1e-3 && c <= 1e3, "C=%v", c)
		d := p.Int("depth", 0)
		assert.True(t, d >= 3 && d <= 15, "depth=%v", d)

		switch p.String("solver", "") {
		case "lbfgs":
			assert.NotContains(t, p, "penalty")
			assert.NotContains(t, p, "l1_ratio")
		case "saga":
			require.Contains(t, p, "penalty")
			if p.String("penalty", "") == "elasticnet" {
				r := p.Float("l1_ratio", -1)
				assert.True(t, r >= 0 && r <= 1)
			} else {
				assert.NotContains(t, p, "l1_ratio")
			}
		default:
			t.Fatalf("unexpected solver in %v", p)
		}
	}
}

func TestTPEConcentratesOnGoodRegion(t *testing.T) {
	space := Space{Uniform("x", 0, 10)}
	study := NewStudy(space, NewTPESampler(5, DefaultStartupTrials))
	require.NoError(t, study.Optimize(context.Background(), 60, func(_ context.Context, p Params) (float64, error) {
		x := p.Float("x", 0)
		return -(x - 8) * (x - 8), nil
	}))
	best, err := study.Best()
	require.NoError(t, err)
	assert.InDelta(t, 8, best.Params.Float("x", 0), 0.5)
}

func TestStudyIsolatesFailedTrials(t *testing.T) {
	study := NewStudy(Space{IntRange("n", 0, 100)}, NewRandomSampler(2))
	i := 0
	require.NoError(t, study.Optimize(context.Background(), 10, func(_ context.Context, p Params) (float64, error) {
		i++
		switch i % 3 {
		case 0:
			return 0, errors.New("degenerate fold")
		case 1:
			return math.NaN(), nil
		}
		return float64(i), nil
	}))
	assert.Len(t, study.Trials(), 10)
	assert.Equal(t, 7, study.Failed())

	best, err := study.Best()
	require.NoError(t, err)
	assert.Equal(t, 8.0, best.Score)
	for _, tr := range study.Trials() {
		if tr.State == TrialFailed {
			assert.ErrorIs(t, tr.Err, types.ErrSearchTrial)
		}
	}
}

func TestStudyAllFailed(t *testing.T) {
	study := NewStudy(Space{Uniform("x", 0, 1)}, NewRandomSampler(1))
	require.NoError(t, study.Optimize(context.Background(), 3, func(context.Context, Params) (float64, error) {
		return 0, errors.New("boom")
	}))
	_, err := study.Best()
	assert.ErrorIs(t, err, types.ErrSearchTrial)
}

func TestStudyTieKeepsFirst(t *testing.T) {
	study := NewStudy(Space{Uniform("x", 0, 1)}, NewRandomSampler(1))
	require.NoError(t, study.Optimize(context.Background(), 5, func(context.Context, Params) (float64, error) {
		return 1, nil
	}))
	best, err := study.Best()
	require.NoError(t, err)
	assert.Equal(t, 0, best.Number)
}

func TestStudyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	study := NewStudy(Space{Uniform("x", 0, 1)}, NewRandomSampler(1))
	err := study.Optimize(ctx, 10, func(context.Context, Params) (float64, error) {
		cancel()
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, study.Trials())

	assert.ErrorIs(t, study.Optimize(context.Background(), 0, nil), types.ErrInvalidInput)
}

func TestKFold(t *testing.T) {
	folds, err := KFold(11, 5)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 10}}, folds)

	_, err = KFold(3, 5)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestStratifiedKFold(t *testing.T) {
	y := []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1}
	folds, err := StratifiedKFold(y, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 6, 7}, {2, 3, 8}, {4, 5, 9}}, folds)

	// Interleaved classes are dealt in their original order.
	y = []float64{1, 0, 1, 0, 1, 0, 1, 0, 1, 0}
	folds, err = StratifiedKFold(y, 5)
	require.NoError(t, err)
	for _, f := range folds {
		require.Len(t, f, 2)
		assert.NotEqual(t, y[f[0]], y[f[1]])
	}

	// Classes are ranked by first appearance, not by label value.
	folds, err = StratifiedKFold([]float64{1, 1, 0, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 2}, {1, 3}, {4, 5}}, folds)

	_, err = StratifiedKFold([]float64{0, 1, 2, 3, 4, 5}, 5)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

type meanModel struct{ m float64 }

func (m *meanModel) Fit(_ [][]float64, y []float64) error {
	var s float64
	for _, v := range y {
		s += v
	}
	m.m = s / float64(len(y))
	return nil
}

func (m *meanModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.m
	}
	return out, nil
}

type failingModel struct{ meanModel }

func (failingModel) Fit([][]float64, []float64) error { return errors.New("singular") }

func TestCrossValidate(t *testing.T) {
	X := make([][]float64, 20)
	y := make([]float64, 20)
	for i := range X {
		X[i] = []float64{float64(i)}
		y[i] = float64(i)
	}
	folds, err := KFold(20, 5)
	require.NoError(t, err)

	mean, scores, err := CrossValidate(context.Background(), func() (estimator.Estimator, error) {
		return &meanModel{}, nil
	}, X, y, folds, scoring.MSE)
	require.NoError(t, err)
	require.Len(t, scores, 5)
	// Fold 0 holds rows 0..3 and the training mean is 11.5.
	assert.InDelta(t, (11.5*11.5+10.5*10.5+9.5*9.5+8.5*8.5)/4, scores[0], 1e-9)
	assert.InDelta(t, (scores[0]+scores[1]+scores[2]+scores[3]+scores[4])/5, mean, 1e-9)

	_, _, err = CrossValidate(context.Background(), func() (estimator.Estimator, error) {
		return &failingModel{}, nil
	}, X, y, folds, scoring.MSE)
	assert.Error(t, err)
}

func TestCrossValidateExcludesUndefinedFolds(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}}
	y := []float64{1, 1, 2, 3}
	folds := [][]int{{0, 1}, {2, 3}}
	// NaN marks a fold whose score is undefined.
	nanFirst := func(yTrue, yPred []float64) float64 {
		if yTrue[0] == yTrue[1] {
			return math.NaN()
		}
		return 0.5
	}
	mean, _, err := CrossValidate(context.Background(), func() (estimator.Estimator, error) {
		return &meanModel{}, nil
	}, X, y, folds, nanFirst)
	require.NoError(t, err)
	assert.Equal(t, 0.5, mean)

	allNaN := func([]float64, []float64) float64 { return math.NaN() }
	_, _, err = CrossValidate(context.Background(), func() (estimator.Estimator, error) {
		return &meanModel{}, nil
	}, X, y, folds, allNaN)
	assert.ErrorIs(t, err, types.ErrSearchTrial)
}

func TestParzenTruncatedDensity(t *testing.T) {
	pz := parzen{mus: []float64{0}, sigmas: []float64{1}, weights: []float64{1}, low: -1, high: 1}

	// Standard normal renormalised to [-1, 1]: phi(0) / (Phi(1) - Phi(-1)).
	assert.InDelta(t, math.Log(0.3989422804/0.6826894921), pz.logPDF(0), 1e-9)
	assert.Greater(t, pz.logPDF(0), pz.logPDF(0.9))

	collapsed := parzen{mus: []float64{5}, sigmas: []float64{1e-3}, weights: []float64{1}, low: -1, high: 1}
	assert.True(t, math.IsInf(collapsed.logPDF(0), -1), "component with no mass inside the bounds")
}
