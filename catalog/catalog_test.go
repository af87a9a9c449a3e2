package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/search"
	"github.com/gidra39/modelselect/types"
)

func TestFamiliesOrder(t *testing.T) {
	cls, err := Families(types.Classification)
	require.NoError(t, err)
	var names []string
	for _, f := range cls {
		names = append(names, f.String())
		assert.Equal(t, types.Classification, f.Task())
	}
	assert.Equal(t, []string{"LogisticRegression", "KNeighborsClassifier", "RandomForestClassifier",
		"GradientBoostingClassifier", "XGBClassifier"}, names)

	reg, err := Families(types.Regression)
	require.NoError(t, err)
	assert.Len(t, reg, 7)
	for _, f := range reg {
		assert.Equal(t, types.Regression, f.Task())
	}

	_, err = Families("clustering")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestEveryFamilyHasValidSpaceAndBuilds(t *testing.T) {
	for f := Family(0); f < numFamilies; f++ {
		f := f
		t.Run(f.String(), func(t *testing.T) {
			space := f.Space()
			require.NotEmpty(t, space)
			require.NoError(t, space.Validate())

			sampler := search.NewRandomSampler(int64(f))
			for i := 0; i < 20; i++ {
				p := search.Params{}
				sample(space, sampler, p)
				m, err := f.Build(p, Env{NumClasses: 3, Seed: 42})
				require.NoError(t, err)
				require.NotNil(t, m)
			}
		})
	}
}

func sample(space search.Space, s search.Sampler, p search.Params) {
	for _, param := range space {
		v := s.Suggest(param, nil)
		p[param.Name] = v
		if param.Kind != search.Categorical {
			continue
		}
		if sub, ok := param.Branches[v.(string)]; ok {
			sample(sub, s, p)
		}
	}
}

func TestLogisticBuildAppliesFixedParameters(t *testing.T) {
	m, err := LogisticRegression.Build(search.Params{"solver": "lbfgs", "C": 2.0}, Env{NumClasses: 3})
	require.NoError(t, err)
	lr := m.(*estimator.LogisticRegression)
	assert.Equal(t, estimator.PenaltyL2, lr.Penalty)
	assert.Equal(t, 4000, lr.MaxIter)
	assert.Equal(t, 2.0, lr.C)

	m, err = LogisticRegression.Build(search.Params{"solver": "saga", "penalty": "elasticnet", "l1_ratio": 0.3, "C": 1.0}, Env{NumClasses: 2})
	require.NoError(t, err)
	lr = m.(*estimator.LogisticRegression)
	assert.Equal(t, estimator.PenaltyElasticNet, lr.Penalty)
	assert.Equal(t, 0.3, lr.L1Ratio)
}

func TestForestBuildUsesSeedAndTask(t *testing.T) {
	m, err := RandomForestClassifier.Build(search.Params{"n_estimators": 120, "criterion": "entropy"}, Env{NumClasses: 2, Seed: 42})
	require.NoError(t, err)
	rf := m.(*estimator.RandomForest)
	assert.Equal(t, int64(42), rf.Seed)
	assert.Equal(t, estimator.MaxFeaturesSqrt, rf.MaxFeatures)
	assert.Equal(t, "entropy", rf.Criterion)

	m, err = RandomForestRegressor.Build(search.Params{"min_samples_leaf": 4}, Env{Seed: 42})
	require.NoError(t, err)
	rf = m.(*estimator.RandomForest)
	assert.Zero(t, rf.NumClasses)
	assert.Equal(t, 4, rf.MinSamplesLeaf)
	assert.Equal(t, estimator.MaxFeaturesAll, rf.MaxFeatures)
}

func TestUnknownFamily(t *testing.T) {
	_, err := Family(99).Build(search.Params{}, Env{})
	assert.ErrorIs(t, err, types.ErrUnknownFamily)

	_, err = Lookup("SVC")
	assert.ErrorIs(t, err, types.ErrUnknownFamily)

	f, err := Lookup("Lasso")
	require.NoError(t, err)
	assert.Equal(t, Lasso, f)

	_, err = KNeighborsClassifier.Build(search.Params{}, Env{NumClasses: 1})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestHyperparametersReportKNNPowerAsInt(t *testing.T) {
	sampled := search.Params{"n_neighbors": 7, "weights": estimator.WeightsDistance, "p": "1"}

	got := KNeighborsRegressor.Hyperparameters(sampled)
	assert.Equal(t, map[string]any{"n_neighbors": 7, "weights": estimator.WeightsDistance, "p": 1}, got)
	assert.Equal(t, "1", sampled["p"], "sampled params are not modified")

	ridge := Ridge.Hyperparameters(search.Params{"alpha": 0.5})
	assert.Equal(t, map[string]any{"alpha": 0.5}, ridge)
}
