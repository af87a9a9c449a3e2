// Package catalog declares the closed set of model families searched for
// each task kind, their search spaces and how a sampled configuration is
// turned into an estimator.
package catalog

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/search"
	"github.com/gidra39/modelselect/types"
)

// Family is one model family.
type Family int

const (
	LogisticRegression Family = iota
	KNeighborsClassifier
	RandomForestClassifier
	GradientBoostingClassifier
	XGBClassifier

	Ridge
	Lasso
	ElasticNet
	KNeighborsRegressor
	RandomForestRegressor
	GradientBoostingRegressor
	XGBoostRegressor

	numFamilies
)

var names = [numFamilies]string{
	LogisticRegression:         "LogisticRegression",
	KNeighborsClassifier:       "KNeighborsClassifier",
	RandomForestClassifier:     "RandomForestClassifier",
	GradientBoostingClassifier: "GradientBoostingClassifier",
	XGBClassifier:              "XGBClassifier",
	Ridge:                      "Ridge",
	Lasso:                      "Lasso",
	ElasticNet:                 "ElasticNet",
	KNeighborsRegressor:        "KNeighborsRegressor",
	RandomForestRegressor:      "RandomForestRegressor",
	GradientBoostingRegressor:  "GradientBoostingRegressor",
	XGBoostRegressor:           "XGBoostRegressor",
}

func (f Family) String() string {
	if f < 0 || f >= numFamilies {
		return "Family(" + strconv.Itoa(int(f)) + ")"
	}
	return names[f]
}

// Task reports which task kind the family belongs to.
func (f Family) Task() types.TaskKind {
	if f <= XGBClassifier {
		return types.Classification
	}
	return types.Regression
}

// Families returns the catalog for a task kind in declaration order.
func Families(task types.TaskKind) ([]Family, error) {
	switch task {
	case types.Classification:
		return []Family{LogisticRegression, KNeighborsClassifier, RandomForestClassifier,
			GradientBoostingClassifier, XGBClassifier}, nil
	case types.Regression:
		return []Family{Ridge, Lasso, ElasticNet, KNeighborsRegressor, RandomForestRegressor,
			GradientBoostingRegressor, XGBoostRegressor}, nil
	}
	return nil, errors.Wrapf(types.ErrInvalidInput, "task type %q", task)
}

// Lookup resolves a family by name.
func Lookup(name string) (Family, error) {
	for f, n := range names {
		if n == name {
			return Family(f), nil
		}
	}
	return 0, errors.Wrapf(types.ErrUnknownFamily, "%q", name)
}

// Env carries the run-level values a family needs besides its sampled
// parameters.
type Env struct {
	NumClasses int
	Seed       int64
}

// Fixed parameters shared by search and refit.
const (
	logisticMaxIter = 4000
	xgbLambda       = 1.0
	xgbMinChild     = 1.0
)

func trees() []search.Param {
	return []search.Param{
		search.IntRange("n_estimators", 100, 1000),
		search.Uniform("learning_rate", 0.01, 0.3),
		search.IntRange("max_depth", 3, 15),
	}
}

func neighbours() search.Space {
	return search.Space{
		search.IntRange("n_neighbors", 3, 30),
		search.Choice("weights", estimator.WeightsUniform, estimator.WeightsDistance),
		search.Choice("p", "1", "2"),
	}
}

// Space returns the declared search space of the family.
func (f Family) Space() search.Space {
	switch f {
	case LogisticRegression:
		return search.Space{
			search.Choice("solver", estimator.SolverSAGA, estimator.SolverLBFGS).When(estimator.SolverSAGA,
				search.Choice("penalty", estimator.PenaltyL1, estimator.PenaltyL2, estimator.PenaltyElasticNet).
					When(estimator.PenaltyElasticNet, search.Uniform("l1_ratio", 0, 1)),
			),
			search.LogUniform("C", 1e-3, 1e3),
		}
	case KNeighborsClassifier, KNeighborsRegressor:
		return neighbours()
	case RandomForestClassifier:
		return search.Space{
			search.IntRange("n_estimators", 100, 1000),
			search.IntRange("max_depth", 5, 50),
			search.IntRange("min_samples_split", 2, 20),
			search.Choice("criterion", estimator.CriterionGini, estimator.CriterionEntropy),
		}
	case GradientBoostingClassifier, XGBClassifier:
		return trees()
	case Ridge:
		return search.Space{search.LogUniform("alpha", 1e-3, 100)}
	case Lasso:
		return search.Space{search.LogUniform("alpha", 1e-3, 10)}
	case ElasticNet:
		return search.Space{search.LogUniform("alpha", 1e-3, 10), search.Uniform("l1_ratio", 0, 1)}
	case RandomForestRegressor:
		return search.Space{
			search.IntRange("n_estimators", 100, 1000),
			search.IntRange("max_depth", 5, 50),
			search.IntRange("min_samples_split", 2, 20),
			search.IntRange("min_samples_leaf", 1, 20),
		}
	case GradientBoostingRegressor:
		return append(trees(), search.Uniform("subsample", 0.6, 1.0))
	case XGBoostRegressor:
		return append(trees(), search.Uniform("subsample", 0.6, 1.0), search.Uniform("colsample_bytree", 0.6, 1.0))
	}
	return nil
}

// UnknownFamilyError is returned for a Family value outside the catalog.
func UnknownFamilyError(f Family) error {
	return errors.Wrapf(types.ErrUnknownFamily, "%v", f)
}

// Hyperparameters returns a sampled configuration in its reported form.
// The kNN metric power is sampled as a choice but reported as an integer.
func (f Family) Hyperparameters(p search.Params) map[string]any {
	out := p.Clone()
	switch f {
	case KNeighborsClassifier, KNeighborsRegressor:
		if v, ok := out["p"].(string); ok {
			if power, err := strconv.Atoi(v); err == nil {
				out["p"] = power
			}
		}
	}
	return out
}

// Build constructs an unfitted estimator for a sampled configuration.
// Parameters missing from p fall back to the family defaults.
func (f Family) Build(p search.Params, env Env) (estimator.Estimator, error) {
	classes := 0
	if f.Task() == types.Classification {
		if env.NumClasses < 2 {
			return nil, errors.Wrapf(types.ErrInvalidInput, "%v needs at least 2 classes, got %d", f, env.NumClasses)
		}
		classes = env.NumClasses
	}

	switch f {
	case LogisticRegression:
		solver := p.String("solver", estimator.SolverLBFGS)
		penalty := estimator.PenaltyL2
		if solver == estimator.SolverSAGA {
			penalty = p.String("penalty", estimator.PenaltyL2)
		}
		return &estimator.LogisticRegression{
			C:          p.Float("C", 1),
			Solver:     solver,
			Penalty:    penalty,
			L1Ratio:    p.Float("l1_ratio", 0.5),
			MaxIter:    logisticMaxIter,
			NumClasses: classes,
		}, nil
	case KNeighborsClassifier, KNeighborsRegressor:
		power, err := strconv.Atoi(p.String("p", "2"))
		if err != nil {
			return nil, errors.Wrap(err, "p")
		}
		return &estimator.KNeighbors{
			K:          p.Int("n_neighbors", 5),
			Weights:    p.String("weights", estimator.WeightsUniform),
			P:          power,
			NumClasses: classes,
		}, nil
	case RandomForestClassifier, RandomForestRegressor:
		rf := &estimator.RandomForest{
			NEstimators:     p.Int("n_estimators", 100),
			MaxDepth:        p.Int("max_depth", 0),
			MinSamplesSplit: p.Int("min_samples_split", 2),
			MinSamplesLeaf:  p.Int("min_samples_leaf", 1),
			Seed:            env.Seed,
			NumClasses:      classes,
			MaxFeatures:     estimator.MaxFeaturesAll,
			Criterion:       estimator.CriterionMSE,
		}
		if classes > 0 {
			rf.MaxFeatures = estimator.MaxFeaturesSqrt
			rf.Criterion = p.String("criterion", estimator.CriterionGini)
		}
		return rf, nil
	case GradientBoostingClassifier, GradientBoostingRegressor:
		return &estimator.GradientBoosting{
			NEstimators:  p.Int("n_estimators", 100),
			LearningRate: p.Float("learning_rate", 0.1),
			MaxDepth:     p.Int("max_depth", 3),
			Subsample:    p.Float("subsample", 1),
			Seed:         env.Seed,
			NumClasses:   classes,
		}, nil
	case XGBClassifier, XGBoostRegressor:
		return &estimator.XGBoost{
			NEstimators:     p.Int("n_estimators", 100),
			LearningRate:    p.Float("learning_rate", 0.3),
			MaxDepth:        p.Int("max_depth", 6),
			Subsample:       p.Float("subsample", 1),
			ColsampleByTree: p.Float("colsample_bytree", 1),
			Lambda:          xgbLambda,
			MinChildWeight:  xgbMinChild,
			Seed:            env.Seed,
			NumClasses:      classes,
		}, nil
	case Ridge:
		return &estimator.Ridge{Alpha: p.Float("alpha", 1)}, nil
	case Lasso:
		return estimator.NewLasso(p.Float("alpha", 1)), nil
	case ElasticNet:
		return &estimator.ElasticNet{Alpha: p.Float("alpha", 1), L1Ratio: p.Float("l1_ratio", 0.5)}, nil
	}
	return nil, UnknownFamilyError(f)
}
