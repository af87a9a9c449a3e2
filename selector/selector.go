// Package selector runs one model-selection run: split the dataset, search
// every family of the task's catalog, refit and evaluate each winner on the
// held-out rows, pick the best family and persist it with a report.
package selector

import (
	"context"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/artifact"
	"github.com/gidra39/modelselect/catalog"
	"github.com/gidra39/modelselect/dataset"
	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/metrics"
	"github.com/gidra39/modelselect/scoring"
	"github.com/gidra39/modelselect/search"
	"github.com/gidra39/modelselect/split"
	"github.com/gidra39/modelselect/types"
)

// Samplers understood by Config.Sampler.
const (
	SamplerTPE    = "tpe"
	SamplerRandom = "random"
)

// DefaultTrials is the per-family trial budget when neither the request nor
// the configuration sets one.
const DefaultTrials = 50

type Config struct {
	OutputDir     string
	NTrials       int
	Folds         int
	TestSize      float64
	Seed          int64
	StartupTrials int
	Sampler       string
}

func DefaultConfig() Config {
	return Config{
		OutputDir:     "files",
		NTrials:       DefaultTrials,
		Folds:         search.DefaultFolds,
		TestSize:      split.DefaultTestSize,
		Seed:          42,
		StartupTrials: search.DefaultStartupTrials,
		Sampler:       SamplerTPE,
	}
}

// Tracker receives every family result of a run, e.g. an experiment
// tracking server. Tracking errors never fail a run.
type Tracker interface {
	LogFamily(ctx context.Context, runID string, task types.TaskKind, result types.FamilyResult) error
}

type Option func(*Selector)

func WithTracker(t Tracker) Option {
	return func(s *Selector) { s.tracker = t }
}

// WithFamilies restricts the catalog. Families of another task kind are
// ignored at run time.
func WithFamilies(families ...catalog.Family) Option {
	return func(s *Selector) { s.families = families }
}

// Selector is safe for concurrent runs: every run gets its own id and files.
type Selector struct {
	cfg      Config
	store    *artifact.FileStore
	tracker  Tracker
	families []catalog.Family
}

func New(cfg Config, opts ...Option) (*Selector, error) {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.NTrials == 0 {
		cfg.NTrials = def.NTrials
	}
	if cfg.Folds == 0 {
		cfg.Folds = def.Folds
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = def.TestSize
	}
	if cfg.StartupTrials == 0 {
		cfg.StartupTrials = def.StartupTrials
	}
	if cfg.Sampler == "" {
		cfg.Sampler = def.Sampler
	}
	if cfg.Sampler != SamplerTPE && cfg.Sampler != SamplerRandom {
		return nil, errors.Wrapf(types.ErrInvalidInput, "sampler %q", cfg.Sampler)
	}
	store, err := artifact.NewFileStore(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	s := &Selector{cfg: cfg, store: store}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Selector) Store() *artifact.FileStore { return s.store }

// Request is one run's input.
type Request struct {
	Dataset      *dataset.Dataset
	DatasetID    string
	TargetColumn string
	Task         string
	// NTrials overrides the configured budget when positive.
	NTrials int
}

// Result is a finished run. TestX and TestY are the held-out rows the
// winner was evaluated on.
type Result struct {
	Report     types.Report
	ModelUUID  string
	ModelPath  string
	ReportPath string
	Model      estimator.Estimator
	TestX      [][]float64
	TestY      []float64
}

// State is a step of a run.
type State string

const (
	StateInit       State = "INIT"
	StateSplit      State = "SPLIT"
	StateSearch     State = "SEARCH"
	StateTrain      State = "TRAIN"
	StateEvaluate   State = "EVALUATE"
	StateSelectBest State = "SELECT_BEST"
	StatePersist    State = "PERSIST"
	StateDone       State = "DONE"
)

type run struct {
	cfg   Config
	id    string
	req   Request
	task  types.TaskKind
	state State

	features []string
	labels   *dataset.LabelEncoder
	env      catalog.Env
	trials   int

	trainX, testX [][]float64
	trainY, testY []float64
	folds         [][]int

	results []types.FamilyResult
	models  []estimator.Estimator
}

func (r *run) enter(st State, family string) {
	r.state = st
	ev := logging.Debug().Str(logging.KeyRunID, r.id).Str("state", string(st))
	if family != "" {
		ev = ev.Str(logging.KeyModel, family)
	}
	ev.Msg("run state")
}

// Run executes a whole run. Any family failure fails the run and nothing is
// persisted.
func (s *Selector) Run(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	r := &run{cfg: s.cfg, id: uuid.NewString(), req: req}
	defer func() {
		metrics.RecordRun(string(r.task), time.Since(start), err)
		if err != nil {
			logging.Error().Err(err).Str(logging.KeyRunID, r.id).Str("state", string(r.state)).Msg("run failed")
		}
	}()

	r.enter(StateInit, "")
	if err := r.init(); err != nil {
		return nil, err
	}
	logging.Info().
		Str(logging.KeyRunID, r.id).
		Str(logging.KeyDataset, req.DatasetID).
		Str(logging.KeyTask, string(r.task)).
		Int(logging.KeySamples, req.Dataset.Len()).
		Int(logging.KeyFeatures, len(r.features)).
		Int(logging.KeyClasses, r.env.NumClasses).
		Msg("run started")

	r.enter(StateSplit, "")
	if err := r.split(); err != nil {
		return nil, err
	}

	families, err := s.catalog(r.task)
	if err != nil {
		return nil, err
	}
	for i, f := range families {
		result, model, err := r.family(ctx, f, int64(i))
		if err != nil {
			return nil, errors.Wrapf(err, "family %v", f)
		}
		r.results = append(r.results, result)
		r.models = append(r.models, model)
		if s.tracker != nil {
			if terr := s.tracker.LogFamily(ctx, r.id, r.task, result); terr != nil {
				logging.Warn().Err(terr).Str(logging.KeyModel, f.String()).Msg("experiment tracking failed")
			}
		}
	}

	r.enter(StateSelectBest, "")
	best, err := SelectBest(r.results)
	if err != nil {
		return nil, err
	}

	r.enter(StatePersist, "")
	res, err = s.persist(ctx, r, best)
	if err != nil {
		return nil, err
	}
	r.enter(StateDone, "")
	logging.Info().
		Str(logging.KeyRunID, r.id).
		Str(logging.KeyModel, res.Report.BestModelInfo.ModelName).
		Float64(logging.KeyTest, res.Report.BestModelInfo.TestSetPerformance.Primary()).
		Dur("duration", time.Since(start)).
		Msg("run finished")
	return res, nil
}

func (s *Selector) catalog(task types.TaskKind) ([]catalog.Family, error) {
	all, err := catalog.Families(task)
	if err != nil {
		return nil, err
	}
	if len(s.families) == 0 {
		return all, nil
	}
	var out []catalog.Family
	for _, f := range all {
		for _, want := range s.families {
			if f == want {
				out = append(out, f)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(types.ErrInvalidInput, "no %s family selected", task)
	}
	return out, nil
}

func (r *run) init() error {
	task, err := types.ParseTaskKind(r.req.Task)
	if err != nil {
		return err
	}
	r.task = task
	if r.req.Dataset == nil || r.req.Dataset.Len() == 0 {
		return errors.Wrap(types.ErrInvalidInput, "dataset has no rows")
	}
	r.trials = r.cfg.NTrials
	if r.req.NTrials < 0 {
		return errors.Wrapf(types.ErrInvalidInput, "n_trials must be positive, got %d", r.req.NTrials)
	}
	if r.req.NTrials > 0 {
		r.trials = r.req.NTrials
	}

	X, names, err := r.req.Dataset.Features(r.req.TargetColumn)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.Wrap(types.ErrInvalidInput, "dataset has no feature columns")
	}
	r.features = names

	var y []float64
	if task == types.Classification {
		raw, err := r.req.Dataset.Column(r.req.TargetColumn)
		if err != nil {
			return err
		}
		r.labels = dataset.FitLabels(raw)
		if len(r.labels.Classes) < 2 {
			return errors.Wrapf(types.ErrInvalidInput, "target %q has a single class", r.req.TargetColumn)
		}
		if y, err = r.labels.Transform(raw); err != nil {
			return err
		}
		r.env.NumClasses = len(r.labels.Classes)
	} else {
		if y, err = r.req.Dataset.NumericTarget(r.req.TargetColumn); err != nil {
			return err
		}
	}
	r.env.Seed = r.cfg.Seed
	r.trainX = X
	r.trainY = y
	return nil
}

func (r *run) split() error {
	X, y := r.trainX, r.trainY
	var (
		parts split.Split
		err   error
	)
	if r.task == types.Classification {
		parts, err = split.Stratified(y, r.cfg.TestSize, r.cfg.Seed)
	} else {
		parts, err = split.Plain(len(y), r.cfg.TestSize, r.cfg.Seed)
	}
	if err != nil {
		return err
	}
	r.trainX, r.trainY = split.Rows(X, y, parts.Train)
	r.testX, r.testY = split.Rows(X, y, parts.Test)
	r.folds, err = search.Folds(r.task, r.trainY, r.cfg.Folds)
	return err
}

func (r *run) sampler(offset int64) search.Sampler {
	if r.cfg.Sampler == SamplerRandom {
		return search.NewRandomSampler(r.cfg.Seed + offset)
	}
	return search.NewTPESampler(r.cfg.Seed+offset, r.cfg.StartupTrials)
}

func (r *run) scorer() scoring.Scorer {
	if r.task == types.Classification {
		return scoring.WeightedF1
	}
	return scoring.R2
}

// family searches, refits and evaluates one family.
func (r *run) family(ctx context.Context, f catalog.Family, offset int64) (types.FamilyResult, estimator.Estimator, error) {
	start := time.Now()
	name := f.String()

	r.enter(StateSearch, name)
	study := search.NewStudy(f.Space(), r.sampler(offset))
	study.OnTrial = func(t search.Trial) {
		metrics.RecordTrial(name, string(t.State))
		ev := logging.Debug()
		if t.State == search.TrialFailed {
			ev = logging.Warn().Err(t.Err)
		}
		ev.Str(logging.KeyRunID, r.id).
			Str(logging.KeyModel, name).
			Int(logging.KeyTrial, t.Number).
			Float64(logging.KeyCVScore, t.Score).
			Dur("duration", t.Duration).
			Msg("trial finished")
	}
	scorer := r.scorer()
	objective := func(ctx context.Context, p search.Params) (float64, error) {
		build := func() (estimator.Estimator, error) { return f.Build(p, r.env) }
		score, _, err := search.CrossValidate(ctx, build, r.trainX, r.trainY, r.folds, scorer)
		return score, err
	}
	if err := study.Optimize(ctx, r.trials, objective); err != nil {
		return types.FamilyResult{}, nil, err
	}
	best, err := study.Best()
	if err != nil {
		return types.FamilyResult{}, nil, err
	}

	r.enter(StateTrain, name)
	model, err := f.Build(best.Params, r.env)
	if err != nil {
		return types.FamilyResult{}, nil, err
	}
	if err := model.Fit(r.trainX, r.trainY); err != nil {
		return types.FamilyResult{}, nil, errors.Wrap(err, "refit")
	}

	r.enter(StateEvaluate, name)
	perf, err := r.evaluate(model)
	if err != nil {
		return types.FamilyResult{}, nil, err
	}

	result := types.FamilyResult{
		ModelName:           name,
		BestHyperparameters: f.Hyperparameters(best.Params),
		CVScore:             best.Score,
		TestSetPerformance:  perf,
		Trials:              len(study.Trials()),
		FailedTrials:        study.Failed(),
	}
	metrics.RecordFamily(name, time.Since(start), perf.Primary())
	logging.Info().
		Str(logging.KeyRunID, r.id).
		Str(logging.KeyModel, name).
		Float64(logging.KeyCVScore, best.Score).
		Float64(logging.KeyTest, perf.Primary()).
		Int("trials.failed", result.FailedTrials).
		Msg("family evaluated")
	return result, model, nil
}

// evaluate scores a fitted model on the held-out rows.
func (r *run) evaluate(model estimator.Estimator) (types.Performance, error) {
	pred, err := model.Predict(r.testX)
	if err != nil {
		return types.Performance{}, errors.Wrap(err, "predict held-out rows")
	}
	perf := types.Performance{Task: r.task}
	if r.task == types.Classification {
		perf.Accuracy = scoring.Accuracy(r.testY, pred)
		perf.WeightedF1 = scoring.WeightedF1(r.testY, pred)
		perf.Report = scoring.NewClassificationReport(r.testY, pred, r.labels.Classes)
		return perf, nil
	}
	perf.RSquared = scoring.R2(r.testY, pred)
	perf.MSE = scoring.MSE(r.testY, pred)
	perf.MAE = scoring.MAE(r.testY, pred)
	return perf, nil
}

// SelectBest returns the index of the result with the highest primary
// metric. Ties keep the earliest result; NaN never wins.
func SelectBest(results []types.FamilyResult) (int, error) {
	best := -1
	bestScore := math.Inf(-1)
	for i, r := range results {
		v := r.TestSetPerformance.Primary()
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > bestScore {
			best, bestScore = i, v
		}
	}
	if best < 0 {
		return -1, errors.Wrap(types.ErrSearchTrial, "no family produced a defined test score")
	}
	return best, nil
}

func (s *Selector) persist(ctx context.Context, r *run, best int) (*Result, error) {
	winner := r.results[best]
	report := types.Report{
		BestModelInfo: types.BestModelInfo{
			ModelName:           winner.ModelName,
			ModelUUID:           r.id,
			SavedModelPath:      s.store.ModelPath(r.id),
			TestSetPerformance:  winner.TestSetPerformance,
			BestHyperparameters: winner.BestHyperparameters,
		},
		AllModelsPerformance: r.results,
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, errors.Wrap(types.ErrPersistence, err.Error())
	}

	meta := artifact.Metadata{
		ModelUUID:    r.id,
		ModelName:    winner.ModelName,
		Task:         r.task,
		FeatureNames: r.features,
	}
	if r.labels != nil {
		meta.Classes = r.labels.Classes
	}
	if err := s.store.Commit(ctx, r.models[best], meta, body); err != nil {
		return nil, err
	}
	return &Result{
		Report:     report,
		ModelUUID:  r.id,
		ModelPath:  s.store.ModelPath(r.id),
		ReportPath: s.store.ReportPath(r.id),
		Model:      r.models[best],
		TestX:      r.testX,
		TestY:      r.testY,
	}, nil
}
