package search

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/types"
)

// TrialState records whether a trial produced a usable score.
type TrialState string

const (
	TrialComplete TrialState = "complete"
	TrialFailed   TrialState = "failed"
)

// Trial is one sampled configuration and its objective value.
type Trial struct {
	Number   int
	Params   Params
	Score    float64
	State    TrialState
	Err      error
	Duration time.Duration
}

// Objective scores one configuration; higher is better.
type Objective func(ctx context.Context, params Params) (float64, error)

// Study runs a budgeted maximisation over Space.
type Study struct {
	Space   Space
	Sampler Sampler

	// OnTrial, when set, is called after every trial.
	OnTrial func(Trial)

	trials []Trial
}

func NewStudy(space Space, sampler Sampler) *Study {
	return &Study{Space: space, Sampler: sampler}
}

// Optimize runs exactly n trials unless ctx is cancelled. A trial whose
// objective errors or returns NaN is recorded as failed and the study
// continues.
func (s *Study) Optimize(ctx context.Context, n int, objective Objective) error {
	if n <= 0 {
		return errors.Wrapf(types.ErrInvalidInput, "trial budget must be positive, got %d", n)
	}
	if err := s.Space.Validate(); err != nil {
		return errors.Wrap(types.ErrInvalidInput, err.Error())
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := s.sample()
		start := time.Now()
		score, err := objective(ctx, params)
		t := Trial{Number: len(s.trials), Params: params, Score: score, State: TrialComplete, Duration: time.Since(start)}
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			t.State, t.Err, t.Score = TrialFailed, errors.Wrap(types.ErrSearchTrial, err.Error()), math.NaN()
		case math.IsNaN(score):
			t.State, t.Err = TrialFailed, errors.Wrap(types.ErrSearchTrial, "undefined score")
		}
		s.trials = append(s.trials, t)
		if s.OnTrial != nil {
			s.OnTrial(t)
		}
	}
	return nil
}

func (s *Study) sample() Params {
	params := Params{}
	s.sampleSpace(s.Space, params)
	return params
}

func (s *Study) sampleSpace(space Space, params Params) {
	for _, p := range space {
		v := s.Sampler.Suggest(p, s.history(p.Name))
		params[p.Name] = v
		if p.Kind != Categorical {
			continue
		}
		if sub, ok := p.Branches[v.(string)]; ok {
			s.sampleSpace(sub, params)
		}
	}
}

func (s *Study) history(name string) []Observation {
	var obs []Observation
	for _, t := range s.trials {
		if t.State != TrialComplete {
			continue
		}
		if v, ok := t.Params[name]; ok {
			obs = append(obs, Observation{Value: v, Score: t.Score})
		}
	}
	return obs
}

// Trials returns every trial run so far in order.
func (s *Study) Trials() []Trial {
	return s.trials
}

// Failed counts trials without a usable score.
func (s *Study) Failed() int {
	n := 0
	for _, t := range s.trials {
		if t.State == TrialFailed {
			n++
		}
	}
	return n
}

// Best returns the first completed trial with the highest score.
func (s *Study) Best() (Trial, error) {
	best := -1
	for i, t := range s.trials {
		if t.State != TrialComplete {
			continue
		}
		if best < 0 || t.Score > s.trials[best].Score {
			best = i
		}
	}
	if best < 0 {
		return Trial{}, errors.Wrapf(types.ErrSearchTrial, "all %d trials failed", len(s.trials))
	}
	return s.trials[best], nil
}
