package search

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Observation is the value a finished trial used for one parameter, paired
// with that trial's score.
type Observation struct {
	Value any
	Score float64
}

// Sampler proposes a value for one parameter given the completed trials
// that contain it. Samplers are called from a single goroutine per study.
type Sampler interface {
	Suggest(p Param, history []Observation) any
}

// RandomSampler draws every parameter independently from its prior.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // reproducible search
}

func (s *RandomSampler) Suggest(p Param, _ []Observation) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return prior(s.rng, p)
}

func prior(rng *rand.Rand, p Param) any {
	if p.Kind == Categorical {
		return p.Choices[rng.Intn(len(p.Choices))]
	}
	if p.Kind == Int {
		lo, hi := int(p.Low), int(p.High)
		return lo + rng.Intn(hi-lo+1)
	}
	lo, hi := p.bounds()
	return p.external(lo + rng.Float64()*(hi-lo))
}

// TPE defaults.
const (
	DefaultStartupTrials = 10
	DefaultCandidates    = 24
	maxGoodTrials        = 25
	priorWeight          = 1.0
)

// TPESampler is an independent tree-structured Parzen estimator. After the
// startup trials it splits the history into the best gamma(n) observations
// and the rest, fits a Parzen density to each and returns the candidate,
// drawn from the good density, with the highest good/bad density ratio.
type TPESampler struct {
	StartupTrials int
	Candidates    int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewTPESampler(seed int64, startupTrials int) *TPESampler {
	if startupTrials < 0 {
		startupTrials = DefaultStartupTrials
	}
	return &TPESampler{
		StartupTrials: startupTrials,
		Candidates:    DefaultCandidates,
		rng:           rand.New(rand.NewSource(seed)), //nolint:gosec // reproducible search
	}
}

// gamma is the number of observations treated as good.
func gamma(n int) int {
	return int(math.Min(math.Ceil(0.1*float64(n)), maxGoodTrials))
}

func (s *TPESampler) Suggest(p Param, history []Observation) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(history) < s.StartupTrials || len(history) < 2 {
		return prior(s.rng, p)
	}

	sorted := append([]Observation(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	nGood := gamma(len(sorted))
	if nGood < 1 {
		nGood = 1
	}
	good, bad := sorted[:nGood], sorted[nGood:]

	if p.Kind == Categorical {
		return s.suggestCategorical(p, good, bad)
	}
	return s.suggestNumeric(p, good, bad)
}

func (s *TPESampler) candidates() int {
	if s.Candidates > 0 {
		return s.Candidates
	}
	return DefaultCandidates
}

func (s *TPESampler) suggestCategorical(p Param, good, bad []Observation) any {
	l := categoricalDensity(p, good)
	g := categoricalDensity(p, bad)

	best, bestRatio := -1, math.Inf(-1)
	for i := 0; i < s.candidates(); i++ {
		c := drawIndex(s.rng, l)
		ratio := math.Log(l[c]) - math.Log(g[c])
		if ratio > bestRatio {
			best, bestRatio = c, ratio
		}
	}
	return p.Choices[best]
}

// categoricalDensity mixes a uniform prior with the observed choice counts.
func categoricalDensity(p Param, obs []Observation) []float64 {
	k := len(p.Choices)
	w := make([]float64, k)
	for i := range w {
		w[i] = priorWeight / float64(k)
	}
	for _, o := range obs {
		if s, ok := o.Value.(string); ok {
			if i := p.index(s); i >= 0 {
				w[i]++
			}
		}
	}
	total := priorWeight + float64(len(obs))
	for i := range w {
		w[i] /= total
	}
	return w
}

func drawIndex(rng *rand.Rand, w []float64) int {
	u := rng.Float64()
	var acc float64
	for i, v := range w {
		acc += v
		if u < acc {
			return i
		}
	}
	return len(w) - 1
}

// parzen is a mixture of normals truncated to [low, high]. Component 0 is
// the prior centred on the interval.
type parzen struct {
	mus, sigmas, weights []float64
	low, high            float64
}

func newParzen(p Param, obs []Observation) parzen {
	low, high := p.bounds()
	width := high - low

	xs := make([]float64, 0, len(obs))
	for _, o := range obs {
		switch v := o.Value.(type) {
		case float64:
			xs = append(xs, p.internal(v))
		case int:
			xs = append(xs, float64(v))
		}
	}
	sort.Float64s(xs)

	pz := parzen{low: low, high: high}
	pz.mus = append(pz.mus, low+width/2)
	pz.sigmas = append(pz.sigmas, width)
	pz.weights = append(pz.weights, priorWeight)

	minSigma := width / math.Min(100, 1+float64(len(xs)))
	for i, x := range xs {
		left, right := x-low, high-x
		if i > 0 {
			left = x - xs[i-1]
		}
		if i < len(xs)-1 {
			right = xs[i+1] - x
		}
		sigma := clamp(math.Max(left, right), minSigma, width)
		pz.mus = append(pz.mus, x)
		pz.sigmas = append(pz.sigmas, sigma)
		pz.weights = append(pz.weights, 1)
	}

	var total float64
	for _, w := range pz.weights {
		total += w
	}
	for i := range pz.weights {
		pz.weights[i] /= total
	}
	return pz
}

func (pz parzen) sample(rng *rand.Rand) float64 {
	c := drawIndex(rng, pz.weights)
	for i := 0; i < 100; i++ {
		x := pz.mus[c] + rng.NormFloat64()*pz.sigmas[c]
		if x >= pz.low && x <= pz.high {
			return x
		}
	}
	return clamp(pz.mus[c], pz.low, pz.high)
}

func (pz parzen) logPDF(x float64) float64 {
	var s float64
	for i, mu := range pz.mus {
		n := distuv.Normal{Mu: mu, Sigma: pz.sigmas[i]}
		mass := n.CDF(pz.high) - n.CDF(pz.low)
		if mass <= 0 {
			continue
		}
		s += pz.weights[i] * n.Prob(x) / mass
	}
	if s <= 0 {
		return math.Inf(-1)
	}
	return math.Log(s)
}

func (s *TPESampler) suggestNumeric(p Param, good, bad []Observation) any {
	if lo, hi := p.bounds(); hi <= lo {
		return p.external(lo)
	}
	l := newParzen(p, good)
	g := newParzen(p, bad)

	best, bestRatio := 0.0, math.Inf(-1)
	for i := 0; i < s.candidates(); i++ {
		x := l.sample(s.rng)
		ratio := l.logPDF(x) - g.logPDF(x)
		if i == 0 || ratio > bestRatio {
			best, bestRatio = x, ratio
		}
	}
	return p.external(best)
}
