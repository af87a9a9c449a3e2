package estimator

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Logistic regression solvers and penalties.
const (
	SolverLBFGS = "lbfgs"
	SolverSAGA  = "saga"

	PenaltyL2         = "l2"
	PenaltyL1         = "l1"
	PenaltyElasticNet = "elasticnet"
)

// LogisticRegression is a multinomial logistic model on internally
// standardised features. The objective is C*Σloss + penalty(W), divided
// through by C*n. lbfgs supports only the l2 penalty; saga supports all three
// and is solved by accelerated proximal gradient.
type LogisticRegression struct {
	C          float64
	Penalty    string
	Solver     string
	L1Ratio    float64
	MaxIter    int
	Tol        float64
	NumClasses int

	Scaler standardizer
	// W is row-major NumClasses x (features+1); the last column is the bias.
	W []float64
}

func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	if m.NumClasses < 2 {
		return errors.Wrapf(ErrBadClasses, "logistic regression needs at least 2 classes, got %d", m.NumClasses)
	}
	if err := checkLabels(y, m.NumClasses); err != nil {
		return err
	}
	if m.C <= 0 {
		return errors.Errorf("logistic regression: C must be positive, got %v", m.C)
	}
	penalty, solver := m.Penalty, m.Solver
	if penalty == "" {
		penalty = PenaltyL2
	}
	if solver == "" {
		solver = SolverLBFGS
	}
	if solver == SolverLBFGS && penalty != PenaltyL2 {
		return errors.Errorf("logistic regression: solver %s does not support penalty %s", solver, penalty)
	}

	m.Scaler = fitStandardizer(X, p)
	obj := &logObjective{x: m.Scaler.transform(X), y: y, k: m.NumClasses, p: p}

	var l1, l2 float64
	scale := 1 / (m.C * float64(n))
	switch penalty {
	case PenaltyL2:
		l2 = scale
	case PenaltyL1:
		l1 = scale
	case PenaltyElasticNet:
		if m.L1Ratio < 0 || m.L1Ratio > 1 {
			return errors.Errorf("logistic regression: l1_ratio %v outside [0,1]", m.L1Ratio)
		}
		l1 = scale * m.L1Ratio
		l2 = scale * (1 - m.L1Ratio)
	default:
		return errors.Errorf("logistic regression: unknown penalty %q", penalty)
	}
	obj.l2 = l2

	maxIter, tol := m.MaxIter, m.Tol
	if maxIter <= 0 {
		maxIter = 100
	}
	if tol <= 0 {
		tol = 1e-4
	}

	switch solver {
	case SolverLBFGS:
		m.W, err = obj.lbfgs(maxIter, tol)
	case SolverSAGA:
		m.W = obj.proximal(l1, maxIter, tol)
	default:
		err = errors.Errorf("logistic regression: unknown solver %q", solver)
	}
	return err
}

func (m *LogisticRegression) Predict(X [][]float64) ([]float64, error) {
	if m.W == nil {
		return nil, ErrNotFitted
	}
	p := len(m.Scaler.Mean)
	if err := checkPredict(X, p); err != nil {
		return nil, err
	}
	xs := m.Scaler.transform(X)
	z := make([]float64, m.NumClasses)
	out := make([]float64, len(X))
	for i, row := range xs {
		logits(m.W, row, m.NumClasses, p, z)
		out[i] = float64(argmax(z))
	}
	return out, nil
}

func logits(w, row []float64, k, p int, z []float64) {
	stride := p + 1
	for c := 0; c < k; c++ {
		wc := w[c*stride : (c+1)*stride]
		z[c] = wc[p] + floats.Dot(wc[:p], row)
	}
}

// logObjective is the mean multinomial log loss plus an l2 term on the
// non-bias weights.
type logObjective struct {
	x    [][]float64
	y    []float64
	k, p int
	l2   float64
}

func (o *logObjective) dim() int { return o.k * (o.p + 1) }

func (o *logObjective) value(w []float64) float64 {
	z := make([]float64, o.k)
	var loss float64
	for i, row := range o.x {
		logits(w, row, o.k, o.p, z)
		loss += logSumExp(z) - z[int(o.y[i])]
	}
	return loss/float64(len(o.x)) + 0.5*o.l2*o.weightNorm2(w)
}

func (o *logObjective) gradient(grad, w []float64) {
	for i := range grad {
		grad[i] = 0
	}
	stride := o.p + 1
	z := make([]float64, o.k)
	prob := make([]float64, o.k)
	inv := 1 / float64(len(o.x))
	for i, row := range o.x {
		logits(w, row, o.k, o.p, z)
		softmax(z, prob)
		prob[int(o.y[i])]--
		for c := 0; c < o.k; c++ {
			g := grad[c*stride : (c+1)*stride]
			d := prob[c] * inv
			floats.AddScaled(g[:o.p], d, row)
			g[o.p] += d
		}
	}
	for c := 0; c < o.k; c++ {
		for j := 0; j < o.p; j++ {
			grad[c*stride+j] += o.l2 * w[c*stride+j]
		}
	}
}

func (o *logObjective) weightNorm2(w []float64) float64 {
	stride := o.p + 1
	var s float64
	for c := 0; c < o.k; c++ {
		for j := 0; j < o.p; j++ {
			v := w[c*stride+j]
			s += v * v
		}
	}
	return s
}

func (o *logObjective) lbfgs(maxIter int, tol float64) ([]float64, error) {
	problem := optimize.Problem{
		Func: o.value,
		Grad: o.gradient,
	}
	settings := &optimize.Settings{
		MajorIterations:   maxIter,
		GradientThreshold: tol,
	}
	res, err := optimize.Minimize(problem, make([]float64, o.dim()), settings, &optimize.LBFGS{})
	if res == nil {
		return nil, errors.Wrap(err, "lbfgs")
	}
	// Line search failures still leave the best iterate in res.X.
	if !allFinite(res.X) {
		return nil, errors.New("lbfgs diverged")
	}
	return res.X, nil
}

// proximal runs FISTA with backtracking on the smooth part and soft
// thresholding for the l1 part. Bias terms are never thresholded.
func (o *logObjective) proximal(l1 float64, maxIter int, tol float64) []float64 {
	d := o.dim()
	stride := o.p + 1
	w := make([]float64, d)
	prev := make([]float64, d)
	v := make([]float64, d)
	grad := make([]float64, d)
	next := make([]float64, d)
	step := 1.0
	t := 1.0

	prox := func(dst, src []float64, s float64) {
		copy(dst, src)
		if l1 == 0 {
			return
		}
		for i := range dst {
			if i%stride == o.p {
				continue
			}
			dst[i] = softThreshold(dst[i], s*l1)
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		fv := o.value(v)
		o.gradient(grad, v)
		for {
			floats.AddScaledTo(next, v, -step, grad)
			prox(next, next, step)
			var lin, quad float64
			for i := range next {
				diff := next[i] - v[i]
				lin += grad[i] * diff
				quad += diff * diff
			}
			if o.value(next) <= fv+lin+quad/(2*step)+1e-12 || step < 1e-10 {
				break
			}
			step /= 2
		}

		copy(prev, w)
		copy(w, next)

		tNext := (1 + math.Sqrt(1+4*t*t)) / 2
		momentum := (t - 1) / tNext
		t = tNext
		for i := range v {
			v[i] = w[i] + momentum*(w[i]-prev[i])
		}

		var change, size float64
		for i := range w {
			change = math.Max(change, math.Abs(w[i]-prev[i]))
			size = math.Max(size, math.Abs(w[i]))
		}
		if iter > 0 && change <= tol*math.Max(size, 1) {
			break
		}
	}
	return w
}

func logSumExp(z []float64) float64 {
	m := floats.Max(z)
	var s float64
	for _, v := range z {
		s += math.Exp(v - m)
	}
	return m + math.Log(s)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
