package estimator

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Ridge is L2-penalised least squares with an unpenalised intercept.
type Ridge struct {
	Alpha float64

	Coef      []float64
	Intercept float64
}

func (r *Ridge) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	xm, ym, xc, yc := center(X, y, n, p)

	A := mat.NewDense(n, p, xc)
	var gram mat.Dense
	gram.Mul(A.T(), A)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+r.Alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(A.T(), mat.NewVecDense(n, yc))

	var w mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(mat.NewSymDense(p, gram.RawMatrix().Data)) {
		err = chol.SolveVecTo(&w, &rhs)
	} else {
		err = w.SolveVec(&gram, &rhs)
	}
	if err != nil {
		return errors.Wrap(err, "ridge solve")
	}

	r.Coef = make([]float64, p)
	r.Intercept = ym
	for j := 0; j < p; j++ {
		r.Coef[j] = w.AtVec(j)
		r.Intercept -= xm[j] * r.Coef[j]
	}
	return nil
}

func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	return linearPredict(X, r.Coef, r.Intercept)
}

// ElasticNet minimises (1/2n)||y-Xw||² + Alpha*L1Ratio*||w||₁ +
// Alpha*(1-L1Ratio)/2*||w||² by cyclic coordinate descent. L1Ratio 1 is the
// lasso.
type ElasticNet struct {
	Alpha   float64
	L1Ratio float64
	MaxIter int
	Tol     float64

	Coef      []float64
	Intercept float64
}

// NewLasso is an ElasticNet with a pure L1 penalty.
func NewLasso(alpha float64) *ElasticNet {
	return &ElasticNet{Alpha: alpha, L1Ratio: 1}
}

func (e *ElasticNet) Fit(X [][]float64, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return err
	}
	maxIter, tol := e.MaxIter, e.Tol
	if maxIter <= 0 {
		maxIter = 1000
	}
	if tol <= 0 {
		tol = 1e-4
	}
	xm, ym, xc, resid := center(X, y, n, p)

	norms := make([]float64, p)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			v := xc[i*p+j]
			norms[j] += v * v
		}
	}
	nf := float64(n)
	l1 := e.Alpha * e.L1Ratio * nf
	l2 := e.Alpha * (1 - e.L1Ratio) * nf

	w := make([]float64, p)
	for iter := 0; iter < maxIter; iter++ {
		var maxStep, maxW float64
		for j := 0; j < p; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			var rho float64
			for i := 0; i < n; i++ {
				x := xc[i*p+j]
				rho += x * (resid[i] + x*old)
			}
			w[j] = softThreshold(rho, l1) / (norms[j] + l2)
			if d := w[j] - old; d != 0 {
				for i := 0; i < n; i++ {
					resid[i] -= xc[i*p+j] * d
				}
				maxStep = math.Max(maxStep, math.Abs(d))
			}
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if maxW == 0 || maxStep/maxW < tol {
			break
		}
	}

	e.Coef = w
	e.Intercept = ym
	for j := 0; j < p; j++ {
		e.Intercept -= xm[j] * w[j]
	}
	return nil
}

func (e *ElasticNet) Predict(X [][]float64) ([]float64, error) {
	return linearPredict(X, e.Coef, e.Intercept)
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	}
	return 0
}

// center returns column means, target mean, the centred design in row-major
// order and the centred target.
func center(X [][]float64, y []float64, n, p int) (xm []float64, ym float64, xc, yc []float64) {
	xm = make([]float64, p)
	for _, row := range X {
		for j, v := range row {
			xm[j] += v
		}
	}
	for j := range xm {
		xm[j] /= float64(n)
	}
	ym = mean(y)

	xc = make([]float64, n*p)
	yc = make([]float64, n)
	for i, row := range X {
		for j, v := range row {
			xc[i*p+j] = v - xm[j]
		}
		yc[i] = y[i] - ym
	}
	return xm, ym, xc, yc
}

func linearPredict(X [][]float64, coef []float64, intercept float64) ([]float64, error) {
	if coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkPredict(X, len(coef)); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		s := intercept
		for j, v := range row {
			s += coef[j] * v
		}
		out[i] = s
	}
	return out, nil
}
