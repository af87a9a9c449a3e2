package search

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/scoring"
	"github.com/gidra39/modelselect/types"
)

// DefaultFolds is the k of k-fold cross-validation.
const DefaultFolds = 5

// KFold returns k contiguous test folds over n rows without shuffling. The
// first n%k folds hold one extra row.
func KFold(n, k int) ([][]int, error) {
	if k < 2 || k > n {
		return nil, errors.Wrapf(types.ErrInvalidInput, "cannot make %d folds from %d rows", k, n)
	}
	folds := make([][]int, k)
	start := 0
	for f := range folds {
		size := n / k
		if f < n%k {
			size++
		}
		fold := make([]int, size)
		for i := range fold {
			fold[i] = start + i
		}
		folds[f] = fold
		start += size
	}
	return folds, nil
}

// StratifiedKFold returns k test folds that spread each class evenly. The
// rows of every class are dealt to folds in their original order: the
// per-fold class counts are those of striding with step k through the
// targets sorted by class, classes ranked by first appearance in y.
func StratifiedKFold(y []float64, k int) ([][]int, error) {
	n := len(y)
	if k < 2 || k > n {
		return nil, errors.Wrapf(types.ErrInvalidInput, "cannot make %d folds from %d rows", k, n)
	}

	rank := map[float64]int{}
	var counts []int
	for _, v := range y {
		c, ok := rank[v]
		if !ok {
			c = len(counts)
			rank[v] = c
			counts = append(counts, 0)
		}
		counts[c]++
	}
	largest := 0
	for _, c := range counts {
		if c > largest {
			largest = c
		}
	}
	if largest < k {
		return nil, errors.Wrapf(types.ErrInvalidInput, "no class has %d members for %d folds", k, k)
	}

	order := make([]int, n)
	for i, v := range y {
		order[i] = rank[v]
	}
	sort.Ints(order)
	// alloc[f][c] is how many rows of class c go to fold f.
	alloc := make([][]int, k)
	for f := range alloc {
		alloc[f] = make([]int, len(counts))
		for i := f; i < n; i += k {
			alloc[f][order[i]]++
		}
	}

	folds := make([][]int, k)
	next := make([]int, len(counts))
	for i, v := range y {
		c := rank[v]
		f := next[c]
		for alloc[f][c] == 0 {
			f++
		}
		alloc[f][c]--
		next[c] = f
		folds[f] = append(folds[f], i)
	}
	return folds, nil
}

// Folds picks stratified folds for classification and contiguous folds for
// regression.
func Folds(task types.TaskKind, y []float64, k int) ([][]int, error) {
	if task == types.Classification {
		return StratifiedKFold(y, k)
	}
	return KFold(len(y), k)
}

// Builder constructs a fresh unfitted estimator.
type Builder func() (estimator.Estimator, error)

// CrossValidate fits one fresh model per fold, in parallel up to the number
// of CPUs, and returns the mean of the defined fold scores together with
// every fold score. A fit or predict error fails the whole evaluation.
func CrossValidate(ctx context.Context, build Builder, X [][]float64, y []float64, folds [][]int, scorer scoring.Scorer) (float64, []float64, error) {
	scores := make([]float64, len(folds))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for f := range folds {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			trainX, trainY, testX, testY := foldData(X, y, folds[f])
			model, err := build()
			if err != nil {
				return err
			}
			if err := model.Fit(trainX, trainY); err != nil {
				return errors.Wrapf(err, "fold %d fit", f)
			}
			pred, err := model.Predict(testX)
			if err != nil {
				return errors.Wrapf(err, "fold %d predict", f)
			}
			scores[f] = scorer(testY, pred)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return math.NaN(), nil, err
	}

	defined := make([]float64, 0, len(scores))
	for _, s := range scores {
		if !math.IsNaN(s) && !math.IsInf(s, 0) {
			defined = append(defined, s)
		}
	}
	if len(defined) == 0 {
		return math.NaN(), scores, errors.Wrap(types.ErrSearchTrial, "no fold produced a defined score")
	}
	m, err := stats.Mean(defined)
	if err != nil {
		return math.NaN(), scores, errors.Wrap(err, "fold mean")
	}
	return m, scores, nil
}

func foldData(X [][]float64, y []float64, test []int) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	inTest := make(map[int]bool, len(test))
	for _, i := range test {
		inTest[i] = true
		testX = append(testX, X[i])
		testY = append(testY, y[i])
	}
	for i := range X {
		if !inTest[i] {
			trainX = append(trainX, X[i])
			trainY = append(trainY, y[i])
		}
	}
	return trainX, trainY, testX, testY
}
