// Package scoring computes the held-out and cross-validation metrics used to
// rank model families.
package scoring

import (
	"math"
)

// Scorer maps true and predicted targets to a scalar where larger is better.
type Scorer func(yTrue, yPred []float64) float64

// Accuracy is the fraction of exact matches between encoded labels.
func Accuracy(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var hits int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// WeightedF1 averages per-label F1 weighted by true support. Labels are the
// union of those seen in yTrue and yPred.
func WeightedF1(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	seen := make(map[int]struct{})
	for i := range yTrue {
		seen[int(yTrue[i])] = struct{}{}
		seen[int(yPred[i])] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	c := newConfusion(yTrue, yPred, labels)

	var num, den float64
	for _, l := range labels {
		_, _, f1 := c.prf(l)
		s := float64(c.support[l])
		num += f1 * s
		den += s
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// R2 is the coefficient of determination. A constant target yields 1 for a
// perfect fit and 0 otherwise.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) < 2 {
		return math.NaN()
	}
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	var ssRes, ssTot float64
	for i, v := range yTrue {
		d := v - yPred[i]
		ssRes += d * d
		m := v - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// MSE is the mean squared error.
func MSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var s float64
	for i, v := range yTrue {
		d := v - yPred[i]
		s += d * d
	}
	return s / float64(len(yTrue))
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var s float64
	for i, v := range yTrue {
		s += math.Abs(v - yPred[i])
	}
	return s / float64(len(yTrue))
}

type confusion struct {
	tp, fp, support map[int]int
}

func newConfusion(yTrue, yPred []float64, labels []int) *confusion {
	c := &confusion{
		tp:      make(map[int]int, len(labels)),
		fp:      make(map[int]int, len(labels)),
		support: make(map[int]int, len(labels)),
	}
	for i := range yTrue {
		t, p := int(yTrue[i]), int(yPred[i])
		c.support[t]++
		if t == p {
			c.tp[t]++
		} else {
			c.fp[p]++
		}
	}
	return c
}

// prf returns precision, recall and F1 for one label; undefined ratios are 0.
func (c *confusion) prf(label int) (precision, recall, f1 float64) {
	tp := float64(c.tp[label])
	if d := tp + float64(c.fp[label]); d > 0 {
		precision = tp / d
	}
	if d := float64(c.support[label]); d > 0 {
		recall = tp / d
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
