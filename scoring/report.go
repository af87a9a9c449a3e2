package scoring

import (
	"bytes"

	"github.com/goccy/go-json"
)

// ClassMetrics is one row of a classification report.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// LabeledMetrics ties a row to the raw, pre-encoding class label.
type LabeledMetrics struct {
	Label string
	ClassMetrics
}

// ClassificationReport is the per-class precision/recall/F1 breakdown with
// macro and support-weighted averages.
type ClassificationReport struct {
	Classes     []LabeledMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
}

// NewClassificationReport builds the report over every encoded class.
// labels[i] is the raw label for encoded class i.
func NewClassificationReport(yTrue, yPred []float64, labels []string) *ClassificationReport {
	idx := make([]int, len(labels))
	for i := range labels {
		idx[i] = i
	}
	c := newConfusion(yTrue, yPred, idx)

	r := &ClassificationReport{
		Classes:  make([]LabeledMetrics, len(labels)),
		Accuracy: Accuracy(yTrue, yPred),
	}
	var total int
	for i, label := range labels {
		p, rc, f := c.prf(i)
		m := ClassMetrics{Precision: p, Recall: rc, F1: f, Support: c.support[i]}
		r.Classes[i] = LabeledMetrics{Label: label, ClassMetrics: m}

		r.MacroAvg.Precision += p
		r.MacroAvg.Recall += rc
		r.MacroAvg.F1 += f
		sw := float64(m.Support)
		r.WeightedAvg.Precision += p * sw
		r.WeightedAvg.Recall += rc * sw
		r.WeightedAvg.F1 += f * sw
		total += m.Support
	}
	if n := float64(len(labels)); n > 0 {
		r.MacroAvg.Precision /= n
		r.MacroAvg.Recall /= n
		r.MacroAvg.F1 /= n
	}
	if total > 0 {
		r.WeightedAvg.Precision /= float64(total)
		r.WeightedAvg.Recall /= float64(total)
		r.WeightedAvg.F1 /= float64(total)
	}
	r.MacroAvg.Support = total
	r.WeightedAvg.Support = total
	return r
}

// Class returns the row for a raw label.
func (r *ClassificationReport) Class(label string) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c.ClassMetrics, true
		}
	}
	return ClassMetrics{}, false
}

// MarshalJSON emits the dictionary layout consumers of the original service
// expect: one key per label, then "accuracy", "macro avg", "weighted avg".
func (r *ClassificationReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}
	for _, c := range r.Classes {
		if err := write(c.Label, c.ClassMetrics); err != nil {
			return nil, err
		}
	}
	if err := write("accuracy", r.Accuracy); err != nil {
		return nil, err
	}
	if err := write("macro avg", r.MacroAvg); err != nil {
		return nil, err
	}
	if err := write("weighted avg", r.WeightedAvg); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
