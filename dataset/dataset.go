// Package dataset holds a parsed tabular dataset and turns it into feature
// matrices and encoded targets.
package dataset

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/types"
)

// Dataset is rows x named columns with cells kept as raw strings.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// ReadCSV parses a CSV document whose first record is the header.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(types.ErrInvalidInput, err.Error())
	}
	if len(records) == 0 {
		return nil, errors.Wrap(types.ErrInvalidInput, "empty csv")
	}

	header := records[0]
	seen := make(map[string]bool, len(header))
	for i, c := range header {
		c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
		if seen[c] {
			return nil, errors.Wrapf(types.ErrInvalidInput, "duplicate column %q", c)
		}
		seen[c] = true
		header[i] = c
	}
	return &Dataset{Columns: header, Rows: records[1:]}, nil
}

func (d *Dataset) Len() int { return len(d.Rows) }

// ColumnIndex returns the position of a column, or ErrInvalidTarget.
func (d *Dataset) ColumnIndex(name string) (int, error) {
	for i, c := range d.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, errors.Wrapf(types.ErrInvalidTarget, "column %q not found", name)
}

// Features returns every column except target as float64 rows, along with
// the feature names in column order.
func (d *Dataset) Features(target string) ([][]float64, []string, error) {
	ti, err := d.ColumnIndex(target)
	if err != nil {
		return nil, nil, err
	}
	if len(d.Columns) < 2 {
		return nil, nil, errors.Wrap(types.ErrInvalidInput, "dataset has no feature columns")
	}

	names := make([]string, 0, len(d.Columns)-1)
	for i, c := range d.Columns {
		if i != ti {
			names = append(names, c)
		}
	}

	X := make([][]float64, len(d.Rows))
	for r, row := range d.Rows {
		x := make([]float64, 0, len(names))
		for i, cell := range row {
			if i == ti {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, errors.Wrapf(types.ErrInvalidInput,
					"row %d column %q: non-numeric value %q", r+1, d.Columns[i], cell)
			}
			x = append(x, v)
		}
		X[r] = x
	}
	return X, names, nil
}

// Column returns the raw cells of one column.
func (d *Dataset) Column(name string) ([]string, error) {
	ci, err := d.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(d.Rows))
	for r, row := range d.Rows {
		out[r] = strings.TrimSpace(row[ci])
	}
	return out, nil
}

// NumericTarget parses the target column as float64 for regression.
func (d *Dataset) NumericTarget(name string) ([]float64, error) {
	cells, err := d.Column(name)
	if err != nil {
		return nil, err
	}
	y := make([]float64, len(cells))
	for i, c := range cells {
		if y[i], err = strconv.ParseFloat(c, 64); err != nil {
			return nil, errors.Wrapf(types.ErrInvalidInput, "row %d target %q is not numeric", i+1, c)
		}
	}
	return y, nil
}

// LabelEncoder maps raw class labels to 0..n-1 in sorted label order.
type LabelEncoder struct {
	Classes []string
	index   map[string]int
}

// FitLabels learns the label space of the given raw labels. Labels that all
// parse as numbers sort numerically, anything else sorts lexically.
func FitLabels(labels []string) *LabelEncoder {
	seen := map[string]bool{}
	var classes []string
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}

	numeric := true
	for _, c := range classes {
		if _, err := strconv.ParseFloat(c, 64); err != nil {
			numeric = false
			break
		}
	}
	if numeric {
		sort.Slice(classes, func(i, j int) bool {
			a, _ := strconv.ParseFloat(classes[i], 64)
			b, _ := strconv.ParseFloat(classes[j], 64)
			return a < b
		})
	} else {
		sort.Strings(classes)
	}

	e := &LabelEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

// Transform encodes raw labels. Unknown labels are an input error.
func (e *LabelEncoder) Transform(labels []string) ([]float64, error) {
	out := make([]float64, len(labels))
	for i, l := range labels {
		c, ok := e.index[l]
		if !ok {
			return nil, errors.Wrapf(types.ErrInvalidInput, "unknown label %q", l)
		}
		out[i] = float64(c)
	}
	return out, nil
}

// Inverse maps an encoded class back to its raw label.
func (e *LabelEncoder) Inverse(code int) string {
	return e.Classes[code]
}
