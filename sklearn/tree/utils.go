package tree

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/metrics"
	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// CheckXy validates shapes and returns X as *mat.Dense together with the
// labels of the n×1 target.
func CheckXy(op string, X, y mat.Matrix) (*mat.Dense, []float64, error) {
	if X == nil || y == nil {
		return nil, nil, errors.NewValueError(op, "X and y must not be nil")
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, errors.ErrEmptyData
	}
	yr, yc := y.Dims()
	if yr != rows {
		return nil, nil, errors.NewDimensionError(op, rows, yr, 0)
	}
	if yc != 1 {
		return nil, nil, errors.NewValueError(op, "y must be a column vector (n×1 matrix)")
	}

	dense, ok := X.(*mat.Dense)
	if !ok {
		dense = mat.DenseCopyOf(X)
	}
	labels := make([]float64, rows)
	for i := range labels {
		labels[i] = y.At(i, 0)
	}
	return dense, labels, nil
}

// EncodeLabels returns the sorted distinct labels and, for every sample, the
// index of its label in that slice.
func EncodeLabels(labels []float64) (classes []float64, encoded []int) {
	seen := make(map[float64]struct{}, 8)
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}
	sort.Float64s(classes)

	index := make(map[float64]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	encoded = make([]int, len(labels))
	for i, l := range labels {
		encoded[i] = index[l]
	}
	return classes, encoded
}

// ArgmaxRow returns the column of the largest value in row i. Ties go to
// the lowest column.
func ArgmaxRow(m mat.Matrix, i int) int {
	_, cols := m.Dims()
	best, bestV := 0, m.At(i, 0)
	for j := 1; j < cols; j++ {
		if v := m.At(i, j); v > bestV {
			best, bestV = j, v
		}
	}
	return best
}

func accuracy(y, pred mat.Matrix) (float64, error) {
	return metrics.AccuracyMatrix(y, pred)
}
