// Package dataset loads tabular classification data into gonum matrices.
//
// Every column except the target becomes a float64 feature. The target
// column holds class labels encoded as numbers.
package dataset

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// Frame is a feature matrix with its label vector.
type Frame struct {
	X            *mat.Dense
	Y            *mat.VecDense
	FeatureNames []string
	Target       string
}

// Dims returns the number of samples and features.
func (f *Frame) Dims() (rows, cols int) {
	if f == nil || f.X == nil {
		return 0, 0
	}
	return f.X.Dims()
}

// Labels returns Y as an n×1 matrix, the shape classifiers take.
func (f *Frame) Labels() *mat.Dense {
	n := f.Y.Len()
	return mat.NewDense(n, 1, f.Y.RawVector().Data[:n:n])
}

// Subset copies the given rows into a new frame.
func (f *Frame) Subset(rows []int) *Frame {
	_, p := f.Dims()
	x := mat.NewDense(len(rows), p, nil)
	y := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		x.SetRow(i, f.X.RawRowView(r))
		y.SetVec(i, f.Y.AtVec(r))
	}
	return &Frame{X: x, Y: y, FeatureNames: f.FeatureNames, Target: f.Target}
}

// newFrame assembles a frame from row-major feature values and labels.
func newFrame(names []string, target string, features []float64, labels []float64) (*Frame, error) {
	if len(labels) == 0 {
		return nil, errors.ErrEmptyData
	}
	p := len(names)
	if p == 0 {
		return nil, errors.NewValidationError("columns", "at least one feature column is required", 0)
	}
	if len(features) != len(labels)*p {
		return nil, errors.NewDimensionError("newFrame", len(labels)*p, len(features), 1)
	}
	return &Frame{
		X:            mat.NewDense(len(labels), p, features),
		Y:            mat.NewVecDense(len(labels), labels),
		FeatureNames: names,
		Target:       target,
	}, nil
}

func targetIndex(header []string, target string) (int, error) {
	for i, h := range header {
		if h == target {
			return i, nil
		}
	}
	return -1, errors.NewValidationError("target", "column not found in header", target)
}
