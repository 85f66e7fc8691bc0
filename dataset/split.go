package dataset

import (
	"math"
	"math/rand"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// Split holds a train and a test partition of one frame.
type Split struct {
	Train *Frame
	Test  *Frame
}

// TrainTestSplit shuffles rows with seed and holds out testFraction of them.
// Both partitions always get at least one row.
func TrainTestSplit(f *Frame, testFraction float64, seed int64) (*Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, errors.NewValidationError("test_fraction", "must be in (0, 1)", testFraction)
	}
	n, _ := f.Dims()
	if n < 2 {
		return nil, errors.NewValidationError("samples", "need at least 2 rows to split", n)
	}

	nTest := int(math.Round(float64(n) * testFraction))
	nTest = max(1, min(nTest, n-1))

	idx := rand.New(rand.NewSource(seed)).Perm(n)
	return &Split{
		Train: f.Subset(idx[nTest:]),
		Test:  f.Subset(idx[:nTest]),
	}, nil
}
