package dataset

import (
	"fmt"
	"math/rand"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// MakeClassification generates Gaussian clusters, one per class, with
// labels 0..nClasses-1 assigned round-robin. Only the first half of the
// features (at least one) carry class signal; the rest are noise.
func MakeClassification(nSamples, nFeatures, nClasses int, seed int64) (*Frame, error) {
	switch {
	case nSamples < nClasses:
		return nil, errors.NewValidationError("n_samples", "must be >= n_classes", nSamples)
	case nFeatures < 1:
		return nil, errors.NewValidationError("n_features", "must be >= 1", nFeatures)
	case nClasses < 2:
		return nil, errors.NewValidationError("n_classes", "must be >= 2", nClasses)
	}

	rng := rand.New(rand.NewSource(seed))
	informative := max(1, nFeatures/2)

	centers := make([][]float64, nClasses)
	for k := range centers {
		centers[k] = make([]float64, informative)
		for j := range centers[k] {
			centers[k][j] = rng.Float64()*8 - 4
		}
	}

	names := make([]string, nFeatures)
	for j := range names {
		names[j] = fmt.Sprintf("f%d", j)
	}

	features := make([]float64, 0, nSamples*nFeatures)
	labels := make([]float64, nSamples)
	for i := 0; i < nSamples; i++ {
		k := i % nClasses
		labels[i] = float64(k)
		for j := 0; j < nFeatures; j++ {
			v := rng.NormFloat64()
			if j < informative {
				v += centers[k][j]
			}
			features = append(features, v)
		}
	}
	return newFrame(names, "label", features, labels)
}
