package model

import (
	"sync"

	scierrors "github.com/YuminosukeSato/scitune/pkg/errors"
)

// FitState records whether an estimator is fitted and the shape it was
// fitted on. Fields are exported for gob.
type FitState struct {
	mu sync.RWMutex

	Fitted    bool
	NFeatures int
	NSamples  int
}

func NewFitState() *FitState { return &FitState{} }

// MarkFitted replaces the recorded shape and flags the estimator as fitted.
func (s *FitState) MarkFitted(nFeatures, nSamples int) {
	s.mu.Lock()
	s.Fitted, s.NFeatures, s.NSamples = true, nFeatures, nSamples
	s.mu.Unlock()
}

// Reset は Fit のやり直し前に呼ぶ。
func (s *FitState) Reset() {
	s.mu.Lock()
	s.Fitted, s.NFeatures, s.NSamples = false, 0, 0
	s.mu.Unlock()
}

func (s *FitState) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// Features is the number of columns seen by Fit.
func (s *FitState) Features() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures
}

// Check fails with NotFittedError before Fit and with DimensionError when
// nFeatures differs from the fitted width. method names the caller in both.
func (s *FitState) Check(modelName, method string, nFeatures int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.Fitted {
		return scierrors.NewNotFittedError(modelName, method)
	}
	if nFeatures != s.NFeatures {
		return scierrors.NewDimensionError(method, s.NFeatures, nFeatures, 1)
	}
	return nil
}
