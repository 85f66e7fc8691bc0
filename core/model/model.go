// Package model holds the estimator contracts and the fitted-state and gob
// persistence helpers shared by sklearn/tree and sklearn/ensemble.
package model

import "gonum.org/v1/gonum/mat"

// Classifier is a fitted-or-fittable classification model. Labels are
// encoded as 0..k-1 in a single-column matrix.
type Classifier interface {
	Fit(X, y mat.Matrix) error
	Predict(X mat.Matrix) (mat.Matrix, error)
	// PredictProba は n×k の確率行列を返す。列は Classes の順。
	PredictProba(X mat.Matrix) (mat.Matrix, error)
	Score(X, y mat.Matrix) (float64, error)
	Classes() []int
}

// TunableClassifier exposes hyperparameters by their sklearn names
// ("n_estimators", "max_depth", ...), which is how a trial's parameters are
// applied to a fresh model.
type TunableClassifier interface {
	Classifier
	GetParams() map[string]interface{}
	SetParams(params map[string]interface{}) error
}
