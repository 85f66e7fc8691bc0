// Package ensemble provides random forest classifiers built from
// sklearn/tree decision trees.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/core/model"
	"github.com/YuminosukeSato/scitune/core/parallel"
	"github.com/YuminosukeSato/scitune/metrics"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/sklearn/tree"
)

// RandomForestClassifier averages the class probabilities of bagged
// decision trees.
type RandomForestClassifier struct {
	state *model.FitState

	nEstimators     int
	maxDepth        int
	maxFeatures     int // 0 は sqrt(n_features)
	minSamplesSplit int
	minSamplesLeaf  int
	criterion       string
	bootstrap       bool
	randomState     int64
	nJobs           int

	trees   []*tree.DecisionTreeClassifier
	classes []float64
}

// Option configures a RandomForestClassifier.
type Option func(*RandomForestClassifier)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option { return func(rf *RandomForestClassifier) { rf.nEstimators = n } }

// WithMaxDepth limits tree depth. Values <= 0 mean unlimited.
func WithMaxDepth(d int) Option { return func(rf *RandomForestClassifier) { rf.maxDepth = d } }

// WithMaxFeatures sets the number of features tried per split. 0 means sqrt(n_features).
func WithMaxFeatures(k int) Option { return func(rf *RandomForestClassifier) { rf.maxFeatures = k } }

// WithMinSamplesSplit sets the per-tree minimum samples to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the per-tree minimum samples in a leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithCriterion sets the split criterion of every tree.
func WithCriterion(c string) Option { return func(rf *RandomForestClassifier) { rf.criterion = c } }

// WithBootstrap toggles bootstrap sampling of rows per tree.
func WithBootstrap(b bool) Option { return func(rf *RandomForestClassifier) { rf.bootstrap = b } }

// WithRandomState seeds the forest. Tree i uses seed randomState+i.
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets how many trees are fitted concurrently. Values <= 0 use all CPUs.
func WithNJobs(n int) Option { return func(rf *RandomForestClassifier) { rf.nJobs = n } }

// NewRandomForestClassifier creates a forest with sklearn-like defaults.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewFitState(),
		nEstimators:     100,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		criterion:       "gini",
		bootstrap:       true,
		randomState:     time.Now().UnixNano(),
		nJobs:           -1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

func (rf *RandomForestClassifier) validate() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.nEstimators)
	}
	if rf.maxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be non-negative", rf.maxFeatures)
	}
	return nil
}

func (rf *RandomForestClassifier) featuresPerSplit(nFeatures int) int {
	k := rf.maxFeatures
	if k == 0 {
		k = int(math.Sqrt(float64(nFeatures)))
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k
}

func (rf *RandomForestClassifier) newTree(seed int64, nFeatures int) *tree.DecisionTreeClassifier {
	return tree.NewDecisionTreeClassifier(
		tree.WithCriterion(rf.criterion),
		tree.WithMaxDepth(rf.maxDepth),
		tree.WithMinSamplesSplit(rf.minSamplesSplit),
		tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
		tree.WithMaxFeatures(rf.featuresPerSplit(nFeatures)),
		tree.WithRandomState(seed),
	)
}

// sampleIndices returns a bootstrap sample of rows, or rows itself when
// bootstrapping is disabled.
func (rf *RandomForestClassifier) sampleIndices(rows []int, rng *rand.Rand) []int {
	if !rf.bootstrap {
		return rows
	}
	out := make([]int, len(rows))
	for i := range out {
		out[i] = rows[rng.Intn(len(rows))]
	}
	return out
}

// Fit trains nEstimators trees concurrently on bootstrap samples of X.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if err := rf.validate(); err != nil {
		return err
	}
	dense, labels, err := tree.CheckXy("Fit", X, y)
	if err != nil {
		return err
	}
	classes, yIdx := tree.EncodeLabels(labels)
	nRows, nFeatures := dense.Dims()

	rows := make([]int, nRows)
	for i := range rows {
		rows[i] = i
	}

	start := time.Now()
	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.ForEach(rf.nEstimators, rf.nJobs, "tree", func(i int) error {
		seed := rf.randomState + int64(i)
		t := rf.newTree(seed, nFeatures)
		trees[i] = t
		return t.FitIndices(dense, yIdx, len(classes), rf.sampleIndices(rows, rand.New(rand.NewSource(seed))))
	})
	if err != nil {
		return err
	}

	rf.setFitted(trees, classes, nFeatures, nRows)
	log.GetLoggerWithName("ensemble").Debug("Forest fitted",
		log.ModelNameKey, "RandomForestClassifier",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nRows,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, len(classes),
		"n_estimators", rf.nEstimators,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (rf *RandomForestClassifier) setFitted(trees []*tree.DecisionTreeClassifier, classes []float64, nFeatures, nSamples int) {
	rf.trees = trees
	rf.classes = classes
	rf.state.MarkFitted(nFeatures, nSamples)
}

// PredictProba returns the mean of the tree probabilities, n×nClasses.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	rows, cols := X.Dims()
	if err := rf.state.Check("RandomForestClassifier", "PredictProba", cols); err != nil {
		return nil, err
	}

	sum := mat.NewDense(rows, len(rf.classes), nil)
	for _, t := range rf.trees {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, p)
	}
	sum.Scale(1/float64(len(rf.trees)), sum)
	return sum, nil
}

// Predict returns an n×1 matrix of predicted class labels.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, rf.classes[tree.ArgmaxRow(proba, i)])
	}
	return out, nil
}

// Score returns the mean accuracy on X and y.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyMatrix(y, pred)
}

// Classes returns the class labels seen during Fit.
func (rf *RandomForestClassifier) Classes() []int {
	out := make([]int, len(rf.classes))
	for i, c := range rf.classes {
		out[i] = int(c)
	}
	return out
}

// NEstimators returns the number of fitted trees.
func (rf *RandomForestClassifier) NEstimators() int { return len(rf.trees) }

// GetFeatureImportances returns the mean of the tree importances.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	if len(rf.trees) == 0 {
		return nil
	}
	nFeatures := rf.state.Features()
	out := make([]float64, nFeatures)
	for _, t := range rf.trees {
		for i, v := range t.GetFeatureImportances() {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(rf.trees))
	}
	return out
}

// GetParams returns the hyperparameters of the forest.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"max_depth":         rf.maxDepth,
		"max_features":      rf.maxFeatures,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"criterion":         rf.criterion,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams updates hyperparameters. Unknown keys are rejected.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "criterion":
			s, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			rf.criterion = s
		case "bootstrap":
			b, ok := v.(bool)
			if !ok {
				return errors.NewValidationError(k, "must be a bool", v)
			}
			rf.bootstrap = b
		case "random_state":
			n, err := tree.ToInt(k, v)
			if err != nil {
				return err
			}
			rf.randomState = int64(n)
		case "n_estimators", "max_depth", "max_features", "min_samples_split", "min_samples_leaf", "n_jobs":
			n, err := tree.ToInt(k, v)
			if err != nil {
				return err
			}
			*rf.intParam(k) = n
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	return rf.validate()
}

func (rf *RandomForestClassifier) intParam(name string) *int {
	switch name {
	case "n_estimators":
		return &rf.nEstimators
	case "max_depth":
		return &rf.maxDepth
	case "max_features":
		return &rf.maxFeatures
	case "min_samples_split":
		return &rf.minSamplesSplit
	case "min_samples_leaf":
		return &rf.minSamplesLeaf
	default:
		return &rf.nJobs
	}
}

type forestSnapshot struct {
	Params  map[string]interface{}
	Trees   []*tree.DecisionTreeClassifier
	Classes []float64
	State   *model.FitState
}

// GobEncode implements gob.GobEncoder so fitted forests can be persisted
// with model.SaveFile.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestSnapshot{
		Params:  rf.GetParams(),
		Trees:   rf.trees,
		Classes: rf.classes,
		State:   rf.state,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	fresh := NewRandomForestClassifier()
	if err := fresh.SetParams(s.Params); err != nil {
		return err
	}
	*rf = *fresh
	rf.trees = s.Trees
	rf.classes = s.Classes
	if s.State != nil {
		rf.state = s.State
	}
	return nil
}
