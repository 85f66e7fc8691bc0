// Package objective trains and evaluates the random forest for one set of
// hyperparameters, and adapts that evaluation to a tune.Objective.
package objective

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitune/core/model"
	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/metrics"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/sklearn/ensemble"
	"github.com/YuminosukeSato/scitune/tune"
)

// User attribute keys recorded on each trial.
const (
	AttrAUC        = "auc"
	AttrFitSeconds = "fit_seconds"
)

// Params are the tuned random forest hyperparameters.
type Params struct {
	NEstimators int `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth    int `json:"max_depth" yaml:"max_depth"`
	MaxFeatures int `json:"max_features" yaml:"max_features"`
}

// Map returns the params keyed by their hyperparameter names.
func (p Params) Map() map[string]any {
	return map[string]any{
		"n_estimators": p.NEstimators,
		"max_depth":    p.MaxDepth,
		"max_features": p.MaxFeatures,
	}
}

// FromTrialParams reads Params back from trial parameters. Values decoded
// from JSON arrive as float64 and are accepted when integral.
func FromTrialParams(m map[string]any) (Params, error) {
	var p Params
	for name, dst := range map[string]*int{
		"n_estimators": &p.NEstimators,
		"max_depth":    &p.MaxDepth,
		"max_features": &p.MaxFeatures,
	} {
		v, ok := m[name]
		if !ok {
			return p, errors.NewValidationError(name, "missing", nil)
		}
		switch n := v.(type) {
		case int:
			*dst = n
		case int64:
			*dst = int(n)
		case float64:
			if n != math.Trunc(n) {
				return p, errors.NewValidationError(name, "must be an integer", v)
			}
			*dst = int(n)
		default:
			return p, errors.NewValidationError(name, "must be an integer", v)
		}
	}
	return p, nil
}

// Options control how a model is built, independent of the tuned params.
type Options struct {
	// Partitions > 1 trains a PartitionedForest over that many data shards.
	Partitions int `yaml:"partitions"`
	// Workers bounds concurrent shard fits of a PartitionedForest.
	Workers int `yaml:"workers"`
	// NJobs bounds concurrent tree fits within one forest (<= 0: all CPUs).
	NJobs int   `yaml:"n_jobs"`
	Seed  int64 `yaml:"seed"`
}

// Result is the outcome of one train/evaluate run.
type Result struct {
	Accuracy float64
	// AUC is NaN unless the task is binary.
	AUC     float64
	FitTime time.Duration
	Model   model.TunableClassifier
}

// Build constructs the untrained classifier for params.
func Build(p Params, opts Options) model.TunableClassifier {
	forest := []ensemble.Option{
		ensemble.WithNEstimators(p.NEstimators),
		ensemble.WithMaxDepth(p.MaxDepth),
		ensemble.WithMaxFeatures(p.MaxFeatures),
		ensemble.WithRandomState(opts.Seed),
		ensemble.WithNJobs(opts.NJobs),
	}
	if opts.Partitions > 1 {
		return ensemble.NewPartitionedForest(
			ensemble.WithPartitions(opts.Partitions),
			ensemble.WithWorkers(opts.Workers),
			ensemble.WithForestOptions(forest...),
		)
	}
	return ensemble.NewRandomForestClassifier(forest...)
}

// TrainAndEvaluate fits on split.Train and scores accuracy on split.Test.
func TrainAndEvaluate(ctx context.Context, split *dataset.Split, p Params, opts Options) (Result, error) {
	res := Result{AUC: math.NaN()}
	if split == nil || split.Train == nil || split.Test == nil {
		return res, errors.NewValueError("TrainAndEvaluate", "train/test split is required")
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	clf := Build(p, opts)
	start := time.Now()
	if err := clf.Fit(split.Train.X, split.Train.Labels()); err != nil {
		return res, errors.Wrapf(err, "fit %+v", p)
	}
	res.FitTime = time.Since(start)
	res.Model = clf

	yTest := split.Test.Labels()
	acc, err := clf.Score(split.Test.X, yTest)
	if err != nil {
		return res, errors.Wrap(err, "score")
	}
	res.Accuracy = acc

	if classes := clf.Classes(); len(classes) == 2 {
		auc, err := binaryAUC(clf, split.Test.X, yTest, float64(classes[1]))
		if err != nil {
			return res, err
		}
		res.AUC = auc
	}

	log.GetLoggerWithName("objective").Debug("model evaluated",
		log.ModelNameKey, modelName(clf),
		log.ParamsKey, p.Map(),
		log.AccuracyKey, acc,
		log.DurationSecondsKey, res.FitTime.Seconds(),
	)
	return res, nil
}

func binaryAUC(clf model.Classifier, X mat.Matrix, y *mat.Dense, positive float64) (float64, error) {
	proba, err := clf.PredictProba(X)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "predict proba")
	}
	n, _ := y.Dims()
	labels := mat.NewVecDense(n, nil)
	scores := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if y.At(i, 0) == positive {
			labels.SetVec(i, 1)
		}
		scores.SetVec(i, proba.At(i, 1))
	}
	return metrics.AUC(labels, scores)
}

func modelName(clf model.Classifier) string {
	if _, ok := clf.(*ensemble.PartitionedForest); ok {
		return "PartitionedForest"
	}
	return "RandomForestClassifier"
}

// New returns an objective that suggests params from space, trains on
// split and returns test accuracy. AUC and fit time go to user attributes.
func New(split *dataset.Split, space SearchSpace, opts Options) tune.Objective {
	return func(ctx context.Context, trial *tune.Trial) (float64, error) {
		p, err := space.Suggest(ctx, trial)
		if err != nil {
			return 0, err
		}
		res, err := TrainAndEvaluate(ctx, split, p, opts)
		if err != nil {
			return 0, err
		}
		if err := RecordAttrs(ctx, trial, res.AUC, res.FitTime); err != nil {
			return 0, err
		}
		return res.Accuracy, nil
	}
}

// RecordAttrs stores fit time and, for binary tasks, AUC on the trial.
func RecordAttrs(ctx context.Context, trial *tune.Trial, auc float64, fit time.Duration) error {
	if err := trial.SetUserAttr(ctx, AttrFitSeconds, fit.Seconds()); err != nil {
		return err
	}
	if math.IsNaN(auc) {
		return nil
	}
	return trial.SetUserAttr(ctx, AttrAUC, auc)
}
