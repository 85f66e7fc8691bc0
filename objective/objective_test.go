package objective

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/sklearn/ensemble"
	"github.com/YuminosukeSato/scitune/tune"
)

func split(t *testing.T, classes int) *dataset.Split {
	t.Helper()
	f, err := dataset.MakeClassification(120, 4, classes, 3)
	require.NoError(t, err)
	s, err := dataset.TrainTestSplit(f, 0.25, 1)
	require.NoError(t, err)
	return s
}

func TestTrainAndEvaluate_Binary(t *testing.T) {
	res, err := TrainAndEvaluate(context.Background(), split(t, 2),
		Params{NEstimators: 10, MaxDepth: 4, MaxFeatures: 2}, Options{Seed: 1, NJobs: 2})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
	assert.False(t, math.IsNaN(res.AUC))
	assert.IsType(t, &ensemble.RandomForestClassifier{}, res.Model)
	assert.Positive(t, res.FitTime)
}

func TestTrainAndEvaluate_MulticlassPartitioned(t *testing.T) {
	res, err := TrainAndEvaluate(context.Background(), split(t, 3),
		Params{NEstimators: 6, MaxDepth: 3, MaxFeatures: 0}, Options{Seed: 1, Partitions: 3, Workers: 3})
	require.NoError(t, err)

	assert.True(t, math.IsNaN(res.AUC))
	pf, ok := res.Model.(*ensemble.PartitionedForest)
	require.True(t, ok)
	assert.Equal(t, 3, pf.Partitions())
	assert.Equal(t, 6, pf.NEstimators())
}

func TestTrainAndEvaluate_Errors(t *testing.T) {
	_, err := TrainAndEvaluate(context.Background(), nil, Params{NEstimators: 1, MaxDepth: 1}, Options{})
	assert.Error(t, err)

	_, err = TrainAndEvaluate(context.Background(), split(t, 2), Params{NEstimators: 0, MaxDepth: 2}, Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = TrainAndEvaluate(ctx, split(t, 2), Params{NEstimators: 2, MaxDepth: 2}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromTrialParams(t *testing.T) {
	p, err := FromTrialParams(map[string]any{"n_estimators": 50, "max_depth": 6.0, "max_features": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, Params{NEstimators: 50, MaxDepth: 6, MaxFeatures: 2}, p)

	back, err := FromTrialParams(p.Map())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	_, err = FromTrialParams(map[string]any{"n_estimators": 50, "max_depth": 6})
	assert.Error(t, err)
	_, err = FromTrialParams(map[string]any{"n_estimators": 50, "max_depth": 6.5, "max_features": 1})
	assert.Error(t, err)
	_, err = FromTrialParams(map[string]any{"n_estimators": "50", "max_depth": 6, "max_features": 1})
	assert.Error(t, err)
}

func TestSearchSpace(t *testing.T) {
	s := DefaultSearchSpace().Resolve(4)
	assert.Equal(t, 4, s.MaxFeatures.High)
	require.NoError(t, s.Validate())
	require.NoError(t, DefaultSearchSpace().Validate(), "unresolved max_features is valid")

	dists, err := s.Distributions()
	require.NoError(t, err)
	assert.Equal(t, tune.IntDistribution{Low: 10, High: 200, Step: 10}, dists["n_estimators"])

	clamped := SearchSpace{
		NEstimators: Range{Low: 1, High: 5},
		MaxDepth:    Range{Low: 1, High: 3},
		MaxFeatures: Range{Low: 6, High: 10},
	}.Resolve(3)
	assert.Equal(t, Range{Low: 3, High: 3}, clamped.MaxFeatures)

	bad := DefaultSearchSpace().Resolve(4)
	bad.MaxDepth = Range{Low: 0, High: 4}
	assert.Error(t, bad.Validate())
	bad.MaxDepth = Range{Low: 5, High: 4}
	assert.Error(t, bad.Validate())
}

func TestNew_RunsInStudy(t *testing.T) {
	ctx := context.Background()
	sp := split(t, 2)
	space := SearchSpace{
		NEstimators: Range{Low: 2, High: 8, Step: 2},
		MaxDepth:    Range{Low: 2, High: 4},
		MaxFeatures: Range{Low: 1, High: 4},
	}
	quiet, _ := log.NewTestLogger(log.LevelError)
	study, err := tune.CreateStudy(ctx, "objective", tune.WithSampler(tune.NewRandomSampler(1)), tune.WithLogger(quiet))
	require.NoError(t, err)

	require.NoError(t, study.Optimize(ctx, New(sp, space, Options{Seed: 2, NJobs: 1}), 4))

	trials, err := study.Trials(ctx, tune.TrialComplete)
	require.NoError(t, err)
	require.Len(t, trials, 4)
	for _, tr := range trials {
		p, err := FromTrialParams(tr.ExternalParams())
		require.NoError(t, err)
		assert.Contains(t, []int{2, 4, 6, 8}, p.NEstimators)
		assert.Contains(t, tr.UserAttrs, AttrAUC)
		assert.Contains(t, tr.UserAttrs, AttrFitSeconds)
	}
}
