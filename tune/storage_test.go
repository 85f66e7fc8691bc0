package tune

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

func TestInMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage()
	defer s.Close()

	id, err := s.CreateStudy(ctx, "rf", Maximize)
	require.NoError(t, err)
	_, err = s.CreateStudy(ctx, "rf", Maximize)
	assert.Error(t, err)

	got, err := s.GetStudyID(ctx, "rf")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = s.GetStudyID(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrStudyNotFound))

	t0, err := s.CreateTrial(ctx, id)
	require.NoError(t, err)
	t1, err := s.CreateTrial(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, t0.Number)
	assert.Equal(t, 1, t1.Number)
	assert.Equal(t, TrialRunning, t0.State)

	d := IntDistribution{Low: 1, High: 10, Step: 1}
	require.NoError(t, s.SetTrialParam(ctx, t0.ID, "max_depth", 4, d))
	assert.Error(t, s.SetTrialParam(ctx, t0.ID, "max_depth", 11, d))
	require.NoError(t, s.SetTrialUserAttr(ctx, t0.ID, "auc", 0.9))
	assert.Error(t, s.SetTrialUserAttr(ctx, t0.ID, "bad", func() {}))

	require.NoError(t, s.FinishTrial(ctx, t0.ID, TrialComplete, 0.8, ""))
	err = s.FinishTrial(ctx, t0.ID, TrialFail, 0, "again")
	assert.True(t, errors.Is(err, errors.ErrTrialFinished))
	err = s.SetTrialParam(ctx, t0.ID, "n_estimators", 5, d)
	assert.True(t, errors.Is(err, errors.ErrTrialFinished))
	assert.Error(t, s.FinishTrial(ctx, t1.ID, TrialRunning, 0, ""))

	ft, err := s.GetTrial(ctx, t0.ID)
	require.NoError(t, err)
	assert.Equal(t, TrialComplete, ft.State)
	assert.Equal(t, 0.8, ft.Value)
	assert.Equal(t, map[string]any{"max_depth": 4}, ft.ExternalParams())
	assert.Equal(t, 0.9, ft.UserAttrs["auc"])
	assert.GreaterOrEqual(t, ft.Duration(), time.Duration(0))

	ft.Params["max_depth"] = 9
	again, err := s.GetTrial(ctx, t0.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, again.Params["max_depth"], "returned trials are copies")

	all, err := s.ListTrials(ctx, id)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	done, err := s.ListTrials(ctx, id, TrialComplete)
	require.NoError(t, err)
	assert.Len(t, done, 1)

	_, err = s.GetTrial(ctx, 999)
	assert.True(t, errors.Is(err, errors.ErrTrialNotFound))

	studies, err := s.ListStudies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StudySummary{{ID: id, Name: "rf", Direction: Maximize}}, studies)
}

func TestIntersectionSearchSpace(t *testing.T) {
	x := FloatDistribution{Low: 0, High: 1}
	y := IntDistribution{Low: 1, High: 5, Step: 1}
	fixed := IntDistribution{Low: 3, High: 3, Step: 1}

	trials := []FrozenTrial{
		{Distributions: map[string]Distribution{"x": x, "y": y, "z": fixed}},
		{Distributions: map[string]Distribution{"x": x, "y": IntDistribution{Low: 1, High: 6, Step: 1}, "z": fixed}},
	}
	space := IntersectionSearchSpace(trials)
	assert.Equal(t, map[string]Distribution{"x": x}, space)
	assert.Empty(t, IntersectionSearchSpace(nil))
}

func TestTrialStateAndDirection(t *testing.T) {
	for _, s := range []TrialState{TrialRunning, TrialComplete, TrialFail} {
		got, err := ParseTrialState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseTrialState("PRUNED")
	assert.Error(t, err)

	d, err := ParseDirection("MINIMIZE")
	require.NoError(t, err)
	assert.Equal(t, Minimize, d)
	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Maximize, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
