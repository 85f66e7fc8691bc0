package tune

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitGP_InterpolatesObservations(t *testing.T) {
	x := [][]float64{{0.1}, {0.4}, {0.8}}
	y := []float64{1.0, -0.5, 0.3}

	gp, ok := fitGP(x, y, 0.25, 1e-8)
	require.True(t, ok)

	for i := range x {
		m, v := gp.predict(x[i])
		assert.InDelta(t, y[i], m, 1e-3)
		assert.Less(t, v, 1e-3)
	}

	_, far := gp.predict([]float64{5})
	assert.InDelta(t, 1.0, far, 1e-6, "variance reverts to the prior far from data")
}

func TestFitGP_DuplicatePoints(t *testing.T) {
	x := [][]float64{{0.5, 0.5}, {0.5, 0.5}, {0.2, 0.9}}
	y := []float64{1, 1.2, 0}
	gp, ok := fitGP(x, y, 0.25, 1e-6)
	require.True(t, ok)
	m, _ := gp.predict([]float64{0.5, 0.5})
	assert.InDelta(t, 1.1, m, 0.05)
}

func TestAcquisitionFunctions(t *testing.T) {
	p := AcquisitionParams{Beta: 2, Xi: 0, BestSoFar: 0, RandomState: rand.New(rand.NewSource(1))}

	assert.InDelta(t, 1+2*math.Sqrt(0.25), UCB(1, 0.25, p), 1e-12)
	assert.Greater(t, ProbabilityOfImprovement(1, 0.25, p), ProbabilityOfImprovement(-1, 0.25, p))
	assert.InDelta(t, 0.5, ProbabilityOfImprovement(0, 1, p), 1e-12)
	assert.Greater(t, ExpectedImprovement(1, 0.25, p), ExpectedImprovement(0, 0.25, p))
	assert.InDelta(t, 1/math.Sqrt(2*math.Pi), ExpectedImprovement(0, 1, p), 1e-12)
	assert.False(t, math.IsNaN(ThompsonSampling(0, 1, p)))
}

func TestParseAcquisition(t *testing.T) {
	p := AcquisitionParams{Beta: 1}
	for _, name := range []string{"ucb", "UCB", "pi", "ei", "", "thompson"} {
		f, err := ParseAcquisition(name)
		require.NoError(t, err, name)
		require.NotNil(t, f, name)
	}
	ucb, _ := ParseAcquisition("ucb")
	assert.Equal(t, UCB(0.5, 1, p), ucb(0.5, 1, p))

	_, err := ParseAcquisition("tpe")
	assert.Error(t, err)
}

func TestGPSampler_StartupAndRelative(t *testing.T) {
	space := map[string]Distribution{
		"n_estimators": IntDistribution{Low: 10, High: 200, Step: 10},
		"max_depth":    IntDistribution{Low: 2, High: 16, Step: 1},
		"criterion":    CategoricalDistribution{Choices: []any{"gini", "entropy"}},
	}
	s := NewGPSampler(7, WithStartupTrials(3), WithCandidates(64))

	rel, err := s.SampleRelative(nil, space, Maximize)
	require.NoError(t, err)
	assert.Nil(t, rel, "no relative sampling during startup")

	rng := rand.New(rand.NewSource(2))
	var history []FrozenTrial
	for i := 0; i < 6; i++ {
		params := map[string]float64{}
		for name, d := range space {
			params[name] = d.sample(rng)
		}
		history = append(history, FrozenTrial{
			Number:        i,
			State:         TrialComplete,
			Value:         params["max_depth"] / 16,
			Params:        params,
			Distributions: space,
		})
	}

	for _, dir := range []Direction{Maximize, Minimize} {
		rel, err = s.SampleRelative(history, space, dir)
		require.NoError(t, err)
		require.Len(t, rel, 3)
		for name, v := range rel {
			assert.True(t, space[name].Contains(v), "%s=%v", name, v)
		}
	}
}

func TestGPSampler_FindsOptimum(t *testing.T) {
	ctx := context.Background()
	space := map[string]Distribution{"x": FloatDistribution{Low: -10, High: 10}}
	s := newTestStudy(t,
		WithSampler(NewGPSampler(11, WithStartupTrials(5))),
		WithSearchSpace(space),
	)
	require.NoError(t, s.Optimize(ctx, parabola, 30))

	best, err := s.BestValue(ctx)
	require.NoError(t, err)
	assert.Greater(t, best, -1.0)
}

func TestGPSampler_UCBMinimize(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t,
		WithDirection(Minimize),
		WithSampler(NewGPSampler(5, WithAcquisition(UCB), WithStartupTrials(4), WithLengthScale(0.3))),
	)
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		x, err := tr.SuggestFloat(ctx, "x", -5, 5)
		if err != nil {
			return 0, err
		}
		n, err := tr.SuggestInt(ctx, "n", 1, 8)
		return x*x + float64(n), err
	}
	require.NoError(t, s.Optimize(ctx, obj, 15))

	trials, err := s.Trials(ctx, TrialComplete)
	require.NoError(t, err)
	assert.Len(t, trials, 15)
}
