package tune

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}

func newTestStudy(t *testing.T, opts ...StudyOption) *Study {
	t.Helper()
	opts = append([]StudyOption{WithLogger(quietLogger()), WithSampler(NewRandomSampler(1))}, opts...)
	s, err := CreateStudy(context.Background(), t.Name(), opts...)
	require.NoError(t, err)
	return s
}

// parabola peaks at x=2 with value 0.
func parabola(ctx context.Context, tr *Trial) (float64, error) {
	x, err := tr.SuggestFloat(ctx, "x", -10, 10)
	if err != nil {
		return 0, err
	}
	return -(x - 2) * (x - 2), nil
}

func TestStudy_OptimizeSequential(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	var calls []int
	cb := func(_ *Study, ft FrozenTrial) { calls = append(calls, ft.Number) }
	require.NoError(t, s.Optimize(ctx, parabola, 20, WithCallbacks(cb)))

	trials, err := s.Trials(ctx)
	require.NoError(t, err)
	assert.Len(t, trials, 20)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, calls)

	best, err := s.BestTrial(ctx)
	require.NoError(t, err)
	for _, tr := range trials {
		assert.Equal(t, TrialComplete, tr.State)
		assert.LessOrEqual(t, tr.Value, best.Value)
	}

	params, err := s.BestParams(ctx)
	require.NoError(t, err)
	x := params["x"].(float64)
	assert.InDelta(t, -(x-2)*(x-2), best.Value, 1e-12)
}

func TestStudy_Minimize(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t, WithDirection(Minimize))
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		v, err := tr.SuggestInt(ctx, "n", 1, 50)
		return float64(v), err
	}
	require.NoError(t, s.Optimize(ctx, obj, 15))

	trials, err := s.Trials(ctx)
	require.NoError(t, err)
	minV := math.Inf(1)
	for _, tr := range trials {
		minV = math.Min(minV, tr.Value)
	}
	best, err := s.BestValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, minV, best)
}

func TestStudy_FailureStopsWithoutCatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)
	boom := errors.New("out of memory")

	var n int
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		n++
		if tr.Number() == 2 {
			return 0, boom
		}
		return parabola(ctx, tr)
	}
	err := s.Optimize(ctx, obj, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	var te *errors.TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Number)
	assert.Equal(t, 3, n)

	failed, err := s.Trials(ctx, TrialFail)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Err, "out of memory")
	assert.True(t, math.IsNaN(failed[0].Value))
}

func TestStudy_FailedTrialReachesCallbacks(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	var seen []FrozenTrial
	obj := func(context.Context, *Trial) (float64, error) { return 0, errors.New("objective failed") }
	err := s.Optimize(ctx, obj, 5, WithCallbacks(func(_ *Study, ft FrozenTrial) { seen = append(seen, ft) }))
	require.Error(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, 0, seen[0].Number)
	assert.Equal(t, TrialFail, seen[0].State)
}

// failingSampler draws like RandomSampler but cannot do relative sampling.
type failingSampler struct{ *RandomSampler }

func (failingSampler) SampleRelative([]FrozenTrial, map[string]Distribution, Direction) (map[string]float64, error) {
	return nil, errors.New("boom")
}

func TestStudy_AskFailureFinishesTrial(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t, WithSampler(failingSampler{NewRandomSampler(1)}))

	_, err := s.Ask(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	trials, err := s.Trials(ctx)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, TrialFail, trials[0].State)
	assert.Contains(t, trials[0].Err, "relative sampling")
	assert.True(t, math.IsNaN(trials[0].Value))
}

func TestStudy_CatchContinues(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	var callbacks int
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		switch tr.Number() % 3 {
		case 1:
			panic("cuda error")
		case 2:
			return math.NaN(), nil
		}
		return parabola(ctx, tr)
	}
	err := s.Optimize(ctx, obj, 9, WithCatch(true), WithCallbacks(func(*Study, FrozenTrial) { callbacks++ }))
	require.NoError(t, err)
	assert.Equal(t, 9, callbacks)

	failed, err := s.Trials(ctx, TrialFail)
	require.NoError(t, err)
	assert.Len(t, failed, 6)
	complete, err := s.Trials(ctx, TrialComplete)
	require.NoError(t, err)
	assert.Len(t, complete, 3)

	for _, ft := range failed {
		if ft.Number%3 == 1 {
			assert.Contains(t, ft.Err, "panic")
		}
	}
}

func TestStudy_PoolExecutor(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	var running, peak int32
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		cur := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return parabola(ctx, tr)
	}

	var cbCount int
	require.NoError(t, s.Optimize(ctx, obj, 24,
		WithExecutor(PoolExecutor{NJobs: 4}),
		WithCallbacks(func(*Study, FrozenTrial) { cbCount++ }),
	))

	trials, err := s.Trials(ctx, TrialComplete)
	require.NoError(t, err)
	assert.Len(t, trials, 24)
	assert.Equal(t, 24, cbCount)
	assert.LessOrEqual(t, peak, int32(4))

	seen := map[int]bool{}
	for _, tr := range trials {
		assert.False(t, seen[tr.Number], "duplicate number %d", tr.Number)
		seen[tr.Number] = true
	}
}

func TestStudy_PoolExecutorFailure(t *testing.T) {
	s := newTestStudy(t)
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		return 0, errors.New("bad params")
	}
	err := s.Optimize(context.Background(), obj, 10, WithExecutor(PoolExecutor{NJobs: 2}))
	var te *errors.TrialError
	assert.True(t, errors.As(err, &te))
}

func TestStudy_Timeout(t *testing.T) {
	s := newTestStudy(t)
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		time.Sleep(10 * time.Millisecond)
		return parabola(ctx, tr)
	}
	start := time.Now()
	require.NoError(t, s.Optimize(context.Background(), obj, 0, WithTimeout(50*time.Millisecond)))
	assert.Less(t, time.Since(start), 2*time.Second)

	trials, err := s.Trials(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, trials)

	assert.Error(t, s.Optimize(context.Background(), obj, 0))
}

func TestStudy_ContextCanceled(t *testing.T) {
	s := newTestStudy(t)
	ctx, cancel := context.WithCancel(context.Background())
	obj := func(ctx context.Context, tr *Trial) (float64, error) {
		if tr.Number() == 1 {
			cancel()
		}
		return parabola(ctx, tr)
	}
	err := s.Optimize(ctx, obj, 10)
	assert.ErrorIs(t, err, context.Canceled)

	trials, err := s.Trials(context.Background())
	require.NoError(t, err)
	assert.Len(t, trials, 2)
}

func TestStudy_AskTell(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	tr, err := s.Ask(ctx)
	require.NoError(t, err)

	depth, err := tr.SuggestInt(ctx, "max_depth", 2, 16)
	require.NoError(t, err)
	again, err := tr.SuggestInt(ctx, "max_depth", 2, 16)
	require.NoError(t, err)
	assert.Equal(t, depth, again, "same name returns the first suggestion")

	_, err = tr.SuggestInt(ctx, "max_depth", 2, 32)
	assert.Error(t, err)

	crit, err := tr.SuggestCategorical(ctx, "criterion", "gini", "entropy")
	require.NoError(t, err)
	assert.Contains(t, []any{"gini", "entropy"}, crit)

	lr, err := tr.SuggestLogFloat(ctx, "lr", 1e-3, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lr, 1e-3)

	require.NoError(t, tr.SetUserAttr(ctx, "auc", 0.75))
	assert.Len(t, tr.Params(), 3)

	ft, err := s.Tell(ctx, tr, 0.9, nil)
	require.NoError(t, err)
	assert.Equal(t, TrialComplete, ft.State)
	assert.Equal(t, 0.75, ft.UserAttrs["auc"])

	_, err = s.Tell(ctx, tr, 0.9, nil)
	assert.True(t, errors.Is(err, errors.ErrTrialFinished))
}

func TestStudy_LoadIfExists(t *testing.T) {
	ctx := context.Background()
	storage := NewInMemoryStorage()

	_, err := LoadStudy(ctx, "rf", WithStorage(storage))
	assert.True(t, errors.Is(err, errors.ErrStudyNotFound))

	s1, err := CreateStudy(ctx, "rf", WithStorage(storage), WithDirection(Minimize), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s1.Optimize(ctx, parabola, 3))

	_, err = CreateStudy(ctx, "rf", WithStorage(storage), WithLogger(quietLogger()))
	assert.Error(t, err)

	s2, err := CreateStudy(ctx, "rf", WithStorage(storage), WithLoadIfExists(true), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, Minimize, s2.Direction(), "stored direction wins")
	require.NoError(t, s2.Optimize(ctx, parabola, 2))

	trials, err := s2.Trials(ctx)
	require.NoError(t, err)
	assert.Len(t, trials, 5)
	assert.Equal(t, 4, trials[4].Number)
}

func TestStudy_BestTrialEmpty(t *testing.T) {
	s := newTestStudy(t)
	_, err := s.BestTrial(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNoCompletedTrials))
	_, err = CreateStudy(context.Background(), "")
	assert.Error(t, err)
}

func TestStudy_LogsTrials(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	s, err := CreateStudy(context.Background(), "logged", WithLogger(logger), WithSampler(NewRandomSampler(3)))
	require.NoError(t, err)
	require.NoError(t, s.Optimize(context.Background(), parabola, 2))

	assert.True(t, logger.ContainsMessage("trial finished"))
	assert.True(t, logger.ContainsField(log.StudyKey, "logged"))
	assert.True(t, logger.ContainsField(log.TrialNumberKey, 1.0))
}

func TestBudget(t *testing.T) {
	ctx := context.Background()
	b := NewBudget(2, 0)
	assert.True(t, b.Next(ctx))
	assert.False(t, b.Spent())
	assert.True(t, b.Next(ctx))
	assert.True(t, b.Spent())
	assert.False(t, b.Next(ctx))
	assert.Equal(t, 2, b.Started())

	expired := NewBudget(0, time.Nanosecond)
	time.Sleep(time.Millisecond)
	assert.True(t, expired.Spent())
	assert.False(t, expired.Next(ctx))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, NewBudget(5, 0).Next(canceled))
}

func TestPlotHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStudy(t)

	path := filepath.Join(t.TempDir(), "history.png")
	assert.Error(t, PlotHistory(ctx, s, path))

	require.NoError(t, s.Optimize(ctx, parabola, 8))
	require.NoError(t, PlotHistory(ctx, s, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
