package tune

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

// Objective evaluates one trial and returns its value.
type Objective func(ctx context.Context, trial *Trial) (float64, error)

// Callback is invoked after every finished trial. Calls are serialized.
type Callback func(study *Study, trial FrozenTrial)

// TrialRunner runs one complete trial (ask, evaluate, tell, callbacks).
// A non-nil error must stop the optimization.
type TrialRunner func(ctx context.Context) error

// Executor decides where and how many trials run at once.
type Executor interface {
	Execute(ctx context.Context, budget *Budget, run TrialRunner) error
}

// Budget hands out trial slots until the trial count or the deadline is
// exhausted. It is safe for concurrent use.
type Budget struct {
	mu       sync.Mutex
	limit    int
	started  int
	deadline time.Time
}

// NewBudget allows nTrials trials (unbounded when <= 0) started before timeout
// elapses (no deadline when <= 0).
func NewBudget(nTrials int, timeout time.Duration) *Budget {
	b := &Budget{limit: nTrials}
	if timeout > 0 {
		b.deadline = time.Now().Add(timeout)
	}
	return b
}

// Next reserves a slot. It returns false once the budget is spent or ctx is done.
func (b *Budget) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.started >= b.limit {
		return false
	}
	if !b.deadline.IsZero() && !time.Now().Before(b.deadline) {
		return false
	}
	b.started++
	return true
}

// Spent reports whether Next would refuse for budget reasons, without
// reserving a slot.
func (b *Budget) Spent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.started >= b.limit {
		return true
	}
	return !b.deadline.IsZero() && !time.Now().Before(b.deadline)
}

// Started returns the number of slots handed out.
func (b *Budget) Started() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// SequentialExecutor runs trials one after another in the calling goroutine.
type SequentialExecutor struct{}

func (SequentialExecutor) Execute(ctx context.Context, budget *Budget, run TrialRunner) error {
	for budget.Next(ctx) {
		if err := run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PoolExecutor runs up to NJobs trials concurrently. NJobs <= 0 means
// runtime.NumCPU(). The first fatal error cancels the trials still running.
type PoolExecutor struct {
	NJobs int
}

func (p PoolExecutor) Execute(ctx context.Context, budget *Budget, run TrialRunner) error {
	n := p.NJobs
	if n <= 0 {
		n = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for budget.Next(gctx) {
		g.Go(func() error { return run(gctx) })
	}
	return g.Wait()
}

// OptimizeOption configures Optimize.
type OptimizeOption func(*optimizeConfig)

type optimizeConfig struct {
	executor  Executor
	callbacks []Callback
	catch     bool
	timeout   time.Duration
}

// WithExecutor selects the backend. The default is SequentialExecutor.
func WithExecutor(e Executor) OptimizeOption { return func(c *optimizeConfig) { c.executor = e } }

func WithCallbacks(cbs ...Callback) OptimizeOption {
	return func(c *optimizeConfig) { c.callbacks = append(c.callbacks, cbs...) }
}

// WithCatch keeps optimizing when an objective fails or panics. The trial is
// still recorded as FAIL.
func WithCatch(v bool) OptimizeOption { return func(c *optimizeConfig) { c.catch = v } }

// WithTimeout stops starting new trials after d. Running trials finish.
func WithTimeout(d time.Duration) OptimizeOption { return func(c *optimizeConfig) { c.timeout = d } }

// Optimize evaluates objective for nTrials trials (or until the timeout when
// nTrials <= 0). Without WithCatch the first failing trial stops the study
// and is returned as a TrialError.
func (s *Study) Optimize(ctx context.Context, objective Objective, nTrials int, opts ...OptimizeOption) error {
	cfg := &optimizeConfig{executor: SequentialExecutor{}}
	for _, opt := range opts {
		opt(cfg)
	}
	if nTrials <= 0 && cfg.timeout <= 0 {
		return errors.NewValidationError("n_trials", "must be > 0 when no timeout is set", nTrials)
	}

	budget := NewBudget(nTrials, cfg.timeout)
	start := time.Now()
	s.logger.Info("optimization started",
		log.OperationKey, log.OperationOptimize,
		"n_trials", nTrials,
		"catch", cfg.catch,
	)

	run := func(ctx context.Context) error {
		ft, err := s.runTrial(ctx, objective)
		if err != nil {
			var te *errors.TrialError
			if !errors.As(err, &te) {
				return err
			}
			// FAIL トライアルも終了済みなのでコールバックに渡す
			s.invokeCallbacks(cfg.callbacks, ft)
			if !cfg.catch {
				return err
			}
			return nil
		}
		s.invokeCallbacks(cfg.callbacks, ft)
		return nil
	}

	err := cfg.executor.Execute(ctx, budget, run)
	s.logger.Info("optimization finished",
		log.OperationKey, log.OperationOptimize,
		"started_trials", budget.Started(),
		log.DurationSecondsKey, time.Since(start).Seconds(),
	)
	if err != nil {
		return err
	}
	return ctx.Err()
}

// runTrial returns a *TrialError for a failed trial and the bare error for
// storage problems.
func (s *Study) runTrial(ctx context.Context, objective Objective) (FrozenTrial, error) {
	trial, err := s.Ask(ctx)
	if err != nil {
		return FrozenTrial{}, err
	}

	var value float64
	objErr := errors.SafeExecute("objective", func() error {
		var err error
		value, err = objective(ctx, trial)
		return err
	})

	// キャンセル後も結果を記録するためにキャンセルを外す
	ft, err := s.Tell(context.WithoutCancel(ctx), trial, value, objErr)
	if err != nil {
		return FrozenTrial{}, err
	}
	if ft.State == TrialFail {
		cause := objErr
		if cause == nil {
			cause = errors.New(ft.Err)
		}
		return ft, errors.NewTrialError(s.name, ft.Number, cause)
	}
	return ft, nil
}

func (s *Study) invokeCallbacks(cbs []Callback, ft FrozenTrial) {
	if len(cbs) == 0 {
		return
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	for _, cb := range cbs {
		cb(s, ft)
	}
}
