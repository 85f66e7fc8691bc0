package cluster

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/YuminosukeSato/scitune/objective"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/tune"
)

// Workflow user attribute keys.
const (
	AttrWorkflowID = "workflow_id"
	AttrWorker     = "worker"
)

// WorkflowStarter is the part of client.Client the executor needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Executor runs trials as Temporal workflows. Sampling and bookkeeping stay
// local; only training is remote. It implements tune.Executor.
type Executor struct {
	starter   WorkflowStarter
	taskQueue string
	nJobs     int
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    log.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrency bounds the number of workflows in flight.
func WithConcurrency(n int) ExecutorOption { return func(e *Executor) { e.nJobs = n } }

// WithSubmitRate limits workflow submissions per second. perSecond <= 0 disables the limit.
func WithSubmitRate(perSecond float64, burst int) ExecutorOption {
	return func(e *Executor) {
		if perSecond <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithTrialTimeout bounds a single workflow execution.
func WithTrialTimeout(d time.Duration) ExecutorOption { return func(e *Executor) { e.timeout = d } }

func WithExecutorLogger(l log.Logger) ExecutorOption { return func(e *Executor) { e.logger = l } }

// NewExecutor creates an executor that submits to taskQueue.
func NewExecutor(starter WorkflowStarter, taskQueue string, opts ...ExecutorOption) *Executor {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	e := &Executor{
		starter:   starter,
		taskQueue: taskQueue,
		nJobs:     4,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		timeout:   defaultActivityTimeout,
		logger:    log.GetLoggerWithName("cluster"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.nJobs < 1 {
		e.nJobs = 1
	}
	return e
}

// Execute implements tune.Executor.
func (e *Executor) Execute(ctx context.Context, budget *tune.Budget, run tune.TrialRunner) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.nJobs)
	// トークンを得てから枠を確保する。Wait が失敗しても started は増えない。
	for !budget.Spent() {
		if err := e.limiter.Wait(gctx); err != nil {
			break
		}
		if !budget.Next(gctx) {
			break
		}
		g.Go(func() error { return run(gctx) })
	}
	return g.Wait()
}

// Objective returns a tune.Objective that suggests params from space locally
// and evaluates them in an EvaluateTrialWorkflow.
func (e *Executor) Objective(space objective.SearchSpace) tune.Objective {
	return func(ctx context.Context, trial *tune.Trial) (float64, error) {
		p, err := space.Suggest(ctx, trial)
		if err != nil {
			return 0, err
		}
		res, err := e.Evaluate(ctx, trial.Study().Name(), trial.Number(), p)
		if err != nil {
			return 0, err
		}
		auc := math.NaN()
		if res.Binary {
			auc = res.AUC
		}
		fit := time.Duration(res.FitSeconds * float64(time.Second))
		if err := objective.RecordAttrs(ctx, trial, auc, fit); err != nil {
			return 0, err
		}
		if res.Worker != "" {
			if err := trial.SetUserAttr(ctx, AttrWorker, res.Worker); err != nil {
				return 0, err
			}
		}
		return res.Accuracy, nil
	}
}

// Evaluate runs one EvaluateTrialWorkflow and waits for its result.
func (e *Executor) Evaluate(ctx context.Context, study string, number int, p objective.Params) (TrialResult, error) {
	id := fmt.Sprintf("%s-trial-%d-%s", study, number, uuid.NewString())
	logger := e.logger.With(log.StudyKey, study, log.TrialNumberKey, number, log.WorkflowIDKey, id)

	run, err := e.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                e.taskQueue,
		WorkflowExecutionTimeout: e.timeout + time.Minute,
	}, WorkflowName, TrialRequest{
		Study:   study,
		Number:  number,
		Params:  p,
		Timeout: e.timeout,
	})
	if err != nil {
		return TrialResult{}, errors.Wrapf(err, "failed to start workflow %s", id)
	}
	logger.Debug("workflow started", log.TaskQueueKey, e.taskQueue, log.RunIDKey, run.GetRunID())

	var res TrialResult
	if err := run.Get(ctx, &res); err != nil {
		return TrialResult{}, errors.Wrapf(err, "workflow %s failed", id)
	}
	logger.Debug("workflow completed", log.AccuracyKey, res.Accuracy)
	return res, nil
}
