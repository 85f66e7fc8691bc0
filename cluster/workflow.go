// Package cluster distributes trial evaluation over Temporal workers. The
// study stays in the submitting process; each trial becomes one workflow
// whose activity trains the model on a worker that holds the dataset.
package cluster

import (
	"context"
	"math"
	"os"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/objective"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

const (
	WorkflowName     = "EvaluateTrialWorkflow"
	ActivityName     = "EvaluateTrial"
	DefaultTaskQueue = "scitune-trials"

	// ErrTypeTrialFailed marks objective failures, which are never retried.
	ErrTypeTrialFailed = "TrialFailed"

	defaultActivityTimeout = 30 * time.Minute
)

// TrialRequest is the workflow input.
type TrialRequest struct {
	Study   string           `json:"study"`
	Number  int              `json:"number"`
	Params  objective.Params `json:"params"`
	Timeout time.Duration    `json:"timeout,omitempty"`
}

// TrialResult is the workflow output. AUC is only meaningful when Binary is set.
type TrialResult struct {
	Accuracy   float64 `json:"accuracy"`
	AUC        float64 `json:"auc"`
	Binary     bool    `json:"binary"`
	FitSeconds float64 `json:"fit_seconds"`
	Worker     string  `json:"worker"`
}

// EvaluateTrialWorkflow runs the EvaluateTrial activity once.
func EvaluateTrialWorkflow(ctx workflow.Context, req TrialRequest) (TrialResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        1,
			NonRetryableErrorTypes: []string{ErrTypeTrialFailed},
		},
	})

	var res TrialResult
	err := workflow.ExecuteActivity(ctx, ActivityName, req).Get(ctx, &res)
	return res, err
}

// Activities holds worker-side state: the dataset split and model options.
type Activities struct {
	Split   *dataset.Split
	Options objective.Options
	logger  log.Logger
	host    string
}

// NewActivities creates the activity set for a worker.
func NewActivities(split *dataset.Split, opts objective.Options) *Activities {
	host, _ := os.Hostname()
	return &Activities{
		Split:   split,
		Options: opts,
		logger:  log.GetLoggerWithName("cluster.worker"),
		host:    host,
	}
}

// EvaluateTrial trains and scores the model for req.Params.
func (a *Activities) EvaluateTrial(ctx context.Context, req TrialRequest) (TrialResult, error) {
	info := activity.GetInfo(ctx)
	logger := a.logger.With(
		log.StudyKey, req.Study,
		log.TrialNumberKey, req.Number,
		log.WorkflowIDKey, info.WorkflowExecution.ID,
	)

	var res objective.Result
	err := errors.SafeExecute("EvaluateTrial", func() error {
		var err error
		res, err = objective.TrainAndEvaluate(ctx, a.Split, req.Params, a.Options)
		return err
	})
	if err != nil {
		logger.Warn("trial evaluation failed", err)
		return TrialResult{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTrialFailed, err)
	}

	out := TrialResult{
		Accuracy:   res.Accuracy,
		FitSeconds: res.FitTime.Seconds(),
		Worker:     a.host,
	}
	if !math.IsNaN(res.AUC) {
		out.AUC = res.AUC
		out.Binary = true
	}
	logger.Info("trial evaluated", log.AccuracyKey, out.Accuracy, log.DurationSecondsKey, out.FitSeconds)
	return out, nil
}
