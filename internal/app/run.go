package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.temporal.io/sdk/client"

	"github.com/YuminosukeSato/scitune/bench"
	"github.com/YuminosukeSato/scitune/cluster"
	"github.com/YuminosukeSato/scitune/config"
	"github.com/YuminosukeSato/scitune/core/model"
	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/objective"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/tracking"
	"github.com/YuminosukeSato/scitune/tune"
)

const metricName = "accuracy"

// Runner times every configured backend against one dataset split.
type Runner struct {
	cfg    *config.Config
	split  *dataset.Split
	space  objective.SearchSpace
	store  tune.Storage
	logger log.Logger

	tracker      *tracking.Tracker
	experimentID string

	// dial connects to Temporal for the cluster backend.
	dial func(cluster.Config, log.Logger) (client.Client, error)
}

// NewRunner loads data, opens storage and tracking. Close releases them.
func NewRunner(ctx context.Context, cfg *config.Config) (*Runner, error) {
	split, err := LoadSplit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_, nFeatures := split.Train.Dims()

	store, err := OpenStorage(ctx, cfg.Study.Storage)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:    cfg,
		split:  split,
		space:  cfg.SearchSpace.Resolve(nFeatures),
		store:  store,
		logger: log.GetLoggerWithName("scitune"),
		dial:   cluster.Dial,
	}
	if cfg.Tracking.Enabled {
		if err := r.openTracking(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Runner) openTracking(ctx context.Context) error {
	tc := r.cfg.Tracking
	var opts []tracking.Option
	if tc.Bucket != "" {
		sink, err := tracking.NewMinIOSink(ctx, tc.S3, tc.Bucket, tc.Prefix)
		if err != nil {
			return err
		}
		opts = append(opts, tracking.WithArtifactSink(sink))
	}
	tracker, err := tracking.NewTracker(tc.Dir, opts...)
	if err != nil {
		return err
	}
	id, err := tracker.CreateExperiment(tc.Experiment)
	if err != nil {
		return err
	}
	r.tracker, r.experimentID = tracker, id
	return nil
}

func (r *Runner) Close() error { return r.store.Close() }

// Run times every backend in cfg.Bench.Backends, writes the report to out
// and saves the optional chart.
func (r *Runner) Run(ctx context.Context, out io.Writer) ([]bench.Result, error) {
	configs := make([]bench.Configuration, 0, len(r.cfg.Bench.Backends))
	for _, b := range r.cfg.Bench.Backends {
		configs = append(configs, bench.Configuration{
			Name: b,
			Run:  func(ctx context.Context) (bench.Outcome, error) { return r.runBackend(ctx, b) },
		})
	}
	results := bench.Run(ctx, r.logger, configs...)

	if err := bench.WriteReport(out, results); err != nil {
		return results, err
	}
	if r.cfg.Bench.Report != "" {
		var buf bytes.Buffer
		if err := bench.WriteReport(&buf, results); err != nil {
			return results, err
		}
		if err := os.WriteFile(r.cfg.Bench.Report, buf.Bytes(), 0o644); err != nil {
			return results, errors.Wrapf(err, "write report %s", r.cfg.Bench.Report)
		}
	}
	if r.cfg.Bench.Chart != "" {
		if err := bench.PlotTimings(results, r.cfg.Bench.Chart); err != nil {
			return results, err
		}
	}
	return results, ctx.Err()
}

func (r *Runner) runBackend(ctx context.Context, backend string) (bench.Outcome, error) {
	sampler, err := NewSampler(r.cfg.Study)
	if err != nil {
		return bench.Outcome{}, err
	}
	dir, err := tune.ParseDirection(r.cfg.Study.Direction)
	if err != nil {
		return bench.Outcome{}, err
	}
	space, err := r.space.Distributions()
	if err != nil {
		return bench.Outcome{}, err
	}
	study, err := tune.CreateStudy(ctx, r.cfg.Study.Name+"-"+backend,
		tune.WithDirection(dir),
		tune.WithSampler(sampler),
		tune.WithStorage(r.store),
		tune.WithSearchSpace(space),
		tune.WithLoadIfExists(true),
		tune.WithLogger(log.GetLoggerWithName("tune").With(log.BackendKey, backend)),
	)
	if err != nil {
		return bench.Outcome{}, err
	}

	opts := []tune.OptimizeOption{
		tune.WithCatch(r.cfg.Study.Catch),
		tune.WithTimeout(r.cfg.Study.Timeout),
	}
	if r.tracker != nil {
		opts = append(opts, tune.WithCallbacks(tracking.StudyCallback(r.tracker, r.experimentID, metricName, backend)))
	}

	// trainOpts is also used to refit the best trial, so the stored model
	// is the kind of classifier that produced the best value.
	trainOpts := objective.Options{Seed: r.cfg.Study.Seed, NJobs: 1}
	var obj tune.Objective
	switch backend {
	case config.BackendSequential:
		obj = objective.New(r.split, r.space, trainOpts)
	case config.BackendPool:
		obj = objective.New(r.split, r.space, trainOpts)
		opts = append(opts, tune.WithExecutor(tune.PoolExecutor{NJobs: r.cfg.Study.NJobs}))
	case config.BackendPartitioned:
		trainOpts.Partitions = r.cfg.Partitioned.Partitions
		trainOpts.Workers = r.cfg.Partitioned.Workers
		obj = objective.New(r.split, r.space, trainOpts)
	case config.BackendCluster:
		c, err := r.dial(r.cfg.Cluster.Config, log.GetLoggerWithName("temporal"))
		if err != nil {
			return bench.Outcome{}, err
		}
		defer c.Close()
		exec := cluster.NewExecutor(c, r.cfg.Cluster.TaskQueue,
			cluster.WithConcurrency(r.cfg.Cluster.Concurrency),
			cluster.WithSubmitRate(r.cfg.Cluster.SubmitRate, r.cfg.Cluster.SubmitBurst),
			cluster.WithTrialTimeout(r.cfg.Cluster.TrialTimeout),
		)
		obj = exec.Objective(r.space)
		opts = append(opts, tune.WithExecutor(exec))
	default:
		return bench.Outcome{}, errors.NewValidationError("backend", "unknown backend", backend)
	}

	// 再開したスタディでは今回の試行だけを数える
	prior, err := study.Trials(ctx)
	if err != nil {
		return bench.Outcome{}, err
	}
	if err := study.Optimize(ctx, obj, r.cfg.Study.NTrials, opts...); err != nil {
		return bench.Outcome{}, err
	}
	outcome, err := bench.StudyOutcome(ctx, study, len(prior))
	if err != nil {
		return outcome, err
	}

	if dir := r.cfg.Bench.HistoryDir; dir != "" && outcome.Trials > 0 {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return outcome, errors.Wrapf(err, "create history dir %s", dir)
		}
		if err := tune.PlotHistory(ctx, study, filepath.Join(dir, backend+"-history.png")); err != nil {
			return outcome, err
		}
	}
	if r.tracker != nil && outcome.Trials > 0 {
		if err := r.trackBest(ctx, study, backend, trainOpts); err != nil {
			r.logger.Warn("failed to track best model", err, log.BackendKey, backend)
		}
	}
	return outcome, nil
}

// trackBest records a summary run for study with the refitted best model
// as a gob artifact.
func (r *Runner) trackBest(ctx context.Context, study *tune.Study, backend string, opts objective.Options) error {
	run, err := r.tracker.StartRun(r.experimentID, study.Name()+"-best")
	if err != nil {
		return err
	}
	if err := r.logBest(ctx, run, study, backend, opts); err != nil {
		_ = run.End(tracking.StatusFailed)
		return err
	}
	return run.End(tracking.StatusFinished)
}

func (r *Runner) logBest(ctx context.Context, run *tracking.Run, study *tune.Study, backend string, opts objective.Options) error {
	if err := tracking.LogStudySummary(ctx, run, study, metricName); err != nil {
		return err
	}
	if err := run.SetTag(tracking.TagBackend, backend); err != nil {
		return err
	}
	best, err := study.BestTrial(ctx)
	if err != nil {
		return err
	}
	params, err := objective.FromTrialParams(best.ExternalParams())
	if err != nil {
		return err
	}
	res, err := objective.TrainAndEvaluate(ctx, r.split, params, opts)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := model.Encode(&buf, res.Model); err != nil {
		return err
	}
	return run.LogArtifact(ctx, "model.gob", buf.Bytes())
}

// PrintBest writes the best trial of a persisted study to w.
func PrintBest(ctx context.Context, store tune.Storage, studyName string, w io.Writer) error {
	study, err := tune.LoadStudy(ctx, studyName, tune.WithStorage(store))
	if err != nil {
		return err
	}
	best, err := study.BestTrial(ctx)
	if err != nil {
		return err
	}
	out, err := bench.StudyOutcome(ctx, study, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "study:      %s (%s)\n", study.Name(), study.Direction())
	fmt.Fprintf(w, "trials:     %d complete, %d failed\n", out.Trials, out.Failed)
	fmt.Fprintf(w, "best trial: %d\n", best.Number)
	fmt.Fprintf(w, "best value: %.6f\n", best.Value)
	params := best.ExternalParams()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %v\n", name, params[name])
	}
	return nil
}
