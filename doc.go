// Package scitune tunes random forest classifiers on tabular data and
// compares how fast the search runs under different execution backends.
//
// The library is organized into several packages:
//
//   - tune: studies, trials, samplers (random, Gaussian process) and executors
//   - tune/rdb: SQLite / Postgres trial storage with embedded migrations
//   - objective: train/evaluate a forest for one hyperparameter set
//   - cluster: Temporal workflow, activity and executor for remote trials
//   - tracking: MLflow-compatible run store with object-store artifacts
//   - bench: times backends and renders the comparison
//   - dataset: CSV / Parquet loading, local or from S3, and splitting
//   - sklearn/ensemble, sklearn/tree: the classifiers being tuned
//   - metrics: accuracy and ROC AUC
//   - pkg/log, pkg/errors: structured logging and error types
//
// # Quick Start
//
//	split, _ := dataset.TrainTestSplit(frame, 0.25, 42)
//	space := objective.DefaultSearchSpace().Resolve(nFeatures)
//
//	study, err := tune.CreateStudy(ctx, "rf",
//	    tune.WithSampler(tune.NewGPSampler(42)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = study.Optimize(ctx, objective.New(split, space, objective.Options{}), 50,
//	    tune.WithExecutor(tune.PoolExecutor{NJobs: 4}),
//	)
//
//	best, _ := study.BestTrial(ctx)
//	fmt.Println(best.Value, best.ExternalParams())
//
// # Backends
//
// The scitune command runs the same study under each configured backend:
//
//   - sequential: one trial at a time
//   - pool: trials in parallel goroutines (tune.PoolExecutor)
//   - partitioned: one trial at a time, each forest trained over data shards
//   - cluster: one Temporal workflow per trial, evaluated by scitune-worker
//
// Results are printed as a table with the speedup over the first backend.
package scitune
