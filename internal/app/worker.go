package app

import (
	"context"

	"go.temporal.io/sdk/worker"

	"github.com/YuminosukeSato/scitune/cluster"
	"github.com/YuminosukeSato/scitune/config"
	"github.com/YuminosukeSato/scitune/objective"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

// RunWorker serves EvaluateTrial activities on cfg.Cluster.TaskQueue until
// ctx is canceled or the process is interrupted.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	logger := log.GetLoggerWithName("worker")

	split, err := LoadSplit(ctx, cfg)
	if err != nil {
		return err
	}
	c, err := cluster.Dial(cfg.Cluster.Config, log.GetLoggerWithName("temporal"))
	if err != nil {
		return err
	}
	defer c.Close()

	acts := cluster.NewActivities(split, objective.Options{Seed: cfg.Study.Seed, NJobs: cfg.Study.NJobs})
	w := cluster.NewWorker(c, cfg.Cluster.TaskQueue, acts, cfg.Cluster.WorkerConcurrency)

	n, p := split.Train.Dims()
	logger.Info("worker started",
		log.TaskQueueKey, cfg.Cluster.TaskQueue,
		"namespace", cfg.Cluster.Namespace,
		log.SamplesKey, n,
		log.FeaturesKey, p,
	)

	stop := make(chan interface{})
	go func() {
		select {
		case <-ctx.Done():
		case <-worker.InterruptCh():
		}
		close(stop)
	}()
	return w.Run(stop)
}
