package cluster

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

// Config locates the Temporal cluster.
type Config struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// Dial connects to Temporal. logger receives SDK logs.
func Dial(cfg Config, logger log.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to Temporal at %s", cfg.HostPort)
	}
	return c, nil
}

// Registry is the registration subset shared by worker.Worker and the SDK test environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the trial workflow and activity to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(EvaluateTrialWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.EvaluateTrial, activity.RegisterOptions{Name: ActivityName})
}

// NewWorker creates a worker on queue with the trial workflow and activity registered.
// Concurrency bounds how many trials this worker trains at once (<= 0: SDK default).
func NewWorker(c client.Client, queue string, acts *Activities, concurrency int) worker.Worker {
	opts := worker.Options{}
	if concurrency > 0 {
		opts.MaxConcurrentActivityExecutionSize = concurrency
	}
	w := worker.New(c, queue, opts)
	Register(w, acts)
	return w
}
