// Standard attribute keys for model fitting, tuning and benchmarking logs.
//
// Keys follow a hierarchical naming convention ("model.name", "tune.trial")
// so that log pipelines can filter by prefix.

package log

import scierrors "github.com/YuminosukeSato/scitune/pkg/errors"

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model.
	// Examples: "RandomForestClassifier", "DecisionTreeClassifier"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "score", "optimize"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	// Set automatically by GetLoggerWithName.
	ComponentKey = "component"
)

// Data Shape
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ClassesKey indicates the number of distinct target classes.
	ClassesKey = "data.classes"

	// SourceKey records where a dataset was loaded from.
	SourceKey = "data.source"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// DurationSecondsKey records the execution time in seconds.
	DurationSecondsKey = "perf.duration_seconds"

	// AccuracyKey records classification accuracy in [0, 1].
	AccuracyKey = "metrics.accuracy"

	// SpeedupKey records the speedup of a backend relative to the baseline.
	SpeedupKey = "perf.speedup"
)

// Tuning
const (
	StudyKey       = "tune.study"
	TrialNumberKey = "tune.trial"
	TrialStateKey  = "tune.state"
	TrialValueKey  = "tune.value"
	ParamsKey      = "tune.params"
	SamplerKey     = "tune.sampler"
	DirectionKey   = "tune.direction"
	BackendKey     = "tune.backend"
)

// Infrastructure
const (
	// WorkerIDKey identifies a worker goroutine or process.
	WorkerIDKey = "infra.worker_id"

	// WorkflowIDKey records a Temporal workflow id.
	WorkflowIDKey = "infra.workflow_id"

	// TaskQueueKey records a Temporal task queue name.
	TaskQueueKey = "infra.task_queue"

	// RunIDKey records a tracking run id.
	RunIDKey = "tracking.run_id"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"
)

// Standard attribute value constants.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationScore    = "score"
	OperationOptimize = "optimize"
	OperationLoad     = "load"

	ErrorNotFitted         = scierrors.CodeNotFitted
	ErrorDimensionMismatch = scierrors.CodeDimensionMismatch
	ErrorEmptyData         = scierrors.CodeEmptyData
	ErrorTrialFailed       = scierrors.CodeTrialFailed
)
