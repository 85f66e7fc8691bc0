// Package config loads the scitune YAML configuration and applies
// SCITUNE_* environment overrides.
package config

import (
	"bytes"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/scitune/cluster"
	"github.com/YuminosukeSato/scitune/dataset"
	"github.com/YuminosukeSato/scitune/objective"
	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/objstore"
	"github.com/YuminosukeSato/scitune/tune"
)

// Backend names accepted in bench.backends.
const (
	BackendSequential  = "sequential"
	BackendPool        = "pool"
	BackendCluster     = "cluster"
	BackendPartitioned = "partitioned"
)

// Sampler names accepted in study.sampler.
const (
	SamplerRandom = "random"
	SamplerGP     = "gp"
)

var (
	knownBackends = []string{BackendSequential, BackendPool, BackendCluster, BackendPartitioned}
	knownSamplers = []string{SamplerRandom, SamplerGP}
)

type Config struct {
	LogLevel    string                `yaml:"log_level"`
	LogFormat   string                `yaml:"log_format"`
	Dataset     DatasetConfig         `yaml:"dataset"`
	Study       StudyConfig           `yaml:"study"`
	SearchSpace objective.SearchSpace `yaml:"search_space"`
	Cluster     ClusterConfig         `yaml:"cluster"`
	Partitioned PartitionedConfig     `yaml:"partitioned"`
	Tracking    TrackingConfig        `yaml:"tracking"`
	Bench       BenchConfig           `yaml:"bench"`
}

// DatasetConfig selects the data. An empty Path uses a synthetic dataset.
type DatasetConfig struct {
	dataset.Source `yaml:",inline"`

	TestFraction float64           `yaml:"test_fraction"`
	Seed         int64             `yaml:"seed"`
	Synthetic    SyntheticConfig   `yaml:"synthetic"`
	S3           objstore.S3Config `yaml:"s3"`
}

type SyntheticConfig struct {
	Samples  int `yaml:"samples"`
	Features int `yaml:"features"`
	Classes  int `yaml:"classes"`
}

type StudyConfig struct {
	Name        string        `yaml:"name"`
	Direction   string        `yaml:"direction"`
	Sampler     string        `yaml:"sampler"`
	Acquisition string        `yaml:"acquisition"`
	NTrials     int           `yaml:"n_trials"`
	NJobs       int           `yaml:"n_jobs"`
	Seed        int64         `yaml:"seed"`
	Timeout     time.Duration `yaml:"timeout"`
	// Storage is a tune/rdb DSN (sqlite://, postgres://). Empty keeps trials in memory.
	Storage string `yaml:"storage"`
	Catch   bool   `yaml:"catch"`
}

type ClusterConfig struct {
	cluster.Config `yaml:",inline"`

	Concurrency  int           `yaml:"concurrency"`
	SubmitRate   float64       `yaml:"submit_rate"`
	SubmitBurst  int           `yaml:"submit_burst"`
	TrialTimeout time.Duration `yaml:"trial_timeout"`
	// WorkerConcurrency bounds concurrent activities per worker process.
	WorkerConcurrency int `yaml:"worker_concurrency"`
}

type PartitionedConfig struct {
	Partitions int `yaml:"partitions"`
	Workers    int `yaml:"workers"`
}

type TrackingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	Experiment string `yaml:"experiment"`
	// Bucket, when set, mirrors artifacts to MinIO/S3 using S3.
	Bucket string            `yaml:"bucket"`
	Prefix string            `yaml:"prefix"`
	S3     objstore.S3Config `yaml:"s3"`
}

type BenchConfig struct {
	Backends []string `yaml:"backends"`
	// Chart is an optional image path for the timing bar chart.
	Chart string `yaml:"chart"`
	// HistoryDir, when set, receives one optimization history plot per backend.
	HistoryDir string `yaml:"history_dir"`
	Report     string `yaml:"report"`
}

// Default returns a configuration that runs every local backend on a
// synthetic binary dataset.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Dataset: DatasetConfig{
			Source:       dataset.Source{Target: "label"},
			TestFraction: 0.25,
			Seed:         42,
			Synthetic:    SyntheticConfig{Samples: 2000, Features: 20, Classes: 2},
		},
		Study: StudyConfig{
			Name:        "rf-accuracy",
			Direction:   tune.Maximize.String(),
			Sampler:     SamplerGP,
			Acquisition: "ei",
			NTrials:     20,
			NJobs:       4,
			Seed:        42,
		},
		SearchSpace: objective.DefaultSearchSpace(),
		Cluster: ClusterConfig{
			Config: cluster.Config{
				HostPort:  "localhost:7233",
				Namespace: "default",
				TaskQueue: cluster.DefaultTaskQueue,
			},
			Concurrency:  4,
			SubmitRate:   10,
			SubmitBurst:  4,
			TrialTimeout: 30 * time.Minute,
		},
		Partitioned: PartitionedConfig{Partitions: 4, Workers: 4},
		Tracking: TrackingConfig{
			Dir:        "mlruns",
			Experiment: "scitune",
			Prefix:     "mlruns",
		},
		Bench: BenchConfig{
			Backends: []string{BackendSequential, BackendPool, BackendPartitioned},
		},
	}
}

// Load reads path (optional) over Default, then applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Dataset.Path != "" {
		if _, err := c.Dataset.ResolveFormat(); err != nil {
			return err
		}
		if c.Dataset.Target == "" {
			return errors.NewValidationError("dataset.target", "required when dataset.path is set", nil)
		}
	} else {
		s := c.Dataset.Synthetic
		if s.Samples < 2 || s.Features < 1 || s.Classes < 2 {
			return errors.NewValidationError("dataset.synthetic", "needs samples >= 2, features >= 1, classes >= 2", s)
		}
	}
	if c.Dataset.TestFraction <= 0 || c.Dataset.TestFraction >= 1 {
		return errors.NewValidationError("dataset.test_fraction", "must be in (0, 1)", c.Dataset.TestFraction)
	}

	if c.Study.Name == "" {
		return errors.NewValidationError("study.name", "must not be empty", nil)
	}
	if _, err := tune.ParseDirection(c.Study.Direction); err != nil {
		return err
	}
	if !slices.Contains(knownSamplers, c.Study.Sampler) {
		return errors.NewValidationError("study.sampler", "must be random or gp", c.Study.Sampler)
	}
	if c.Study.Sampler == SamplerGP {
		if _, err := tune.ParseAcquisition(c.Study.Acquisition); err != nil {
			return err
		}
	}
	if c.Study.NTrials <= 0 && c.Study.Timeout <= 0 {
		return errors.NewValidationError("study.n_trials", "must be > 0 unless study.timeout is set", c.Study.NTrials)
	}
	if err := c.SearchSpace.Validate(); err != nil {
		return err
	}

	if len(c.Bench.Backends) == 0 {
		return errors.NewValidationError("bench.backends", "at least one backend is required", nil)
	}
	for _, b := range c.Bench.Backends {
		if !slices.Contains(knownBackends, b) {
			return errors.NewValidationError("bench.backends", "unknown backend", b)
		}
		if b == BackendCluster && c.Cluster.HostPort == "" {
			return errors.NewValidationError("cluster.host_port", "required for the cluster backend", nil)
		}
	}
	if c.Partitioned.Partitions < 1 {
		return errors.NewValidationError("partitioned.partitions", "must be >= 1", c.Partitioned.Partitions)
	}

	if c.Tracking.Enabled {
		if c.Tracking.Dir == "" || c.Tracking.Experiment == "" {
			return errors.NewValidationError("tracking", "dir and experiment are required when enabled", nil)
		}
		if c.Tracking.Bucket != "" && c.Tracking.S3.Endpoint == "" {
			return errors.NewValidationError("tracking.s3.endpoint", "required when tracking.bucket is set", nil)
		}
	}
	return nil
}

// applyEnv overrides file settings with SCITUNE_* environment variables.
func applyEnv(c *Config) error {
	c.LogLevel = getEnv("SCITUNE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("SCITUNE_LOG_FORMAT", c.LogFormat)

	c.Dataset.Path = getEnv("SCITUNE_DATASET_PATH", c.Dataset.Path)
	c.Dataset.Target = getEnv("SCITUNE_DATASET_TARGET", c.Dataset.Target)
	c.Dataset.S3.Endpoint = getEnv("SCITUNE_S3_ENDPOINT", c.Dataset.S3.Endpoint)
	c.Dataset.S3.AccessKeyID = getEnv("SCITUNE_S3_ACCESS_KEY", c.Dataset.S3.AccessKeyID)
	c.Dataset.S3.SecretAccessKey = getEnv("SCITUNE_S3_SECRET_KEY", c.Dataset.S3.SecretAccessKey)

	c.Study.Name = getEnv("SCITUNE_STUDY_NAME", c.Study.Name)
	c.Study.Storage = getEnv("SCITUNE_STORAGE", c.Study.Storage)
	c.Study.Sampler = getEnv("SCITUNE_SAMPLER", c.Study.Sampler)

	c.Cluster.HostPort = getEnv("SCITUNE_TEMPORAL_ADDRESS", c.Cluster.HostPort)
	c.Cluster.Namespace = getEnv("SCITUNE_TEMPORAL_NAMESPACE", c.Cluster.Namespace)
	c.Cluster.TaskQueue = getEnv("SCITUNE_TASK_QUEUE", c.Cluster.TaskQueue)

	c.Tracking.Dir = getEnv("SCITUNE_TRACKING_DIR", c.Tracking.Dir)
	c.Tracking.S3.Endpoint = getEnv("SCITUNE_TRACKING_S3_ENDPOINT", c.Tracking.S3.Endpoint)
	c.Tracking.S3.AccessKeyID = getEnv("SCITUNE_TRACKING_S3_ACCESS_KEY", c.Tracking.S3.AccessKeyID)
	c.Tracking.S3.SecretAccessKey = getEnv("SCITUNE_TRACKING_S3_SECRET_KEY", c.Tracking.S3.SecretAccessKey)

	var err error
	if c.Study.NTrials, err = getEnvInt("SCITUNE_N_TRIALS", c.Study.NTrials); err != nil {
		return err
	}
	if c.Study.NJobs, err = getEnvInt("SCITUNE_N_JOBS", c.Study.NJobs); err != nil {
		return err
	}
	if c.Cluster.WorkerConcurrency, err = getEnvInt("SCITUNE_WORKER_CONCURRENCY", c.Cluster.WorkerConcurrency); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.NewValidationError(key, "must be an integer", val)
	}
	return n, nil
}
