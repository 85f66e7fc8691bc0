// Package tracking records experiments in an MLflow-compatible file store
// (mlruns/<experiment>/<run>/{params,metrics,tags,artifacts}) so that runs
// can be browsed with the MLflow UI.
package tracking

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

const (
	metaFile        = "meta.yaml"
	lifecycleActive = "active"
)

// Experiment mirrors an MLflow experiment meta.yaml.
type Experiment struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ID               string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

// Tracker owns a file store root. It is safe for concurrent use.
type Tracker struct {
	root   string
	sink   ArtifactSink
	logger log.Logger

	mu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithArtifactSink mirrors every logged artifact to sink.
func WithArtifactSink(sink ArtifactSink) Option { return func(t *Tracker) { t.sink = sink } }

func WithLogger(l log.Logger) Option { return func(t *Tracker) { t.logger = l } }

// NewTracker opens (creating if needed) a file store at root.
func NewTracker(root string, opts ...Option) (*Tracker, error) {
	if root == "" {
		return nil, errors.NewValidationError("tracking.dir", "must not be empty", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve tracking dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create tracking dir %s", abs)
	}
	t := &Tracker{root: abs, logger: log.GetLoggerWithName("tracking")}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Root returns the absolute store directory.
func (t *Tracker) Root() string { return t.root }

// CreateExperiment returns the id of the experiment called name, creating it
// when it does not exist. Ids are decimal strings, as in MLflow.
func (t *Tracker) CreateExperiment(name string) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("experiment", "name must not be empty", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	exps, err := t.listExperiments()
	if err != nil {
		return "", err
	}
	next := 0
	for _, e := range exps {
		if e.Name == name {
			return e.ID, nil
		}
		if n, err := strconv.Atoi(e.ID); err == nil && n >= next {
			next = n + 1
		}
	}

	id := strconv.Itoa(next)
	dir := filepath.Join(t.root, id)
	now := time.Now().UnixMilli()
	exp := Experiment{
		ArtifactLocation: "file://" + dir,
		CreationTime:     now,
		ID:               id,
		LastUpdateTime:   now,
		LifecycleStage:   lifecycleActive,
		Name:             name,
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create experiment dir %s", dir)
	}
	if err := writeYAML(filepath.Join(dir, metaFile), exp); err != nil {
		return "", err
	}
	t.logger.Info("experiment created", "experiment", name, "experiment_id", id)
	return id, nil
}

// ListExperiments returns all experiments ordered by id.
func (t *Tracker) ListExperiments() ([]Experiment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listExperiments()
}

func (t *Tracker) listExperiments() ([]Experiment, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, errors.Wrap(err, "list experiments")
	}
	var out []Experiment
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var exp Experiment
		err := readYAML(filepath.Join(t.root, e.Name(), metaFile), &exp)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}
