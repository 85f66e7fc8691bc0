package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

// RunStatus uses MLflow's numeric run states.
type RunStatus int

const (
	StatusRunning  RunStatus = 1
	StatusFinished RunStatus = 3
	StatusFailed   RunStatus = 4
	StatusKilled   RunStatus = 5
)

func (s RunStatus) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	case StatusFailed:
		return "FAILED"
	case StatusKilled:
		return "KILLED"
	}
	return "UNKNOWN"
}

// RunInfo mirrors an MLflow run meta.yaml.
type RunInfo struct {
	ArtifactURI    string    `yaml:"artifact_uri"`
	EndTime        *int64    `yaml:"end_time"`
	EntryPointName string    `yaml:"entry_point_name"`
	ExperimentID   string    `yaml:"experiment_id"`
	LifecycleStage string    `yaml:"lifecycle_stage"`
	RunID          string    `yaml:"run_id"`
	RunName        string    `yaml:"run_name"`
	RunUUID        string    `yaml:"run_uuid"`
	SourceName     string    `yaml:"source_name"`
	SourceType     int       `yaml:"source_type"`
	SourceVersion  string    `yaml:"source_version"`
	StartTime      int64     `yaml:"start_time"`
	Status         RunStatus `yaml:"status"`
	Tags           []string  `yaml:"tags"`
	UserID         string    `yaml:"user_id"`
}

// Run is an open tracking run. Methods are safe for concurrent use.
type Run struct {
	tracker *Tracker
	dir     string
	logger  log.Logger

	mu   sync.Mutex
	info RunInfo
}

// MLflow source type LOCAL.
const sourceTypeLocal = 4

// StartRun creates a RUNNING run in experimentID.
func (t *Tracker) StartRun(experimentID, name string) (*Run, error) {
	expDir := filepath.Join(t.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, errors.Wrapf(err, "experiment %s", experimentID)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(expDir, id)
	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create run dir %s", dir)
		}
	}

	user := os.Getenv("USER")
	r := &Run{
		tracker: t,
		dir:     dir,
		logger:  t.logger.With(log.RunIDKey, id),
		info: RunInfo{
			ArtifactURI:    "file://" + filepath.Join(dir, "artifacts"),
			ExperimentID:   experimentID,
			LifecycleStage: lifecycleActive,
			RunID:          id,
			RunName:        name,
			RunUUID:        id,
			SourceName:     filepath.Base(os.Args[0]),
			SourceType:     sourceTypeLocal,
			StartTime:      time.Now().UnixMilli(),
			Status:         StatusRunning,
			Tags:           []string{},
			UserID:         user,
		},
	}
	if err := r.writeMeta(); err != nil {
		return nil, err
	}
	if name != "" {
		if err := r.SetTag("mlflow.runName", name); err != nil {
			return nil, err
		}
	}
	if user != "" {
		if err := r.SetTag("mlflow.user", user); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.info.RunID }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// Info returns a copy of the run metadata.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// LogParam records a parameter. MLflow params are immutable: logging a
// different value for an existing key is an error.
func (r *Run) LogParam(key string, value any) error {
	if err := validKey(key); err != nil {
		return err
	}
	v := fmt.Sprint(value)
	path := filepath.Join(r.dir, "params", key)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, err := os.ReadFile(path); err == nil {
		if string(old) != v {
			return errors.NewValidationError(key, "param already logged with a different value", string(old))
		}
		return nil
	}
	return writeFile(path, []byte(v), false)
}

// LogParams records every entry of params.
func (r *Run) LogParams(params map[string]any) error {
	for k, v := range params {
		if err := r.LogParam(k, v); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric appends "<timestamp_ms> <value> <step>" to metrics/<key>.
func (r *Run) LogMetric(key string, value float64, step int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	line := fmt.Sprintf("%d %s %d\n", time.Now().UnixMilli(), strconv.FormatFloat(value, 'g', -1, 64), step)

	r.mu.Lock()
	defer r.mu.Unlock()
	return writeFile(filepath.Join(r.dir, "metrics", key), []byte(line), true)
}

// SetTag writes tags/<key>, replacing any previous value.
func (r *Run) SetTag(key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return writeFile(filepath.Join(r.dir, "tags", key), []byte(value), false)
}

// LogArtifact stores data under artifacts/<name> and mirrors it to the
// tracker's sink, if any.
func (r *Run) LogArtifact(ctx context.Context, name string, data []byte) error {
	if err := validKey(name); err != nil {
		return err
	}
	path := filepath.Join(r.dir, "artifacts", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create artifact dir for %s", name)
	}
	if err := writeFile(path, data, false); err != nil {
		return err
	}
	if r.tracker.sink == nil {
		return nil
	}
	key := strings.Join([]string{r.info.ExperimentID, r.info.RunID, "artifacts", filepath.ToSlash(name)}, "/")
	if err := r.tracker.sink.Upload(ctx, key, data); err != nil {
		return errors.Wrapf(err, "upload artifact %s", name)
	}
	r.logger.Debug("artifact uploaded", "artifact", key)
	return nil
}

// LogArtifactFile copies the file at path into the run's artifacts.
func (r *Run) LogArtifactFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read artifact %s", path)
	}
	return r.LogArtifact(ctx, filepath.Base(path), data)
}

// End closes the run with status. Ending twice is an error.
func (r *Run) End(status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info.Status != StatusRunning {
		return errors.Newf("run %s already ended with status %s", r.info.RunID, r.info.Status)
	}
	end := time.Now().UnixMilli()
	r.info.EndTime = &end
	r.info.Status = status
	if err := writeYAML(filepath.Join(r.dir, metaFile), r.info); err != nil {
		return err
	}
	r.logger.Debug("run ended", "status", status.String())
	return nil
}

func (r *Run) writeMeta() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return writeYAML(filepath.Join(r.dir, metaFile), r.info)
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || filepath.IsAbs(key) {
		return errors.NewValidationError("key", "invalid tracking key", key)
	}
	return nil
}

func writeFile(path string, data []byte, appendMode bool) error {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}
