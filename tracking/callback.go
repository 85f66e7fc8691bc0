package tracking

import (
	"context"
	"fmt"
	"math"

	"github.com/YuminosukeSato/scitune/pkg/log"
	"github.com/YuminosukeSato/scitune/tune"
)

// Tags written on every trial run.
const (
	TagStudy      = "scitune.study"
	TagTrial      = "scitune.trial"
	TagTrialState = "scitune.trial_state"
	TagBackend    = "scitune.backend"
	TagError      = "scitune.error"
)

// StudyCallback returns a tune.Callback that records each finished trial as
// a run in experimentID: its params, the objective value under metricName,
// numeric user attributes as metrics, and the trial state as a tag.
// Tracking failures are logged and never interrupt the study.
func StudyCallback(t *Tracker, experimentID, metricName, backend string) tune.Callback {
	return func(study *tune.Study, ft tune.FrozenTrial) {
		if err := LogTrial(t, experimentID, metricName, backend, study.Name(), ft); err != nil {
			t.logger.Warn("failed to track trial", err,
				log.StudyKey, study.Name(),
				log.TrialNumberKey, ft.Number,
			)
		}
	}
}

// LogTrial records one finished trial as its own run.
func LogTrial(t *Tracker, experimentID, metricName, backend, study string, ft tune.FrozenTrial) error {
	run, err := t.StartRun(experimentID, fmt.Sprintf("%s-trial-%d", study, ft.Number))
	if err != nil {
		return err
	}
	status := StatusFinished
	if ft.State != tune.TrialComplete {
		status = StatusFailed
	}
	if err := logTrial(run, metricName, backend, study, ft); err != nil {
		_ = run.End(StatusFailed)
		return err
	}
	return run.End(status)
}

func logTrial(run *Run, metricName, backend, study string, ft tune.FrozenTrial) error {
	tags := map[string]string{
		TagStudy:      study,
		TagTrial:      fmt.Sprint(ft.Number),
		TagTrialState: ft.State.String(),
	}
	if backend != "" {
		tags[TagBackend] = backend
	}
	if ft.Err != "" {
		tags[TagError] = ft.Err
	}
	for k, v := range tags {
		if err := run.SetTag(k, v); err != nil {
			return err
		}
	}
	if err := run.LogParams(ft.ExternalParams()); err != nil {
		return err
	}

	step := int64(ft.Number)
	if ft.State == tune.TrialComplete {
		if err := run.LogMetric(metricName, ft.Value, step); err != nil {
			return err
		}
	}
	for k, v := range ft.UserAttrs {
		if f, ok := v.(float64); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			if err := run.LogMetric(k, f, step); err != nil {
				return err
			}
		}
	}
	return run.LogMetric("trial_seconds", ft.Duration().Seconds(), step)
}

// LogStudySummary records the study's best trial on run as best_* params
// and a best_<metricName> metric.
func LogStudySummary(ctx context.Context, run *Run, study *tune.Study, metricName string) error {
	best, err := study.BestTrial(ctx)
	if err != nil {
		return err
	}
	for k, v := range best.ExternalParams() {
		if err := run.LogParam("best_"+k, v); err != nil {
			return err
		}
	}
	if err := run.SetTag(TagStudy, study.Name()); err != nil {
		return err
	}
	if err := run.LogParam("best_trial", best.Number); err != nil {
		return err
	}
	return run.LogMetric("best_"+metricName, best.Value, int64(best.Number))
}
