package tune

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// Direction is the optimization direction of a study.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

// ParseDirection accepts "maximize" or "minimize" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "maximize", "max", "":
		return Maximize, nil
	case "minimize", "min":
		return Minimize, nil
	}
	return Maximize, errors.NewValidationError("direction", "must be maximize or minimize", s)
}

// better reports whether a improves on b.
func (d Direction) better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// TrialState is the lifecycle state of a trial.
type TrialState int

const (
	TrialRunning TrialState = iota
	TrialComplete
	TrialFail
)

func (s TrialState) String() string {
	switch s {
	case TrialComplete:
		return "COMPLETE"
	case TrialFail:
		return "FAIL"
	default:
		return "RUNNING"
	}
}

// ParseTrialState is the inverse of TrialState.String.
func ParseTrialState(s string) (TrialState, error) {
	switch s {
	case "RUNNING":
		return TrialRunning, nil
	case "COMPLETE":
		return TrialComplete, nil
	case "FAIL":
		return TrialFail, nil
	}
	return TrialRunning, errors.NewValidationError("state", "unknown trial state", s)
}

// IsFinished reports whether the state is terminal.
func (s TrialState) IsFinished() bool { return s != TrialRunning }

// FrozenTrial is an immutable snapshot of a trial as recorded in storage.
type FrozenTrial struct {
	ID            int64
	Number        int
	State         TrialState
	Value         float64
	Params        map[string]float64 // internal representation
	Distributions map[string]Distribution
	UserAttrs     map[string]any
	Start         time.Time
	Complete      time.Time
	Err           string
}

// Duration returns the wall time of a finished trial, or zero.
func (t FrozenTrial) Duration() time.Duration {
	if t.Complete.IsZero() || t.Start.IsZero() {
		return 0
	}
	return t.Complete.Sub(t.Start)
}

// ExternalParams converts Params to user-facing values.
func (t FrozenTrial) ExternalParams() map[string]any {
	out := make(map[string]any, len(t.Params))
	for name, v := range t.Params {
		if d, ok := t.Distributions[name]; ok {
			out[name] = d.ToExternal(v)
		}
	}
	return out
}

// Trial is the live handle passed to an objective. Suggest methods are safe
// for concurrent use, but a trial is normally driven by a single goroutine.
type Trial struct {
	study    *Study
	id       int64
	number   int
	relative map[string]float64
	relSpace map[string]Distribution

	mu     sync.Mutex
	params map[string]float64
	dists  map[string]Distribution
}

// ID is the storage id of the trial.
func (t *Trial) ID() int64 { return t.id }

// Number is the 0-based index of the trial within its study.
func (t *Trial) Number() int { return t.number }

// Study returns the owning study.
func (t *Trial) Study() *Study { return t.study }

// Params returns the external values suggested so far.
func (t *Trial) Params() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(t.params))
	for k, v := range t.params {
		out[k] = t.dists[k].ToExternal(v)
	}
	return out
}

// SuggestInt suggests an integer in [low, high].
func (t *Trial) SuggestInt(ctx context.Context, name string, low, high int) (int, error) {
	return t.SuggestIntStep(ctx, name, low, high, 1)
}

// SuggestIntStep suggests an integer in {low, low+step, ...} up to high.
func (t *Trial) SuggestIntStep(ctx context.Context, name string, low, high, step int) (int, error) {
	d, err := NewIntDistribution(low, high, step, false)
	if err != nil {
		return 0, err
	}
	v, err := t.Suggest(ctx, name, d)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SuggestFloat suggests a float in [low, high].
func (t *Trial) SuggestFloat(ctx context.Context, name string, low, high float64) (float64, error) {
	d, err := NewFloatDistribution(low, high, false)
	if err != nil {
		return 0, err
	}
	v, err := t.Suggest(ctx, name, d)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestLogFloat suggests a float in [low, high] sampled on a log scale.
func (t *Trial) SuggestLogFloat(ctx context.Context, name string, low, high float64) (float64, error) {
	d, err := NewFloatDistribution(low, high, true)
	if err != nil {
		return 0, err
	}
	v, err := t.Suggest(ctx, name, d)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestCategorical suggests one of choices.
func (t *Trial) SuggestCategorical(ctx context.Context, name string, choices ...any) (any, error) {
	d, err := NewCategoricalDistribution(choices...)
	if err != nil {
		return nil, err
	}
	return t.Suggest(ctx, name, d)
}

// Suggest returns a value for name drawn from d. Asking again for the same
// name returns the first value; asking with a different distribution fails.
func (t *Trial) Suggest(ctx context.Context, name string, d Distribution) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.dists[name]; ok {
		if !SameDistribution(prev, d) {
			return nil, errors.NewValidationError(name, "distribution changed within a trial", d)
		}
		return d.ToExternal(t.params[name]), nil
	}

	var v float64
	if rv, ok := t.relative[name]; ok && SameDistribution(t.relSpace[name], d) && d.Contains(rv) {
		v = rv
	} else {
		var err error
		v, err = t.study.sampleIndependent(ctx, name, d)
		if err != nil {
			return nil, err
		}
	}

	if err := t.study.storage.SetTrialParam(ctx, t.id, name, v, d); err != nil {
		return nil, err
	}
	t.params[name] = v
	t.dists[name] = d
	return d.ToExternal(v), nil
}

// SetUserAttr records an arbitrary JSON-encodable attribute on the trial.
func (t *Trial) SetUserAttr(ctx context.Context, key string, value any) error {
	return t.study.storage.SetTrialUserAttr(ctx, t.id, key, value)
}
