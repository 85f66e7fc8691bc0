// Package tune runs hyperparameter studies: a sampler proposes parameters,
// an objective evaluates them and a storage records every trial.
package tune

import (
	"context"
	"math"
	"sync"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/pkg/log"
)

// Study is a named optimization over one objective value.
type Study struct {
	name      string
	id        int64
	direction Direction
	sampler   Sampler
	storage   Storage
	logger    log.Logger
	space     map[string]Distribution

	cbMu sync.Mutex
}

// StudyOption configures CreateStudy and LoadStudy.
type StudyOption func(*studyConfig)

type studyConfig struct {
	direction    Direction
	sampler      Sampler
	storage      Storage
	logger       log.Logger
	space        map[string]Distribution
	loadIfExists bool
}

// WithDirection sets the direction of a new study. Loaded studies keep the stored one.
func WithDirection(d Direction) StudyOption { return func(c *studyConfig) { c.direction = d } }

// WithSampler sets the sampler. The default is a clock-seeded RandomSampler.
func WithSampler(s Sampler) StudyOption { return func(c *studyConfig) { c.sampler = s } }

// WithStorage sets the storage. The default is a fresh InMemoryStorage.
func WithStorage(s Storage) StudyOption { return func(c *studyConfig) { c.storage = s } }

func WithLogger(l log.Logger) StudyOption { return func(c *studyConfig) { c.logger = l } }

// WithSearchSpace fixes the relative search space handed to the sampler.
// Without it the intersection of completed trials' distributions is used.
func WithSearchSpace(space map[string]Distribution) StudyOption {
	return func(c *studyConfig) { c.space = space }
}

// WithLoadIfExists makes CreateStudy reuse a study with the same name.
func WithLoadIfExists(v bool) StudyOption { return func(c *studyConfig) { c.loadIfExists = v } }

func newStudyConfig(opts []StudyOption) *studyConfig {
	c := &studyConfig{direction: Maximize}
	for _, opt := range opts {
		opt(c)
	}
	if c.sampler == nil {
		c.sampler = NewRandomSampler(-1)
	}
	if c.storage == nil {
		c.storage = NewInMemoryStorage()
	}
	if c.logger == nil {
		c.logger = log.GetLoggerWithName("tune")
	}
	return c
}

// CreateStudy registers a new study in storage.
func CreateStudy(ctx context.Context, name string, opts ...StudyOption) (*Study, error) {
	if name == "" {
		return nil, errors.NewValidationError("name", "study name is required", name)
	}
	c := newStudyConfig(opts)

	if c.loadIfExists {
		if _, err := c.storage.GetStudyID(ctx, name); err == nil {
			return loadStudy(ctx, name, c)
		} else if !errors.Is(err, errors.ErrStudyNotFound) {
			return nil, err
		}
	}

	id, err := c.storage.CreateStudy(ctx, name, c.direction)
	if err != nil {
		return nil, err
	}
	s := newStudy(name, id, c.direction, c)
	s.logger.Info("study created", log.DirectionKey, c.direction.String())
	return s, nil
}

// LoadStudy opens an existing study. It fails with ErrStudyNotFound.
func LoadStudy(ctx context.Context, name string, opts ...StudyOption) (*Study, error) {
	return loadStudy(ctx, name, newStudyConfig(opts))
}

func loadStudy(ctx context.Context, name string, c *studyConfig) (*Study, error) {
	id, err := c.storage.GetStudyID(ctx, name)
	if err != nil {
		return nil, err
	}
	dir, err := c.storage.GetStudyDirection(ctx, id)
	if err != nil {
		return nil, err
	}
	s := newStudy(name, id, dir, c)
	s.logger.Info("study loaded", log.DirectionKey, dir.String())
	return s, nil
}

func newStudy(name string, id int64, dir Direction, c *studyConfig) *Study {
	return &Study{
		name:      name,
		id:        id,
		direction: dir,
		sampler:   c.sampler,
		storage:   c.storage,
		logger:    c.logger.With(log.StudyKey, name),
		space:     c.space,
	}
}

func (s *Study) Name() string         { return s.name }
func (s *Study) ID() int64            { return s.id }
func (s *Study) Direction() Direction { return s.direction }
func (s *Study) Storage() Storage     { return s.storage }

// Trials returns all trials, or only those in states.
func (s *Study) Trials(ctx context.Context, states ...TrialState) ([]FrozenTrial, error) {
	return s.storage.ListTrials(ctx, s.id, states...)
}

// BestTrial returns the best COMPLETE trial. Ties keep the earliest trial.
func (s *Study) BestTrial(ctx context.Context) (FrozenTrial, error) {
	trials, err := s.Trials(ctx, TrialComplete)
	if err != nil {
		return FrozenTrial{}, err
	}
	if len(trials) == 0 {
		return FrozenTrial{}, errors.Wrapf(errors.ErrNoCompletedTrials, "study %q", s.name)
	}
	best := trials[0]
	for _, t := range trials[1:] {
		if s.direction.better(t.Value, best.Value) {
			best = t
		}
	}
	return best, nil
}

func (s *Study) BestValue(ctx context.Context) (float64, error) {
	t, err := s.BestTrial(ctx)
	if err != nil {
		return math.NaN(), err
	}
	return t.Value, nil
}

func (s *Study) BestParams(ctx context.Context) (map[string]any, error) {
	t, err := s.BestTrial(ctx)
	if err != nil {
		return nil, err
	}
	return t.ExternalParams(), nil
}

// Ask starts a new trial and runs relative sampling for it.
func (s *Study) Ask(ctx context.Context) (*Trial, error) {
	ft, err := s.storage.CreateTrial(ctx, s.id)
	if err != nil {
		return nil, err
	}
	t := &Trial{
		study:  s,
		id:     ft.ID,
		number: ft.Number,
		params: map[string]float64{},
		dists:  map[string]Distribution{},
	}

	history, err := s.Trials(ctx, TrialComplete)
	if err != nil {
		return nil, s.abandon(ctx, ft, err)
	}
	space := s.space
	if space == nil {
		space = IntersectionSearchSpace(history)
	}
	rel, err := s.sampler.SampleRelative(history, space, s.direction)
	if err != nil {
		return nil, s.abandon(ctx, ft, errors.Wrap(err, "relative sampling"))
	}
	t.relative = rel
	t.relSpace = space
	return t, nil
}

// abandon marks a trial created by Ask as FAIL so it does not stay RUNNING.
// ctx may already be cancelled by a sibling worker.
func (s *Study) abandon(ctx context.Context, ft FrozenTrial, cause error) error {
	if err := s.storage.FinishTrial(context.WithoutCancel(ctx), ft.ID, TrialFail, math.NaN(), cause.Error()); err != nil {
		s.logger.Warn("abandoned trial left running", err, log.TrialNumberKey, ft.Number)
	}
	return cause
}

func (s *Study) sampleIndependent(ctx context.Context, name string, d Distribution) (float64, error) {
	history, err := s.Trials(ctx, TrialComplete)
	if err != nil {
		return 0, err
	}
	v, err := s.sampler.SampleIndependent(history, name, d, s.direction)
	if err != nil {
		return 0, errors.Wrapf(err, "sample %s", name)
	}
	return v, nil
}

// Tell finishes a trial. A non-nil objErr or a NaN/Inf value marks it FAIL;
// otherwise it becomes COMPLETE with value. The returned error reports a
// storage problem, not the trial outcome.
func (s *Study) Tell(ctx context.Context, t *Trial, value float64, objErr error) (FrozenTrial, error) {
	state := TrialComplete
	msg := ""
	if objErr == nil {
		objErr = errors.CheckScalar("objective", value, t.number)
	}
	if objErr != nil {
		state = TrialFail
		value = math.NaN()
		msg = objErr.Error()
	}

	if err := s.storage.FinishTrial(ctx, t.id, state, value, msg); err != nil {
		return FrozenTrial{}, err
	}
	ft, err := s.storage.GetTrial(ctx, t.id)
	if err != nil {
		return FrozenTrial{}, err
	}

	if state == TrialFail {
		s.logger.Warn("trial failed",
			log.TrialNumberKey, ft.Number,
			log.ParamsKey, ft.ExternalParams(),
			log.ErrorCodeKey, log.ErrorTrialFailed,
			"reason", msg,
		)
		return ft, nil
	}

	fields := []any{
		log.TrialNumberKey, ft.Number,
		log.TrialValueKey, ft.Value,
		log.ParamsKey, ft.ExternalParams(),
		log.DurationSecondsKey, ft.Duration().Seconds(),
	}
	if best, err := s.BestTrial(ctx); err == nil {
		fields = append(fields, "best_trial", best.Number, "best_value", best.Value)
	}
	s.logger.Info("trial finished", fields...)
	return ft, nil
}
