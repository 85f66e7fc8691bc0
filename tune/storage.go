package tune

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// Storage persists studies and their trials. Implementations must be safe
// for concurrent use.
type Storage interface {
	// CreateStudy registers a new study and returns its id.
	CreateStudy(ctx context.Context, name string, direction Direction) (int64, error)
	// GetStudyID returns ErrStudyNotFound when name is unknown.
	GetStudyID(ctx context.Context, name string) (int64, error)
	GetStudyDirection(ctx context.Context, studyID int64) (Direction, error)
	ListStudies(ctx context.Context) ([]StudySummary, error)

	// CreateTrial starts a RUNNING trial numbered after the study's existing trials.
	CreateTrial(ctx context.Context, studyID int64) (FrozenTrial, error)
	SetTrialParam(ctx context.Context, trialID int64, name string, internal float64, d Distribution) error
	SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error
	// FinishTrial moves a RUNNING trial to a terminal state.
	FinishTrial(ctx context.Context, trialID int64, state TrialState, value float64, errMsg string) error
	GetTrial(ctx context.Context, trialID int64) (FrozenTrial, error)
	// ListTrials returns the trials of a study ordered by number, filtered
	// to states when any are given.
	ListTrials(ctx context.Context, studyID int64, states ...TrialState) ([]FrozenTrial, error)

	Close() error
}

// StudySummary is a study as listed by storage.
type StudySummary struct {
	ID        int64
	Name      string
	Direction Direction
}

// InMemoryStorage keeps everything in process memory.
type InMemoryStorage struct {
	mu          sync.RWMutex
	studies     map[int64]*memStudy
	names       map[string]int64
	trials      map[int64]*FrozenTrial
	trialStudy  map[int64]int64
	nextStudyID int64
	nextTrialID int64
}

type memStudy struct {
	summary StudySummary
	trials  []int64
}

// NewInMemoryStorage returns an empty storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		studies:    make(map[int64]*memStudy),
		names:      make(map[string]int64),
		trials:     make(map[int64]*FrozenTrial),
		trialStudy: make(map[int64]int64),
	}
}

func (s *InMemoryStorage) CreateStudy(_ context.Context, name string, direction Direction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return 0, errors.NewStorageError("create study", errors.Newf("study %q already exists", name))
	}
	s.nextStudyID++
	id := s.nextStudyID
	s.studies[id] = &memStudy{summary: StudySummary{ID: id, Name: name, Direction: direction}}
	s.names[name] = id
	return id, nil
}

func (s *InMemoryStorage) GetStudyID(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	if !ok {
		return 0, errors.Wrapf(errors.ErrStudyNotFound, "%q", name)
	}
	return id, nil
}

func (s *InMemoryStorage) GetStudyDirection(_ context.Context, studyID int64) (Direction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[studyID]
	if !ok {
		return Maximize, errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
	}
	return st.summary.Direction, nil
}

func (s *InMemoryStorage) ListStudies(_ context.Context) ([]StudySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StudySummary, 0, len(s.studies))
	for _, st := range s.studies {
		out = append(out, st.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStorage) CreateTrial(_ context.Context, studyID int64) (FrozenTrial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.studies[studyID]
	if !ok {
		return FrozenTrial{}, errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
	}
	s.nextTrialID++
	t := &FrozenTrial{
		ID:            s.nextTrialID,
		Number:        len(st.trials),
		State:         TrialRunning,
		Params:        map[string]float64{},
		Distributions: map[string]Distribution{},
		UserAttrs:     map[string]any{},
		Start:         time.Now(),
	}
	s.trials[t.ID] = t
	s.trialStudy[t.ID] = studyID
	st.trials = append(st.trials, t.ID)
	return copyTrial(t), nil
}

// runningTrial は呼び出し側でロックを保持していること。
func (s *InMemoryStorage) runningTrial(trialID int64) (*FrozenTrial, error) {
	t, ok := s.trials[trialID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	if t.State.IsFinished() {
		return nil, errors.Wrapf(errors.ErrTrialFinished, "trial %d", t.Number)
	}
	return t, nil
}

func (s *InMemoryStorage) SetTrialParam(_ context.Context, trialID int64, name string, v float64, d Distribution) error {
	if !d.Contains(v) {
		return errors.NewValidationError(name, "value outside distribution", v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.runningTrial(trialID)
	if err != nil {
		return err
	}
	t.Params[name] = v
	t.Distributions[name] = d
	return nil
}

func (s *InMemoryStorage) SetTrialUserAttr(_ context.Context, trialID int64, key string, value any) error {
	if _, err := json.Marshal(value); err != nil {
		return errors.NewValidationError(key, "user attribute must be JSON encodable", value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trials[trialID]
	if !ok {
		return errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	t.UserAttrs[key] = value
	return nil
}

func (s *InMemoryStorage) FinishTrial(_ context.Context, trialID int64, state TrialState, value float64, errMsg string) error {
	if !state.IsFinished() {
		return errors.NewValidationError("state", "must be a finished state", state.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.runningTrial(trialID)
	if err != nil {
		return err
	}
	t.State = state
	t.Value = value
	t.Err = errMsg
	t.Complete = time.Now()
	return nil
}

func (s *InMemoryStorage) GetTrial(_ context.Context, trialID int64) (FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trials[trialID]
	if !ok {
		return FrozenTrial{}, errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	return copyTrial(t), nil
}

func (s *InMemoryStorage) ListTrials(_ context.Context, studyID int64, states ...TrialState) ([]FrozenTrial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[studyID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
	}
	out := make([]FrozenTrial, 0, len(st.trials))
	for _, id := range st.trials {
		t := s.trials[id]
		if matchState(t.State, states) {
			out = append(out, copyTrial(t))
		}
	}
	return out, nil
}

func (s *InMemoryStorage) Close() error { return nil }

func matchState(s TrialState, states []TrialState) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

func copyTrial(t *FrozenTrial) FrozenTrial {
	c := *t
	c.Params = make(map[string]float64, len(t.Params))
	for k, v := range t.Params {
		c.Params[k] = v
	}
	c.Distributions = make(map[string]Distribution, len(t.Distributions))
	for k, v := range t.Distributions {
		c.Distributions[k] = v
	}
	c.UserAttrs = make(map[string]any, len(t.UserAttrs))
	for k, v := range t.UserAttrs {
		c.UserAttrs[k] = v
	}
	return c
}
