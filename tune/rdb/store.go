package rdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/tune"
)

var _ tune.Storage = (*Storage)(nil)

func (s *Storage) CreateStudy(ctx context.Context, name string, direction tune.Direction) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO studies (study_name, direction) VALUES (?, ?) RETURNING study_id`),
		name, direction.String(),
	).Scan(&id)
	if err != nil {
		return 0, errors.NewStorageError("create study", err)
	}
	return id, nil
}

func (s *Storage) GetStudyID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT study_id FROM studies WHERE study_name = ?`), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(errors.ErrStudyNotFound, "%q", name)
	}
	if err != nil {
		return 0, errors.NewStorageError("get study", err)
	}
	return id, nil
}

func (s *Storage) GetStudyDirection(ctx context.Context, studyID int64) (tune.Direction, error) {
	var dir string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT direction FROM studies WHERE study_id = ?`), studyID).Scan(&dir)
	if errors.Is(err, sql.ErrNoRows) {
		return tune.Maximize, errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
	}
	if err != nil {
		return tune.Maximize, errors.NewStorageError("get study direction", err)
	}
	return tune.ParseDirection(dir)
}

func (s *Storage) ListStudies(ctx context.Context) ([]tune.StudySummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT study_id, study_name, direction FROM studies ORDER BY study_id`)
	if err != nil {
		return nil, errors.NewStorageError("list studies", err)
	}
	defer rows.Close()

	var out []tune.StudySummary
	for rows.Next() {
		var (
			st  tune.StudySummary
			dir string
		)
		if err := rows.Scan(&st.ID, &st.Name, &dir); err != nil {
			return nil, errors.NewStorageError("scan study", err)
		}
		if st.Direction, err = tune.ParseDirection(dir); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, errors.Wrap(rows.Err(), "list studies")
}

func (s *Storage) CreateTrial(ctx context.Context, studyID int64) (tune.FrozenTrial, error) {
	ft := tune.FrozenTrial{
		State:         tune.TrialRunning,
		Params:        map[string]float64{},
		Distributions: map[string]tune.Distribution{},
		UserAttrs:     map[string]any{},
		Start:         time.Now(),
	}
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		lock := `SELECT study_id FROM studies WHERE study_id = ?`
		if s.dialect == dialectPostgres {
			// 同一スタディへの並行採番を直列化する
			lock += ` FOR UPDATE`
		}
		var id int64
		if err := tx.QueryRowContext(ctx, s.rebind(lock), studyID).Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
			}
			return err
		}
		if err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COUNT(*) FROM trials WHERE study_id = ?`), studyID,
		).Scan(&ft.Number); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			s.rebind(`INSERT INTO trials (number, study_id, state, datetime_start) VALUES (?, ?, ?, ?) RETURNING trial_id`),
			ft.Number, studyID, tune.TrialRunning.String(), ft.Start.UnixNano(),
		).Scan(&ft.ID)
	})
	if err != nil {
		if errors.Is(err, errors.ErrStudyNotFound) {
			return tune.FrozenTrial{}, err
		}
		return tune.FrozenTrial{}, errors.NewStorageError("create trial", err)
	}
	return ft, nil
}

// checkRunning returns ErrTrialNotFound or ErrTrialFinished.
func (s *Storage) checkRunning(ctx context.Context, tx *sql.Tx, trialID int64) error {
	var (
		state  string
		number int
	)
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT state, number FROM trials WHERE trial_id = ?`), trialID).Scan(&state, &number)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	if err != nil {
		return errors.NewStorageError("get trial state", err)
	}
	if state != tune.TrialRunning.String() {
		return errors.Wrapf(errors.ErrTrialFinished, "trial %d", number)
	}
	return nil
}

func (s *Storage) SetTrialParam(ctx context.Context, trialID int64, name string, v float64, d tune.Distribution) error {
	if !d.Contains(v) {
		return errors.NewValidationError(name, "value outside distribution", v)
	}
	dj, err := tune.MarshalDistribution(d)
	if err != nil {
		return err
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.checkRunning(ctx, tx, trialID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO trial_params (trial_id, param_name, param_value, distribution_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (trial_id, param_name)
			DO UPDATE SET param_value = excluded.param_value, distribution_json = excluded.distribution_json`),
			trialID, name, v, string(dj),
		)
		if err != nil {
			return errors.NewStorageError("set trial param", err)
		}
		return nil
	})
}

func (s *Storage) SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error {
	vj, err := json.Marshal(value)
	if err != nil {
		return errors.NewValidationError(key, "user attribute must be JSON encodable", value)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO trial_user_attrs (trial_id, key, value_json)
		SELECT trial_id, ?, ? FROM trials WHERE trial_id = ?
		ON CONFLICT (trial_id, key) DO UPDATE SET value_json = excluded.value_json`),
		key, string(vj), trialID,
	)
	if err != nil {
		return errors.NewStorageError("set user attr", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	return nil
}

func (s *Storage) FinishTrial(ctx context.Context, trialID int64, state tune.TrialState, value float64, errMsg string) error {
	if !state.IsFinished() {
		return errors.NewValidationError("state", "must be a finished state", state.String())
	}
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.checkRunning(ctx, tx, trialID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE trials SET state = ?, datetime_complete = ?, error_message = ? WHERE trial_id = ?`),
			state.String(), time.Now().UnixNano(), errMsg, trialID,
		); err != nil {
			return errors.NewStorageError("finish trial", err)
		}
		if state != tune.TrialComplete || math.IsNaN(value) || math.IsInf(value, 0) {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO trial_values (trial_id, objective, value) VALUES (?, 0, ?)`),
			trialID, value,
		); err != nil {
			return errors.NewStorageError("set trial value", err)
		}
		return nil
	})
}

const trialColumns = `
	SELECT t.trial_id, t.number, t.state, t.datetime_start, t.datetime_complete, t.error_message, v.value
	FROM trials t LEFT JOIN trial_values v ON v.trial_id = t.trial_id`

func (s *Storage) GetTrial(ctx context.Context, trialID int64) (tune.FrozenTrial, error) {
	trials, err := s.queryTrials(ctx, ` WHERE t.trial_id = ?`, trialID)
	if err != nil {
		return tune.FrozenTrial{}, err
	}
	if len(trials) == 0 {
		return tune.FrozenTrial{}, errors.Wrapf(errors.ErrTrialNotFound, "id %d", trialID)
	}
	return trials[0], nil
}

func (s *Storage) ListTrials(ctx context.Context, studyID int64, states ...tune.TrialState) ([]tune.FrozenTrial, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM studies WHERE study_id = ?`), studyID).Scan(&exists)
	if err != nil {
		return nil, errors.NewStorageError("list trials", err)
	}
	if exists == 0 {
		return nil, errors.Wrapf(errors.ErrStudyNotFound, "id %d", studyID)
	}

	trials, err := s.queryTrials(ctx, ` WHERE t.study_id = ?`, studyID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return trials, nil
	}
	out := trials[:0]
	for _, t := range trials {
		for _, st := range states {
			if t.State == st {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// queryTrials loads the trials matching where (a filter on alias t with a
// single placeholder), then their params and user attrs.
func (s *Storage) queryTrials(ctx context.Context, where string, arg int64) ([]tune.FrozenTrial, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(trialColumns+where+` ORDER BY t.number`), arg)
	if err != nil {
		return nil, errors.NewStorageError("query trials", err)
	}
	defer rows.Close()

	var (
		trials []tune.FrozenTrial
		index  = map[int64]int{}
	)
	for rows.Next() {
		var (
			ft       tune.FrozenTrial
			state    string
			start    int64
			complete sql.NullInt64
			value    sql.NullFloat64
		)
		if err := rows.Scan(&ft.ID, &ft.Number, &state, &start, &complete, &ft.Err, &value); err != nil {
			return nil, errors.NewStorageError("scan trial", err)
		}
		if ft.State, err = tune.ParseTrialState(state); err != nil {
			return nil, err
		}
		ft.Start = time.Unix(0, start)
		if complete.Valid {
			ft.Complete = time.Unix(0, complete.Int64)
		}
		ft.Value = math.NaN()
		if value.Valid {
			ft.Value = value.Float64
		}
		ft.Params = map[string]float64{}
		ft.Distributions = map[string]tune.Distribution{}
		ft.UserAttrs = map[string]any{}
		index[ft.ID] = len(trials)
		trials = append(trials, ft)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("query trials", err)
	}
	if len(trials) == 0 {
		return trials, nil
	}

	if err := s.loadParams(ctx, where, arg, trials, index); err != nil {
		return nil, err
	}
	if err := s.loadUserAttrs(ctx, where, arg, trials, index); err != nil {
		return nil, err
	}
	return trials, nil
}

func (s *Storage) loadParams(ctx context.Context, where string, arg int64, trials []tune.FrozenTrial, index map[int64]int) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT p.trial_id, p.param_name, p.param_value, p.distribution_json
		FROM trial_params p JOIN trials t ON t.trial_id = p.trial_id`+where), arg)
	if err != nil {
		return errors.NewStorageError("query params", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			name  string
			value float64
			dj    string
		)
		if err := rows.Scan(&id, &name, &value, &dj); err != nil {
			return errors.NewStorageError("scan param", err)
		}
		d, err := tune.UnmarshalDistribution([]byte(dj))
		if err != nil {
			return err
		}
		ft := &trials[index[id]]
		ft.Params[name] = value
		ft.Distributions[name] = d
	}
	return errors.Wrap(rows.Err(), "query params")
}

func (s *Storage) loadUserAttrs(ctx context.Context, where string, arg int64, trials []tune.FrozenTrial, index map[int64]int) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT a.trial_id, a.key, a.value_json
		FROM trial_user_attrs a JOIN trials t ON t.trial_id = a.trial_id`+where), arg)
	if err != nil {
		return errors.NewStorageError("query user attrs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			key string
			vj  string
		)
		if err := rows.Scan(&id, &key, &vj); err != nil {
			return errors.NewStorageError("scan user attr", err)
		}
		var v any
		if err := json.Unmarshal([]byte(vj), &v); err != nil {
			return errors.Wrapf(err, "decode user attr %s", key)
		}
		trials[index[id]].UserAttrs[key] = v
	}
	return errors.Wrap(rows.Err(), "query user attrs")
}
