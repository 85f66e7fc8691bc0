package objective

import (
	"context"

	"github.com/YuminosukeSato/scitune/pkg/errors"
	"github.com/YuminosukeSato/scitune/tune"
)

// Range is an inclusive integer range with a step.
type Range struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
	Step int `yaml:"step"`
}

func (r Range) distribution() (tune.IntDistribution, error) {
	step := r.Step
	if step == 0 {
		step = 1
	}
	return tune.NewIntDistribution(r.Low, r.High, step, false)
}

// SearchSpace bounds the three tuned hyperparameters.
type SearchSpace struct {
	NEstimators Range `yaml:"n_estimators"`
	MaxDepth    Range `yaml:"max_depth"`
	MaxFeatures Range `yaml:"max_features"`
}

// DefaultSearchSpace returns the ranges used when none are configured.
// A MaxFeatures.High of 0 means "number of features" and is filled in by Resolve.
func DefaultSearchSpace() SearchSpace {
	return SearchSpace{
		NEstimators: Range{Low: 10, High: 200, Step: 10},
		MaxDepth:    Range{Low: 2, High: 16, Step: 1},
		MaxFeatures: Range{Low: 1, High: 0, Step: 1},
	}
}

// Resolve fills a zero MaxFeatures.High with nFeatures and clamps it to nFeatures.
func (s SearchSpace) Resolve(nFeatures int) SearchSpace {
	if s.MaxFeatures.High <= 0 || s.MaxFeatures.High > nFeatures {
		s.MaxFeatures.High = nFeatures
	}
	if s.MaxFeatures.Low > s.MaxFeatures.High {
		s.MaxFeatures.Low = s.MaxFeatures.High
	}
	return s
}

// Distributions returns the space keyed by hyperparameter name.
func (s SearchSpace) Distributions() (map[string]tune.Distribution, error) {
	out := make(map[string]tune.Distribution, 3)
	for name, r := range map[string]Range{
		"n_estimators": s.NEstimators,
		"max_depth":    s.MaxDepth,
		"max_features": s.MaxFeatures,
	} {
		d, err := r.distribution()
		if err != nil {
			return nil, errors.Wrapf(err, "search space %s", name)
		}
		out[name] = d
	}
	return out, nil
}

// Validate checks that every range is usable. An unresolved
// MaxFeatures.High (0) is accepted.
func (s SearchSpace) Validate() error {
	if s.NEstimators.Low < 1 {
		return errors.NewValidationError("n_estimators.low", "must be >= 1", s.NEstimators.Low)
	}
	if s.MaxDepth.Low < 1 {
		return errors.NewValidationError("max_depth.low", "must be >= 1", s.MaxDepth.Low)
	}
	if s.MaxFeatures.Low < 1 {
		return errors.NewValidationError("max_features.low", "must be >= 1", s.MaxFeatures.Low)
	}
	if s.MaxFeatures.High == 0 {
		s.MaxFeatures.High = s.MaxFeatures.Low
	}
	_, err := s.Distributions()
	return err
}

// Suggest draws Params for trial.
func (s SearchSpace) Suggest(ctx context.Context, trial *tune.Trial) (Params, error) {
	dists, err := s.Distributions()
	if err != nil {
		return Params{}, err
	}
	var p Params
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"n_estimators", &p.NEstimators},
		{"max_depth", &p.MaxDepth},
		{"max_features", &p.MaxFeatures},
	} {
		v, err := trial.Suggest(ctx, f.name, dists[f.name])
		if err != nil {
			return Params{}, err
		}
		*f.dst = v.(int)
	}
	return p, nil
}
