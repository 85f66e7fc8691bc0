package tune

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"reflect"

	"github.com/YuminosukeSato/scitune/pkg/errors"
)

// Distribution describes the domain of one hyperparameter.
//
// Values are stored internally as float64: integers as themselves, floats
// as themselves and categorical choices as their index.
type Distribution interface {
	// Contains reports whether the internal value lies in the domain.
	Contains(internal float64) bool
	// ToExternal converts an internal value to the user-facing value.
	ToExternal(internal float64) any
	// ToInternal converts a user-facing value to its internal representation.
	ToInternal(external any) (float64, error)
	// Single reports whether the domain has exactly one value.
	Single() bool

	sample(rng *rand.Rand) float64
	// normalize maps an internal value to [0, 1]; denormalize is its inverse
	// snapped to a valid value.
	normalize(internal float64) float64
	denormalize(u float64) float64
	kind() string
}

// IntDistribution is an integer range [Low, High] with Step, optionally log scaled.
type IntDistribution struct {
	Low  int  `json:"low"`
	High int  `json:"high"`
	Step int  `json:"step"`
	Log  bool `json:"log"`
}

// NewIntDistribution validates and returns an integer distribution.
func NewIntDistribution(low, high, step int, logScale bool) (IntDistribution, error) {
	d := IntDistribution{Low: low, High: high, Step: step, Log: logScale}
	switch {
	case low > high:
		return d, errors.NewValidationError("low", fmt.Sprintf("must be <= high (%d)", high), low)
	case step < 1:
		return d, errors.NewValidationError("step", "must be >= 1", step)
	case logScale && low < 1:
		return d, errors.NewValidationError("low", "must be >= 1 for log scale", low)
	case logScale && step != 1:
		return d, errors.NewValidationError("step", "must be 1 for log scale", step)
	}
	// high は low + k*step に切り詰める
	d.High = low + (high-low)/step*step
	return d, nil
}

func (d IntDistribution) Contains(v float64) bool {
	if v != math.Trunc(v) || v < float64(d.Low) || v > float64(d.High) {
		return false
	}
	return (int(v)-d.Low)%d.Step == 0
}

func (d IntDistribution) ToExternal(v float64) any { return int(v) }

func (d IntDistribution) ToInternal(x any) (float64, error) {
	switch n := x.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		if n == math.Trunc(n) {
			return n, nil
		}
	}
	return 0, errors.NewValidationError("value", "not an integer", x)
}

func (d IntDistribution) Single() bool { return d.Low == d.High }

func (d IntDistribution) sample(rng *rand.Rand) float64 {
	if d.Log {
		return d.denormalize(rng.Float64())
	}
	return float64(d.Low + d.Step*rng.Intn((d.High-d.Low)/d.Step+1))
}

func (d IntDistribution) normalize(v float64) float64 {
	if d.Single() {
		return 0.5
	}
	if d.Log {
		return (math.Log(v) - math.Log(float64(d.Low))) / (math.Log(float64(d.High)) - math.Log(float64(d.Low)))
	}
	return (v - float64(d.Low)) / float64(d.High-d.Low)
}

func (d IntDistribution) denormalize(u float64) float64 {
	u = clamp01(u)
	var v float64
	if d.Log {
		lo, hi := math.Log(float64(d.Low)), math.Log(float64(d.High))
		v = math.Round(math.Exp(lo + u*(hi-lo)))
	} else {
		k := math.Round(u * float64(d.High-d.Low) / float64(d.Step))
		v = float64(d.Low) + k*float64(d.Step)
	}
	return math.Min(math.Max(v, float64(d.Low)), float64(d.High))
}

func (d IntDistribution) kind() string { return "IntDistribution" }

// FloatDistribution is a continuous range [Low, High], optionally log scaled.
type FloatDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	Log  bool    `json:"log"`
}

// NewFloatDistribution validates and returns a float distribution.
func NewFloatDistribution(low, high float64, logScale bool) (FloatDistribution, error) {
	d := FloatDistribution{Low: low, High: high, Log: logScale}
	switch {
	case math.IsNaN(low) || math.IsNaN(high) || low > high:
		return d, errors.NewValidationError("low", fmt.Sprintf("must be <= high (%v)", high), low)
	case logScale && low <= 0:
		return d, errors.NewValidationError("low", "must be > 0 for log scale", low)
	}
	return d, nil
}

func (d FloatDistribution) Contains(v float64) bool { return v >= d.Low && v <= d.High }

func (d FloatDistribution) ToExternal(v float64) any { return v }

func (d FloatDistribution) ToInternal(x any) (float64, error) {
	switch n := x.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, errors.NewValidationError("value", "not a float", x)
}

func (d FloatDistribution) Single() bool { return d.Low == d.High }

func (d FloatDistribution) sample(rng *rand.Rand) float64 { return d.denormalize(rng.Float64()) }

func (d FloatDistribution) normalize(v float64) float64 {
	if d.Single() {
		return 0.5
	}
	if d.Log {
		return (math.Log(v) - math.Log(d.Low)) / (math.Log(d.High) - math.Log(d.Low))
	}
	return (v - d.Low) / (d.High - d.Low)
}

func (d FloatDistribution) denormalize(u float64) float64 {
	u = clamp01(u)
	var v float64
	if d.Log {
		lo, hi := math.Log(d.Low), math.Log(d.High)
		v = math.Exp(lo + u*(hi-lo))
	} else {
		v = d.Low + u*(d.High-d.Low)
	}
	return math.Min(math.Max(v, d.Low), d.High)
}

func (d FloatDistribution) kind() string { return "FloatDistribution" }

// CategoricalDistribution selects one of Choices. Choices should be
// JSON-encodable scalars so that they survive persistence.
type CategoricalDistribution struct {
	Choices []any `json:"choices"`
}

// NewCategoricalDistribution validates and returns a categorical distribution.
func NewCategoricalDistribution(choices ...any) (CategoricalDistribution, error) {
	if len(choices) == 0 {
		return CategoricalDistribution{}, errors.NewValidationError("choices", "must not be empty", choices)
	}
	return CategoricalDistribution{Choices: choices}, nil
}

func (d CategoricalDistribution) Contains(v float64) bool {
	return v == math.Trunc(v) && v >= 0 && int(v) < len(d.Choices)
}

func (d CategoricalDistribution) ToExternal(v float64) any { return d.Choices[int(v)] }

func (d CategoricalDistribution) ToInternal(x any) (float64, error) {
	for i, c := range d.Choices {
		if reflect.DeepEqual(c, x) {
			return float64(i), nil
		}
	}
	return 0, errors.NewValidationError("value", "not one of the choices", x)
}

func (d CategoricalDistribution) Single() bool { return len(d.Choices) == 1 }

func (d CategoricalDistribution) sample(rng *rand.Rand) float64 {
	return float64(rng.Intn(len(d.Choices)))
}

func (d CategoricalDistribution) normalize(v float64) float64 {
	return (v + 0.5) / float64(len(d.Choices))
}

func (d CategoricalDistribution) denormalize(u float64) float64 {
	i := int(clamp01(u) * float64(len(d.Choices)))
	return float64(min(i, len(d.Choices)-1))
}

func (d CategoricalDistribution) kind() string { return "CategoricalDistribution" }

func clamp01(u float64) float64 { return math.Min(math.Max(u, 0), 1) }

type distributionJSON struct {
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
}

// MarshalDistribution encodes d as {"name": ..., "attributes": {...}}.
func MarshalDistribution(d Distribution) ([]byte, error) {
	attrs, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "marshal distribution")
	}
	return json.Marshal(distributionJSON{Name: d.kind(), Attributes: attrs})
}

// UnmarshalDistribution decodes the output of MarshalDistribution.
func UnmarshalDistribution(data []byte) (Distribution, error) {
	var raw distributionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unmarshal distribution")
	}
	var (
		d   Distribution
		err error
	)
	switch raw.Name {
	case "IntDistribution":
		var v IntDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case "FloatDistribution":
		var v FloatDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	case "CategoricalDistribution":
		var v CategoricalDistribution
		err = json.Unmarshal(raw.Attributes, &v)
		d = v
	default:
		return nil, errors.Newf("unknown distribution %q", raw.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", raw.Name)
	}
	return d, nil
}

// SameDistribution compares distributions by their encoded form, so a
// categorical with int choices equals one whose choices were decoded as float64.
func SameDistribution(a, b Distribution) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, err1 := MarshalDistribution(a)
	jb, err2 := MarshalDistribution(b)
	return err1 == nil && err2 == nil && string(ja) == string(jb)
}
