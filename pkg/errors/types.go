package errors

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// NotFittedError: 学習前に Predict などが呼ばれた。
type NotFittedError struct {
	ModelName string
	Method    string
}

func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("scitune: %s.%s called before Fit", e.ModelName, e.Method)
}

func (e *NotFittedError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "NotFittedError").Str("model_name", e.ModelName).Str("method", e.Method)
}

// DimensionError reports a shape mismatch. Axis 0 counts rows, axis 1 features.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int
}

func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

func (e *DimensionError) Error() string {
	what := "features"
	if e.Axis == 0 {
		what = "rows"
	}
	return fmt.Sprintf("scitune: %s: want %d %s, got %d", e.Op, e.Expected, what, e.Got)
}

func (e *DimensionError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "DimensionError").
		Str("operation", e.Op).
		Int("axis", e.Axis).
		Int("expected", e.Expected).
		Int("got", e.Got)
}

// ValidationError rejects a parameter or config value.
type ValidationError struct {
	ParamName string
	Reason    string
	Value     any
}

func NewValidationError(param, reason string, value any) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scitune: invalid %s=%v: %s", e.ParamName, e.Value, e.Reason)
}

func (e *ValidationError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "ValidationError").
		Str("param_name", e.ParamName).
		Interface("value", e.Value).
		Str("reason", e.Reason)
}

// ValueError is an unusable argument that is not a named parameter.
type ValueError struct {
	Op      string
	Message string
}

func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

func (e *ValueError) Error() string { return "scitune: " + e.Op + ": " + e.Message }

// NumericalInstabilityError は NaN/Inf の値。目的関数の戻り値に使われると
// そのトライアルは FAIL になる。
type NumericalInstabilityError struct {
	Op    string
	Value float64
	Trial int
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("scitune: %s: non-finite value %v in trial %d", e.Op, e.Value, e.Trial)
}

func (e *NumericalInstabilityError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "NumericalInstabilityError").
		Str("operation", e.Op).
		Float64("value", e.Value).
		Int("trial", e.Trial)
}

// CheckScalar returns a NumericalInstabilityError when v is NaN or ±Inf.
func CheckScalar(op string, v float64, trial int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.WithStack(&NumericalInstabilityError{Op: op, Value: v, Trial: trial})
	}
	return nil
}

// TrialError wraps the cause of a FAIL trial.
type TrialError struct {
	Study  string
	Number int
	Err    error
}

func NewTrialError(study string, number int, err error) error {
	return errors.WithStack(&TrialError{Study: study, Number: number, Err: err})
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("scitune: %s#%d failed: %v", e.Study, e.Number, e.Err)
}

func (e *TrialError) Unwrap() error { return e.Err }

func (e *TrialError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "TrialError").
		Str("study", e.Study).
		Int("trial", e.Number).
		Str("cause", fmt.Sprint(e.Err))
}

// StorageError はトライアル履歴の永続化で起きた失敗。
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	return errors.WithStack(&StorageError{Op: op, Err: err})
}

func (e *StorageError) Error() string { return "scitune: storage " + e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", "StorageError").Str("operation", e.Op).Str("cause", fmt.Sprint(e.Err))
}
