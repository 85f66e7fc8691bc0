package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
		code string
	}{
		{"not fitted", NewNotFittedError("RandomForestClassifier", "Predict"),
			"scitune: RandomForestClassifier.Predict called before Fit", CodeNotFitted},
		{"dimension features", NewDimensionError("Predict", 10, 4, 1),
			"scitune: Predict: want 10 features, got 4", CodeDimensionMismatch},
		{"dimension rows", NewDimensionError("Fit", 100, 99, 0),
			"scitune: Fit: want 100 rows, got 99", CodeDimensionMismatch},
		{"validation", NewValidationError("n_estimators", "must be positive", 0),
			"scitune: invalid n_estimators=0: must be positive", CodeValidation},
		{"value", NewValueError("SuggestInt", "low 5 is greater than high 1"),
			"scitune: SuggestInt: low 5 is greater than high 1", CodeInvalidValue},
		{"trial", NewTrialError("rf-accuracy", 3, fmt.Errorf("boom")),
			"scitune: rf-accuracy#3 failed: boom", CodeTrialFailed},
		{"storage", NewStorageError("create study", ErrStudyNotFound),
			"scitune: storage create study: study not found", CodeStorage},
		{"sentinel", Wrapf(ErrEmptyData, "load %s", "x.csv"),
			"load x.csv: empty data", CodeEmptyData},
		{"not found", ErrTrialNotFound, "trial not found", CodeNotFound},
		{"plain", New("other"), "other", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestTrialError_UnwrapsAndCarriesStack(t *testing.T) {
	err := NewTrialError("s", 0, ErrEmptyData)

	var te *TrialError
	require.True(t, As(err, &te))
	assert.Equal(t, 0, te.Number)
	assert.True(t, Is(err, ErrEmptyData))
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
}

func TestCode_OutermostTypeWins(t *testing.T) {
	cause := SafeExecute("objective", func() error { panic("nan split") })
	assert.Equal(t, CodePanic, Code(cause))
	assert.Equal(t, CodeTrialFailed, Code(NewTrialError("s", 1, cause)))
	assert.Equal(t, "", Code(nil))
}

func TestCheckScalar(t *testing.T) {
	require.NoError(t, CheckScalar("objective", 0.93, 7))

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := CheckScalar("objective", v, 7)
		require.Error(t, err)
		var ne *NumericalInstabilityError
		require.True(t, As(err, &ne))
		assert.Equal(t, 7, ne.Trial)
		assert.Equal(t, CodeNumerical, Code(err))
	}
}

func TestWarn(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	w := NewUndefinedMetricWarning("AUC", "only one class present", 0.5)
	Warn(w)

	require.Len(t, got, 1)
	assert.Same(t, w, got[0])
	assert.True(t, strings.Contains(w.Error(), "ill-defined"))
}
