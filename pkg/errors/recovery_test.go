package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeExecute(t *testing.T) {
	cause := stderrors.New("singular matrix")
	tests := []struct {
		name    string
		fn      func() error
		wantMsg string
		panics  bool
	}{
		{"nil", func() error { return nil }, "", false},
		{"plain error", func() error { return cause }, "singular matrix", false},
		{"string panic", func() error { panic("index out of range") }, "panic in fit: index out of range", true},
		{"error panic", func() error { panic(cause) }, "panic in fit: singular matrix", true},
		{"int panic", func() error { panic(42) }, "panic in fit: 42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("fit", tt.fn)
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tt.wantMsg)

			var pe *PanicError
			assert.Equal(t, tt.panics, As(err, &pe))
			if tt.panics {
				assert.Equal(t, "fit", pe.Operation)
				assert.NotEmpty(t, pe.StackTrace)
				assert.Contains(t, pe.String(), "Stack trace:")
			}
		})
	}
}

func TestPanicError_UnwrapsErrorValue(t *testing.T) {
	cause := stderrors.New("cause")
	err := SafeExecute("objective", func() error { panic(cause) })
	assert.True(t, Is(err, cause))

	err = SafeExecute("objective", func() error { panic("not an error") })
	assert.Nil(t, stderrors.Unwrap(err))
}

func TestRecover_KeepsEarlierError(t *testing.T) {
	original := stderrors.New("original")
	fn := func() (err error) {
		defer Recover(&err, "objective")
		err = original
		panic("late panic")
	}

	err := fn()
	assert.True(t, Is(err, original))
	assert.Contains(t, err.Error(), "late panic")
}
