package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError carries a recovered panic value and the goroutine stack at the
// point of recovery. A panicking objective or tree builder ends up here, so
// the trial is recorded as FAIL instead of crashing the study.
type PanicError struct {
	Operation  string
	PanicValue any
	StackTrace string
}

func NewPanicError(operation string, value any) *PanicError {
	return &PanicError{Operation: operation, PanicValue: value, StackTrace: string(debug.Stack())}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap exposes an error panic value to Is and As.
func (e *PanicError) Unwrap() error {
	err, _ := e.PanicValue.(error)
	return err
}

// String は Error にスタックトレースを加えたもの。
func (e *PanicError) String() string {
	return e.Error() + "\nStack trace:\n" + e.StackTrace
}

// Recover must be deferred directly:
//
//	func fit() (err error) {
//		defer errors.Recover(&err, "fit")
//		...
//	}
//
// If *err was already set when the panic happened both are kept.
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	if *err == nil {
		*err = NewPanicError(operation, r)
		return
	}
	*err = fmt.Errorf("panic in %s: %v (original error: %w)", operation, r, *err)
}

// SafeExecute calls fn, converting a panic into *PanicError.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
