// Package errors は scitune 全体で使うエラー型と警告の仕組みです。
//
// 型付きエラーはすべて cockroachdb/errors のスタックトレース付きで生成され、
// zerolog には MarshalZerologObject で構造化されて出力されます。Code は
// ログの error.code と Temporal のエラー種別に使う安定した識別子を返します。
package errors

import (
	"github.com/cockroachdb/errors"
)

// Stable error codes.
const (
	CodeNotFitted         = "NOT_FITTED"
	CodeDimensionMismatch = "DIMENSION_MISMATCH"
	CodeEmptyData         = "EMPTY_DATA"
	CodeValidation        = "VALIDATION"
	CodeInvalidValue      = "INVALID_VALUE"
	CodeNumerical         = "NUMERICAL_INSTABILITY"
	CodePanic             = "PANIC"
	CodeTrialFailed       = "TRIAL_FAILED"
	CodeStorage           = "STORAGE"
	CodeNotFound          = "NOT_FOUND"
)

var (
	ErrEmptyData         = New("empty data")
	ErrNoCompletedTrials = New("no completed trials")
	ErrStudyNotFound     = New("study not found")
	ErrTrialNotFound     = New("trial not found")
	// ErrTrialFinished は終了済みトライアルへの書き込み。
	ErrTrialFinished = New("trial already finished")
)

// Code classifies err. The outermost typed error wins, so a TrialError
// caused by a panic is TRIAL_FAILED. Unknown errors yield "".
func Code(err error) string {
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		switch e.(type) {
		case *TrialError:
			return CodeTrialFailed
		case *StorageError:
			return CodeStorage
		case *NotFittedError:
			return CodeNotFitted
		case *DimensionError:
			return CodeDimensionMismatch
		case *ValidationError:
			return CodeValidation
		case *ValueError:
			return CodeInvalidValue
		case *NumericalInstabilityError:
			return CodeNumerical
		case *PanicError:
			return CodePanic
		}
		switch {
		case e == ErrEmptyData:
			return CodeEmptyData
		case e == ErrStudyNotFound, e == ErrTrialNotFound:
			return CodeNotFound
		}
	}
	return ""
}

// 以下は cockroachdb/errors の薄いラッパー。呼び出し側は標準 errors を import しない。

func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(msg string) error { return errors.New(msg) }
func Newf(format string, args ...any) error { return errors.Newf(format, args...) }
func WithStack(err error) error { return errors.WithStack(err) }

// Wrap annotates err with msg. It returns nil for a nil err.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}
