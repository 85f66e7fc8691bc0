package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	scierrors "github.com/YuminosukeSato/scitune/pkg/errors"
)

// errorDetailHandler enriches records that carry an ErrAttr with the
// cockroachdb stack trace and the scitune error code. Failed trials also get
// the study and trial number.
type errorDetailHandler struct {
	next slog.Handler
}

func newErrorDetailHandler(next slog.Handler) slog.Handler {
	return errorDetailHandler{next: next}
}

func (h errorDetailHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h errorDetailHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := recordError(r); err != nil {
		r.AddAttrs(errorDetails(err)...)
	}
	return h.next.Handle(ctx, r)
}

func (h errorDetailHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return errorDetailHandler{next: h.next.WithAttrs(attrs)}
}

func (h errorDetailHandler) WithGroup(name string) slog.Handler {
	return errorDetailHandler{next: h.next.WithGroup(name)}
}

// recordError returns the first error-valued ErrAttrKey attribute of r.
func recordError(r slog.Record) error {
	var found error
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != ErrAttrKey {
			return true
		}
		found, _ = a.Value.Any().(error)
		return false
	})
	return found
}

func errorDetails(err error) []slog.Attr {
	var attrs []slog.Attr
	if st := extractStacktrace(err); st != "" {
		attrs = append(attrs, slog.String(StacktraceAttrKey, st))
	}
	if code := scierrors.Code(err); code != "" {
		attrs = append(attrs, slog.String(ErrorCodeKey, code))
	}
	var te *scierrors.TrialError
	if errors.As(err, &te) {
		attrs = append(attrs, slog.String(StudyKey, te.Study), slog.Int(TrialNumberKey, te.Number))
	}
	return attrs
}

// extractStacktrace returns the first safe detail recorded by
// cockroachdb/errors, which is the formatted stack of the innermost WithStack.
func extractStacktrace(err error) string {
	if d := errors.GetSafeDetails(err).SafeDetails; len(d) > 0 {
		return d[0]
	}
	return ""
}
