package errors

import (
	"fmt"
	stdlog "log"
	"sync"

	"github.com/rs/zerolog"
)

// 警告の出力先。pkg/log が init で SetZerologWarnFunc を呼ぶまでは標準 log に出す。
var (
	warnMu   sync.Mutex
	warnSink func(error)
	fallback = func(w error) { stdlog.Printf("scitune-warning: %v", w) }
)

// SetZerologWarnFunc routes warnings to fn. pkg/log installs it at init so
// this package does not import the logger. nil restores the fallback.
func SetZerologWarnFunc(fn func(warning error)) {
	warnMu.Lock()
	defer warnMu.Unlock()
	warnSink = fn
}

// Warn reports a non-fatal condition such as an undefined metric.
func Warn(w error) {
	warnMu.Lock()
	sink := warnSink
	warnMu.Unlock()
	if sink == nil {
		sink = fallback
	}
	sink(w)
}

// UndefinedMetricWarning: 指標が定義できないので Result を代わりに返した。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64
}

func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("%s is ill-defined (%s); returning %g", w.Metric, w.Condition, w.Result)
}

func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", "UndefinedMetricWarning").
		Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result)
}
