package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// recorder is the JSON-lines sink shared by a TestLogger and its children.
type recorder struct {
	mu  sync.Mutex
	out *bytes.Buffer
}

func (r *recorder) write(entry map[string]any) {
	line, _ := json.Marshal(entry)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out.Write(line)
	r.out.WriteByte('\n')
}

func (r *recorder) snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.String()
}

// TestLogger records every entry as one JSON object per line.
//
//	logger, buf := log.NewTestLogger(log.LevelDebug)
//	study, _ := tune.CreateStudy(ctx, "s", tune.WithLogger(logger))
//	...
//	logger.ContainsField(log.StudyKey, "s")
type TestLogger struct {
	rec   *recorder
	level Level
	bound map[string]any
}

func NewTestLogger(level Level) (*TestLogger, *bytes.Buffer) {
	rec := &recorder{out: &bytes.Buffer{}}
	return &TestLogger{rec: rec, level: level, bound: map[string]any{}}, rec.out
}

func (t *TestLogger) Debug(msg string, fields ...any) { t.log(LevelDebug, msg, fields) }
func (t *TestLogger) Info(msg string, fields ...any)  { t.log(LevelInfo, msg, fields) }
func (t *TestLogger) Warn(msg string, fields ...any)  { t.log(LevelWarn, msg, fields) }
func (t *TestLogger) Error(msg string, fields ...any) { t.log(LevelError, msg, fields) }

func (t *TestLogger) With(fields ...any) Logger {
	bound := make(map[string]any, len(t.bound)+len(fields)/2)
	for k, v := range t.bound {
		bound[k] = v
	}
	mergeFields(bound, fields)
	return &TestLogger{rec: t.rec, level: t.level, bound: bound}
}

func (t *TestLogger) Enabled(_ context.Context, level Level) bool {
	return level >= t.level
}

func (t *TestLogger) log(level Level, msg string, fields []any) {
	if level < t.level {
		return
	}
	entry := map[string]any{"level": level.String(), "message": msg}
	for k, v := range t.bound {
		entry[k] = v
	}
	mergeFields(entry, fields)
	t.rec.write(entry)
}

// mergeFields copies key/value pairs into dst. A leading error is stored
// under ErrAttrKey, and errors are flattened to their message.
func mergeFields(dst map[string]any, fields []any) {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			dst[ErrAttrKey] = err.Error()
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		v := fields[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		dst[fmt.Sprint(fields[i])] = v
	}
}

// GetLogEntries decodes the recorded lines.
func (t *TestLogger) GetLogEntries() ([]map[string]any, error) {
	var entries []map[string]any
	for _, line := range strings.Split(t.rec.snapshot(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (t *TestLogger) ContainsMessage(substr string) bool {
	return strings.Contains(t.rec.snapshot(), substr)
}

// ContainsField reports whether any entry has key == value. Numbers come back
// from JSON as float64.
func (t *TestLogger) ContainsField(key string, value any) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if v, ok := e[key]; ok && v == value {
			return true
		}
	}
	return false
}

func (t *TestLogger) Clear() {
	t.rec.mu.Lock()
	defer t.rec.mu.Unlock()
	t.rec.out.Reset()
}

// TestLoggerProvider hands out TestLoggers that share one recorder.
type TestLoggerProvider struct {
	root *TestLogger
}

func NewTestLoggerProvider(level Level) (*TestLoggerProvider, *bytes.Buffer) {
	root, buf := NewTestLogger(level)
	return &TestLoggerProvider{root: root}, buf
}

func (p *TestLoggerProvider) GetLogger() Logger { return p.root }

func (p *TestLoggerProvider) GetLoggerWithName(name string) Logger {
	return p.root.With(ComponentKey, name)
}

// SetLevel only affects loggers obtained afterwards.
func (p *TestLoggerProvider) SetLevel(level Level) { p.root.level = level }

// Logger exposes the root logger for assertions.
func (p *TestLoggerProvider) Logger() *TestLogger { return p.root }
