package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	scierrors "github.com/YuminosukeSato/scitune/pkg/errors"
)

func TestTestLogger_RecordsFields(t *testing.T) {
	rec, buf := NewTestLogger(LevelDebug)

	rec.Debug("candidate scored", "candidate", "c1", "score", 42)
	rec.Info("study created", DirectionKey, "maximize")
	rec.Warn("slow trial", DurationSecondsKey, 12.5)
	rec.Error("trial failed", fmt.Errorf("objective returned NaN"), BackendKey, "pool")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	checks := []struct {
		key  string
		want any
	}{
		{"candidate", "c1"},
		{"score", 42.0},
		{DirectionKey, "maximize"},
		{DurationSecondsKey, 12.5},
		{ErrAttrKey, "objective returned NaN"},
		{BackendKey, "pool"},
		{"level", "WARN"},
	}
	for _, c := range checks {
		if !rec.ContainsField(c.key, c.want) {
			t.Errorf("no entry with %s=%v", c.key, c.want)
		}
	}
}

func TestTestLogger_WithAndLevel(t *testing.T) {
	rec, _ := NewTestLogger(LevelInfo)
	ctx := context.Background()

	study := rec.With(StudyKey, "rf-accuracy", SamplerKey, "gp")
	study.Debug("sampling relative", TrialNumberKey, 1)
	study.Info("trial finished", TrialNumberKey, 2)
	rec.Info("unbound")

	if rec.Enabled(ctx, LevelDebug) || !study.Enabled(ctx, LevelWarn) {
		t.Error("Enabled should follow the minimum level")
	}
	if rec.ContainsMessage("sampling relative") {
		t.Error("debug entry recorded at info level")
	}
	entries, err := rec.GetLogEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0][StudyKey] != "rf-accuracy" || entries[0][TrialNumberKey] != 2.0 {
		t.Errorf("bound fields missing: %v", entries[0])
	}
	if _, ok := entries[1][StudyKey]; ok {
		t.Error("With must not leak into the parent logger")
	}

	rec.Clear()
	if rec.ContainsMessage("unbound") {
		t.Error("Clear should drop recorded entries")
	}
}

func TestTestLoggerProvider_Names(t *testing.T) {
	provider, buf := NewTestLoggerProvider(LevelDebug)

	provider.GetLogger().Info("root entry")
	provider.GetLoggerWithName("cluster").Info("worker started")

	if !strings.Contains(buf.String(), `"component":"cluster"`) {
		t.Errorf("component not recorded: %s", buf.String())
	}
	if !provider.Logger().ContainsMessage("root entry") {
		t.Error("root logger entry missing")
	}
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)

	const workers, perWorker = 4, 5
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				testLogger.Info("trial", WorkerIDKey, id, TrialNumberKey, j)
			}
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) != workers*perWorker {
		t.Errorf("Expected %d log entries, got %d", workers*perWorker, len(entries))
	}
}

func TestZerologProvider(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(&buf, LevelInfo)

	logger := p.GetLoggerWithName("bench")
	logger.Debug("hidden")
	logger.Info("backend timed", BackendKey, "thread-pool", DurationSecondsKey, 1.5)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "backend timed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry[ComponentKey] != "bench" {
		t.Errorf("component = %v", entry[ComponentKey])
	}
	if entry[BackendKey] != "thread-pool" {
		t.Errorf("backend = %v", entry[BackendKey])
	}
	if entry[DurationSecondsKey] != 1.5 {
		t.Errorf("duration = %v", entry[DurationSecondsKey])
	}

	p.SetLevel(LevelDebug)
	if !p.GetLogger().Enabled(context.Background(), LevelDebug) {
		t.Error("debug should be enabled after SetLevel")
	}
}

func TestZerologProvider_ErrorStack(t *testing.T) {
	var buf bytes.Buffer
	p := NewZerologProvider(&buf, LevelInfo)

	p.GetLogger().Error("trial failed", scierrors.NewTrialError("s", 1, fmt.Errorf("boom")), TrialNumberKey, 1)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(fmt.Sprint(entry["error"]), "boom") {
		t.Errorf("error field = %v", entry["error"])
	}
	if _, ok := entry["stack"]; !ok {
		t.Error("expected stack field from cockroachdb stack trace")
	}
	if entry[ErrorCodeKey] != ErrorTrialFailed {
		t.Errorf("%s = %v", ErrorCodeKey, entry[ErrorCodeKey])
	}
}

func TestSetupLogger_ErrorDetails(t *testing.T) {
	var buf bytes.Buffer
	p := SetupLogger(&buf, "info")

	p.GetLoggerWithName("rdb").Error("migration failed", scierrors.NewStorageError("migrate", fmt.Errorf("locked")))

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["message"] != "migration failed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["severity"] != "ERROR" {
		t.Errorf("severity = %v", entry["severity"])
	}
	if s, _ := entry[StacktraceAttrKey].(string); s == "" {
		t.Error("expected stacktrace attribute")
	}
}

func TestWarnRoutesThroughProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	SetProvider(provider)
	defer SetProvider(NewZerologProvider(&bytes.Buffer{}, LevelInfo))

	scierrors.Warn(scierrors.NewUndefinedMetricWarning("accuracy", "empty fold", 0))

	if !provider.Logger().ContainsField(ComponentKey, "warnings") {
		t.Error("warning should be logged by the warnings component")
	}
	if !provider.Logger().ContainsMessage("ill-defined") {
		t.Error("warning message not logged")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func BenchmarkZerologTrialEntry(b *testing.B) {
	l := NewZerologProvider(io.Discard, LevelInfo).GetLoggerWithName("tune").With(StudyKey, "bench")
	for i := 0; i < b.N; i++ {
		l.Info("trial finished", TrialNumberKey, i, TrialValueKey, 0.93, BackendKey, "pool")
	}
}

func TestSetupLogger_TrialErrorAttributes(t *testing.T) {
	var buf bytes.Buffer
	p := SetupLogger(&buf, "warn")

	err := scierrors.NewTrialError("forest", 7, fmt.Errorf("diverged"))
	p.GetLogger().Warn("trial failed", err)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatal(err)
	}
	if entry[StudyKey] != "forest" {
		t.Errorf("%s = %v", StudyKey, entry[StudyKey])
	}
	if n, _ := entry[TrialNumberKey].(float64); n != 7 {
		t.Errorf("%s = %v", TrialNumberKey, entry[TrialNumberKey])
	}
	if entry[ErrorCodeKey] != ErrorTrialFailed {
		t.Errorf("%s = %v", ErrorCodeKey, entry[ErrorCodeKey])
	}
}
