package slogutil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rtm/internal/config"
)

func TestHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Test message", "key", "value", "count", 42)

	output := buf.String()

	// Check format: TIMESTAMP [level] Message | key=value
	if !strings.Contains(output, "[info]") {
		t.Errorf("expected [info] in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message") {
		t.Errorf("expected 'Test message' in output, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected 'key=value' in output, got: %s", output)
	}
	if !strings.Contains(output, "count=42") {
		t.Errorf("expected 'count=42' in output, got: %s", output)
	}
	if !strings.Contains(output, " | ") {
		t.Errorf("expected ' | ' separator in output, got: %s", output)
	}
}

func TestHandler_Levels(t *testing.T) {
	tests := []struct {
		level    slog.Level
		logFunc  func(*slog.Logger)
		expected string
	}{
		{slog.LevelDebug, func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{slog.LevelInfo, func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{slog.LevelWarn, func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{slog.LevelError, func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, slog.LevelDebug) // Enable all levels
			tt.logFunc(logger)

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("expected %s in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should be included")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error message should be included")
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default
		{"", slog.LevelInfo},        // default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := LevelFromString(tt.input)
			if got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{0, true, slog.Level(100)}, // silent
		{5, true, slog.Level(100)}, // quiet overrides verbosity
	}

	for _, tt := range tests {
		got := LevelFromVerbosity(tt.verbosity, tt.quiet)
		if got != tt.expected {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v",
				tt.verbosity, tt.quiet, got, tt.expected)
		}
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()

	// Should not panic
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
}

func TestTeeHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := NewHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := NewHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewTeeHandler(h1, h2))
	logger.Info("info message")
	logger.Warn("warn message")

	// buf1 should have both (info level)
	if !strings.Contains(buf1.String(), "info message") {
		t.Error("buf1 should contain info message")
	}
	if !strings.Contains(buf1.String(), "warn message") {
		t.Error("buf1 should contain warn message")
	}

	// buf2 should only have warn (warn level)
	if strings.Contains(buf2.String(), "info message") {
		t.Error("buf2 should not contain info message")
	}
	if !strings.Contains(buf2.String(), "warn message") {
		t.Error("buf2 should contain warn message")
	}
}

func TestHandler_Subsystem(t *testing.T) {
	var buf bytes.Buffer
	logger := Subsystem(NewLogger(&buf, slog.LevelInfo), "commit")

	logger.Info("Commit completed", "accepted", 3)

	output := buf.String()
	if !strings.Contains(output, "(commit) Commit completed") {
		t.Errorf("expected subsystem before message, got: %s", output)
	}
	if strings.Contains(output, "subsystem=") {
		t.Errorf("subsystem should not be repeated in the attribute tail, got: %s", output)
	}
}

func TestHandler_GroupsAndQuoting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).WithGroup("matrix")

	logger.Info("Entry adjusted", slog.Group("pair", "source", "Requirement", "target", "Design"), "note", "two words")

	output := buf.String()
	for _, want := range []string{"matrix.pair.source=Requirement", "matrix.pair.target=Design", `matrix.note="two words"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestNewFormatLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFormatLogger(&buf, "json", slog.LevelInfo)

	logger.Info("hello", "count", 2)

	output := buf.String()
	if !strings.HasPrefix(output, "{") || !strings.Contains(output, `"count":2`) {
		t.Errorf("expected JSON output, got: %s", output)
	}
}

func TestLoggerFactory_EffectiveLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Commit = "debug"

	var buf bytes.Buffer
	factory := NewLoggerFactory("", cfg, 0, &buf)
	defer factory.Close()

	factory.Logger(SubsystemCommit).Debug("commit debug")
	factory.Logger(SubsystemJobs).Info("jobs info")
	factory.Logger(SubsystemJobs).Warn("jobs warn")

	output := buf.String()
	if !strings.Contains(output, "commit debug") {
		t.Error("commit subsystem override should enable debug")
	}
	if strings.Contains(output, "jobs info") {
		t.Error("jobs subsystem should fall back to the global warn level")
	}
	if !strings.Contains(output, "jobs warn") {
		t.Error("jobs warn should be logged")
	}
}

func TestLoggerFactory_FileLogger(t *testing.T) {
	root := t.TempDir()
	var buf bytes.Buffer
	factory := NewLoggerFactory(root, config.DefaultConfig(), 0, &buf)

	factory.FileLogger(SubsystemJobs).Info("worker started")
	if err := factory.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".rtm", "logs", "jobs.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "worker started") {
		t.Errorf("log file missing record: %s", data)
	}
	if !strings.Contains(buf.String(), "worker started") {
		t.Errorf("console output missing record: %s", buf.String())
	}
}
