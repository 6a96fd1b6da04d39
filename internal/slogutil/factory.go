package slogutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"rtm/internal/config"
)

// Subsystem names with their own level overrides.
const (
	SubsystemCLI    = "cli"
	SubsystemCommit = "commit"
	SubsystemJobs   = "jobs"
)

// LoggerFactory creates appropriately configured loggers for different subsystems.
// It respects the configuration precedence: CLI flags > subsystem config > global config.
type LoggerFactory struct {
	root     string
	config   *config.Config
	cliLevel slog.Level // from CLI flags (0 means not set)
	out      io.Writer
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory writing to out (stderr when nil).
// cliLevel should be 0 if no CLI override was specified.
func NewLoggerFactory(root string, cfg *config.Config, cliLevel slog.Level, out io.Writer) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if out == nil {
		out = os.Stderr
	}
	return &LoggerFactory{
		root:     root,
		config:   cfg,
		cliLevel: cliLevel,
		out:      out,
	}
}

// Logger returns a logger for the subsystem writing to the factory's output.
func (f *LoggerFactory) Logger(subsystem string) *slog.Logger {
	level := f.effectiveLevel(subsystem)
	return Subsystem(NewFormatLogger(f.out, f.config.Logging.Format, level), subsystem)
}

// FileLogger returns a logger that writes to the factory's output and to
// <root>/.rtm/logs/<subsystem>.log. Used by long-running worker processes.
// Falls back to the plain logger if the file cannot be opened.
func (f *LoggerFactory) FileLogger(subsystem string) *slog.Logger {
	if f.root == "" {
		return f.Logger(subsystem)
	}
	dir := filepath.Join(f.root, config.DirName, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return f.Logger(subsystem)
	}

	level := f.effectiveLevel(subsystem)
	fileLogger, file, err := NewFileLogger(filepath.Join(dir, subsystem+".log"), f.config.Logging.Format, level)
	if err != nil {
		return f.Logger(subsystem)
	}
	f.closers = append(f.closers, file)

	console := NewFormatLogger(f.out, f.config.Logging.Format, level)
	return Subsystem(slog.New(NewTeeHandler(console.Handler(), fileLogger.Handler())), subsystem)
}

// effectiveLevel returns the effective log level for a subsystem.
// Precedence: CLI flag > subsystem config > global config > default (info)
func (f *LoggerFactory) effectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != 0 {
		return f.cliLevel
	}

	var subsystemLevel string
	switch subsystem {
	case SubsystemCommit:
		subsystemLevel = f.config.Logging.Commit
	case SubsystemJobs:
		subsystemLevel = f.config.Logging.Jobs
	}
	if subsystemLevel != "" {
		return LevelFromString(subsystemLevel)
	}

	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
