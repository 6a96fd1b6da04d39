package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"rtm/internal/config"
	"rtm/internal/jobs"
	"rtm/internal/metrics"
	"rtm/internal/model"
	"rtm/internal/slogutil"
	"rtm/internal/storage"
	"rtm/internal/versioning"
)

// app bundles what a command needs: configuration, loggers, the open
// database and the versioning service on top of it.
type app struct {
	root    string
	cfg     *config.Config
	loggers *slogutil.LoggerFactory
	logger  *slog.Logger
	db      *storage.DB
	service *versioning.Service
}

// workspaceRoot returns --root or the current directory.
func workspaceRoot() (string, error) {
	if root := flags.GetString("root"); root != "" {
		return root, nil
	}
	return os.Getwd()
}

// cliLevel turns -v/-q into a level override; zero leaves the configured
// level in place.
func cliLevel() slog.Level {
	if !quiet && verbosity == 0 {
		return 0
	}
	return slogutil.LevelFromVerbosity(verbosity, quiet)
}

// openApp loads the configuration and opens the database. collectors may
// be nil.
func openApp(collectors *metrics.Collectors) (*app, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loggers := slogutil.NewLoggerFactory(root, cfg, cliLevel(), nil)
	logger := loggers.Logger(slogutil.SubsystemCLI)

	db, err := storage.Open(cfg.DatabasePath(root), loggers.Logger(slogutil.SubsystemCommit), storage.Options{
		BusyTimeout:        time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
		CompressBodiesOver: cfg.Storage.CompressBodiesOver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &app{
		root:    root,
		cfg:     cfg,
		loggers: loggers,
		logger:  logger,
		db:      db,
		service: versioning.NewService(db, cfg, loggers.Logger(slogutil.SubsystemCommit), collectors),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err.Error())
	}
	_ = a.loggers.Close()
}

func (a *app) jobStore() *jobs.Store {
	return jobs.NewStore(a.db, a.loggers.Logger(slogutil.SubsystemJobs))
}

// project resolves the --project flag.
func (a *app) project(ctx context.Context, ref string) (*model.Project, error) {
	return a.service.FindProject(ctx, ref)
}

// version resolves a version ref ("1.2.0", "latest" or an id) in a project.
func (a *app) version(ctx context.Context, projectRef, versionRef string) (*model.Project, *model.ProjectVersion, error) {
	p, err := a.project(ctx, projectRef)
	if err != nil {
		return nil, nil, err
	}
	v, err := a.service.FindVersion(ctx, p.ID, versionRef)
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}

// render writes a response in the selected format to stdout.
func render(resp interface{}) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	out, err := FormatResponse(resp, format)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
