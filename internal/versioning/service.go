package versioning

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rtm/internal/config"
	rtmerrors "rtm/internal/errors"
	"rtm/internal/matrix"
	"rtm/internal/metrics"
	"rtm/internal/model"
	"rtm/internal/storage"
)

// Service is the entry point for everything that reads or writes project
// history: projects and versions, commits, as-of snapshots, deltas and the
// trace matrix.
type Service struct {
	*stores
	engine  *Engine
	matrix  *matrix.Maintainer
	locks   *ProjectLocks
	metrics *metrics.Collectors
	logger  *slog.Logger
}

// NewService wires a service over an open database. collectors may be nil.
func NewService(db *storage.DB, cfg *config.Config, logger *slog.Logger, collectors *metrics.Collectors) *Service {
	epsilon := model.DefaultScoreEpsilon
	if cfg != nil {
		epsilon = cfg.Commit.ScoreEpsilon
	}
	st := newStores(db, epsilon)
	maintainer := matrix.NewMaintainer(st.matrixStore, logger)
	locks := NewProjectLocks()
	return &Service{
		stores:  st,
		engine:  newEngine(st, maintainer, locks, collectors, logger),
		matrix:  maintainer,
		locks:   locks,
		metrics: collectors,
		logger:  logger,
	}
}

// Engine returns the commit engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// CreateProject registers a new project.
func (s *Service) CreateProject(ctx context.Context, name, description string) (*model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, rtmerrors.New(rtmerrors.InvalidArgument, "project name is empty")
	}
	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.projects.Create(ctx, s.db.Conn(), p); err != nil {
		return nil, err
	}
	s.logger.Info("Created project", "project", p.Name, "id", p.ID)
	return p, nil
}

// ListProjects returns every project ordered by name.
func (s *Service) ListProjects(ctx context.Context) ([]model.Project, error) {
	return s.projects.List(ctx, s.db.Conn())
}

// FindProject looks a project up by id or by name.
func (s *Service) FindProject(ctx context.Context, ref string) (*model.Project, error) {
	q := s.db.Conn()
	p, err := s.projects.FindByID(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if p, err = s.projects.FindByName(ctx, q, ref); err != nil {
			return nil, err
		}
	}
	if p == nil {
		return nil, rtmerrors.Newf(rtmerrors.ProjectNotFound, "project %q not found", ref)
	}
	return p, nil
}

// CreateVersion adds a version with an explicit number. Its trace matrix
// starts as a copy of its predecessor's.
func (s *Service) CreateVersion(ctx context.Context, projectID string, major, minor, revision int) (*model.ProjectVersion, error) {
	if _, err := model.VersionRank(major, minor, revision); err != nil {
		return nil, rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid version", err)
	}
	unlock := s.locks.Lock(projectID)
	defer unlock()

	v := &model.ProjectVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Major:     major,
		Minor:     minor,
		Revision:  revision,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.insertVersion(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created version", "project", projectID, "version", v.String(), "id", v.ID)
	return v, nil
}

// NextVersion creates the version following the project's latest one. The
// first version of a project is 1.0.0 regardless of the increment.
func (s *Service) NextVersion(ctx context.Context, projectID string, inc model.VersionIncrement) (*model.ProjectVersion, error) {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	v := &model.ProjectVersion{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		latest, err := s.versions.Latest(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if latest == nil {
			v.Major, v.Minor, v.Revision = 1, 0, 0
		} else {
			v.Major, v.Minor, v.Revision = latest.Next(inc)
		}
		return s.insertVersion(ctx, tx, v)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created version", "project", projectID, "version", v.String(), "id", v.ID)
	return v, nil
}

func (s *Service) insertVersion(ctx context.Context, tx *sql.Tx, v *model.ProjectVersion) error {
	p, err := s.projects.FindByID(ctx, tx, v.ProjectID)
	if err != nil {
		return err
	}
	if p == nil {
		return rtmerrors.Newf(rtmerrors.ProjectNotFound, "project %s not found", v.ProjectID)
	}
	if err := s.versions.Create(ctx, tx, v); err != nil {
		return err
	}
	predecessor, err := s.versions.Previous(ctx, tx, v.ProjectID, v.Rank())
	if err != nil {
		return err
	}
	return s.matrix.Seed(ctx, tx, *v, predecessor)
}

// ListVersions returns a project's versions in ascending order.
func (s *Service) ListVersions(ctx context.Context, projectID string) ([]model.ProjectVersion, error) {
	return s.versions.List(ctx, s.db.Conn(), projectID)
}

// FindVersion resolves a version id, "major.minor.revision" or "latest"
// within a project.
func (s *Service) FindVersion(ctx context.Context, projectID, ref string) (*model.ProjectVersion, error) {
	v, err := s.versions.ParseVersionRef(ctx, s.db.Conn(), projectID, ref)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, rtmerrors.Newf(rtmerrors.VersionNotFound, "version %s not found", ref)
	}
	return v, nil
}

func (s *Service) requireVersion(ctx context.Context, versionID string) (*model.ProjectVersion, error) {
	v, err := s.versions.FindByID(ctx, s.db.Conn(), versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, rtmerrors.Newf(rtmerrors.VersionNotFound, "version %s not found", versionID)
	}
	return v, nil
}

// Commit applies a commit request. See Engine.Commit.
func (s *Service) Commit(ctx context.Context, req model.CommitRequest) (*model.CommitResult, error) {
	return s.engine.Commit(ctx, req)
}

// ResolveProjectAt reconstructs every artifact and trace link present at a
// version.
func (s *Service) ResolveProjectAt(ctx context.Context, versionID string) (_ *model.ProjectSnapshot, err error) {
	ctx, span := startResolveSpan(ctx, versionID)
	defer func() { endSpan(span, err) }()

	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	var artifacts map[string]model.Artifact
	var links map[string]model.TraceLink
	err = s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		var err error
		if artifacts, err = s.artifacts.ResolveProject(ctx, tx, *version); err != nil {
			return err
		}
		s.metrics.ObserveResolve(model.KindArtifact, time.Since(start))

		start = time.Now()
		if links, err = s.links.ResolveProject(ctx, tx, *version); err != nil {
			return err
		}
		s.metrics.ObserveResolve(model.KindTraceLink, time.Since(start))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model.ProjectSnapshot{Version: *version, Artifacts: artifacts, TraceLinks: links}, nil
}

// ResolveArtifactAt returns one artifact as of a version, or nil when it is
// absent there.
func (s *Service) ResolveArtifactAt(ctx context.Context, versionID, baseID string) (*model.Artifact, error) {
	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	q := s.db.Conn()
	row, err := s.artifacts.ResolveEntity(ctx, q, *version, baseID)
	if err != nil || row == nil {
		return nil, err
	}
	base, err := s.artifactRegistry.FindByID(ctx, q, baseID)
	if err != nil || base == nil {
		return nil, err
	}
	a := artifactView(*base, row.Content)
	return &a, nil
}

// ResolveTraceLinkAt returns one trace link as of a version, or nil when it
// is absent there.
func (s *Service) ResolveTraceLinkAt(ctx context.Context, versionID, baseID string) (*model.TraceLink, error) {
	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	q := s.db.Conn()
	row, err := s.links.ResolveEntity(ctx, q, *version, baseID)
	if err != nil || row == nil {
		return nil, err
	}
	l, err := s.linkRegistry.FindByID(ctx, q, baseID)
	if err != nil || l == nil {
		return nil, err
	}
	source, err := s.artifactRegistry.FindByID(ctx, q, l.SourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.artifactRegistry.FindByID(ctx, q, l.TargetID)
	if err != nil {
		return nil, err
	}
	if source == nil || target == nil {
		return nil, rtmerrors.Newf(rtmerrors.InternalError, "trace link %s has a dangling endpoint", baseID)
	}
	link := traceLinkView(*l, *source, *target, row.Content)
	return &link, nil
}

// History returns every row recorded for an artifact, oldest first.
func (s *Service) History(ctx context.Context, baseID string) ([]model.ArtifactVersion, error) {
	return s.artifactLog.FindAllForBase(ctx, s.db.Conn(), baseID)
}

// GetAggregate returns one trace matrix cell. A missing cell is all zeros.
func (s *Service) GetAggregate(ctx context.Context, versionID, sourceType, targetType string) (model.MatrixCounts, error) {
	if _, err := s.requireVersion(ctx, versionID); err != nil {
		return model.MatrixCounts{}, err
	}
	pair := model.TypePair{SourceType: sourceType, TargetType: targetType}
	return s.matrix.Get(ctx, s.db.Conn(), versionID, pair)
}

// ListAggregates returns every non-empty trace matrix cell of a version.
func (s *Service) ListAggregates(ctx context.Context, versionID string) ([]model.MatrixEntry, error) {
	if _, err := s.requireVersion(ctx, versionID); err != nil {
		return nil, err
	}
	return s.matrix.List(ctx, s.db.Conn(), versionID)
}

// RecomputeAggregates tallies the trace matrix of a version from the log.
func (s *Service) RecomputeAggregates(ctx context.Context, versionID string) ([]model.MatrixEntry, error) {
	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	links, err := s.links.ResolveProject(ctx, s.db.Conn(), *version)
	if err != nil {
		return nil, err
	}
	return matrix.Tally(version.ID, links), nil
}

// VerifyAggregates compares the stored trace matrix of a version with a
// recomputation. An empty result means they agree.
func (s *Service) VerifyAggregates(ctx context.Context, versionID string) ([]matrix.Mismatch, error) {
	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	var mismatches []matrix.Mismatch
	err = s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		links, err := s.links.ResolveProject(ctx, tx, *version)
		if err != nil {
			return err
		}
		mismatches, err = s.matrix.Verify(ctx, tx, *version, links)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mismatches, nil
}

// RebuildAggregates replaces the stored trace matrix of a version with a
// recomputation and returns the new cells.
func (s *Service) RebuildAggregates(ctx context.Context, versionID string) ([]model.MatrixEntry, error) {
	version, err := s.requireVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(version.ProjectID)
	defer unlock()

	var entries []model.MatrixEntry
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		links, err := s.links.ResolveProject(ctx, tx, *version)
		if err != nil {
			return err
		}
		entries, err = s.matrix.Rebuild(ctx, tx, *version, links)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ProjectStats summarizes a version's snapshot. The memo may be shared by
// the callers of one request so repeated lookups resolve the snapshot once;
// pass nil to compute directly.
func (s *Service) ProjectStats(ctx context.Context, memo *StatsMemo, versionID string) (model.ProjectStats, error) {
	if memo == nil {
		return s.computeStats(ctx, versionID)
	}
	return memo.get(ctx, versionID, s.computeStats)
}

func (s *Service) computeStats(ctx context.Context, versionID string) (model.ProjectStats, error) {
	snapshot, err := s.ResolveProjectAt(ctx, versionID)
	if err != nil {
		return model.ProjectStats{}, err
	}
	return Stats(snapshot), nil
}

// Stats summarizes a snapshot.
func Stats(snapshot *model.ProjectSnapshot) model.ProjectStats {
	stats := model.ProjectStats{
		Artifacts:       len(snapshot.Artifacts),
		ArtifactsByType: make(map[string]int),
		TraceLinks:      len(snapshot.TraceLinks),
	}
	for _, a := range snapshot.Artifacts {
		stats.ArtifactsByType[a.Type]++
	}
	for _, l := range snapshot.TraceLinks {
		if model.CountsAsGenerated(l.TraceType) {
			stats.GeneratedLinks++
		}
		if model.CountsAsApproved(l.TraceType, l.Approval) {
			stats.ApprovedLinks++
		}
	}
	return stats
}
