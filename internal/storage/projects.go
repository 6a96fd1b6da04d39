package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// ProjectRepository provides access to the projects table
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a new project. Names are unique case-insensitively.
func (r *ProjectRepository) Create(ctx context.Context, q Querier, p *model.Project) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO projects (id, name, name_key, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, model.ArtifactKey(p.Name), p.Description, formatTime(p.CreatedAt))
	if err != nil {
		if IsUniqueError(err) {
			return rtmerrors.Newf(rtmerrors.ProjectExists, "project %q already exists", p.Name)
		}
		return storageErr("failed to create project", err)
	}
	return nil
}

const projectColumns = `id, name, description, created_at`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	var p model.Project
	var createdAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	return &p, nil
}

// FindByID retrieves a project, or nil when it does not exist.
func (r *ProjectRepository) FindByID(ctx context.Context, q Querier, id string) (*model.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get project", err)
	}
	return p, nil
}

// FindByName retrieves a project by case-insensitive name, or nil.
func (r *ProjectRepository) FindByName(ctx context.Context, q Querier, name string) (*model.Project, error) {
	p, err := scanProject(q.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE name_key = ?`, model.ArtifactKey(name)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get project", err)
	}
	return p, nil
}

// List returns all projects ordered by name.
func (r *ProjectRepository) List(ctx context.Context, q Querier) ([]model.Project, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name_key`)
	if err != nil {
		return nil, storageErr("failed to list projects", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, storageErr("failed to scan project", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate projects", err)
	}
	return projects, nil
}

// VersionRepository provides access to the project_versions table
type VersionRepository struct {
	db *DB
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Create inserts a new project version. A triple already used in the project
// yields VERSION_EXISTS.
func (r *VersionRepository) Create(ctx context.Context, q Querier, v *model.ProjectVersion) error {
	rank, err := model.VersionRank(v.Major, v.Minor, v.Revision)
	if err != nil {
		return rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid version", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO project_versions (id, project_id, major, minor, revision, rank, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.ProjectID, v.Major, v.Minor, v.Revision, rank, formatTime(v.CreatedAt))
	if err != nil {
		if IsUniqueError(err) {
			return rtmerrors.Newf(rtmerrors.VersionExists, "version %s already exists", v.String())
		}
		return storageErr("failed to create version", err)
	}
	return nil
}

const versionColumns = `id, project_id, major, minor, revision, created_at`

func scanVersion(row interface{ Scan(...any) error }) (*model.ProjectVersion, error) {
	var v model.ProjectVersion
	var createdAt string
	if err := row.Scan(&v.ID, &v.ProjectID, &v.Major, &v.Minor, &v.Revision, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = t
	return &v, nil
}

func (r *VersionRepository) queryOne(ctx context.Context, q Querier, query string, args ...any) (*model.ProjectVersion, error) {
	v, err := scanVersion(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get version", err)
	}
	return v, nil
}

func (r *VersionRepository) queryMany(ctx context.Context, q Querier, query string, args ...any) ([]model.ProjectVersion, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to list versions", err)
	}
	defer rows.Close()

	var versions []model.ProjectVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storageErr("failed to scan version", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate versions", err)
	}
	return versions, nil
}

// FindByID retrieves a version, or nil when it does not exist.
func (r *VersionRepository) FindByID(ctx context.Context, q Querier, id string) (*model.ProjectVersion, error) {
	return r.queryOne(ctx, q, `SELECT `+versionColumns+` FROM project_versions WHERE id = ?`, id)
}

// FindByTriple retrieves a version by its number, or nil.
func (r *VersionRepository) FindByTriple(ctx context.Context, q Querier, projectID string, major, minor, revision int) (*model.ProjectVersion, error) {
	rank, err := model.VersionRank(major, minor, revision)
	if err != nil {
		return nil, rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid version", err)
	}
	return r.queryOne(ctx, q, `
		SELECT `+versionColumns+` FROM project_versions WHERE project_id = ? AND rank = ?
	`, projectID, rank)
}

// List returns the versions of a project in ascending order.
func (r *VersionRepository) List(ctx context.Context, q Querier, projectID string) ([]model.ProjectVersion, error) {
	return r.queryMany(ctx, q, `
		SELECT `+versionColumns+` FROM project_versions WHERE project_id = ? ORDER BY rank
	`, projectID)
}

// Latest returns the greatest version of a project, or nil for a project
// without versions.
func (r *VersionRepository) Latest(ctx context.Context, q Querier, projectID string) (*model.ProjectVersion, error) {
	return r.queryOne(ctx, q, `
		SELECT `+versionColumns+` FROM project_versions
		WHERE project_id = ? ORDER BY rank DESC LIMIT 1
	`, projectID)
}

// Previous returns the greatest version strictly before rank, or nil.
func (r *VersionRepository) Previous(ctx context.Context, q Querier, projectID string, rank int64) (*model.ProjectVersion, error) {
	return r.queryOne(ctx, q, `
		SELECT `+versionColumns+` FROM project_versions
		WHERE project_id = ? AND rank < ? ORDER BY rank DESC LIMIT 1
	`, projectID, rank)
}

// Later returns every version strictly after rank, ascending.
func (r *VersionRepository) Later(ctx context.Context, q Querier, projectID string, rank int64) ([]model.ProjectVersion, error) {
	return r.queryMany(ctx, q, `
		SELECT `+versionColumns+` FROM project_versions
		WHERE project_id = ? AND rank > ? ORDER BY rank
	`, projectID, rank)
}

// ParseVersionRef accepts a version id, a "major.minor.revision" triple or
// "latest" and resolves it within the project.
func (r *VersionRepository) ParseVersionRef(ctx context.Context, q Querier, projectID, ref string) (*model.ProjectVersion, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, rtmerrors.New(rtmerrors.InvalidArgument, "version reference is empty")
	}
	if strings.EqualFold(ref, "latest") {
		return r.Latest(ctx, q, projectID)
	}
	if major, minor, revision, err := model.ParseVersionTriple(ref); err == nil {
		v, err := r.FindByTriple(ctx, q, projectID, major, minor, revision)
		if err != nil || v != nil {
			return v, err
		}
	}
	v, err := r.FindByID(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	if v != nil && projectID != "" && v.ProjectID != projectID {
		return nil, fmt.Errorf("version %s belongs to another project: %w",
			ref, rtmerrors.New(rtmerrors.VersionOrdering, "version belongs to another project"))
	}
	return v, nil
}
