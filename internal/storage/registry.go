package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// ArtifactRegistry maps artifact natural keys to stable base identities.
// Rows are insert-only; each removal followed by a re-add mints a new
// generation under the same key.
type ArtifactRegistry struct {
	db *DB
}

// NewArtifactRegistry creates a new artifact registry
func NewArtifactRegistry(db *DB) *ArtifactRegistry {
	return &ArtifactRegistry{db: db}
}

// ValidateArtifactKey checks an artifact's natural key.
func ValidateArtifactKey(name, artifactType string) error {
	if strings.TrimSpace(name) == "" {
		return rtmerrors.New(rtmerrors.InvalidKey, "artifact name is empty")
	}
	if strings.TrimSpace(artifactType) == "" {
		return rtmerrors.Newf(rtmerrors.InvalidKey, "artifact %q has no type", name)
	}
	return nil
}

const artifactBaseColumns = `id, project_id, name, type, generation, created_at`

func scanArtifactBase(row interface{ Scan(...any) error }) (*model.ArtifactBase, error) {
	var b model.ArtifactBase
	var createdAt string
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Type, &b.Generation, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = t
	return &b, nil
}

func queryArtifactBases(ctx context.Context, q Querier, query string, args ...any) ([]model.ArtifactBase, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query artifacts", err)
	}
	defer rows.Close()

	var bases []model.ArtifactBase
	for rows.Next() {
		b, err := scanArtifactBase(rows)
		if err != nil {
			return nil, storageErr("failed to scan artifact", err)
		}
		bases = append(bases, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate artifacts", err)
	}
	return bases, nil
}

// FindLatest returns the newest generation for a name, or nil.
func (r *ArtifactRegistry) FindLatest(ctx context.Context, q Querier, projectID, name string) (*model.ArtifactBase, error) {
	b, err := scanArtifactBase(q.QueryRowContext(ctx, `
		SELECT `+artifactBaseColumns+` FROM artifacts
		WHERE project_id = ? AND name_key = ?
		ORDER BY generation DESC LIMIT 1
	`, projectID, model.ArtifactKey(name)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get artifact", err)
	}
	return b, nil
}

// FindGenerations returns every generation minted for a name, oldest first.
func (r *ArtifactRegistry) FindGenerations(ctx context.Context, q Querier, projectID, name string) ([]model.ArtifactBase, error) {
	return queryArtifactBases(ctx, q, `
		SELECT `+artifactBaseColumns+` FROM artifacts
		WHERE project_id = ? AND name_key = ?
		ORDER BY generation
	`, projectID, model.ArtifactKey(name))
}

// FindByID retrieves an artifact base, or nil.
func (r *ArtifactRegistry) FindByID(ctx context.Context, q Querier, id string) (*model.ArtifactBase, error) {
	b, err := scanArtifactBase(q.QueryRowContext(ctx,
		`SELECT `+artifactBaseColumns+` FROM artifacts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get artifact", err)
	}
	return b, nil
}

// FindAllInProject returns every artifact base of a project keyed by id.
func (r *ArtifactRegistry) FindAllInProject(ctx context.Context, q Querier, projectID string) (map[string]model.ArtifactBase, error) {
	bases, err := queryArtifactBases(ctx, q,
		`SELECT `+artifactBaseColumns+` FROM artifacts WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.ArtifactBase, len(bases))
	for _, b := range bases {
		byID[b.ID] = b
	}
	return byID, nil
}

// FindOrCreate returns the newest generation for the name, creating
// generation 0 when the name was never seen. A concurrent insert of the same
// key loses on the unique constraint and re-reads the winner.
func (r *ArtifactRegistry) FindOrCreate(ctx context.Context, q Querier, projectID, name, artifactType string) (*model.ArtifactBase, error) {
	if err := ValidateArtifactKey(name, artifactType); err != nil {
		return nil, err
	}
	existing, err := r.FindLatest(ctx, q, projectID, name)
	if err != nil || existing != nil {
		return existing, err
	}
	return r.insert(ctx, q, projectID, name, artifactType, 0)
}

// Mint creates the next generation for a name.
func (r *ArtifactRegistry) Mint(ctx context.Context, q Querier, projectID, name, artifactType string) (*model.ArtifactBase, error) {
	if err := ValidateArtifactKey(name, artifactType); err != nil {
		return nil, err
	}
	latest, err := r.FindLatest(ctx, q, projectID, name)
	if err != nil {
		return nil, err
	}
	generation := 0
	if latest != nil {
		generation = latest.Generation + 1
	}
	return r.insert(ctx, q, projectID, name, artifactType, generation)
}

func (r *ArtifactRegistry) insert(ctx context.Context, q Querier, projectID, name, artifactType string, generation int) (*model.ArtifactBase, error) {
	b := &model.ArtifactBase{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Name:       strings.TrimSpace(name),
		Type:       strings.TrimSpace(artifactType),
		Generation: generation,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, name, name_key, type, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.ProjectID, b.Name, model.ArtifactKey(name), b.Type, b.Generation, formatTime(b.CreatedAt))
	if err != nil {
		if IsUniqueError(err) {
			winner, findErr := r.FindLatest(ctx, q, projectID, name)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil && winner.Generation >= generation {
				return winner, nil
			}
		}
		return nil, storageErr("failed to create artifact", err)
	}
	return b, nil
}

// TraceLinkRegistry maps ordered artifact pairs to stable link identities.
type TraceLinkRegistry struct {
	db *DB
}

// NewTraceLinkRegistry creates a new trace link registry
func NewTraceLinkRegistry(db *DB) *TraceLinkRegistry {
	return &TraceLinkRegistry{db: db}
}

const traceLinkBaseColumns = `id, project_id, source_id, target_id, generation, created_at`

func scanTraceLinkBase(row interface{ Scan(...any) error }) (*model.TraceLinkBase, error) {
	var b model.TraceLinkBase
	var createdAt string
	if err := row.Scan(&b.ID, &b.ProjectID, &b.SourceID, &b.TargetID, &b.Generation, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = t
	return &b, nil
}

func queryTraceLinkBases(ctx context.Context, q Querier, query string, args ...any) ([]model.TraceLinkBase, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query trace links", err)
	}
	defer rows.Close()

	var bases []model.TraceLinkBase
	for rows.Next() {
		b, err := scanTraceLinkBase(rows)
		if err != nil {
			return nil, storageErr("failed to scan trace link", err)
		}
		bases = append(bases, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate trace links", err)
	}
	return bases, nil
}

// FindLatest returns the newest generation for an ordered pair, or nil.
func (r *TraceLinkRegistry) FindLatest(ctx context.Context, q Querier, projectID, sourceID, targetID string) (*model.TraceLinkBase, error) {
	b, err := scanTraceLinkBase(q.QueryRowContext(ctx, `
		SELECT `+traceLinkBaseColumns+` FROM trace_links
		WHERE project_id = ? AND source_id = ? AND target_id = ?
		ORDER BY generation DESC LIMIT 1
	`, projectID, sourceID, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get trace link", err)
	}
	return b, nil
}

// FindGenerations returns every generation for an ordered pair, oldest first.
func (r *TraceLinkRegistry) FindGenerations(ctx context.Context, q Querier, projectID, sourceID, targetID string) ([]model.TraceLinkBase, error) {
	return queryTraceLinkBases(ctx, q, `
		SELECT `+traceLinkBaseColumns+` FROM trace_links
		WHERE project_id = ? AND source_id = ? AND target_id = ?
		ORDER BY generation
	`, projectID, sourceID, targetID)
}

// FindByID retrieves a trace link base, or nil.
func (r *TraceLinkRegistry) FindByID(ctx context.Context, q Querier, id string) (*model.TraceLinkBase, error) {
	b, err := scanTraceLinkBase(q.QueryRowContext(ctx,
		`SELECT `+traceLinkBaseColumns+` FROM trace_links WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to get trace link", err)
	}
	return b, nil
}

// FindAllInProject returns every trace link base of a project keyed by id.
func (r *TraceLinkRegistry) FindAllInProject(ctx context.Context, q Querier, projectID string) (map[string]model.TraceLinkBase, error) {
	bases, err := queryTraceLinkBases(ctx, q,
		`SELECT `+traceLinkBaseColumns+` FROM trace_links WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.TraceLinkBase, len(bases))
	for _, b := range bases {
		byID[b.ID] = b
	}
	return byID, nil
}

// FindTouching returns every link base with the artifact as source or target.
func (r *TraceLinkRegistry) FindTouching(ctx context.Context, q Querier, artifactID string) ([]model.TraceLinkBase, error) {
	return queryTraceLinkBases(ctx, q, `
		SELECT `+traceLinkBaseColumns+` FROM trace_links
		WHERE source_id = ? OR target_id = ?
	`, artifactID, artifactID)
}

// FindOrCreate returns the newest generation for the pair, creating
// generation 0 when the pair was never linked.
func (r *TraceLinkRegistry) FindOrCreate(ctx context.Context, q Querier, projectID, sourceID, targetID string) (*model.TraceLinkBase, error) {
	if sourceID == "" || targetID == "" {
		return nil, rtmerrors.New(rtmerrors.InvalidKey, "trace link endpoints are required")
	}
	existing, err := r.FindLatest(ctx, q, projectID, sourceID, targetID)
	if err != nil || existing != nil {
		return existing, err
	}
	return r.insert(ctx, q, projectID, sourceID, targetID, 0)
}

// Mint creates the next generation for an ordered pair.
func (r *TraceLinkRegistry) Mint(ctx context.Context, q Querier, projectID, sourceID, targetID string) (*model.TraceLinkBase, error) {
	if sourceID == "" || targetID == "" {
		return nil, rtmerrors.New(rtmerrors.InvalidKey, "trace link endpoints are required")
	}
	latest, err := r.FindLatest(ctx, q, projectID, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	generation := 0
	if latest != nil {
		generation = latest.Generation + 1
	}
	return r.insert(ctx, q, projectID, sourceID, targetID, generation)
}

func (r *TraceLinkRegistry) insert(ctx context.Context, q Querier, projectID, sourceID, targetID string, generation int) (*model.TraceLinkBase, error) {
	b := &model.TraceLinkBase{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		SourceID:   sourceID,
		TargetID:   targetID,
		Generation: generation,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO trace_links (id, project_id, source_id, target_id, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.ProjectID, b.SourceID, b.TargetID, b.Generation, formatTime(b.CreatedAt))
	if err != nil {
		if IsUniqueError(err) {
			winner, findErr := r.FindLatest(ctx, q, projectID, sourceID, targetID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil && winner.Generation >= generation {
				return winner, nil
			}
		}
		return nil, storageErr("failed to create trace link", err)
	}
	return b, nil
}
