package storage

import (
	"context"
	"database/sql"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// MatrixStore persists trace matrix counters per (version, source type,
// target type). Missing entries read as zero.
type MatrixStore struct {
	db *DB
}

// NewMatrixStore creates a new matrix store
func NewMatrixStore(db *DB) *MatrixStore {
	return &MatrixStore{db: db}
}

// Get returns the counters of one cell.
func (s *MatrixStore) Get(ctx context.Context, q Querier, versionID string, pair model.TypePair) (model.MatrixCounts, error) {
	var c model.MatrixCounts
	err := q.QueryRowContext(ctx, `
		SELECT total, generated, approved FROM trace_matrix_entries
		WHERE version_id = ? AND source_type = ? AND target_type = ?
	`, versionID, pair.SourceType, pair.TargetType).Scan(&c.Total, &c.Generated, &c.Approved)
	if err == sql.ErrNoRows {
		return model.MatrixCounts{}, nil
	}
	if err != nil {
		return c, storageErr("failed to get matrix entry", err)
	}
	return c, nil
}

// ListForVersion returns every non-zero cell of a version ordered by type pair.
func (s *MatrixStore) ListForVersion(ctx context.Context, q Querier, versionID string) ([]model.MatrixEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_id, source_type, target_type, total, generated, approved
		FROM trace_matrix_entries
		WHERE version_id = ?
		ORDER BY source_type, target_type
	`, versionID)
	if err != nil {
		return nil, storageErr("failed to list matrix entries", err)
	}
	defer rows.Close()

	var entries []model.MatrixEntry
	for rows.Next() {
		var e model.MatrixEntry
		if err := rows.Scan(&e.VersionID, &e.SourceType, &e.TargetType, &e.Total, &e.Generated, &e.Approved); err != nil {
			return nil, storageErr("failed to scan matrix entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate matrix entries", err)
	}
	return entries, nil
}

// AdjustFrom adds delta to the cell at every version of the project whose
// rank is at least fromRank. A counter that would go negative fails the
// statement with STORAGE_ERROR.
func (s *MatrixStore) AdjustFrom(ctx context.Context, q Querier, projectID string, fromRank int64, pair model.TypePair, delta model.MatrixCounts) error {
	if delta.IsZero() {
		return nil
	}
	// CHECK constraints apply to the insert candidate before an upsert
	// resolves, so missing cells are seeded at zero and then updated.
	_, err := q.ExecContext(ctx, `
		INSERT INTO trace_matrix_entries (
			version_id, project_id, version_rank, source_type, target_type,
			total, generated, approved
		)
		SELECT id, project_id, rank, ?, ?, 0, 0, 0
		FROM project_versions
		WHERE project_id = ? AND rank >= ?
		ON CONFLICT (version_id, source_type, target_type) DO NOTHING
	`, pair.SourceType, pair.TargetType, projectID, fromRank)
	if err != nil {
		return storageErr("failed to seed matrix entries", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE trace_matrix_entries SET
			total = total + ?,
			generated = generated + ?,
			approved = approved + ?
		WHERE project_id = ? AND version_rank >= ? AND source_type = ? AND target_type = ?
	`, delta.Total, delta.Generated, delta.Approved, projectID, fromRank, pair.SourceType, pair.TargetType)
	pruneErr := s.pruneEmpty(ctx, q, projectID, fromRank, pair)
	if err != nil {
		if IsConstraintError(err) {
			return rtmerrors.Wrap(rtmerrors.StorageError, "trace matrix counter would become negative", err)
		}
		return storageErr("failed to adjust matrix entries", err)
	}
	return pruneErr
}

// pruneEmpty deletes the all-zero cells of pair from fromRank on.
func (s *MatrixStore) pruneEmpty(ctx context.Context, q Querier, projectID string, fromRank int64, pair model.TypePair) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM trace_matrix_entries
		WHERE project_id = ? AND version_rank >= ? AND source_type = ? AND target_type = ?
		  AND total = 0 AND generated = 0 AND approved = 0
	`, projectID, fromRank, pair.SourceType, pair.TargetType)
	if err != nil {
		return storageErr("failed to prune matrix entries", err)
	}
	return nil
}

// CopyFrom seeds the cells of a new version with the cells of another.
func (s *MatrixStore) CopyFrom(ctx context.Context, q Querier, fromVersionID string, to model.ProjectVersion) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trace_matrix_entries (
			version_id, project_id, version_rank, source_type, target_type,
			total, generated, approved
		)
		SELECT ?, ?, ?, source_type, target_type, total, generated, approved
		FROM trace_matrix_entries
		WHERE version_id = ?
	`, to.ID, to.ProjectID, to.Rank(), fromVersionID)
	if err != nil {
		return storageErr("failed to copy matrix entries", err)
	}
	return nil
}

// ReplaceForVersion overwrites every cell of a version.
func (s *MatrixStore) ReplaceForVersion(ctx context.Context, q Querier, version model.ProjectVersion, entries []model.MatrixEntry) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM trace_matrix_entries WHERE version_id = ?`, version.ID); err != nil {
		return storageErr("failed to clear matrix entries", err)
	}
	for _, e := range entries {
		if e.IsZero() {
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO trace_matrix_entries (
				version_id, project_id, version_rank, source_type, target_type,
				total, generated, approved
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, version.ID, version.ProjectID, version.Rank(), e.SourceType, e.TargetType, e.Total, e.Generated, e.Approved)
		if err != nil {
			return storageErr("failed to insert matrix entry", err)
		}
	}
	return nil
}
