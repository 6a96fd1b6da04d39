package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// contentColumns describes how one entity kind stores its payload in its
// version table.
type contentColumns[C any] struct {
	table   string
	columns []string
	// values returns the column values for a payload, in column order.
	values func(codec *BodyCodec, content C) ([]any, error)
	// scanner returns scan destinations for the columns and a function that
	// assembles the payload once the row has been scanned.
	scanner func(codec *BodyCodec) (dest []any, assemble func() (C, error))
}

// VersionLog is the append-only log of version entities for one entity kind.
// At most one row exists per (base entity, project version).
type VersionLog[C any] struct {
	db     *DB
	layout contentColumns[C]
}

// ArtifactLog is the artifact version log.
type ArtifactLog = VersionLog[model.ArtifactContent]

// TraceLinkLog is the trace link version log.
type TraceLinkLog = VersionLog[model.TraceLinkContent]

// NewArtifactLog creates the artifact version log
func NewArtifactLog(db *DB) *ArtifactLog {
	return &VersionLog[model.ArtifactContent]{db: db, layout: artifactColumns}
}

// NewTraceLinkLog creates the trace link version log
func NewTraceLinkLog(db *DB) *TraceLinkLog {
	return &VersionLog[model.TraceLinkContent]{db: db, layout: traceLinkColumns}
}

var artifactColumns = contentColumns[model.ArtifactContent]{
	table:   "artifact_versions",
	columns: []string{"summary", "body", "body_encoding", "custom_fields_json", "content_hash"},
	values: func(codec *BodyCodec, c model.ArtifactContent) ([]any, error) {
		body, encoding, err := codec.Encode(c.Body)
		if err != nil {
			return nil, err
		}
		fields := c.CustomFields
		if fields == nil {
			fields = map[string]string{}
		}
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode custom fields: %w", err)
		}
		return []any{c.Summary, body, encoding, string(fieldsJSON), ContentHash(c)}, nil
	},
	scanner: func(codec *BodyCodec) ([]any, func() (model.ArtifactContent, error)) {
		var summary, encoding, fieldsJSON, hash string
		var body []byte
		assemble := func() (model.ArtifactContent, error) {
			c := model.ArtifactContent{Summary: summary}
			decoded, err := codec.Decode(body, encoding)
			if err != nil {
				return c, err
			}
			c.Body = decoded
			if fieldsJSON != "" && fieldsJSON != "{}" {
				if err := json.Unmarshal([]byte(fieldsJSON), &c.CustomFields); err != nil {
					return c, fmt.Errorf("failed to decode custom fields: %w", err)
				}
			}
			return c, nil
		}
		return []any{&summary, &body, &encoding, &fieldsJSON, &hash}, assemble
	},
}

var traceLinkColumns = contentColumns[model.TraceLinkContent]{
	table:   "trace_link_versions",
	columns: []string{"score", "trace_type", "approval_status", "explanation"},
	values: func(_ *BodyCodec, c model.TraceLinkContent) ([]any, error) {
		return []any{c.Score, string(c.TraceType), string(c.Approval), c.Explanation}, nil
	},
	scanner: func(_ *BodyCodec) ([]any, func() (model.TraceLinkContent, error)) {
		var c model.TraceLinkContent
		var traceType, approval string
		assemble := func() (model.TraceLinkContent, error) {
			c.TraceType = model.TraceType(traceType)
			c.Approval = model.ApprovalStatus(approval)
			return c, nil
		}
		return []any{&c.Score, &traceType, &approval, &c.Explanation}, assemble
	},
}

const logKeyColumns = "id, base_id, project_id, version_id, version_rank, modification, created_at"

func (l *VersionLog[C]) selectColumns(alias string) string {
	cols := append(strings.Split(logKeyColumns, ", "), l.layout.columns...)
	if alias != "" {
		for i, c := range cols {
			cols[i] = alias + "." + c
		}
	}
	return strings.Join(cols, ", ")
}

func (l *VersionLog[C]) scanRow(row interface{ Scan(...any) error }) (*model.VersionEntity[C], error) {
	var e model.VersionEntity[C]
	var kind, createdAt string
	contentDest, assemble := l.layout.scanner(l.db.codec)
	dest := append([]any{&e.ID, &e.BaseID, &e.ProjectID, &e.VersionID, &e.VersionRank, &kind, &createdAt}, contentDest...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	content, err := assemble()
	if err != nil {
		return nil, err
	}
	e.Content = content
	e.Kind = model.ModificationKind(kind)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = t
	return &e, nil
}

func (l *VersionLog[C]) queryOne(ctx context.Context, q Querier, query string, args ...any) (*model.VersionEntity[C], error) {
	e, err := l.scanRow(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("failed to read "+l.layout.table, err)
	}
	return e, nil
}

func (l *VersionLog[C]) queryMany(ctx context.Context, q Querier, query string, args ...any) ([]model.VersionEntity[C], error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query "+l.layout.table, err)
	}
	defer rows.Close()

	var out []model.VersionEntity[C]
	for rows.Next() {
		e, err := l.scanRow(rows)
		if err != nil {
			return nil, storageErr("failed to scan "+l.layout.table, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("failed to iterate "+l.layout.table, err)
	}
	return out, nil
}

// Append records a version entity. ID and CreatedAt are filled in when
// empty. A second row for the same (base, version) is rejected.
func (l *VersionLog[C]) Append(ctx context.Context, q Querier, e *model.VersionEntity[C]) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	contentValues, err := l.layout.values(l.db.codec, e.Content)
	if err != nil {
		return rtmerrors.Wrap(rtmerrors.InternalError, "failed to encode content", err)
	}

	cols := append(strings.Split(logKeyColumns, ", "), l.layout.columns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	args := append([]any{e.ID, e.BaseID, e.ProjectID, e.VersionID, e.VersionRank, string(e.Kind), formatTime(e.CreatedAt)}, contentValues...)

	_, err = q.ExecContext(ctx,
		"INSERT INTO "+l.layout.table+" ("+strings.Join(cols, ", ")+") VALUES ("+placeholders+")",
		args...)
	if err != nil {
		if IsUniqueError(err) {
			return rtmerrors.Newf(rtmerrors.DuplicateEntity,
				"entity %s already has a row at version %s", e.BaseID, e.VersionID)
		}
		return storageErr("failed to append to "+l.layout.table, err)
	}
	return nil
}

// Revise replaces the row of e's (base, version) with e.
func (l *VersionLog[C]) Revise(ctx context.Context, q Querier, e *model.VersionEntity[C]) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM "+l.layout.table+" WHERE base_id = ? AND version_id = ?", e.BaseID, e.VersionID)
	if err != nil {
		return storageErr("failed to revise "+l.layout.table, err)
	}
	e.ID = ""
	return l.Append(ctx, q, e)
}

// Retract deletes a single row by id.
func (l *VersionLog[C]) Retract(ctx context.Context, q Querier, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+l.layout.table+" WHERE id = ?", id)
	if err != nil {
		return storageErr("failed to retract from "+l.layout.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("row %s not found in %s", id, l.layout.table)
	}
	return nil
}

// FindByBaseAndVersion returns the row written for the entity at exactly
// that version, or nil.
func (l *VersionLog[C]) FindByBaseAndVersion(ctx context.Context, q Querier, baseID, versionID string) (*model.VersionEntity[C], error) {
	return l.queryOne(ctx, q,
		"SELECT "+l.selectColumns("")+" FROM "+l.layout.table+" WHERE base_id = ? AND version_id = ?",
		baseID, versionID)
}

// FindAllForBase returns an entity's rows in version order.
func (l *VersionLog[C]) FindAllForBase(ctx context.Context, q Querier, baseID string) ([]model.VersionEntity[C], error) {
	return l.queryMany(ctx, q,
		"SELECT "+l.selectColumns("")+" FROM "+l.layout.table+" WHERE base_id = ? ORDER BY version_rank",
		baseID)
}

// FindAllForVersion returns the rows written at exactly one version.
func (l *VersionLog[C]) FindAllForVersion(ctx context.Context, q Querier, versionID string) ([]model.VersionEntity[C], error) {
	return l.queryMany(ctx, q,
		"SELECT "+l.selectColumns("")+" FROM "+l.layout.table+" WHERE version_id = ? ORDER BY base_id",
		versionID)
}

// LatestAtOrBefore returns the entity's row with the greatest version rank
// not above rank, or nil.
func (l *VersionLog[C]) LatestAtOrBefore(ctx context.Context, q Querier, baseID string, rank int64) (*model.VersionEntity[C], error) {
	return l.queryOne(ctx, q,
		"SELECT "+l.selectColumns("")+" FROM "+l.layout.table+
			" WHERE base_id = ? AND version_rank <= ? ORDER BY version_rank DESC LIMIT 1",
		baseID, rank)
}

// LatestForProjectAtOrBefore returns, for every entity of the project with
// a row at or before rank, its latest such row. REMOVED rows are included;
// callers decide whether they count as absent.
func (l *VersionLog[C]) LatestForProjectAtOrBefore(ctx context.Context, q Querier, projectID string, rank int64) ([]model.VersionEntity[C], error) {
	return l.queryMany(ctx, q,
		"SELECT "+l.selectColumns("v")+" FROM "+l.layout.table+" v"+
			" WHERE v.project_id = ? AND v.version_rank <= ?"+
			" AND v.version_rank = (SELECT MAX(i.version_rank) FROM "+l.layout.table+" i"+
			" WHERE i.base_id = v.base_id AND i.version_rank <= ?)",
		projectID, rank, rank)
}

// HasRowAfter reports whether the entity has any row at a version above rank.
func (l *VersionLog[C]) HasRowAfter(ctx context.Context, q Querier, baseID string, rank int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM "+l.layout.table+" WHERE base_id = ? AND version_rank > ?)",
		baseID, rank).Scan(&exists)
	if err != nil {
		return false, storageErr("failed to query "+l.layout.table, err)
	}
	return exists == 1, nil
}

// CountForVersion returns the number of rows written at a version.
func (l *VersionLog[C]) CountForVersion(ctx context.Context, q Querier, versionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+l.layout.table+" WHERE version_id = ?", versionID).Scan(&n)
	if err != nil {
		return 0, storageErr("failed to count "+l.layout.table, err)
	}
	return n, nil
}
