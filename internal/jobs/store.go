package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
	"rtm/internal/storage"
)

// Store persists commit jobs in the commit_jobs table of the main database.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

// NewStore creates a job store over an open database.
func NewStore(db *storage.DB, logger *slog.Logger) *Store {
	return &Store{conn: db.Conn(), logger: logger}
}

const jobColumns = `id, project_id, version_id, status, request_json, result_json, error, progress, attempts, created_at, started_at, completed_at`

// CreateJob inserts a new job into the database.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	request, err := job.requestJSON()
	if err != nil {
		return fmt.Errorf("failed to encode commit request: %w", err)
	}
	result, err := job.resultJSON()
	if err != nil {
		return fmt.Errorf("failed to encode commit result: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO commit_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.ProjectID,
		job.VersionID,
		job.Status,
		request,
		nullString(result),
		nullString(job.Error),
		job.Progress,
		job.Attempts,
		formatTime(job.CreatedAt),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Created job", "job_id", job.ID, "version_id", job.VersionID)
	return nil
}

// GetJob retrieves a job by ID, or nil when it does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM commit_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJob writes a job's mutable state.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	result, err := job.resultJSON()
	if err != nil {
		return fmt.Errorf("failed to encode commit result: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE commit_jobs SET
			status = ?,
			progress = ?,
			attempts = ?,
			started_at = ?,
			completed_at = ?,
			error = ?,
			result_json = ?
		WHERE id = ?
	`,
		job.Status,
		job.Progress,
		job.Attempts,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		nullString(job.Error),
		nullString(result),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}
	return nil
}

// Claim moves a queued job to running. It reports false when the job is no
// longer queued, for example because it was cancelled or another worker
// took it.
func (s *Store) Claim(ctx context.Context, job *Job) (bool, error) {
	job.MarkStarted()
	res, err := s.conn.ExecContext(ctx, `
		UPDATE commit_jobs SET status = ?, started_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = ?
	`, JobRunning, nullTime(job.StartedAt), job.ID, JobQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

// CancelQueued cancels a job that no worker has claimed yet. It reports
// false when the job is not queued.
func (s *Store) CancelQueued(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE commit_jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, JobCancelled, formatTime(time.Now()), id, JobQueued)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

// Wait polls until the job reaches a terminal state or ctx ends. It returns
// the last state seen together with ctx's error.
func (s *Store) Wait(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, rtmerrors.Newf(rtmerrors.InvalidArgument, "job not found: %s", id)
		}
		if job.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListJobs retrieves jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts ListJobsOptions) (*ListJobsResponse, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, status := range opts.Status {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, opts.ProjectID)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM commit_jobs "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM commit_jobs ` + whereClause + `
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []JobSummary{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return &ListJobsResponse{Jobs: jobs, TotalCount: totalCount}, nil
}

// GetPendingJobs retrieves all queued jobs ordered by creation time.
func (s *Store) GetPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM commit_jobs
		WHERE status = ?
		ORDER BY created_at ASC
	`, JobQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequeueOrphaned returns jobs left running by a process that died to the
// queue. A commit runs in one transaction, so an interrupted job left
// nothing behind and can simply run again.
func (s *Store) RequeueOrphaned(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE commit_jobs SET status = ?, started_at = NULL, progress = 0
		WHERE status = ?
	`, JobQueued, JobRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns how many jobs are in a status.
func (s *Store) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM commit_jobs WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// CleanupOldJobs removes finished jobs older than the given duration.
func (s *Store) CleanupOldJobs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-retention))

	result, err := s.conn.ExecContext(ctx, `
		DELETE FROM commit_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var job Job
	var request string
	var result, errMsg, startedAt, completedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&job.ID,
		&job.ProjectID,
		&job.VersionID,
		&job.Status,
		&request,
		&result,
		&errMsg,
		&job.Progress,
		&job.Attempts,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(request), &job.Request); err != nil {
		return nil, fmt.Errorf("job %s has an unreadable request: %w", job.ID, err)
	}
	if result.Valid {
		job.Result = new(model.CommitResult)
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("job %s has an unreadable result: %w", job.ID, err)
		}
	}
	job.Error = errMsg.String

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		job.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			job.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			job.CompletedAt = &t
		}
	}
	return &job, nil
}

// Timestamps are stored with a fixed-width layout so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Helper functions for nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
