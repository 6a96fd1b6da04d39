package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build migrates to.
const CurrentSchemaVersion = 2

const currentSchemaVersion = CurrentSchemaVersion

// migration upgrades the schema by one version inside a transaction.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

// migrations are applied in order; each one must be idempotent.
var migrations = []migration{
	{1, "versioned entity store", migrateToV1},
	{2, "commit job queue", migrateToV2},
}

// migrate brings the database up to currentSchemaVersion
func (db *DB) migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if err := createSchemaVersionTable(tx); err != nil {
				return err
			}
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			return setSchemaVersion(tx, m.version)
		})
		if err != nil {
			return err
		}
		db.logger.Debug("Applied migration", "version", m.version, "name", m.name)
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	// Check if schema_version table exists
	var tableName string
	err := db.conn.QueryRowContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		// Table doesn't exist, this is a new database
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

func migrateToV1(tx *sql.Tx) error {
	steps := []func(*sql.Tx) error{
		createProjectsTable,
		createProjectVersionsTable,
		createArtifactsTable,
		createArtifactVersionsTable,
		createTraceLinksTable,
		createTraceLinkVersionsTable,
		createTraceMatrixTable,
	}
	for _, step := range steps {
		if err := step(tx); err != nil {
			return err
		}
	}
	return nil
}

func migrateToV2(tx *sql.Tx) error {
	return createCommitJobsTable(tx)
}

func execIndexes(tx *sql.Tx, indexes []string) error {
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// createProjectsTable creates the projects table
func createProjectsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create projects table: %w", err)
	}
	return nil
}

// createProjectVersionsTable creates the project_versions table.
// rank packs (major, minor, revision) so ordering is a single integer compare.
func createProjectVersionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS project_versions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			major INTEGER NOT NULL CHECK(major >= 0),
			minor INTEGER NOT NULL CHECK(minor >= 0),
			revision INTEGER NOT NULL CHECK(revision >= 0),
			rank INTEGER NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (project_id, rank),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create project_versions table: %w", err)
	}
	return nil
}

// createArtifactsTable creates the artifact base entity table
func createArtifactsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			type TEXT NOT NULL,
			generation INTEGER NOT NULL CHECK(generation >= 0),
			created_at TEXT NOT NULL,

			UNIQUE (project_id, name_key, generation),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}
	return nil
}

// createArtifactVersionsTable creates the artifact version entity log
func createArtifactVersionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS artifact_versions (
			id TEXT PRIMARY KEY,
			base_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			version_id TEXT NOT NULL,
			version_rank INTEGER NOT NULL,
			modification TEXT NOT NULL CHECK(modification IN ('ADDED', 'MODIFIED', 'REMOVED')),
			summary TEXT NOT NULL DEFAULT '',
			body BLOB,
			body_encoding TEXT NOT NULL DEFAULT 'plain' CHECK(body_encoding IN ('plain', 'zstd')),
			custom_fields_json TEXT NOT NULL DEFAULT '{}',
			content_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,

			UNIQUE (base_id, version_id),
			FOREIGN KEY (base_id) REFERENCES artifacts(id) ON DELETE CASCADE,
			FOREIGN KEY (version_id) REFERENCES project_versions(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create artifact_versions table: %w", err)
	}

	return execIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_artifact_versions_base_rank ON artifact_versions(base_id, version_rank)",
		"CREATE INDEX IF NOT EXISTS idx_artifact_versions_project_rank ON artifact_versions(project_id, version_rank)",
		"CREATE INDEX IF NOT EXISTS idx_artifact_versions_version ON artifact_versions(version_id)",
	})
}

// createTraceLinksTable creates the trace link base entity table
func createTraceLinksTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS trace_links (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			generation INTEGER NOT NULL CHECK(generation >= 0),
			created_at TEXT NOT NULL,

			UNIQUE (project_id, source_id, target_id, generation),
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
			FOREIGN KEY (source_id) REFERENCES artifacts(id) ON DELETE CASCADE,
			FOREIGN KEY (target_id) REFERENCES artifacts(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create trace_links table: %w", err)
	}

	return execIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_trace_links_source ON trace_links(source_id)",
		"CREATE INDEX IF NOT EXISTS idx_trace_links_target ON trace_links(target_id)",
	})
}

// createTraceLinkVersionsTable creates the trace link version entity log
func createTraceLinkVersionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS trace_link_versions (
			id TEXT PRIMARY KEY,
			base_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			version_id TEXT NOT NULL,
			version_rank INTEGER NOT NULL,
			modification TEXT NOT NULL CHECK(modification IN ('ADDED', 'MODIFIED', 'REMOVED')),
			score REAL NOT NULL DEFAULT 0,
			trace_type TEXT NOT NULL CHECK(trace_type IN ('MANUAL', 'GENERATED')),
			approval_status TEXT NOT NULL CHECK(approval_status IN ('UNREVIEWED', 'APPROVED', 'DECLINED')),
			explanation TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,

			UNIQUE (base_id, version_id),
			FOREIGN KEY (base_id) REFERENCES trace_links(id) ON DELETE CASCADE,
			FOREIGN KEY (version_id) REFERENCES project_versions(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create trace_link_versions table: %w", err)
	}

	return execIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_trace_link_versions_base_rank ON trace_link_versions(base_id, version_rank)",
		"CREATE INDEX IF NOT EXISTS idx_trace_link_versions_project_rank ON trace_link_versions(project_id, version_rank)",
		"CREATE INDEX IF NOT EXISTS idx_trace_link_versions_version ON trace_link_versions(version_id)",
	})
}

// createTraceMatrixTable creates the per-version trace matrix aggregates
func createTraceMatrixTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS trace_matrix_entries (
			version_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			version_rank INTEGER NOT NULL,
			source_type TEXT NOT NULL,
			target_type TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0 CHECK(total >= 0),
			generated INTEGER NOT NULL DEFAULT 0 CHECK(generated >= 0),
			approved INTEGER NOT NULL DEFAULT 0 CHECK(approved >= 0),

			PRIMARY KEY (version_id, source_type, target_type),
			FOREIGN KEY (version_id) REFERENCES project_versions(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create trace_matrix_entries table: %w", err)
	}

	return execIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_trace_matrix_project_rank ON trace_matrix_entries(project_id, version_rank)",
	})
}

// createCommitJobsTable creates the queue of asynchronous commits
func createCommitJobsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS commit_jobs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			version_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('queued', 'running', 'completed', 'failed', 'cancelled')),
			request_json TEXT NOT NULL,
			result_json TEXT,
			error TEXT,
			progress INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create commit_jobs table: %w", err)
	}

	return execIndexes(tx, []string{
		"CREATE INDEX IF NOT EXISTS idx_commit_jobs_status ON commit_jobs(status)",
		"CREATE INDEX IF NOT EXISTS idx_commit_jobs_created ON commit_jobs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_commit_jobs_version ON commit_jobs(version_id)",
	})
}
