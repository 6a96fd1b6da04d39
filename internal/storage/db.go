package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sqlite "modernc.org/sqlite" // Pure Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	rtmerrors "rtm/internal/errors"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a commit transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options tune how the database is opened.
type Options struct {
	BusyTimeout time.Duration
	// CompressBodiesOver is the artifact body size in bytes from which bodies
	// are stored zstd-compressed. Zero disables compression.
	CompressBodiesOver int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:        5 * time.Second,
		CompressBodiesOver: 4096,
	}
}

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
	codec  *BodyCodec
}

// Open opens or creates the SQLite database at path, creating parent
// directories and applying pending migrations.
func Open(path string, logger *slog.Logger, opts Options) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dbExists := fileExists(path)

	// Pragmas go through the DSN so every pooled connection gets them.
	// _txlock=immediate makes write transactions take the write lock at BEGIN.
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultOptions().BusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "cache_size(-64000)")
	q.Add("_pragma", "temp_store(MEMORY)")
	q.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	codec, err := NewBodyCodec(opts.CompressBodiesOver)
	if err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: path,
		codec:  codec,
	}

	if !dbExists {
		logger.Info("Creating new database", "path", path)
	}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.codec != nil {
		db.codec.Close()
	}
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// Codec returns the artifact body codec
func (db *DB) Codec() *BodyCodec {
	return db.codec
}

// WithTx executes fn within a transaction.
// If fn returns an error or panics, the transaction is rolled back;
// otherwise it is committed. Driver failures are reported as STORAGE_ERROR.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return rtmerrors.Wrap(rtmerrors.StorageError, "failed to begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(),
				"rollback_error", rbErr.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return rtmerrors.Wrap(rtmerrors.StorageError, "failed to commit transaction", err)
	}

	return nil
}

// WithReadTx runs fn in a read-only transaction. Every query fn makes sees
// the same committed state of the database.
func (db *DB) WithReadTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return rtmerrors.Wrap(rtmerrors.StorageError, "failed to begin read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

// storageErr wraps a driver error as STORAGE_ERROR, leaving errors that
// already carry a code untouched.
func storageErr(message string, err error) error {
	var re *rtmerrors.RtmError
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return rtmerrors.Wrap(rtmerrors.StorageError, message, err)
}

// IsConstraintError reports whether err is a SQLite constraint violation of
// any kind (unique, primary key, check, foreign key).
func IsConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// IsUniqueError reports whether err is a SQLite uniqueness or primary key
// violation.
func IsUniqueError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// IsBusyError reports whether err is a SQLite lock timeout.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
