package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/codepool/codepool/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.CodeStore on a local SQLite database.
// Conditional updates are expressed as guarded UPDATE statements, so the
// same precondition semantics hold as on DynamoDB.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
		now:  time.Now,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const codeColumns = `id, status, resource_ref, resource_name, created_at, updated_at, outputs, last_sync_at, sync_error, version`

// Get returns the record for id, or a NOT_FOUND-coded error.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*engine.CodeRecord, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE id = ?`

	rec, err := scanCode(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, engine.NewPermanentError(fmt.Sprintf("code %s not found", id), nil).
			WithCode(engine.ErrCodeNotFound).WithCodeID(id)
	}
	if err != nil {
		return nil, engine.NewTransientError("failed to read record", err).
			WithCode(engine.ErrCodeStoreDown).WithCodeID(id)
	}
	return rec, nil
}

// BatchGet returns the records for the given ids, keyed by id.
func (s *SQLiteStore) BatchGet(ctx context.Context, ids []string) (map[string]*engine.CodeRecord, error) {
	result := make(map[string]*engine.CodeRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT ` + codeColumns + ` FROM codes WHERE id IN (` + placeholders + `)`

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.NewTransientError("failed to read records", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanCode(rows)
		if err != nil {
			return nil, engine.NewPermanentError("corrupt record", err)
		}
		result[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewTransientError("failed to read records", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	return result, nil
}

// Put writes a full record unconditionally.
func (s *SQLiteStore) Put(ctx context.Context, rec *engine.CodeRecord) error {
	query := `
		INSERT INTO codes (` + codeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resource_ref = excluded.resource_ref,
			resource_name = excluded.resource_name,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			outputs = excluded.outputs,
			last_sync_at = excluded.last_sync_at,
			sync_error = excluded.sync_error,
			version = excluded.version
	`

	args, err := codeArgs(rec)
	if err != nil {
		return engine.NewPermanentError("failed to encode record", err).WithCodeID(rec.ID)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return engine.NewTransientError("failed to write record", err).
			WithCode(engine.ErrCodeStoreDown).WithCodeID(rec.ID)
	}
	return nil
}

// BatchPut writes the given records in one transaction.
func (s *SQLiteStore) BatchPut(ctx context.Context, records []*engine.CodeRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return engine.NewTransientError("failed to begin transaction", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO codes (` + codeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			resource_ref = excluded.resource_ref,
			resource_name = excluded.resource_name,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			outputs = excluded.outputs,
			last_sync_at = excluded.last_sync_at,
			sync_error = excluded.sync_error,
			version = excluded.version
	`

	for _, rec := range records {
		args, err := codeArgs(rec)
		if err != nil {
			return engine.NewPermanentError("failed to encode record", err).WithCodeID(rec.ID)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return engine.NewTransientError("failed to write record", err).
				WithCode(engine.ErrCodeStoreDown).WithCodeID(rec.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return engine.NewTransientError("failed to commit records", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	return nil
}

// Scan returns every record in the pool.
func (s *SQLiteStore) Scan(ctx context.Context) ([]*engine.CodeRecord, error) {
	query := `SELECT ` + codeColumns + ` FROM codes ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, engine.NewTransientError("failed to scan records", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	defer rows.Close()

	var records []*engine.CodeRecord
	for rows.Next() {
		rec, err := scanCode(rows)
		if err != nil {
			return nil, engine.NewPermanentError("corrupt record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewTransientError("failed to scan records", err).
			WithCode(engine.ErrCodeStoreDown)
	}
	return records, nil
}

// Update applies a partial update as a guarded UPDATE. Zero rows affected
// means either a missing record or a lost condition; the follow-up read
// tells them apart.
func (s *SQLiteStore) Update(ctx context.Context, id string, update engine.RecordUpdate, pre *engine.Precondition) error {
	sets := []string{"updated_at = ?", "version = version + 1"}
	args := []interface{}{s.now().UTC()}

	for f, v := range update.Set {
		val, err := s.updateValue(f, v)
		if err != nil {
			return engine.NewPermanentError("invalid update value", err).WithCodeID(id)
		}
		sets = append(sets, fmt.Sprintf("%s = ?", f))
		args = append(args, val)
	}
	for _, f := range update.Remove {
		sets = append(sets, fmt.Sprintf("%s = NULL", f))
	}

	where := []string{"id = ?"}
	args = append(args, id)
	if pre != nil {
		if pre.Status != nil {
			where = append(where, "status = ?")
			args = append(args, string(*pre.Status))
		}
		if pre.Version != nil {
			where = append(where, "version = ?")
			args = append(args, *pre.Version)
		}
	}

	query := fmt.Sprintf("UPDATE codes SET %s WHERE %s",
		strings.Join(sets, ", "), strings.Join(where, " AND "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return engine.NewTransientError("failed to update record", err).
			WithCode(engine.ErrCodeStoreDown).WithCodeID(id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return engine.NewTransientError("failed to get rows affected", err).
			WithCode(engine.ErrCodeStoreDown).WithCodeID(id)
	}
	if rows == 0 {
		if _, err := s.Get(ctx, id); engine.IsNotFound(err) {
			return err
		}
		return engine.NewConflictError(fmt.Sprintf("conditional update of code %s failed", id), nil).
			WithCode(engine.ErrCodeConditionFailed).WithCodeID(id)
	}
	return nil
}

// updateValue converts an engine-provided value to its column representation.
func (s *SQLiteStore) updateValue(f engine.FieldName, v interface{}) (interface{}, error) {
	switch f {
	case engine.FieldStatus:
		st, err := fieldAsStatus(f, v)
		if err != nil {
			return nil, err
		}
		return string(st), nil
	case engine.FieldCreatedAt, engine.FieldLastSyncAt:
		t, err := fieldAsTime(f, v)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case engine.FieldOutputs:
		outs, err := fieldAsOutputs(f, v)
		if err != nil {
			return nil, err
		}
		return json.Marshal(outs)
	default:
		return fieldAsString(f, v)
	}
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCode(row rowScanner) (*engine.CodeRecord, error) {
	var (
		rec         engine.CodeRecord
		status      string
		resourceRef sql.NullString
		name        sql.NullString
		createdAt   sql.NullTime
		outputsJSON sql.NullString
		lastSyncAt  sql.NullTime
		syncError   sql.NullString
	)

	err := row.Scan(&rec.ID, &status, &resourceRef, &name, &createdAt,
		&rec.UpdatedAt, &outputsJSON, &lastSyncAt, &syncError, &rec.Version)
	if err != nil {
		return nil, err
	}

	rec.Status = engine.CodeStatus(status)
	rec.ResourceRef = resourceRef.String
	rec.ResourceName = name.String
	rec.SyncError = syncError.String
	if createdAt.Valid {
		t := createdAt.Time
		rec.CreatedAt = &t
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		rec.LastSyncAt = &t
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("malformed outputs for code %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func codeArgs(rec *engine.CodeRecord) ([]interface{}, error) {
	var outputsJSON interface{}
	if len(rec.Outputs) > 0 {
		b, err := json.Marshal(rec.Outputs)
		if err != nil {
			return nil, err
		}
		outputsJSON = string(b)
	}

	return []interface{}{
		rec.ID,
		string(rec.Status),
		nullable(rec.ResourceRef),
		nullable(rec.ResourceName),
		timePtr(rec.CreatedAt),
		rec.UpdatedAt.UTC(),
		outputsJSON,
		timePtr(rec.LastSyncAt),
		nullable(rec.SyncError),
		rec.Version,
	}, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
