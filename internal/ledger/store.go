package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// DefaultFileName is the database file created inside the state directory.
const DefaultFileName = "ledger.db"

// ErrSchemaMismatch indicates the database was created by an incompatible build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists events in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start a new ledger)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record appends an event. A zero CreatedAt is replaced with the current time.
func (s *Store) Record(ctx context.Context, event Event) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(event.TaskID) == "" {
		return errors.New("ledger event requires a task id")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO task_events (
                task_id, stage, outcome, source_path, destination_path,
                measurement_id, reason, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			event.TaskID,
			event.Stage,
			string(event.Outcome),
			nullableString(event.Source),
			nullableString(event.Destination),
			nullableString(event.MeasurementID),
			nullableString(event.Reason),
			event.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// Recent returns the newest events matching filter, newest first.
func (s *Store) Recent(ctx context.Context, filter Filter) ([]Event, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.TaskID != "" {
		clauses = append(clauses, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, task_id, stage, outcome, source_path, destination_path,
        measurement_id, reason, created_at FROM task_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Stats returns outcome counts grouped by stage, ordered by stage name.
func (s *Store) Stats(ctx context.Context) ([]StageStats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, outcome, COUNT(1) FROM task_events GROUP BY stage, outcome ORDER BY stage`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	var (
		stats []StageStats
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			stage   string
			outcome string
			count   int
		)
		if err := rows.Scan(&stage, &outcome, &count); err != nil {
			return nil, err
		}
		pos, ok := index[stage]
		if !ok {
			pos = len(stats)
			index[stage] = pos
			stats = append(stats, StageStats{Stage: stage, Outcomes: map[Outcome]int{}})
		}
		stats[pos].Outcomes[Outcome(outcome)] = count
	}
	return stats, rows.Err()
}

// Prune deletes events older than cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM task_events WHERE created_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return removed, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var (
		event       Event
		outcome     string
		source      sql.NullString
		destination sql.NullString
		measurement sql.NullString
		reason      sql.NullString
		createdRaw  string
	)
	if err := scanner.Scan(
		&event.ID,
		&event.TaskID,
		&event.Stage,
		&outcome,
		&source,
		&destination,
		&measurement,
		&reason,
		&createdRaw,
	); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	event.Outcome = Outcome(outcome)
	event.Source = source.String
	event.Destination = destination.String
	event.MeasurementID = measurement.String
	event.Reason = reason.String
	if ts, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		event.CreatedAt = ts
	}
	return event, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
