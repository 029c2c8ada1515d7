// Package sqlite provides a durable outbox Store on a pure-Go SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/sqlite/migrations"
)

const (
	telemetryKey  = "telemetry"
	recordColumns = `id, mutation_type, actor_uid, payload, dedupe_key, created_at, updated_at, attempts, next_attempt_at, last_error`
)

// Store is a SQLite-backed outbox.Store and outbox.TelemetryStore.
type Store struct {
	db *sql.DB
}

var (
	_ outbox.Store          = (*Store)(nil)
	_ outbox.TelemetryStore = (*Store)(nil)
)

// Open opens or creates the database at path and applies migrations. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Get implements outbox.Store.
func (s *Store) Get(ctx context.Context, id string) (outbox.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM outbox_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Record{}, outbox.ErrNotFound
	}
	if err != nil {
		return outbox.Record{}, fmt.Errorf("sqlite: get %s: %w", id, err)
	}

	return record, nil
}

// GetAllByIndex implements outbox.Store.
func (s *Store) GetAllByIndex(ctx context.Context, index outbox.Index, value string) ([]outbox.Record, error) {
	var where string
	switch index {
	case outbox.IndexDedupeKey:
		where = `dedupe_key = ?`
	case outbox.IndexActorUID:
		where = `actor_uid = ?`
	case outbox.IndexNextAttemptAt:
		if _, err := outbox.ParseIndexTime(value); err != nil {
			return nil, err
		}
		where = `next_attempt_at <= ?`
	default:
		return nil, fmt.Errorf("%w: %q", outbox.ErrInvalidIndex, index)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM outbox_records WHERE `+where, value)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", index, err)
	}
	defer rows.Close()

	records := make([]outbox.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate records: %w", err)
	}

	return records, nil
}

// Put implements outbox.Store.
func (s *Store) Put(ctx context.Context, record outbox.Record) error {
	if record.ID == "" {
		return errors.New("sqlite: record id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	mutation_type = excluded.mutation_type,
	actor_uid = excluded.actor_uid,
	payload = excluded.payload,
	dedupe_key = excluded.dedupe_key,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	attempts = excluded.attempts,
	next_attempt_at = excluded.next_attempt_at,
	last_error = excluded.last_error
`,
		record.ID,
		string(record.Type),
		record.ActorUID,
		string(record.Payload),
		record.DedupeKey,
		outbox.FormatIndexTime(record.CreatedAt),
		outbox.FormatIndexTime(record.UpdatedAt),
		record.Attempts,
		outbox.FormatIndexTime(record.NextAttemptAt),
		record.LastError,
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", record.ID, err)
	}

	return nil
}

// Delete implements outbox.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}

	return nil
}

// LoadTelemetry implements outbox.TelemetryStore.
func (s *Store) LoadTelemetry(ctx context.Context) (outbox.Telemetry, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM outbox_meta WHERE key = ?`, telemetryKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Telemetry{}, outbox.ErrNotFound
	}
	if err != nil {
		return outbox.Telemetry{}, fmt.Errorf("sqlite: load telemetry: %w", err)
	}

	var telemetry outbox.Telemetry
	if err := json.Unmarshal([]byte(raw), &telemetry); err != nil {
		return outbox.Telemetry{}, fmt.Errorf("sqlite: unmarshal telemetry: %w", err)
	}

	return telemetry, nil
}

// SaveTelemetry implements outbox.TelemetryStore.
func (s *Store) SaveTelemetry(ctx context.Context, telemetry outbox.Telemetry) error {
	raw, err := json.Marshal(telemetry)
	if err != nil {
		return fmt.Errorf("sqlite: marshal telemetry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		telemetryKey, string(raw),
	); err != nil {
		return fmt.Errorf("sqlite: save telemetry: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (outbox.Record, error) {
	var (
		record                       outbox.Record
		mutationType, payload        string
		createdAt, updatedAt, nextAt string
	)
	if err := row.Scan(
		&record.ID,
		&mutationType,
		&record.ActorUID,
		&payload,
		&record.DedupeKey,
		&createdAt,
		&updatedAt,
		&record.Attempts,
		&nextAt,
		&record.LastError,
	); err != nil {
		return outbox.Record{}, err
	}
	record.Type = outbox.MutationType(mutationType)
	record.Payload = json.RawMessage(payload)

	var err error
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return outbox.Record{}, err
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return outbox.Record{}, err
	}
	if record.NextAttemptAt, err = parseTime(nextAt); err != nil {
		return outbox.Record{}, err
	}

	return record, nil
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(outbox.IndexTimeLayout, value)
}
