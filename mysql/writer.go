package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/mutation"
)

// Executor runs a write statement; *sql.DB and *sql.Tx satisfy it.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer implements mutation.Writer on MySQL tables created from Schema.
type Writer struct {
	db      *sql.DB
	exec    Executor
	cfg     Config
	queries queries
}

var _ mutation.Writer = (*Writer)(nil)

// NewWriter constructs a Writer with validated table names.
func NewWriter(db *sql.DB, opts ...Option) (*Writer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	prefs, err := writerTable("preferences", cfg.PreferencesTable)
	if err != nil {
		return nil, err
	}
	profile, err := writerTable("profile", cfg.ProfileTable)
	if err != nil {
		return nil, err
	}
	cfg.PreferencesTable, cfg.ProfileTable = prefs, profile

	return &Writer{
		db:      db,
		exec:    db,
		cfg:     cfg,
		queries: newQueries(prefs, profile),
	}, nil
}

// EnsureSchema creates the tables when they do not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	stmts, err := Schema(w.cfg.PreferencesTable, w.cfg.ProfileTable)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := w.exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("outbox mysql: create schema failed: %w", err)
		}
	}

	return nil
}

// WriteNotificationPreferences implements mutation.Writer. An empty digest is stored as off.
func (w *Writer) WriteNotificationPreferences(ctx context.Context, actorUID string, prefs mutation.NotificationPreferences) error {
	if strings.TrimSpace(actorUID) == "" {
		return outbox.Permanent(ErrActorRequired)
	}
	digest := prefs.Digest
	if digest == "" {
		digest = mutation.DigestOff
	}

	_, err := w.exec.ExecContext(ctx, w.queries.upsertPreferences,
		actorUID, prefs.Email, prefs.SMS, prefs.Push, digest, w.cfg.Clock.Now())
	if err != nil {
		return classify(fmt.Errorf("outbox mysql: write notification preferences failed: %w", err))
	}

	return nil
}

// WriteProfile implements mutation.Writer.
func (w *Writer) WriteProfile(ctx context.Context, actorUID string, profile mutation.ProfileUpdate) error {
	if strings.TrimSpace(actorUID) == "" {
		return outbox.Permanent(ErrActorRequired)
	}

	_, err := w.exec.ExecContext(ctx, w.queries.upsertProfile,
		actorUID, strings.TrimSpace(profile.DisplayName), profile.Timezone, profile.Locale, w.cfg.Clock.Now())
	if err != nil {
		return classify(fmt.Errorf("outbox mysql: write profile failed: %w", err))
	}

	return nil
}

// NotificationPreferences reads the stored preferences of actorUID or ErrNotFound.
func (w *Writer) NotificationPreferences(ctx context.Context, actorUID string) (mutation.NotificationPreferences, error) {
	var prefs mutation.NotificationPreferences
	err := w.db.QueryRowContext(ctx, w.queries.selectPreferences, actorUID).
		Scan(&prefs.Email, &prefs.SMS, &prefs.Push, &prefs.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.NotificationPreferences{}, ErrNotFound
	}
	if err != nil {
		return mutation.NotificationPreferences{}, fmt.Errorf("outbox mysql: read notification preferences failed: %w", err)
	}

	return prefs, nil
}

// Profile reads the stored profile of actorUID or ErrNotFound.
func (w *Writer) Profile(ctx context.Context, actorUID string) (mutation.ProfileUpdate, error) {
	var profile mutation.ProfileUpdate
	err := w.db.QueryRowContext(ctx, w.queries.selectProfile, actorUID).
		Scan(&profile.DisplayName, &profile.Timezone, &profile.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.ProfileUpdate{}, ErrNotFound
	}
	if err != nil {
		return mutation.ProfileUpdate{}, fmt.Errorf("outbox mysql: read profile failed: %w", err)
	}

	return profile, nil
}
