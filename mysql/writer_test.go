package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/mutation"
)

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeExecutor struct {
	query string
	args  []any
	err   error
}

func (f *fakeExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return fakeResult{}, nil
}

var fixedNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestWriter(exec Executor) *Writer {
	cfg := Config{Clock: outbox.ClockFunc(func() time.Time { return fixedNow })}.withDefaults()
	return &Writer{
		exec:    exec,
		cfg:     cfg,
		queries: newQueries(cfg.PreferencesTable, cfg.ProfileTable),
	}
}

func TestNewWriterValidation(t *testing.T) {
	if _, err := NewWriter(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewWriter(&sql.DB{}, WithProfileTable("profiles;drop")); !errors.Is(err, ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}

func TestWriteNotificationPreferencesUpserts(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec)

	err := w.WriteNotificationPreferences(context.Background(), "u1", mutation.NotificationPreferences{Email: true, Push: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(exec.query, "INSERT INTO user_notification_preferences") {
		t.Fatalf("unexpected query: %s", exec.query)
	}
	if !strings.Contains(exec.query, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected upsert, got %s", exec.query)
	}
	want := []any{"u1", true, false, true, mutation.DigestOff, fixedNow}
	if fmt.Sprint(exec.args) != fmt.Sprint(want) {
		t.Fatalf("args = %v, want %v", exec.args, want)
	}
}

func TestWriteProfileTrimsDisplayName(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec)

	err := w.WriteProfile(context.Background(), "u1", mutation.ProfileUpdate{DisplayName: "  Ada ", Timezone: "Europe/Vilnius"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(exec.query, "INSERT INTO user_profiles") {
		t.Fatalf("unexpected query: %s", exec.query)
	}
	if exec.args[1] != "Ada" || exec.args[2] != "Europe/Vilnius" {
		t.Fatalf("unexpected args %v", exec.args)
	}
}

func TestWriteRequiresActor(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec)

	err := w.WriteProfile(context.Background(), " ", mutation.ProfileUpdate{DisplayName: "Ada"})
	if !errors.Is(err, ErrActorRequired) || !outbox.IsPermanent(err) {
		t.Fatalf("expected permanent ErrActorRequired, got %v", err)
	}
	if exec.query != "" {
		t.Fatalf("expected no statement to run")
	}
}

func TestWriteClassifiesDriverErrors(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		class outbox.ErrorClass
	}{
		{"deadlock", &mysql.MySQLError{Number: errLockDeadlock, Message: "deadlock"}, outbox.ClassTransient},
		{"lock wait", &mysql.MySQLError{Number: errLockWaitTimeout, Message: "lock wait"}, outbox.ClassTransient},
		{"too many connections", &mysql.MySQLError{Number: errConCount, Message: "too many"}, outbox.ClassTransient},
		{"invalid conn", mysql.ErrInvalidConn, outbox.ClassTransient},
		{"data too long", &mysql.MySQLError{Number: errDataTooLong, Message: "too long"}, outbox.ClassPermanent},
		{"access denied", &mysql.MySQLError{Number: errAccessDenied, Message: "denied"}, outbox.ClassPermanent},
		{"no such table", &mysql.MySQLError{Number: errNoSuchTable, Message: "missing"}, outbox.ClassPermanent},
		{"other server error", &mysql.MySQLError{Number: 1064, Message: "syntax"}, outbox.ClassUnexpected},
		{"plain", errors.New("boom"), outbox.ClassUnexpected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newTestWriter(&fakeExecutor{err: tc.err})
			err := w.WriteNotificationPreferences(context.Background(), "u1", mutation.NotificationPreferences{})
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected cause to be kept, got %v", err)
			}
			if got := outbox.Classify(err); got != tc.class {
				t.Fatalf("class = %s, want %s", got, tc.class)
			}
		})
	}
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	var ran []string
	exec := execFunc(func(query string) error {
		ran = append(ran, query)
		return nil
	})
	w := newTestWriter(exec)

	if err := w.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(ran) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(ran))
	}
}

type execFunc func(query string) error

func (fn execFunc) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if err := fn(query); err != nil {
		return nil, err
	}
	return fakeResult{}, nil
}
