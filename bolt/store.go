// Package bolt provides a durable outbox Store on top of a single bbolt file.
//
// Records are JSON documents keyed by id. Each secondary index is a bucket of composite keys
// "<value>\x00<id>" with empty values, maintained in the same transaction as the record, so a prefix
// scan answers an exact lookup and a cursor walk answers the NextAttemptAt upper bound.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	outbox "github.com/velmie/mutation-outbox"
)

var (
	recordsBucket     = []byte("records")
	dedupeBucket      = []byte("idx_dedupe_key")
	actorBucket       = []byte("idx_actor_uid")
	nextAttemptBucket = []byte("idx_next_attempt_at")
	metaBucket        = []byte("meta")

	telemetryKey = []byte("telemetry")
)

const sep = 0x00

// Store is a bbolt-backed outbox.Store and outbox.TelemetryStore.
type Store struct {
	db *bbolt.DB
}

var (
	_ outbox.Store          = (*Store)(nil)
	_ outbox.TelemetryStore = (*Store)(nil)
)

// Open opens or creates the database at path and ensures its buckets.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bolt: path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, dedupeBucket, actorBucket, nextAttemptBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bolt: create bucket %s: %w", name, err)
			}
		}

		return nil
	})
}

// Get implements outbox.Store.
func (s *Store) Get(ctx context.Context, id string) (outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Record{}, err
	}

	var record outbox.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = loadRecord(tx, id)

		return err
	})

	return record, err
}

// GetAllByIndex implements outbox.Store. The index scan and the record loads share one read
// transaction, so every returned record matches the index value it was found under.
func (s *Store) GetAllByIndex(ctx context.Context, index outbox.Index, value string) ([]outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var scan func(tx *bbolt.Tx) []string
	switch index {
	case outbox.IndexDedupeKey:
		scan = func(tx *bbolt.Tx) []string { return scanPrefix(tx, dedupeBucket, value) }
	case outbox.IndexActorUID:
		scan = func(tx *bbolt.Tx) []string { return scanPrefix(tx, actorBucket, value) }
	case outbox.IndexNextAttemptAt:
		if _, err := outbox.ParseIndexTime(value); err != nil {
			return nil, err
		}
		scan = func(tx *bbolt.Tx) []string { return scanUpTo(tx, nextAttemptBucket, value) }
	default:
		return nil, fmt.Errorf("%w: %q", outbox.ErrInvalidIndex, index)
	}

	var records []outbox.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids := scan(tx)
		records = make([]outbox.Record, 0, len(ids))
		for _, id := range ids {
			record, err := loadRecord(tx, id)
			if err != nil {
				return fmt.Errorf("bolt: %s index entry %s: %w", index, id, err)
			}
			records = append(records, record)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Put implements outbox.Store. The record and its index entries are written in one transaction.
func (s *Store) Put(ctx context.Context, record outbox.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" {
		return errors.New("bolt: record id is required")
	}
	if strings.IndexByte(record.ID, sep) >= 0 {
		return fmt.Errorf("%w: id", outbox.ErrInvalidKey)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("bolt: marshal record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		previous, err := loadRecord(tx, record.ID)
		switch {
		case err == nil:
			if err := deleteIndexes(tx, previous); err != nil {
				return err
			}
		case !errors.Is(err, outbox.ErrNotFound):
			return err
		}

		if err := tx.Bucket(recordsBucket).Put([]byte(record.ID), payload); err != nil {
			return fmt.Errorf("bolt: put record: %w", err)
		}

		return putIndexes(tx, record)
	})
}

// Delete implements outbox.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		previous, err := loadRecord(tx, id)
		if errors.Is(err, outbox.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := deleteIndexes(tx, previous); err != nil {
			return err
		}

		return tx.Bucket(recordsBucket).Delete([]byte(id))
	})
}

// LoadTelemetry implements outbox.TelemetryStore.
func (s *Store) LoadTelemetry(ctx context.Context) (outbox.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Telemetry{}, err
	}

	var telemetry outbox.Telemetry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(metaBucket).Get(telemetryKey)
		if raw == nil {
			return outbox.ErrNotFound
		}
		if err := json.Unmarshal(raw, &telemetry); err != nil {
			return fmt.Errorf("bolt: unmarshal telemetry: %w", err)
		}

		return nil
	})

	return telemetry, err
}

// SaveTelemetry implements outbox.TelemetryStore.
func (s *Store) SaveTelemetry(ctx context.Context, telemetry outbox.Telemetry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(telemetry)
	if err != nil {
		return fmt.Errorf("bolt: marshal telemetry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(telemetryKey, raw)
	})
}

func scanPrefix(tx *bbolt.Tx, bucket []byte, value string) []string {
	prefix := append([]byte(value), sep)
	var ids []string
	c := tx.Bucket(bucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, string(k[len(prefix):]))
	}

	return ids
}

func scanUpTo(tx *bbolt.Tx, bucket []byte, bound string) []string {
	limit := []byte(bound)
	var ids []string
	c := tx.Bucket(bucket).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		i := bytes.IndexByte(k, sep)
		if i < 0 {
			continue
		}
		if bytes.Compare(k[:i], limit) > 0 {
			break
		}
		ids = append(ids, string(k[i+1:]))
	}

	return ids
}

func loadRecord(tx *bbolt.Tx, id string) (outbox.Record, error) {
	raw := tx.Bucket(recordsBucket).Get([]byte(id))
	if raw == nil {
		return outbox.Record{}, outbox.ErrNotFound
	}
	var record outbox.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return outbox.Record{}, fmt.Errorf("bolt: unmarshal record %s: %w", id, err)
	}

	return record, nil
}

func indexKeys(record outbox.Record) map[string][]byte {
	return map[string][]byte{
		string(dedupeBucket):      indexKey(record.DedupeKey, record.ID),
		string(actorBucket):       indexKey(record.ActorUID, record.ID),
		string(nextAttemptBucket): indexKey(outbox.FormatIndexTime(record.NextAttemptAt), record.ID),
	}
}

func indexKey(value, id string) []byte {
	key := make([]byte, 0, len(value)+1+len(id))
	key = append(key, value...)
	key = append(key, sep)

	return append(key, id...)
}

func putIndexes(tx *bbolt.Tx, record outbox.Record) error {
	for bucket, key := range indexKeys(record) {
		if err := tx.Bucket([]byte(bucket)).Put(key, []byte{}); err != nil {
			return fmt.Errorf("bolt: put index %s: %w", bucket, err)
		}
	}

	return nil
}

func deleteIndexes(tx *bbolt.Tx, record outbox.Record) error {
	for bucket, key := range indexKeys(record) {
		if err := tx.Bucket([]byte(bucket)).Delete(key); err != nil {
			return fmt.Errorf("bolt: delete index %s: %w", bucket, err)
		}
	}

	return nil
}
