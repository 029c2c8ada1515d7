// Package memory provides an in-process outbox Store. Records do not survive a restart, so it suits
// tests and short-lived tools.
package memory

import (
	"context"
	"fmt"
	"sync"

	outbox "github.com/velmie/mutation-outbox"
)

// Store keeps records in a map guarded by a mutex. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	records   map[string]outbox.Record
	telemetry *outbox.Telemetry
}

var (
	_ outbox.Store          = (*Store)(nil)
	_ outbox.TelemetryStore = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]outbox.Record)}
}

// Get implements outbox.Store.
func (s *Store) Get(ctx context.Context, id string) (outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return outbox.Record{}, outbox.ErrNotFound
	}

	return record.Clone(), nil
}

// GetAllByIndex implements outbox.Store.
func (s *Store) GetAllByIndex(ctx context.Context, index outbox.Index, value string) ([]outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	match, err := matcher(index, value)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Record, 0)
	for _, record := range s.records {
		if match(record) {
			out = append(out, record.Clone())
		}
	}

	return out, nil
}

// Put implements outbox.Store.
func (s *Store) Put(ctx context.Context, record outbox.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" {
		return fmt.Errorf("memory: empty record id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()

	return nil
}

// Delete implements outbox.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)

	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// LoadTelemetry implements outbox.TelemetryStore.
func (s *Store) LoadTelemetry(ctx context.Context) (outbox.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Telemetry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.telemetry == nil {
		return outbox.Telemetry{}, outbox.ErrNotFound
	}

	return s.telemetry.Clone(), nil
}

// SaveTelemetry implements outbox.TelemetryStore.
func (s *Store) SaveTelemetry(ctx context.Context, telemetry outbox.Telemetry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := telemetry.Clone()
	s.mu.Lock()
	s.telemetry = &snapshot
	s.mu.Unlock()

	return nil
}

func matcher(index outbox.Index, value string) (func(outbox.Record) bool, error) {
	switch index {
	case outbox.IndexDedupeKey:
		return func(r outbox.Record) bool { return r.DedupeKey == value }, nil
	case outbox.IndexActorUID:
		return func(r outbox.Record) bool { return r.ActorUID == value }, nil
	case outbox.IndexNextAttemptAt:
		bound, err := outbox.ParseIndexTime(value)
		if err != nil {
			return nil, err
		}

		return func(r outbox.Record) bool { return !r.NextAttemptAt.After(bound) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", outbox.ErrInvalidIndex, index)
	}
}
