package outbox

import (
	"context"
	"fmt"
	"time"
)

// Index names a secondary index of the Store.
type Index string

const (
	// IndexDedupeKey matches records by exact dedupe key.
	IndexDedupeKey Index = "dedupeKey"
	// IndexActorUID matches records by exact actor uid.
	IndexActorUID Index = "actorUid"
	// IndexNextAttemptAt matches records due at or before the bound encoded with FormatIndexTime.
	IndexNextAttemptAt Index = "nextAttemptAt"
)

// IndexTimeLayout is a fixed-width UTC layout, so encoded times sort lexically in time order.
const IndexTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Valid reports whether i is a known index.
func (i Index) Valid() bool {
	switch i {
	case IndexDedupeKey, IndexActorUID, IndexNextAttemptAt:
		return true
	default:
		return false
	}
}

// FormatIndexTime encodes t as an IndexNextAttemptAt value.
func FormatIndexTime(t time.Time) string {
	return t.UTC().Format(IndexTimeLayout)
}

// ParseIndexTime decodes an IndexNextAttemptAt value.
func ParseIndexTime(value string) (time.Time, error) {
	t, err := time.Parse(IndexTimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time bound %q", ErrInvalidIndex, value)
	}

	return t, nil
}

// Store is durable key/value storage for records with secondary indexes.
//
// Every method runs in its own short transaction; index entries are written atomically with the record.
type Store interface {
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// GetAllByIndex returns the records matching value on index, in no guaranteed order.
	GetAllByIndex(ctx context.Context, index Index, value string) ([]Record, error)
	// Put inserts or replaces the record with record.ID.
	Put(ctx context.Context, record Record) error
	// Delete removes the record with the given id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}

// TelemetryStore persists the aggregate telemetry so it survives restarts.
// Stores that also implement it are picked up automatically by New.
type TelemetryStore interface {
	// LoadTelemetry returns the persisted telemetry or ErrNotFound.
	LoadTelemetry(ctx context.Context) (Telemetry, error)
	// SaveTelemetry replaces the persisted telemetry.
	SaveTelemetry(ctx context.Context, telemetry Telemetry) error
}
