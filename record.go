package outbox

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// MutationType selects the applier variant that handles a record.
type MutationType string

// Record is a queued mutation persisted in a Store.
type Record struct {
	ID            string          `json:"id"`
	Type          MutationType    `json:"type"`
	ActorUID      string          `json:"actorUid"`
	Payload       json.RawMessage `json:"payload"`
	DedupeKey     string          `json:"dedupeKey"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
}

// Due reports whether the record may be attempted at now.
func (r Record) Due(now time.Time) bool {
	return !r.NextAttemptAt.After(now)
}

// Clone returns a copy that does not share the payload buffer.
func (r Record) Clone() Record {
	if r.Payload != nil {
		r.Payload = append(json.RawMessage(nil), r.Payload...)
	}

	return r
}

// sameIntent reports whether two snapshots of one record carry the same queued intent.
// Flush uses it to detect a merge that happened while the record was being applied.
func sameIntent(a, b Record) bool {
	return a.Type == b.Type && a.UpdatedAt.Equal(b.UpdatedAt) && bytes.Equal(a.Payload, b.Payload)
}

// SortRecords orders records by CreatedAt ascending, using the ID as a tiebreaker.
func SortRecords(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
