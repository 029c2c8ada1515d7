package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mutation is the strongly typed payload of one mutation variant.
//
// Implementations are plain value types; MutationType must not depend on the receiver's fields.
type Mutation interface {
	// MutationType returns the discriminant the Registry dispatches on.
	MutationType() MutationType
}

// Entry describes a mutation to be queued.
type Entry struct {
	// Type selects the registered applier.
	Type MutationType
	// ActorUID identifies the principal that produced the mutation.
	ActorUID string
	// DedupeKey is the logical identity; one live record exists per (ActorUID, DedupeKey).
	DedupeKey string
	// Payload is the JSON encoding of the mutation variant.
	Payload json.RawMessage
}

// NewEntry encodes m into an Entry for the given actor and dedupe key.
func NewEntry(actorUID, dedupeKey string, m Mutation) (Entry, error) {
	if m == nil {
		return Entry{}, ErrPayloadRequired
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: encode %s payload: %w", m.MutationType(), err)
	}

	return Entry{
		Type:      m.MutationType(),
		ActorUID:  actorUID,
		DedupeKey: dedupeKey,
		Payload:   payload,
	}, nil
}

// Validate checks required fields and JSON validity.
func (e Entry) Validate() error {
	if e.Type == "" {
		return ErrTypeRequired
	}
	if e.ActorUID == "" {
		return ErrActorRequired
	}
	if e.DedupeKey == "" {
		return ErrDedupeKeyRequired
	}
	if strings.ContainsRune(e.ActorUID, 0) || strings.ContainsRune(e.DedupeKey, 0) {
		return ErrInvalidKey
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}

	return nil
}
