package outbox

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator creates new record identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (string, error)
}

// UUIDv7Generator produces time-ordered UUID v7 identifiers.
type UUIDv7Generator struct{}

// New creates a new UUID v7 identifier in canonical form.
func (UUIDv7Generator) New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("outbox: generate id: %w", err)
	}

	return id.String(), nil
}
