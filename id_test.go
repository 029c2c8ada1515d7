package outbox

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7GeneratorOrdersIDs(t *testing.T) {
	gen := UUIDv7Generator{}
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := gen.New()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("parse %q: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected version 7, got %d", parsed.Version())
		}
		if id <= prev {
			t.Fatalf("expected %q to sort after %q", id, prev)
		}
		prev = id
	}
}
