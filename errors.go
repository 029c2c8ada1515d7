package outbox

import "errors"

var (
	// ErrNotFound is returned by a Store when no record exists for an id.
	ErrNotFound = errors.New("outbox record not found")
	// ErrInvalidIndex is returned by a Store for an unknown secondary index.
	ErrInvalidIndex = errors.New("outbox index is invalid")
	// ErrStoreRequired is returned when New is called without a Store.
	ErrStoreRequired = errors.New("outbox store is required")
	// ErrRegistryRequired is returned when New is called without a Registry.
	ErrRegistryRequired = errors.New("outbox registry is required")
	// ErrTypeRequired is returned when Entry.Type is empty.
	ErrTypeRequired = errors.New("outbox mutation type is required")
	// ErrActorRequired is returned when Entry.ActorUID is empty.
	ErrActorRequired = errors.New("outbox actor uid is required")
	// ErrDedupeKeyRequired is returned when Entry.DedupeKey is empty.
	ErrDedupeKeyRequired = errors.New("outbox dedupe key is required")
	// ErrInvalidKey is returned when an actor uid or dedupe key contains a NUL byte.
	ErrInvalidKey = errors.New("outbox actor uid and dedupe key must not contain NUL")
	// ErrPayloadRequired is returned when Entry.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Entry.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrUnknownMutationType is returned for a type with no registered applier.
	ErrUnknownMutationType = errors.New("outbox mutation type is not registered")
	// ErrNoActor is returned by the gateway when no actor is authenticated.
	ErrNoActor = errors.New("outbox has no authenticated actor")
	// ErrWorkerRunning is returned by Start when the worker is already running.
	ErrWorkerRunning = errors.New("outbox worker is already running")
	// ErrApplierPanic indicates an applier panicked while writing a record.
	ErrApplierPanic = errors.New("outbox applier panic")
	// ErrFlushPanic indicates a flush pass panicked outside of an applier.
	ErrFlushPanic = errors.New("outbox flush panic")
)
