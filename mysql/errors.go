package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("outbox mysql: db is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("outbox mysql: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("outbox mysql: invalid table name")
	// ErrActorRequired is returned when a write has no actor uid.
	ErrActorRequired = errors.New("outbox mysql: actor uid is required")
	// ErrNotFound is returned by the read methods when the actor has no row.
	ErrNotFound = errors.New("outbox mysql: row not found")
)
