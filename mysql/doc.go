// Package mysql writes outbox mutations straight into the MySQL 8.0+ database of the user service.
//
// Every variant is stored as one row per actor and written with INSERT ... ON DUPLICATE KEY UPDATE, so
// a replayed record overwrites the row with the same document and stays idempotent.
//
// Driver errors are classified for the outbox: lost connections, deadlocks, lock wait timeouts and
// connection limits are transient; access and data errors are permanent. See Schema for the tables.
package mysql
