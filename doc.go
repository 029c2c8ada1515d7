// Package outbox provides a client-resident durable mutation outbox with pluggable storage backends.
//
// Typical flow:
//  1. Callers write through Outbox.AttemptDirectWriteElseQueue; the remote write is attempted first.
//  2. On a transient connectivity failure the mutation is persisted in a Store, one record per
//     (actor, dedupe key); later intents for the same key merge into the queued record.
//  3. The flush worker (Outbox.Start) drains due records for the current actor, deleting them on success,
//     rescheduling them with exponential backoff on transient failures and dropping them after reporting
//     on permanent ones.
//
// Storage backends live in the bolt, sqlite and memory packages. Concrete mutation variants and their
// remote writers live in the mutation, remote/httpapi and mysql packages.
package outbox
