package outbox

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGatewayDirectWrite(t *testing.T) {
	h := newHarness(t)

	res, err := h.outbox.AttemptDirectWriteElseQueue(context.Background(), prefsMutation{Email: true}, "prefs:u1")
	if err != nil {
		t.Fatalf("direct write: %v", err)
	}
	if res.Queued || res.Record != nil {
		t.Fatalf("expected direct write, got %+v", res)
	}
	calls := h.remote.calls()
	if len(calls) != 1 || calls[0].ActorUID != "u1" || calls[0].DedupeKey != "prefs:u1" {
		t.Fatalf("unexpected remote calls %+v", calls)
	}
	if n := len(h.store.all()); n != 0 {
		t.Fatalf("nothing must be queued, got %d", n)
	}
}

func TestGatewayQueuesWhenOffline(t *testing.T) {
	h := newHarness(t)
	h.conn.SetOnline(false)

	res, err := h.outbox.AttemptDirectWriteElseQueue(context.Background(), prefsMutation{}, "prefs:u1")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !res.Queued || res.Record == nil {
		t.Fatalf("expected queued result, got %+v", res)
	}
	if n := len(h.remote.calls()); n != 0 {
		t.Fatalf("offline write must not reach the remote, got %d", n)
	}
}

func TestGatewayQueuesOnTransientFailure(t *testing.T) {
	h := newHarness(t)
	h.remote.setFail(func(Record) error { return status.Error(codes.FailedPrecondition, "client is offline") })

	res, err := h.outbox.AttemptDirectWriteElseQueue(context.Background(), prefsMutation{}, "prefs:u1")
	if err != nil {
		t.Fatalf("transient failure must not surface: %v", err)
	}
	if !res.Queued {
		t.Fatalf("expected queued result")
	}
	if n := len(h.store.all()); n != 1 {
		t.Fatalf("expected one queued record, got %d", n)
	}
}

func TestGatewayReturnsPermanentFailure(t *testing.T) {
	h := newHarness(t)
	denied := status.Error(codes.PermissionDenied, "denied")
	h.remote.setFail(func(Record) error { return denied })

	res, err := h.outbox.AttemptDirectWriteElseQueue(context.Background(), prefsMutation{}, "prefs:u1")
	if !errors.Is(err, denied) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if res.Queued {
		t.Fatalf("permanent failures must not be queued")
	}
	if n := len(h.store.all()); n != 0 {
		t.Fatalf("nothing must be queued, got %d", n)
	}
}

func TestGatewayRequiresActor(t *testing.T) {
	h := newHarness(t)
	h.identity.SetActor("")

	if _, err := h.outbox.AttemptDirectWriteElseQueue(context.Background(), prefsMutation{}, "k"); !errors.Is(err, ErrNoActor) {
		t.Fatalf("expected ErrNoActor, got %v", err)
	}
}

func TestGatewayDirectWriteDiscardsStaleQueuedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.conn.SetOnline(false)
	if _, err := h.outbox.AttemptDirectWriteElseQueue(ctx, prefsMutation{Email: true}, "prefs:u1"); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := h.outbox.Enqueue(ctx, "u2", "prefs:u1", prefsMutation{}); err != nil {
		t.Fatalf("enqueue other actor: %v", err)
	}

	h.conn.SetOnline(true)
	if _, err := h.outbox.AttemptDirectWriteElseQueue(ctx, prefsMutation{SMS: true}, "prefs:u1"); err != nil {
		t.Fatalf("direct write: %v", err)
	}

	stored := h.store.all()
	if len(stored) != 1 || stored[0].ActorUID != "u2" {
		t.Fatalf("only the other actor's record may remain, got %+v", stored)
	}
	if state, _ := h.outbox.Pending(ctx); state.Count != 0 {
		t.Fatalf("expected no pending records for u1, got %d", state.Count)
	}

	res, err := h.outbox.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Processed != 0 {
		t.Fatalf("the stale payload must never be flushed, got %+v", res)
	}
}

func TestGatewayDirectWriteUpdatesTelemetryPendingCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.conn.SetOnline(false)
	if _, err := h.outbox.AttemptDirectWriteElseQueue(ctx, prefsMutation{Email: true}, "prefs:u1"); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if got := h.outbox.Telemetry().PendingCount; got != 1 {
		t.Fatalf("expected pending count 1 after queueing, got %d", got)
	}

	h.conn.SetOnline(true)
	if _, err := h.outbox.AttemptDirectWriteElseQueue(ctx, prefsMutation{SMS: true}, "prefs:u1"); err != nil {
		t.Fatalf("direct write: %v", err)
	}
	if got := h.outbox.Telemetry().PendingCount; got != 0 {
		t.Fatalf("expected pending count 0 once the stale record is discarded, got %d", got)
	}

	restarted, err := New(ctx, h.store, NewRegistry(), WithIdentity(h.identity))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := restarted.Telemetry().PendingCount; got != 0 {
		t.Fatalf("expected the persisted pending count to be 0, got %d", got)
	}
}
