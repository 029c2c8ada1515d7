package outbox

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var got prefsMutation
	var actor string
	Register(r, func(_ context.Context, actorUID string, m prefsMutation) error {
		actor = actorUID
		got = m

		return nil
	})

	err := r.Apply(context.Background(), Record{
		Type:     "test.prefs",
		ActorUID: "u1",
		Payload:  []byte(`{"email":true,"sms":true}`),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if actor != "u1" || !got.Email || !got.SMS {
		t.Fatalf("unexpected dispatch: %q %+v", actor, got)
	}
	if !r.Has("test.prefs") || r.Has("test.profile") {
		t.Fatalf("unexpected Has result")
	}
	if !slices.Equal(r.Types(), []MutationType{"test.prefs"}) {
		t.Fatalf("unexpected types %v", r.Types())
	}
}

func TestRegistryUnknownTypeIsPermanent(t *testing.T) {
	err := NewRegistry().Apply(context.Background(), Record{Type: "nope"})
	if !errors.Is(err, ErrUnknownMutationType) {
		t.Fatalf("expected ErrUnknownMutationType, got %v", err)
	}
	if Classify(err) != ClassPermanent {
		t.Fatalf("unknown type must be permanent")
	}
}

func TestRegistryUndecodablePayloadIsPermanent(t *testing.T) {
	r := NewRegistry()
	Register(r, func(context.Context, string, prefsMutation) error { return nil })

	err := r.Apply(context.Background(), Record{Type: "test.prefs", Payload: []byte(`{"email":"yes"}`)})
	if err == nil || Classify(err) != ClassPermanent {
		t.Fatalf("expected permanent decode error, got %v", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Handle("t", ApplierFunc(func(context.Context, Record) error { return nil }))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.Handle("t", ApplierFunc(func(context.Context, Record) error { return nil }))
}
