package outbox

import (
	"context"
	"sync"
	"sync/atomic"
)

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	// Online is a cheap local check; false means remote writes are skipped.
	Online() bool
	// SubscribeOnline registers fn for online/offline transitions and returns an unsubscribe function.
	SubscribeOnline(fn func(online bool)) func()
}

// Identity exposes the currently authenticated actor.
type Identity interface {
	// CurrentActor returns the authenticated actor uid, or "" when signed out.
	CurrentActor() string
	// SubscribeActor registers fn for actor changes and returns an unsubscribe function.
	SubscribeActor(fn func(actorUID string)) func()
}

// ErrorContext describes the record behind a reported failure.
type ErrorContext struct {
	RecordID     string
	MutationType MutationType
	DedupeKey    string
	ActorUID     string
	Attempts     int
	Class        ErrorClass
}

// ErrorReporter receives non-retryable and unexpected failures. It is never called for transient ones.
type ErrorReporter interface {
	Report(ctx context.Context, err error, ectx ErrorContext)
}

// ErrorReporterFunc adapts a function to ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, err error, ectx ErrorContext)

// Report implements ErrorReporter.
func (fn ErrorReporterFunc) Report(ctx context.Context, err error, ectx ErrorContext) {
	fn(ctx, err, ectx)
}

// LogReporter reports failures through a Logger.
type LogReporter struct {
	Logger Logger
}

// Report implements ErrorReporter.
func (r LogReporter) Report(_ context.Context, err error, ectx ErrorContext) {
	if r.Logger == nil {
		return
	}
	r.Logger.Error("outbox mutation dropped",
		"id", ectx.RecordID,
		"type", ectx.MutationType,
		"dedupe_key", ectx.DedupeKey,
		"attempts", ectx.Attempts,
		"class", ectx.Class.String(),
		"err", err,
	)
}

// AlwaysOnline is a Connectivity that never reports offline.
type AlwaysOnline struct{}

// Online implements Connectivity.
func (AlwaysOnline) Online() bool {
	return true
}

// SubscribeOnline implements Connectivity; there are no transitions to deliver.
func (AlwaysOnline) SubscribeOnline(func(bool)) func() {
	return func() {}
}

// ConnectivityFlag is a manually driven Connectivity, e.g. fed by platform network callbacks.
type ConnectivityFlag struct {
	online  atomic.Bool
	changes Broadcaster[bool]
}

// NewConnectivityFlag returns a flag with the given initial state.
func NewConnectivityFlag(online bool) *ConnectivityFlag {
	f := &ConnectivityFlag{}
	f.online.Store(online)

	return f
}

// Online implements Connectivity.
func (f *ConnectivityFlag) Online() bool {
	return f.online.Load()
}

// SetOnline updates the state and notifies subscribers on a transition.
func (f *ConnectivityFlag) SetOnline(online bool) {
	if f.online.CompareAndSwap(!online, online) {
		f.changes.Publish(online)
	}
}

// SubscribeOnline implements Connectivity.
func (f *ConnectivityFlag) SubscribeOnline(fn func(bool)) func() {
	return f.changes.Subscribe(fn)
}

// IdentityHolder is a settable Identity, e.g. fed by the session layer.
type IdentityHolder struct {
	mu      sync.RWMutex
	actor   string
	changes Broadcaster[string]
}

// NewIdentityHolder returns a holder for the given actor ("" for signed out).
func NewIdentityHolder(actorUID string) *IdentityHolder {
	return &IdentityHolder{actor: actorUID}
}

// CurrentActor implements Identity.
func (h *IdentityHolder) CurrentActor() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.actor
}

// SetActor switches the authenticated actor and notifies subscribers when it changes.
func (h *IdentityHolder) SetActor(actorUID string) {
	h.mu.Lock()
	changed := h.actor != actorUID
	h.actor = actorUID
	h.mu.Unlock()

	if changed {
		h.changes.Publish(actorUID)
	}
}

// SubscribeActor implements Identity.
func (h *IdentityHolder) SubscribeActor(fn func(string)) func() {
	return h.changes.Subscribe(fn)
}
