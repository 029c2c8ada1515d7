package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Applier performs the remote write for a single record. Implementations must be idempotent.
type Applier interface {
	// Apply writes the record to the remote system-of-record.
	Apply(ctx context.Context, record Record) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, record Record) error

// Apply implements Applier.
func (fn ApplierFunc) Apply(ctx context.Context, record Record) error {
	return fn(ctx, record)
}

// Registry maps each MutationType to exactly one Applier.
type Registry struct {
	mu       sync.RWMutex
	appliers map[MutationType]Applier
}

var _ Applier = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{appliers: make(map[MutationType]Applier)}
}

// Handle binds t to applier. It panics on an empty type, a nil applier or a duplicate binding.
func (r *Registry) Handle(t MutationType, applier Applier) {
	if t == "" {
		panic("outbox: empty MutationType")
	}
	if applier == nil {
		panic("outbox: nil Applier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appliers[t]; ok {
		panic(fmt.Sprintf("outbox: duplicate Applier for %s", t))
	}
	r.appliers[t] = applier
}

// Register binds the variant M to a typed write function. The payload is decoded into M before fn runs;
// a payload that does not decode is a permanent error.
func Register[M Mutation](r *Registry, fn func(ctx context.Context, actorUID string, m M) error) {
	if fn == nil {
		panic("outbox: nil apply func")
	}

	var zero M
	t := zero.MutationType()
	r.Handle(t, ApplierFunc(func(ctx context.Context, record Record) error {
		var m M
		if err := json.Unmarshal(record.Payload, &m); err != nil {
			return Permanent(fmt.Errorf("outbox: decode %s payload: %w", t, err))
		}

		return fn(ctx, record.ActorUID, m)
	}))
}

// Has reports whether t has a registered applier.
func (r *Registry) Has(t MutationType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.appliers[t]

	return ok
}

// Types returns the registered types in lexical order.
func (r *Registry) Types() []MutationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]MutationType, 0, len(r.appliers))
	for t := range r.appliers {
		types = append(types, t)
	}
	slices.Sort(types)

	return types
}

// Apply dispatches record to the applier registered for its type.
func (r *Registry) Apply(ctx context.Context, record Record) error {
	r.mu.RLock()
	applier, ok := r.appliers[record.Type]
	r.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownMutationType, record.Type))
	}

	return applier.Apply(ctx, record)
}
