package outbox

import (
	"maps"
	"slices"
	"sync"
)

// Broadcaster fans values out to subscribers in subscription order.
//
// The zero value is ready to use and does not replay; NewReplayBroadcaster creates one that delivers
// the latest value to every new subscriber. Subscribers are called synchronously by Publish and must
// not block.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]func(T)
	last    T
	hasLast bool
	replay  bool
}

// NewReplayBroadcaster returns a Broadcaster that replays the latest value, starting with initial.
func NewReplayBroadcaster[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{last: initial, hasLast: true, replay: true}
}

// Subscribe registers fn and returns a function that removes it. The returned function is idempotent.
func (b *Broadcaster[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]func(T))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	last, replay := b.last, b.replay && b.hasLast
	b.mu.Unlock()

	if replay {
		fn(last)
	}

	return sync.OnceFunc(func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	})
}

// Publish stores v as the latest value and delivers it to all current subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	b.last = v
	b.hasLast = true
	ids := slices.Sorted(maps.Keys(b.subs))
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Last returns the latest published value.
func (b *Broadcaster[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.last, b.hasLast
}

// Len returns the number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs)
}
