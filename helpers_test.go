package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type prefsMutation struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

func (prefsMutation) MutationType() MutationType { return "test.prefs" }

type profileMutation struct {
	DisplayName string `json:"displayName"`
}

func (profileMutation) MutationType() MutationType { return "test.profile" }

// mapStore is an in-test Store with fault injection.
type mapStore struct {
	mu      sync.Mutex
	records map[string]Record
	tel     *Telemetry

	getAllErr error
	putErr    error
	puts      int
}

func newMapStore() *mapStore {
	return &mapStore{records: make(map[string]Record)}
}

func (s *mapStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}

	return r.Clone(), nil
}

func (s *mapStore) GetAllByIndex(_ context.Context, index Index, value string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getAllErr != nil {
		return nil, s.getAllErr
	}
	var out []Record
	for _, r := range s.records {
		switch index {
		case IndexActorUID:
			if r.ActorUID == value {
				out = append(out, r.Clone())
			}
		case IndexDedupeKey:
			if r.DedupeKey == value {
				out = append(out, r.Clone())
			}
		default:
			return nil, ErrInvalidIndex
		}
	}

	return out, nil
}

func (s *mapStore) Put(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.records[r.ID] = r.Clone()

	return nil
}

func (s *mapStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)

	return nil
}

func (s *mapStore) LoadTelemetry(context.Context) (Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tel == nil {
		return Telemetry{}, ErrNotFound
	}

	return s.tel.Clone(), nil
}

func (s *mapStore) SaveTelemetry(_ context.Context, t Telemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := t.Clone()
	s.tel = &c

	return nil
}

func (s *mapStore) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	SortRecords(out)

	return out
}

func (s *mapStore) setGetAllErr(err error) {
	s.mu.Lock()
	s.getAllErr = err
	s.mu.Unlock()
}

func (s *mapStore) setPutErr(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++

	return fmt.Sprintf("id-%03d", g.n), nil
}

// remote records applied payloads and fails according to fail.
type remote struct {
	mu      sync.Mutex
	applied []Record
	fail    func(Record) error
}

func (r *remote) apply(_ context.Context, rec Record) error {
	r.mu.Lock()
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		if err := fail(rec); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.applied = append(r.applied, rec.Clone())
	r.mu.Unlock()

	return nil
}

func (r *remote) setFail(fn func(Record) error) {
	r.mu.Lock()
	r.fail = fn
	r.mu.Unlock()
}

func (r *remote) calls() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Record(nil), r.applied...)
}

type harness struct {
	store    *mapStore
	clock    *manualClock
	conn     *ConnectivityFlag
	identity *IdentityHolder
	remote   *remote
	outbox   *Outbox
}

func newHarness(t testing.TB, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    newMapStore(),
		clock:    newManualClock(),
		conn:     NewConnectivityFlag(true),
		identity: NewIdentityHolder("u1"),
		remote:   &remote{},
	}
	registry := NewRegistry()
	registry.Handle(prefsMutation{}.MutationType(), ApplierFunc(h.remote.apply))
	registry.Handle(profileMutation{}.MutationType(), ApplierFunc(h.remote.apply))

	base := []Option{
		WithClock(h.clock),
		WithIDGenerator(&seqIDs{}),
		WithConnectivity(h.conn),
		WithIdentity(h.identity),
	}
	o, err := New(context.Background(), h.store, registry, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	h.outbox = o

	return h
}

func decodePrefs(t *testing.T, raw json.RawMessage) prefsMutation {
	t.Helper()
	var m prefsMutation
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	return m
}
