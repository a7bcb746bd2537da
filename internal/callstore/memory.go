package callstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"teleconsult/internal/calls"
)

// MemoryStore keeps call records in process memory.
// It is used for tests and single-instance local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]calls.Record
	hub     *hub
	clock   func() time.Time

	// FailWrites makes every write return an error, for exercising ErrWrite paths.
	FailWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]calls.Record),
		hub:     newHub(),
		clock:   time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, r calls.Record) (string, error) {
	if r.ID == "" {
		return "", fmt.Errorf("%w: record id required", calls.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return "", calls.WriteError(errStoreUnavailable)
	}
	if _, ok := m.records[r.ID]; ok {
		return "", calls.WriteError(fmt.Errorf("record %s already exists", r.ID))
	}
	r.Version = 1
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.clock().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	m.records[r.ID] = r
	// Publishing under the lock keeps per-record order.
	m.hub.publish(r)
	return r.ID, nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, id string, expected calls.Status, p calls.Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return false, calls.WriteError(errStoreUnavailable)
	}
	r, ok := m.records[id]
	if !ok {
		return false, calls.ErrNotFound
	}
	if r.Status != expected {
		return false, nil
	}
	r = p.Apply(r)
	r.Version++
	r.UpdatedAt = m.clock().UTC()
	m.records[id] = r
	m.hub.publish(r)
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (calls.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return calls.Record{}, calls.ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) List(ctx context.Context, f calls.Filter) ([]calls.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(f), nil
}

func (m *MemoryStore) listLocked(f calls.Filter) []calls.Record {
	out := make([]calls.Record, 0)
	for _, r := range m.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) Subscribe(ctx context.Context, f calls.Filter) (calls.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.hub.subscribe(ctx, f)
	s.seed(m.listLocked(f))
	return s, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return 0, calls.WriteError(errStoreUnavailable)
	}
	n := len(m.records)
	m.records = make(map[string]calls.Record)
	return n, nil
}

// Subscribers returns the number of open subscriptions.
func (m *MemoryStore) Subscribers() int { return m.hub.len() }

// Close ends every open subscription.
func (m *MemoryStore) Close() error {
	m.hub.closeAll()
	return nil
}
