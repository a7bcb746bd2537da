package reporting

import (
	"context"
	"sync"
	"time"

	"teleconsult/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, receiverID string) ([]calls.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterCalls(r.Calls, from, to, receiverID), nil
}

// StoreRepo reads call records straight from the call store.
type StoreRepo struct {
	Store calls.Store
}

func (r StoreRepo) ListCalls(ctx context.Context, from, to time.Time, receiverID string) ([]calls.Record, error) {
	recs, err := r.Store.List(ctx, calls.Filter{ReceiverID: receiverID})
	if err != nil {
		return nil, err
	}
	return filterCalls(recs, from, to, ""), nil
}

func filterCalls(in []calls.Record, from, to time.Time, receiverID string) []calls.Record {
	out := make([]calls.Record, 0)
	for _, c := range in {
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		if receiverID != "" && c.ReceiverID != receiverID {
			continue
		}
		out = append(out, c)
	}
	return out
}
