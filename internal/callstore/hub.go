package callstore

import (
	"context"
	"sync"

	"teleconsult/internal/calls"
)

// hub fans record writes out to local subscriptions.
//
// Publishing never blocks: each subscription owns an unbounded queue drained
// by its own goroutine, so a slow consumer cannot stall writers or other
// subscribers. Per-record order is enforced with Record.Version.
type hub struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

// publish offers rec to every subscription.
func (h *hub) publish(rec calls.Record) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.offer(rec)
	}
}

// subscribe registers a new subscription. Callers seed it with a snapshot
// after registering so that nothing written in between is lost.
func (h *hub) subscribe(ctx context.Context, f calls.Filter) *subscription {
	s := &subscription{
		filter:   f,
		known:    make(map[string]int64),
		early:    make(map[string]int64),
		matching: make(map[string]bool),
		signal:   make(chan struct{}, 1),
		out:      make(chan calls.Event),
		done:     make(chan struct{}),
		hub:      h,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	go s.pump(ctx)
	return s
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.Close()
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type subscription struct {
	filter calls.Filter
	hub    *hub

	mu sync.Mutex
	// known holds the last version seen for every record that ever matched.
	known map[string]int64
	// early holds versions of non-matching writes that arrived before the
	// snapshot, so a stale snapshot row cannot resurrect them. Nil once seeded.
	early    map[string]int64
	matching map[string]bool
	queue    []calls.Event

	signal chan struct{}
	out    chan calls.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan calls.Event { return s.out }

// Close stops delivery. The events channel is closed by the pump.
func (s *subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *subscription) seed(recs []calls.Record) {
	for _, r := range recs {
		s.offer(r)
	}
	s.mu.Lock()
	s.early = nil
	s.mu.Unlock()
}

// offer turns a record write into an added/modified/removed event relative
// to the filter, dropping versions older than the last one seen.
func (s *subscription) offer(rec calls.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	last, seen := s.known[rec.ID]
	if !seen {
		last, seen = s.early[rec.ID]
	}
	if seen && rec.Version <= last {
		return
	}
	match := s.filter.Matches(rec)
	was := s.matching[rec.ID]

	var ev calls.Event
	switch {
	case match && !was:
		ev = calls.Event{Type: calls.ChangeAdded, Record: rec}
		s.matching[rec.ID] = true
	case match && was:
		ev = calls.Event{Type: calls.ChangeModified, Record: rec}
	case !match && was:
		ev = calls.Event{Type: calls.ChangeRemoved, Record: rec}
		delete(s.matching, rec.ID)
	default:
		if _, ok := s.known[rec.ID]; ok {
			s.known[rec.ID] = rec.Version
		} else if s.early != nil {
			s.early[rec.ID] = rec.Version
		}
		return
	}
	s.known[rec.ID] = rec.Version
	s.queue = append(s.queue, ev)

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	defer s.Close()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = calls.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		// Re-check before handing over so a closed subscription stays quiet.
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
