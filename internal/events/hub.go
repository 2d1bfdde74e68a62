package events

import (
	"context"
	"sync"
)

// Hub fans events out to in-process subscribers of a job.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
	size int
}

// NewHub creates a hub whose subscriber channels buffer size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 16
	}
	return &Hub{subs: make(map[string]map[chan Event]struct{}), size: size}
}

// Subscribe registers for jobID's events. The cancel func unregisters and
// closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, h.size)
	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to current subscribers. Slow subscribers lose events
// instead of stalling the job.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribers reports how many listeners jobID has.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
