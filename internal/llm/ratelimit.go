package llm

import (
	"context"
	"sync"
	"time"
)

// Quota spaces generation calls per model. Gemini enforces its request quota
// per model and project, so every client of one model draws from the same
// budget while different models are scheduled independently. Scheduling
// follows GCRA: each model keeps the theoretical arrival time of its next
// call and up to burst calls may run ahead of it.
type Quota struct {
	interval time.Duration
	burst    int

	mu     sync.Mutex
	models map[string]time.Time
}

// NewQuota allows rps calls per second per model. It returns nil (no
// limiting) when rps <= 0.
func NewQuota(rps float64, burst int) *Quota {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	interval := time.Duration(float64(time.Second) / rps)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Quota{interval: interval, burst: burst, models: make(map[string]time.Time)}
}

// Wait blocks until a call to model is within quota or ctx ends. A
// cancelled wait hands its slot back.
func (q *Quota) Wait(ctx context.Context, model string) error {
	if q == nil {
		return ctx.Err()
	}
	delay := q.reserve(model, time.Now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		q.release(model)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (q *Quota) reserve(model string, now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	tat := q.models[model]
	if tat.Before(now) {
		tat = now
	}
	q.models[model] = tat.Add(q.interval)
	return tat.Sub(now) - time.Duration(q.burst-1)*q.interval
}

func (q *Quota) release(model string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.models[model] = q.models[model].Add(-q.interval)
}
