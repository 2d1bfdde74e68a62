package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Stage is a point in a job's lifecycle.
type Stage string

const (
	StageReceived  Stage = "received"
	StageExtracted Stage = "extracted"
	StageScanned   Stage = "scanned"
	StageForwarded Stage = "forwarded"
	StageGrouped   Stage = "grouped"
	StageUnit      Stage = "unit"
	StageMerged    Stage = "merged"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Event is one lifecycle notification.
type Event struct {
	JobID      string `json:"job_id"`
	Service    string `json:"service,omitempty"`
	Stage      Stage  `json:"stage"`
	Unit       string `json:"unit,omitempty"`
	State      string `json:"state,omitempty"`
	Message    string `json:"message,omitempty"`
	Count      int    `json:"count,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}

// New stamps an event with the current time.
func New(jobID string, stage Stage) Event {
	return Event{JobID: jobID, Stage: stage, HappenedAt: time.Now().UnixMilli()}
}

// Publisher delivers events. Publishing never blocks a job for long and a
// failed publish never fails a job.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes ev and logs, rather than returns, any failure.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, ev Event) {
	if p == nil {
		return
	}
	if ev.HappenedAt == 0 {
		ev.HappenedAt = time.Now().UnixMilli()
	}
	if err := p.Publish(ctx, ev); err != nil && logger != nil {
		logger.Warn("publish event failed",
			zap.String("job_id", ev.JobID),
			zap.String("stage", string(ev.Stage)),
			zap.Error(err))
	}
}
