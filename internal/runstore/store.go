package runstore

import (
	"context"
	"errors"
	"time"

	"auditflow/internal/types"
)

var ErrNotFound = errors.New("run not found")

// Record is the persisted view of one finished stage-two run.
type Record struct {
	Meta           types.RunMeta `json:"meta"`
	ReportLocation string        `json:"report_location,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Store keeps run metadata for status lookups. Delete of an unknown job
// is not an error.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, jobID string) (Record, error)
	Delete(ctx context.Context, jobID string) error
}
