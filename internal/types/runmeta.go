package types

import "time"

// UnitState is the terminal state of one enrichment unit.
type UnitState string

const (
	UnitSuccess UnitState = "success"
	UnitSkipped UnitState = "skipped"
	UnitFailure UnitState = "failure"
)

// FailureItem describes why a unit ended in UnitFailure.
type FailureItem struct {
	Unit    string `json:"unit"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RunMeta summarizes one stage-two enrichment run.
//
// SuccessCount + SkippedCount + FailureCount always equals ProcessedTotal.
type RunMeta struct {
	JobID          string        `json:"job_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Total          int           `json:"total"`
	ProcessedTotal int           `json:"processed_total"`
	SuccessCount   int           `json:"success_count"`
	SkippedCount   int           `json:"skipped_count"`
	FailureCount   int           `json:"failure_count"`
	FailedItems    []FailureItem `json:"failed_items"`
	Pieces         []string      `json:"pieces"`
}

// Record folds one unit outcome into the counters.
func (m *RunMeta) Record(unit string, state UnitState, failure *FailureItem, piece string) {
	m.ProcessedTotal++
	switch state {
	case UnitSuccess:
		m.SuccessCount++
		if piece != "" {
			m.Pieces = append(m.Pieces, piece)
		}
	case UnitSkipped:
		m.SkippedCount++
	default:
		m.FailureCount++
		item := FailureItem{Unit: unit, Kind: "unknown"}
		if failure != nil {
			item = *failure
			item.Unit = unit
		}
		m.FailedItems = append(m.FailedItems, item)
	}
}

// StatusDocument is the stage-two JSON response for callers that do not
// request the rendered report.
type StatusDocument struct {
	Message        string `json:"message"`
	JobID          string `json:"job_id"`
	Total          int    `json:"total"`
	ProcessedTotal int    `json:"processed_total"`
	SuccessCount   int    `json:"success_count"`
	SkippedCount   int    `json:"skipped_count"`
	FailureCount   int    `json:"failure_count"`
	ReportLocation string `json:"report_location,omitempty"`
}

// NewStatusDocument builds the status body for a finished run.
func NewStatusDocument(meta RunMeta, location string) StatusDocument {
	return StatusDocument{
		Message:        "ok",
		JobID:          meta.JobID,
		Total:          meta.Total,
		ProcessedTotal: meta.ProcessedTotal,
		SuccessCount:   meta.SuccessCount,
		SkippedCount:   meta.SkippedCount,
		FailureCount:   meta.FailureCount,
		ReportLocation: location,
	}
}
