package types

// SeverityUnknown is used when a finding carries no severity.
const SeverityUnknown = "UNKNOWN"

// Issue is one normalized scanner finding.
type Issue struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Rule     string `json:"rule"`
}

// IssuesDocument is the stage-one response body when the caller asks for
// issues only.
type IssuesDocument struct {
	Status        string  `json:"status"`
	JobID         string  `json:"job_id"`
	FoundIssues   int     `json:"found_issues"`
	ScannedFiles  int     `json:"scanned_files"`
	FailedBatches int     `json:"failed_batches"`
	Issues        []Issue `json:"issues"`
}
