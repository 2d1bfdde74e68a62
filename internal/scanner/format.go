package scanner

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"auditflow/internal/types"
)

// RawFinding is one entry of the scanner's "results" array. Every field is
// optional; values of the wrong JSON type are treated as absent.
type RawFinding struct {
	CheckID optString `json:"check_id"`
	Path    optString `json:"path"`
	Start   *position `json:"start"`
	Extra   *extra    `json:"extra"`
}

type position struct {
	Line optInt `json:"line"`
	Col  optInt `json:"col"`
}

type extra struct {
	Message  optString `json:"message"`
	Lines    optString `json:"lines"`
	Severity optString `json:"severity"`
	Metadata *metadata `json:"metadata"`
}

type metadata struct {
	Severity optString `json:"severity"`
}

func (r *RawFinding) UnmarshalJSON(b []byte) error {
	type alias RawFinding
	_ = json.Unmarshal(b, (*alias)(r))
	return nil
}

func (p *position) UnmarshalJSON(b []byte) error {
	type alias position
	_ = json.Unmarshal(b, (*alias)(p))
	return nil
}

func (e *extra) UnmarshalJSON(b []byte) error {
	type alias extra
	_ = json.Unmarshal(b, (*alias)(e))
	return nil
}

func (m *metadata) UnmarshalJSON(b []byte) error {
	type alias metadata
	_ = json.Unmarshal(b, (*alias)(m))
	return nil
}

type optString struct {
	Value string
	Set   bool
}

func (o *optString) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		o.Value, o.Set = s, true
	}
	return nil
}

func (o optString) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

type optInt struct {
	Value int
	Set   bool
}

func (o *optInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if dec.Decode(&n) != nil {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		o.Value, o.Set = int(v), true
	}
	return nil
}

func (o optInt) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Format normalizes raw findings into Issues. Paths are made relative to
// root and use forward slashes.
func Format(raw []RawFinding, root string) []types.Issue {
	issues := make([]types.Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, FormatOne(r, root))
	}
	return issues
}

// FormatOne applies the default rules to a single finding.
func FormatOne(r RawFinding, root string) types.Issue {
	issue := types.Issue{
		Path:     relPath(r.Path.Value, root),
		Rule:     r.CheckID.Value,
		Severity: types.SeverityUnknown,
	}
	if r.Start != nil {
		issue.Line = r.Start.Line.Value
	}
	if r.Extra != nil {
		issue.Code = r.Extra.Lines.Value
		issue.Message = r.Extra.Message.Value
		switch {
		case strings.TrimSpace(r.Extra.Severity.Value) != "":
			issue.Severity = r.Extra.Severity.Value
		case r.Extra.Metadata != nil && strings.TrimSpace(r.Extra.Metadata.Severity.Value) != "":
			issue.Severity = r.Extra.Metadata.Severity.Value
		}
	}
	return issue
}

func relPath(p, root string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if root != "" && filepath.IsAbs(p) {
		if rel, err := filepath.Rel(root, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			p = rel
		}
	}
	p = strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
	return strings.TrimLeft(p, "/")
}
