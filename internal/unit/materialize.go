package unit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"auditflow/internal/safeio"
	"auditflow/internal/types"

	"go.uber.org/zap"
)

// IssuesDocPrefix and IssuesDocExt frame the per-unit issues document name.
const (
	IssuesDocPrefix = "issues_"
	IssuesDocExt    = ".json"
)

// IssuesDocName names the issues document for a source file name.
func IssuesDocName(sourceName string) string {
	stem := strings.TrimSuffix(sourceName, path.Ext(sourceName))
	return IssuesDocPrefix + stem + IssuesDocExt
}

// IsIssuesDoc reports whether a file name is a unit's issues document.
func IsIssuesDoc(name string) bool {
	return strings.HasPrefix(name, IssuesDocPrefix) && strings.HasSuffix(name, IssuesDocExt)
}

// Unit is one materialized grouped file.
type Unit struct {
	Name       string
	Path       string
	Dir        string
	IssuesFile string
	SourceFile string
	Issues     int
	Source     safeio.CopyResult
}

// Materializer writes one directory per grouped path.
type Materializer struct {
	log *zap.Logger
}

func NewMaterializer(logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{log: logger.Named("materialize")}
}

// Materialize creates <unitsDir>/<unit>/ for each grouped path, holding the
// issue subset and, when present under sourceRoot, a copy of the source.
// A missing source is logged and tolerated; any other I/O fault is returned.
func (m *Materializer) Materialize(g *Groups, sourceRoot, unitsDir string) ([]Unit, error) {
	src, err := safeio.NewSafeFS(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("open source root: %w", err)
	}
	if err := os.MkdirAll(unitsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create units dir: %w", err)
	}

	namer := NewNamer()
	units := make([]Unit, 0, g.Len())
	for _, p := range g.Paths() {
		u, err := m.one(src, namer.Name(p), p, g.Issues(p), unitsDir)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (m *Materializer) one(src *safeio.SafeFS, name, p string, issues []types.Issue, unitsDir string) (Unit, error) {
	dir := filepath.Join(unitsDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Unit{}, fmt.Errorf("create unit dir %s: %w", name, err)
	}
	base := path.Base(p)
	u := Unit{
		Name:       name,
		Path:       p,
		Dir:        dir,
		IssuesFile: filepath.Join(dir, IssuesDocName(base)),
		SourceFile: filepath.Join(dir, base),
		Issues:     len(issues),
	}

	if issues == nil {
		issues = []types.Issue{}
	}
	body, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return Unit{}, fmt.Errorf("encode issues for %s: %w", p, err)
	}
	if err := safeio.WriteFileAtomic(u.IssuesFile, bytes.NewReader(body), 0o644); err != nil {
		return Unit{}, fmt.Errorf("write issues for %s: %w", p, err)
	}

	res, err := src.CopyOut(filepath.FromSlash(p), u.SourceFile)
	if err != nil {
		return Unit{}, fmt.Errorf("copy source %s: %w", p, err)
	}
	u.Source = res
	if res == safeio.CopyAbsent {
		u.SourceFile = ""
		m.log.Warn("source file not found in archive", zap.String("path", p), zap.String("unit", name))
	}
	return u, nil
}
