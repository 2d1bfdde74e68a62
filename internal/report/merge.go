package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// Heading opens every merged document.
	Heading = "# Security Audit Report"
	// EmptyBody stands in for the pieces when a run produced none.
	EmptyBody = "_No content_."

	pieceExt = ".md"
)

// Merge concatenates every markdown piece in dir in lexicographic file name
// order. Each piece is introduced by a rule and a heading naming its stem. A
// missing dir merges as zero pieces.
func Merge(dir string) (string, []string, error) {
	names, err := listPieces(dir)
	if err != nil {
		return "", nil, err
	}

	lines := []string{Heading, ""}
	if len(names) == 0 {
		lines = append(lines, EmptyBody)
	}
	for _, name := range names {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", nil, fmt.Errorf("read piece %s: %w", name, err)
		}
		stem := strings.TrimSuffix(name, pieceExt)
		lines = append(lines, "---\n\n## File: `"+stem+"`\n", string(body), "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), names, nil
}

func listPieces(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pieces: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), pieceExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
