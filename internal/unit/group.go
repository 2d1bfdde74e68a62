package unit

import (
	"path"
	"sort"
	"strings"

	"auditflow/internal/types"
)

// Groups holds issues keyed by file path.
type Groups struct {
	byPath map[string][]types.Issue
	paths  []string
	// Dropped counts issues that carried no path.
	Dropped int
}

// Group buckets issues by normalized path, keeping first-seen order within
// each bucket. Issues without a path are dropped.
func Group(issues []types.Issue) *Groups {
	g := &Groups{byPath: make(map[string][]types.Issue)}
	for _, is := range issues {
		p := NormalizePath(is.Path)
		if p == "" {
			g.Dropped++
			continue
		}
		if _, ok := g.byPath[p]; !ok {
			g.paths = append(g.paths, p)
		}
		is.Path = p
		g.byPath[p] = append(g.byPath[p], is)
	}
	sort.Strings(g.paths)
	return g
}

// Include adds p as a group with no issues unless it is already present.
// It reports whether a group was added.
func (g *Groups) Include(p string) bool {
	p = NormalizePath(p)
	if p == "" {
		return false
	}
	if _, ok := g.byPath[p]; ok {
		return false
	}
	g.byPath[p] = []types.Issue{}
	i := sort.SearchStrings(g.paths, p)
	g.paths = append(g.paths, "")
	copy(g.paths[i+1:], g.paths[i:])
	g.paths[i] = p
	return true
}

// Paths returns the grouped paths in lexicographic order.
func (g *Groups) Paths() []string {
	return append([]string(nil), g.paths...)
}

// Issues returns the issues for one path in first-seen order.
func (g *Groups) Issues(p string) []types.Issue {
	return g.byPath[p]
}

// Len is the number of distinct paths.
func (g *Groups) Len() int { return len(g.paths) }

// NormalizePath converts separators to "/", strips leading slashes and
// cleans dot segments.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}
