package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// sourceExts are the extensions handed to the scanner.
var sourceExts = map[string]struct{}{
	".py": {}, ".js": {}, ".ts": {}, ".java": {}, ".go": {}, ".rb": {},
	".c": {}, ".cpp": {}, ".cs": {}, ".php": {}, ".swift": {},
}

// FileVisit describes one classified source file.
type FileVisit struct {
	// Root-relative path using forward slashes (e.g., "src/app.go").
	Path string
	// Lowercased extension, e.g. ".go".
	Ext string
}

// VisitFunc receives every classified source file.
type VisitFunc func(f FileVisit)

// Classify walks root and groups the absolute paths of source files by
// extension. Unreadable entries and VCS directories are skipped.
func Classify(root string) (map[string][]string, error) {
	return ClassifyWithCallback(root, nil)
}

// ClassifyWithCallback is Classify that also reports every source file to cb.
func ClassifyWithCallback(root string, cb VisitFunc) (map[string][]string, error) {
	byExt := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".hg", ".svn":
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := sourceExts[ext]; !ok {
			return nil
		}
		byExt[ext] = append(byExt[ext], path)
		if cb != nil {
			rel, _ := filepath.Rel(root, path)
			cb(FileVisit{Path: filepath.ToSlash(rel), Ext: ext})
		}
		return nil
	})
	return byExt, err
}

// Flatten concatenates the classified lists in extension order.
func Flatten(byExt map[string][]string) []string {
	exts := make([]string, 0, len(byExt))
	n := 0
	for ext, paths := range byExt {
		exts = append(exts, ext)
		n += len(paths)
	}
	sort.Strings(exts)
	out := make([]string, 0, n)
	for _, ext := range exts {
		out = append(out, byExt[ext]...)
	}
	return out
}
