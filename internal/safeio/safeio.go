package safeio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrTraversal is returned for a relative name that climbs above the root.
	ErrTraversal = errors.New("safeio: path traversal not allowed")
	// ErrOutsideRoot is returned when a name resolves through a symlink to a
	// location outside the root.
	ErrOutsideRoot = errors.New("safeio: resolved outside root")
)

// SafeFS confines reads to one directory tree. Archive extracts and unit
// directories are read through it so a crafted entry or symlink cannot
// reach the rest of the data root.
type SafeFS struct {
	root string
}

// NewSafeFS binds a SafeFS to root, which must be an existing directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is not a directory", filepath.Base(root))
	}
	return &SafeFS{root: abs}, nil
}

// SafeOpen opens a regular file under the root.
func (s *SafeFS) SafeOpen(name string) (*os.File, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	}
	return f, nil
}

// SafeReadFile reads a whole file under the root.
func (s *SafeFS) SafeReadFile(name string) ([]byte, error) {
	f, err := s.SafeOpen(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// SafeReadDir lists a directory under the root. Use "." for the root itself.
func (s *SafeFS) SafeReadDir(name string) ([]fs.DirEntry, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.ReadDir(p)
}

// CopyResult reports what CopyOut did with a source path.
type CopyResult int

const (
	// CopyCopied means the file was found and written to the destination.
	CopyCopied CopyResult = iota
	// CopyAbsent means nothing usable exists at the path. Nothing was written.
	CopyAbsent
)

func (r CopyResult) String() string {
	switch r {
	case CopyCopied:
		return "copied"
	case CopyAbsent:
		return "absent"
	default:
		return fmt.Sprintf("CopyResult(%d)", int(r))
	}
}

// CopyOut copies name (under the root) to dst. Expected absence is
// CopyAbsent with a nil error; any other failure is returned.
func (s *SafeFS) CopyOut(name, dst string) (CopyResult, error) {
	src, err := s.SafeOpen(name)
	if err != nil {
		if IsAbsence(err) {
			return CopyAbsent, nil
		}
		return 0, err
	}
	defer src.Close()

	if err := WriteFileAtomic(dst, src, 0o644); err != nil {
		return 0, fmt.Errorf("copy %s: %w", name, err)
	}
	return CopyCopied, nil
}

// IsAbsence reports whether err means "nothing usable at this path" rather
// than an I/O fault.
func IsAbsence(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, ErrTraversal) ||
		errors.Is(err, ErrOutsideRoot)
}

// WriteFileAtomic streams r into a temp file next to dest and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(dest string, r io.Reader, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// resolve maps name to a symlink-free path inside the root. Relative names
// must stay local; absolute names are accepted when they land under the root.
func (s *SafeFS) resolve(name string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if name == "" {
		return "", errors.New("safeio: empty path")
	}
	p := filepath.Clean(name)
	if !filepath.IsAbs(p) {
		if !filepath.IsLocal(p) {
			return "", ErrTraversal
		}
		p = filepath.Join(s.root, p)
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !within(s.root, real) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return real, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && filepath.IsLocal(rel)
}
