package ingest

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"auditflow/internal/types"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Format is an accepted archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

// Ext returns the file extension used when persisting an archive.
func (f Format) Ext() string {
	if f == FormatTarGz {
		return ".tar.gz"
	}
	return ".zip"
}

// DetectFormat picks a format from an upload's file name. An empty name is
// treated as zip.
func DetectFormat(filename string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(filename))
	switch {
	case name == "", strings.HasSuffix(name, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz, nil
	default:
		return "", types.NewInputError("file", fmt.Sprintf("unsupported archive type %q", filepath.Base(filename)))
	}
}

var (
	errArchiveTooLarge = errors.New("archive exceeds size limit")
	errExtractTooLarge = errors.New("extracted content exceeds size limit")
	errUnsafeEntry     = errors.New("entry escapes extraction root")
)

// Limits bound what one upload may occupy on disk. Zero means unlimited.
type Limits struct {
	MaxArchiveBytes int64
	MaxExtractBytes int64
}

// Result describes an ingested archive.
type Result struct {
	ArchivePath string
	// Root is the directory scanning starts from: the extraction directory,
	// or its single wrapper subdirectory.
	Root    string
	Files   int
	Bytes   int64
	Descend bool
}

// Ingestor persists and unpacks uploaded archives.
type Ingestor struct {
	limits Limits
	log    *zap.Logger
}

func New(limits Limits, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{limits: limits, log: logger.Named("ingest")}
}

// Ingest writes src to archivePath, extracts it into extractDir and resolves
// the scan root.
func (in *Ingestor) Ingest(ctx context.Context, src io.Reader, format Format, archivePath, extractDir string) (*Result, error) {
	if err := in.persist(ctx, src, archivePath); err != nil {
		return nil, err
	}
	return in.Extract(ctx, format, archivePath, extractDir)
}

// Extract unpacks an archive already on disk.
func (in *Ingestor) Extract(ctx context.Context, format Format, archivePath, extractDir string) (*Result, error) {
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}
	x := &extractor{root: extractDir, limit: in.limits.MaxExtractBytes}
	var err error
	switch format {
	case FormatTarGz:
		err = x.tarGz(ctx, archivePath)
	default:
		err = x.zip(ctx, archivePath)
	}
	if err != nil {
		return nil, err
	}

	root, descended, err := ResolveRoot(extractDir)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}
	in.log.Debug("archive extracted",
		zap.String("archive", filepath.Base(archivePath)),
		zap.Int("files", x.files),
		zap.Int64("bytes", x.written),
		zap.Bool("descended", descended))
	return &Result{ArchivePath: archivePath, Root: root, Files: x.files, Bytes: x.written, Descend: descended}, nil
}

// ResolveRoot returns the single subdirectory of dir when dir holds exactly
// one entry and that entry is a directory. It never descends more than once.
func ResolveRoot(dir string) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), true, nil
	}
	return dir, false, nil
}

func (in *Ingestor) persist(ctx context.Context, src io.Reader, archivePath string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("persist archive: %w", err)
	}
	defer f.Close()

	r := io.Reader(&ctxReader{ctx: ctx, r: src})
	if max := in.limits.MaxArchiveBytes; max > 0 {
		r = io.LimitReader(r, max+1)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("persist archive: %w", err)
	}
	if max := in.limits.MaxArchiveBytes; max > 0 && n > max {
		return types.NewInputError("file", errArchiveTooLarge.Error())
	}
	if n == 0 {
		return types.NewInputError("file", "archive is empty")
	}
	return f.Sync()
}

type extractor struct {
	root    string
	limit   int64
	written int64
	files   int
}

func (x *extractor) zip(ctx context.Context, archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 {
			continue
		}
		if f.FileInfo().IsDir() {
			if _, err := x.mkdir(f.Name); err != nil {
				return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
		}
		err = x.writeFile(f.Name, rc)
		rc.Close()
		if err != nil {
			return x.classify(archivePath, err)
		}
	}
	return nil
}

func (x *extractor) tarGz(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if _, err := x.mkdir(hdr.Name); err != nil {
				return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
			}
		case tar.TypeReg:
			if err := x.writeFile(hdr.Name, tr); err != nil {
				return x.classify(archivePath, err)
			}
		}
	}
}

// entryReadError marks a failure while decoding archive content, as opposed
// to writing the extracted file locally.
type entryReadError struct{ err error }

func (e *entryReadError) Error() string { return e.err.Error() }
func (e *entryReadError) Unwrap() error { return e.err }

// entryReader tags every non-EOF read error of an archive entry.
type entryReader struct{ r io.Reader }

func (e entryReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		err = &entryReadError{err: err}
	}
	return n, err
}

// classify turns anything the archive itself caused into an ExtractionError.
// Only local write faults stay plain errors.
func (x *extractor) classify(archivePath string, err error) error {
	var re *entryReadError
	if errors.As(err, &re) {
		return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: re.err}
	}
	if errors.Is(err, errUnsafeEntry) || errors.Is(err, errExtractTooLarge) {
		return &types.ExtractionError{Archive: filepath.Base(archivePath), Err: err}
	}
	return fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
}

func (x *extractor) target(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	if clean == "." {
		return x.root, nil
	}
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errUnsafeEntry, name)
	}
	return filepath.Join(x.root, clean), nil
}

func (x *extractor) mkdir(name string) (string, error) {
	dir, err := x.target(name)
	if err != nil {
		return "", err
	}
	return dir, os.MkdirAll(dir, 0o755)
}

func (x *extractor) writeFile(name string, r io.Reader) error {
	dst, err := x.target(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	r = entryReader{r: r}
	if x.limit > 0 {
		r = io.LimitReader(r, x.limit-x.written+1)
	}
	n, err := io.Copy(out, r)
	x.written += n
	if err != nil {
		return err
	}
	if x.limit > 0 && x.written > x.limit {
		return errExtractTooLarge
	}
	x.files++
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
