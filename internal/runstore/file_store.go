package runstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"auditflow/internal/report"
)

// FileStore reads run metadata straight from the stage-two output
// directory. The files themselves are written by report.Reporter, so Save
// only validates that they exist.
type FileStore struct {
	outDir string
}

func NewFileStore(outDir string) *FileStore {
	return &FileStore{outDir: outDir}
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	_, err := os.Stat(filepath.Join(s.outDir, rec.Meta.JobID+report.SuffixMeta))
	return err
}

// Delete is a no-op: the output directory keeps a job's last artifacts until
// a new run overwrites them, and the Reporter removes them itself when a
// render fails.
func (s *FileStore) Delete(context.Context, string) error { return nil }

func (s *FileStore) Get(_ context.Context, jobID string) (Record, error) {
	meta, err := report.ReadMeta(s.outDir, jobID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec := Record{Meta: meta, UpdatedAt: meta.FinishedAt}
	if info, err := os.Stat(filepath.Join(s.outDir, jobID+report.SuffixPDF)); err == nil {
		rec.ReportLocation = filepath.ToSlash(filepath.Join(filepath.Base(s.outDir), jobID+report.SuffixPDF))
		rec.UpdatedAt = info.ModTime().UTC()
	}
	return rec, nil
}
