package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Mirror copies a job's local artifact files into a Store.
type Mirror struct {
	store Store
	log   *zap.Logger
}

func NewMirror(store Store, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: store, log: logger.Named("artifact")}
}

// Upload puts every file under its base name and returns a download URL for
// the file named primary, or "" when the store cannot provide one.
func (m *Mirror) Upload(ctx context.Context, jobID string, files []string, primary string) (string, error) {
	if m == nil || m.store == nil {
		return "", nil
	}
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filepath.Base(f), err)
		}
		if err := m.store.Put(ctx, jobID, filepath.Base(f), content); err != nil {
			return "", fmt.Errorf("put %s: %w", filepath.Base(f), err)
		}
	}
	if primary == "" {
		return "", nil
	}
	url, err := m.store.GetURL(ctx, jobID, filepath.Base(primary))
	if err != nil {
		m.log.Warn("artifact url unavailable", zap.String("job_id", jobID), zap.Error(err))
		return "", nil
	}
	m.log.Info("artifacts mirrored", zap.String("job_id", jobID), zap.Int("files", len(files)))
	return url, nil
}

// Remove deletes everything mirrored for jobID.
func (m *Mirror) Remove(ctx context.Context, jobID string) error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Delete(ctx, jobID)
}
