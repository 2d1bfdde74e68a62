package jobdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "output", []Stage{StageReceived, StageExtracted, StageUnits, StageMarkdown}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestResetClearsTransientButKeepsOutput(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Reset("job-1")
	require.NoError(t, err)
	stale := filepath.Join(job.Dir(StageUnits), "old", "issues_old.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("[]"), 0o644))
	report := job.OutputPath(".pdf")
	require.NoError(t, os.WriteFile(report, []byte("%PDF"), 0o644))

	job2, err := m.Reset("job-1")
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "transient files from the previous run must be gone")
	entries, err := os.ReadDir(job2.Dir(StageUnits))
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(report)
	assert.NoError(t, err, "output artifacts survive a reset")
}

func TestResetDoesNotTouchOtherJobs(t *testing.T) {
	m := newTestManager(t)
	a, err := m.Reset("a")
	require.NoError(t, err)
	marker := filepath.Join(a.Dir(StageMarkdown), "a.md")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	_, err = m.Reset("b")
	require.NoError(t, err)
	_, err = os.Stat(marker)
	assert.NoError(t, err)
}

func TestAcquireRejectsConcurrentSameID(t *testing.T) {
	m := newTestManager(t)

	release, err := m.Acquire("job-1")
	require.NoError(t, err)

	_, err = m.Acquire("job-1")
	assert.ErrorIs(t, err, ErrJobBusy)

	other, err := m.Acquire("job-2")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := m.Acquire("job-1")
	require.NoError(t, err)
	again()
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"abc", "job-1", "2024.01_run", NewID()} {
		assert.NoError(t, ValidateID(id), id)
	}
	for _, id := range []string{"", ".", "..", "a/b", "../x", "has space"} {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
