package jobdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names a per-job working area under the data root.
type Stage string

const (
	StageUploads   Stage = "uploads"
	StageReceived  Stage = "received"
	StageExtracted Stage = "extracted"
	StageUnits     Stage = "files"
	StageMarkdown  Stage = "markdowns"
)

var (
	// ErrJobBusy is returned when another request already holds the job.
	ErrJobBusy = errors.New("job is already running")
	// ErrInvalidID is returned for job identifiers that are unsafe as path segments.
	ErrInvalidID = errors.New("invalid job id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// NewID issues a fresh job identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateID accepts identifiers usable as a single directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Job is one run's set of working directories.
type Job struct {
	ID        string
	CreatedAt time.Time
	dirs      map[Stage]string
	outputDir string
}

// Dir returns the directory of a transient stage.
func (j *Job) Dir(stage Stage) string {
	return j.dirs[stage]
}

// OutputDir is shared by every job and never reset.
func (j *Job) OutputDir() string {
	return j.outputDir
}

// OutputPath names a final artifact of this job, e.g. OutputPath(".pdf").
func (j *Job) OutputPath(suffix string) string {
	return filepath.Join(j.outputDir, j.ID+suffix)
}

// Manager owns the directory layout under one data root.
//
// Transient stage directories live at <root>/<stage>/<job-id> and are wiped at
// the start of every run; the output directory lives at <root>/<output>.
type Manager struct {
	root      string
	transient []Stage
	output    string
	log       *zap.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// NewManager creates a manager for root with the given transient stages.
func NewManager(root string, output string, transient []Stage, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("jobdir: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		root:      abs,
		transient: append([]Stage(nil), transient...),
		output:    filepath.Join(abs, output),
		log:       logger.Named("jobdir"),
		running:   make(map[string]struct{}),
	}, nil
}

// Root returns the absolute data root.
func (m *Manager) Root() string { return m.root }

// OutputDir returns the absolute output directory.
func (m *Manager) OutputDir() string { return m.output }

// Acquire marks id as in flight. The returned release func must be called
// when the run ends. A second Acquire for the same id fails with ErrJobBusy.
func (m *Manager) Acquire(id string) (func(), error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[id]; busy {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, id)
	}
	m.running[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
		})
	}, nil
}

// Reset deletes and recreates every transient directory of id and makes sure
// the output directory exists. Callers must hold the job via Acquire.
func (m *Manager) Reset(id string) (*Job, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	job := &Job{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		dirs:      make(map[Stage]string, len(m.transient)),
		outputDir: m.output,
	}
	for _, stage := range m.transient {
		dir := filepath.Join(m.root, string(stage), id)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("reset %s dir: %w", stage, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", stage, err)
		}
		job.dirs[stage] = dir
	}
	if err := os.MkdirAll(m.output, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	m.log.Debug("job directories reset", zap.String("job_id", id))
	return job, nil
}
