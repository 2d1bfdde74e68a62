package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"auditflow/internal/events"
	"auditflow/internal/forward"
	"auditflow/internal/ingest"
	"auditflow/internal/jobdir"
	"auditflow/internal/safeio"
	"auditflow/internal/scan"
	"auditflow/internal/scanner"
	"auditflow/internal/types"

	"go.uber.org/zap"
)

// Mode selects what stage one returns.
type Mode string

const (
	// ModeForward relays the job to stage two and returns its answer.
	ModeForward Mode = "forward"
	// ModeIssues returns the issues document without forwarding.
	ModeIssues Mode = "issues"
)

// ParseMode maps a form value onto a Mode. Empty means ModeForward.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeForward:
		return ModeForward, nil
	case ModeIssues:
		return ModeIssues, nil
	default:
		return "", types.NewInputError("mode", fmt.Sprintf("unknown mode %q", s))
	}
}

const (
	stageOneOutput  = "outputs"
	extractedSubdir = "extracted"
	archiveBase     = "source"
	issuesSuffix    = ".issues.json"
)

// Forwarder relays a scanned job to stage two.
type Forwarder interface {
	Forward(ctx context.Context, req forward.Request) (*forward.Response, error)
}

// Upload is one archive handed to stage one.
type Upload struct {
	JobID    string
	Filename string
	Body     io.Reader
}

// StageOneResult is what a stage-one run produced.
type StageOneResult struct {
	JobID      string
	Issues     types.IssuesDocument
	IssuesPath string
	Forwarded  *forward.Response
}

// StageOne ingests an archive, scans it and forwards the result.
type StageOne struct {
	jobs      *jobdir.Manager
	ingestor  *ingest.Ingestor
	scanner   *scanner.Scanner
	forwarder Forwarder
	pub       events.Publisher
	log       *zap.Logger
}

// StageOneDeps are the collaborators of StageOne. Forwarder may be nil when
// only ModeIssues is used.
type StageOneDeps struct {
	DataRoot  string
	Ingestor  *ingest.Ingestor
	Scanner   *scanner.Scanner
	Forwarder Forwarder
	Publisher events.Publisher
	Logger    *zap.Logger
}

func NewStageOne(d StageOneDeps) (*StageOne, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jobs, err := jobdir.NewManager(d.DataRoot, stageOneOutput, []jobdir.Stage{jobdir.StageUploads}, logger)
	if err != nil {
		return nil, err
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &StageOne{
		jobs:      jobs,
		ingestor:  d.Ingestor,
		scanner:   d.Scanner,
		forwarder: d.Forwarder,
		pub:       pub,
		log:       logger.Named("stage_one"),
	}, nil
}

// Jobs exposes the directory manager.
func (s *StageOne) Jobs() *jobdir.Manager { return s.jobs }

// Run scans up and, in ModeForward, relays the job to stage two asking for
// variant.
func (s *StageOne) Run(ctx context.Context, up Upload, mode Mode, variant forward.Variant) (*StageOneResult, error) {
	jobID, err := resolveJobID(up.JobID)
	if err != nil {
		return nil, err
	}
	release, err := s.jobs.Acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.log.With(zap.String("job_id", jobID))
	res, err := s.scan(ctx, jobID, up, log)
	if err != nil {
		s.emit(ctx, jobID, events.StageFailed, err.Error(), 0)
		return nil, err
	}
	if mode == ModeIssues {
		s.emit(ctx, jobID, events.StageCompleted, "", res.Issues.FoundIssues)
		return res, nil
	}
	if s.forwarder == nil {
		return nil, types.NewInputError("mode", "forwarding is disabled, use mode=issues")
	}

	resp, err := s.forwarder.Forward(ctx, forward.Request{
		JobID:       jobID,
		ArchivePath: s.archivePath(jobID, up.Filename),
		IssuesPath:  res.IssuesPath,
		Variant:     variant,
	})
	if err != nil {
		s.emit(ctx, jobID, events.StageFailed, err.Error(), 0)
		return nil, err
	}
	res.Forwarded = resp
	s.emit(ctx, jobID, events.StageForwarded, resp.Variant.String(), 0)
	return res, nil
}

func (s *StageOne) scan(ctx context.Context, jobID string, up Upload, log *zap.Logger) (*StageOneResult, error) {
	started := time.Now()
	format, err := ingest.DetectFormat(up.Filename)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Reset(jobID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, jobID, events.StageReceived, "", 0)

	uploads := job.Dir(jobdir.StageUploads)
	archive := filepath.Join(uploads, archiveBase+format.Ext())
	ing, err := s.ingestor.Ingest(ctx, up.Body, format, archive, filepath.Join(uploads, extractedSubdir))
	if err != nil {
		return nil, err
	}
	s.emit(ctx, jobID, events.StageExtracted, "", ing.Files)

	byExt, err := scan.Classify(ing.Root)
	if err != nil {
		return nil, fmt.Errorf("classify sources: %w", err)
	}
	paths := scan.Flatten(byExt)

	scanned, err := s.scanner.Scan(ctx, paths)
	if err != nil {
		return nil, err
	}
	issues := scanner.Format(scanned.Findings, ing.Root)
	if issues == nil {
		issues = []types.Issue{}
	}
	s.emit(ctx, jobID, events.StageScanned, "", len(issues))

	raw, err := json.MarshalIndent(issues, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode issues: %w", err)
	}
	issuesPath := job.OutputPath(issuesSuffix)
	if err := safeio.WriteFileAtomic(issuesPath, bytes.NewReader(raw), 0o644); err != nil {
		return nil, fmt.Errorf("write issues: %w", err)
	}

	log.Info("scan finished",
		zap.Int("files", len(paths)),
		zap.Int("batches", scanned.Batches),
		zap.Int("failed_batches", len(scanned.Failed)),
		zap.Int("issues", len(issues)),
		zap.Bool("descended", ing.Descend),
		zap.Duration("took", time.Since(started)))

	return &StageOneResult{
		JobID: jobID,
		Issues: types.IssuesDocument{
			Status:        "ok",
			JobID:         jobID,
			FoundIssues:   len(issues),
			ScannedFiles:  len(paths),
			FailedBatches: len(scanned.Failed),
			Issues:        issues,
		},
		IssuesPath: issuesPath,
	}, nil
}

func (s *StageOne) archivePath(jobID, filename string) string {
	format, _ := ingest.DetectFormat(filename)
	return filepath.Join(s.jobs.Root(), string(jobdir.StageUploads), jobID, archiveBase+format.Ext())
}

func (s *StageOne) emit(ctx context.Context, jobID string, stage events.Stage, msg string, count int) {
	ev := events.New(jobID, stage)
	ev.Service = "stage-one"
	ev.Message = msg
	ev.Count = count
	events.Emit(context.WithoutCancel(ctx), s.pub, s.log, ev)
}

func resolveJobID(id string) (string, error) {
	if id == "" {
		return jobdir.NewID(), nil
	}
	if err := jobdir.ValidateID(id); err != nil {
		return "", &types.InputError{Field: "job_id", Err: err}
	}
	return id, nil
}
