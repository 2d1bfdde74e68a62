package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"auditflow/internal/artifact"
	"auditflow/internal/enrich"
	"auditflow/internal/events"
	"auditflow/internal/ingest"
	"auditflow/internal/jobdir"
	"auditflow/internal/report"
	"auditflow/internal/runstore"
	"auditflow/internal/safeio"
	"auditflow/internal/scan"
	"auditflow/internal/types"
	"auditflow/internal/unit"

	"go.uber.org/zap"
)

// StageTwoOutput is the data-root directory holding final artifacts.
const StageTwoOutput = "output"

const (
	receivedIssues   = "issues.json"
	stageTwoServices = "stage-two"
)

// Submission is one forwarded job.
type Submission struct {
	JobID      string
	SourceName string
	Source     io.Reader
	Issues     io.Reader
}

// StageTwoResult is what a stage-two run produced.
type StageTwoResult struct {
	JobID    string
	Total    int
	Meta     types.RunMeta
	Report   *report.Result
	Location string
}

// Status builds the JSON status document for the run.
func (r *StageTwoResult) Status() types.StatusDocument {
	doc := types.NewStatusDocument(r.Meta, r.Location)
	doc.Total = r.Total
	return doc
}

// StageTwoDeps are the collaborators of StageTwo. Runs, Mirror and
// Publisher are optional.
type StageTwoDeps struct {
	DataRoot     string
	Ingestor     *ingest.Ingestor
	Materializer *unit.Materializer
	Worker       *enrich.Worker
	Reporter     *report.Reporter
	Runs         runstore.Store
	Mirror       *artifact.Mirror
	Publisher    events.Publisher
	Logger       *zap.Logger
}

// StageTwo enriches a forwarded job and renders its report.
type StageTwo struct {
	jobs         *jobdir.Manager
	ingestor     *ingest.Ingestor
	materializer *unit.Materializer
	worker       *enrich.Worker
	reporter     *report.Reporter
	runs         runstore.Store
	mirror       *artifact.Mirror
	pub          events.Publisher
	log          *zap.Logger
}

func NewStageTwo(d StageTwoDeps) (*StageTwo, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jobs, err := jobdir.NewManager(d.DataRoot, StageTwoOutput, []jobdir.Stage{
		jobdir.StageReceived, jobdir.StageExtracted, jobdir.StageUnits, jobdir.StageMarkdown,
	}, logger)
	if err != nil {
		return nil, err
	}
	pub := d.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	runs := d.Runs
	if runs == nil {
		runs = runstore.NewFileStore(jobs.OutputDir())
	}
	return &StageTwo{
		jobs:         jobs,
		ingestor:     d.Ingestor,
		materializer: d.Materializer,
		worker:       d.Worker,
		reporter:     d.Reporter,
		runs:         runs,
		mirror:       d.Mirror,
		pub:          pub,
		log:          logger.Named("stage_two"),
	}, nil
}

// Jobs exposes the directory manager.
func (s *StageTwo) Jobs() *jobdir.Manager { return s.jobs }

// Runs exposes the run metadata store.
func (s *StageTwo) Runs() runstore.Store { return s.runs }

// Run executes the whole stage-two flow for sub.
func (s *StageTwo) Run(ctx context.Context, sub Submission) (*StageTwoResult, error) {
	jobID, err := resolveJobID(sub.JobID)
	if err != nil {
		return nil, err
	}
	release, err := s.jobs.Acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := s.run(ctx, jobID, sub)
	if err != nil {
		s.emit(ctx, jobID, events.StageFailed, err.Error(), 0)
		return nil, err
	}
	s.emit(ctx, jobID, events.StageCompleted, res.Location, res.Meta.ProcessedTotal)
	return res, nil
}

func (s *StageTwo) run(ctx context.Context, jobID string, sub Submission) (*StageTwoResult, error) {
	log := s.log.With(zap.String("job_id", jobID))
	format, err := ingest.DetectFormat(sub.SourceName)
	if err != nil {
		return nil, &types.InputError{Field: "source_zip", Err: err}
	}
	job, err := s.jobs.Reset(jobID)
	if err != nil {
		return nil, err
	}
	s.forget(ctx, jobID)
	s.emit(ctx, jobID, events.StageReceived, "", 0)

	received := job.Dir(jobdir.StageReceived)
	issuesPath := filepath.Join(received, receivedIssues)
	if err := safeio.WriteFileAtomic(issuesPath, sub.Issues, 0o644); err != nil {
		return nil, fmt.Errorf("save issues: %w", err)
	}
	ing, err := s.ingestor.Ingest(ctx, sub.Source, format, filepath.Join(received, archiveBase+format.Ext()), job.Dir(jobdir.StageExtracted))
	if err != nil {
		return nil, err
	}
	s.emit(ctx, jobID, events.StageExtracted, "", ing.Files)

	issues, err := readIssues(issuesPath)
	if err != nil {
		return nil, err
	}
	groups := unit.Group(issues)
	clean := 0
	if _, err := scan.ClassifyWithCallback(ing.Root, func(f scan.FileVisit) {
		if groups.Include(f.Path) {
			clean++
		}
	}); err != nil {
		return nil, fmt.Errorf("classify sources: %w", err)
	}
	if _, err := s.materializer.Materialize(groups, ing.Root, job.Dir(jobdir.StageUnits)); err != nil {
		return nil, fmt.Errorf("materialize units: %w", err)
	}
	s.emit(ctx, jobID, events.StageGrouped, "", groups.Len())
	log.Info("issues grouped", zap.Int("issues", len(issues)), zap.Int("files", groups.Len()), zap.Int("clean", clean), zap.Int("dropped", groups.Dropped))

	meta, err := s.worker.Run(ctx, jobID, job.Dir(jobdir.StageUnits), job.Dir(jobdir.StageMarkdown))
	if err != nil {
		return nil, err
	}

	rep, err := s.reporter.Finalize(jobID, job.Dir(jobdir.StageMarkdown), job.OutputDir(), meta)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, jobID, events.StageMerged, "", len(rep.Pieces))

	location := filepath.ToSlash(filepath.Join(StageTwoOutput, filepath.Base(rep.PDFPath)))
	if url, err := s.mirror.Upload(ctx, jobID, rep.Paths(), rep.PDFPath); err != nil {
		log.Warn("mirror artifacts failed", zap.Error(err))
	} else if url != "" {
		location = url
	}

	if err := s.runs.Save(ctx, runstore.Record{Meta: meta, ReportLocation: location, UpdatedAt: meta.FinishedAt}); err != nil {
		log.Warn("save run record failed", zap.Error(err))
	}

	return &StageTwoResult{
		JobID:    jobID,
		Total:    groups.Len(),
		Meta:     meta,
		Report:   rep,
		Location: location,
	}, nil
}

// forget drops the durable record of the job's previous run. The run store
// row and the mirrored objects would otherwise report that run while this
// one is in progress or after it fails.
func (s *StageTwo) forget(ctx context.Context, jobID string) {
	if err := s.runs.Delete(ctx, jobID); err != nil {
		s.log.Warn("delete previous run record failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := s.mirror.Remove(ctx, jobID); err != nil {
		s.log.Warn("delete previous mirrored artifacts failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// readIssues parses the forwarded issues list. A document that is not a
// JSON array of issues is an input error.
func readIssues(path string) ([]types.Issue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issues: %w", err)
	}
	var issues []types.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return nil, &types.InputError{Field: "json_file", Err: fmt.Errorf("invalid issues document: %w", err)}
	}
	return issues, nil
}

func (s *StageTwo) emit(ctx context.Context, jobID string, stage events.Stage, msg string, count int) {
	ev := events.New(jobID, stage)
	ev.Service = stageTwoServices
	ev.Message = msg
	ev.Count = count
	events.Emit(context.WithoutCancel(ctx), s.pub, s.log, ev)
}
