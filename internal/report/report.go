package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"auditflow/internal/safeio"
	"auditflow/internal/types"

	"go.uber.org/zap"
)

// Artifact suffixes written into the output directory for each job.
const (
	SuffixMarkdown = ".md"
	SuffixPDF      = ".pdf"
	SuffixMeta     = ".json"
)

// Result locates the artifacts of one finished job.
type Result struct {
	JobID        string
	Markdown     string
	MarkdownPath string
	PDFPath      string
	MetaPath     string
	Pieces       []string
}

// Paths lists the written artifact files.
func (r *Result) Paths() []string {
	return []string{r.MarkdownPath, r.PDFPath, r.MetaPath}
}

// Reporter merges pieces and persists the final artifacts of a job.
type Reporter struct {
	renderer Renderer
	log      *zap.Logger
}

func NewReporter(renderer Renderer, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{renderer: renderer, log: logger.Named("report")}
}

// Finalize merges the pieces under piecesDir and writes <job>.md, <job>.pdf
// and <job>.json into outDir. If the PDF cannot be produced the job's stale
// .pdf and .json are removed and a *types.RenderError is returned.
func (r *Reporter) Finalize(jobID, piecesDir, outDir string, meta types.RunMeta) (*Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &types.RenderError{Stage: "output", Err: err}
	}
	res := &Result{
		JobID:        jobID,
		MarkdownPath: filepath.Join(outDir, jobID+SuffixMarkdown),
		PDFPath:      filepath.Join(outDir, jobID+SuffixPDF),
		MetaPath:     filepath.Join(outDir, jobID+SuffixMeta),
	}

	doc, pieces, err := Merge(piecesDir)
	if err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "merge", Err: err}
	}
	res.Markdown = doc
	res.Pieces = pieces

	if err := safeio.WriteFileAtomic(res.MarkdownPath, strings.NewReader(doc), 0o644); err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "markdown", Err: err}
	}

	var pdf bytes.Buffer
	if err := r.renderer.Render(doc, &pdf); err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "pdf", Err: err}
	}
	if err := safeio.WriteFileAtomic(res.PDFPath, &pdf, 0o644); err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "pdf", Err: err}
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "meta", Err: err}
	}
	if err := safeio.WriteFileAtomic(res.MetaPath, bytes.NewReader(raw), 0o644); err != nil {
		r.discard(res)
		return nil, &types.RenderError{Stage: "meta", Err: err}
	}

	r.log.Info("report written",
		zap.String("job_id", jobID),
		zap.Int("pieces", len(pieces)),
		zap.Int("pdf_bytes", pdf.Len()))
	return res, nil
}

// discard removes a job's PDF and metadata so a previous run's files are not
// mistaken for this run's output.
func (r *Reporter) discard(res *Result) {
	for _, p := range []string{res.PDFPath, res.MetaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("remove stale artifact", zap.String("path", filepath.Base(p)), zap.Error(err))
		}
	}
}

// ReadMeta loads the RunMeta persisted for jobID in outDir.
func ReadMeta(outDir, jobID string) (types.RunMeta, error) {
	var meta types.RunMeta
	raw, err := os.ReadFile(filepath.Join(outDir, jobID+SuffixMeta))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode run meta: %w", err)
	}
	return meta, nil
}
