package handler

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"auditflow/internal/pipeline"

	"go.uber.org/zap"
)

// StageTwoRunner is the stage-two pipeline.
type StageTwoRunner interface {
	Run(ctx context.Context, sub pipeline.Submission) (*pipeline.StageTwoResult, error)
}

// DeepAnalyzeHandler serves POST /deep-analyze.
type DeepAnalyzeHandler struct {
	runner   StageTwoRunner
	maxBytes int64
	errs     errorWriter
}

func NewDeepAnalyzeHandler(runner StageTwoRunner, maxBytes int64, dataRoot string, logger *zap.Logger) *DeepAnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeepAnalyzeHandler{
		runner:   runner,
		maxBytes: maxBytes,
		errs:     errorWriter{roots: []string{dataRoot}, log: logger.Named("deep_analyze")},
	}
}

func (h *DeepAnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, h.maxBytes); err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer cleanupForm(r)

	issues, _, err := formFile(r, "json_file")
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer issues.Close()
	source, srcHdr, err := formFile(r, "source_zip")
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer source.Close()

	res, err := h.runner.Run(r.Context(), pipeline.Submission{
		JobID:      strings.TrimSpace(r.FormValue("job_id")),
		SourceName: srcHdr.Filename,
		Source:     source,
		Issues:     issues,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	if !acceptsPDF(r.Header.Get("Accept")) {
		writeJSON(w, http.StatusOK, res.Status())
		return
	}
	pdf, err := os.ReadFile(res.Report.PDFPath)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", attachment(res.JobID+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
