package handler

import (
	"context"
	"net/http"
	"strings"

	"auditflow/internal/forward"
	"auditflow/internal/pipeline"

	"go.uber.org/zap"
)

// StageOneRunner is the stage-one pipeline.
type StageOneRunner interface {
	Run(ctx context.Context, up pipeline.Upload, mode pipeline.Mode, variant forward.Variant) (*pipeline.StageOneResult, error)
}

// AnalyzeHandler serves POST /analyze.
type AnalyzeHandler struct {
	runner   StageOneRunner
	maxBytes int64
	errs     errorWriter
}

func NewAnalyzeHandler(runner StageOneRunner, maxBytes int64, dataRoot string, logger *zap.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{
		runner:   runner,
		maxBytes: maxBytes,
		errs:     errorWriter{roots: []string{dataRoot}, log: logger.Named("analyze")},
	}
}

func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, h.maxBytes); err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer cleanupForm(r)

	mode, err := pipeline.ParseMode(strings.TrimSpace(r.FormValue("mode")))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	f, hdr, err := formFile(r, "file")
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer f.Close()

	res, err := h.runner.Run(r.Context(), pipeline.Upload{
		JobID:    strings.TrimSpace(r.FormValue("job_id")),
		Filename: hdr.Filename,
		Body:     f,
	}, mode, forward.VariantFromAccept(r.Header.Get("Accept")))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	if mode == pipeline.ModeIssues || res.Forwarded == nil {
		writeJSON(w, http.StatusOK, res.Issues)
		return
	}
	relay(w, res.Forwarded)
}

// relay passes stage two's answer through unchanged.
func relay(w http.ResponseWriter, resp *forward.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.Filename != "" {
		w.Header().Set("Content-Disposition", attachment(resp.Filename))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
