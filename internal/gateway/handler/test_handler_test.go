package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"auditflow/internal/forward"
	"auditflow/internal/jobdir"
	"auditflow/internal/pipeline"
	"auditflow/internal/report"
	"auditflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageOneStub struct {
	got  pipeline.Upload
	mode pipeline.Mode
	body []byte
	res  *pipeline.StageOneResult
	err  error
}

func (s *stageOneStub) Run(_ context.Context, up pipeline.Upload, mode pipeline.Mode, _ forward.Variant) (*pipeline.StageOneResult, error) {
	s.got = up
	s.mode = mode
	s.body, _ = io.ReadAll(up.Body)
	return s.res, s.err
}

type stageTwoStub struct {
	got pipeline.Submission
	res *pipeline.StageTwoResult
	err error
}

func (s *stageTwoStub) Run(_ context.Context, sub pipeline.Submission) (*pipeline.StageTwoResult, error) {
	s.got = sub
	return s.res, s.err
}

type part struct {
	field, filename, body string
}

func multipartRequest(t *testing.T, path string, parts []part, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health("stage-one")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"service":"stage-one"}`, rec.Body.String())
}

func TestAnalyzeIssuesMode(t *testing.T) {
	stub := &stageOneStub{res: &pipeline.StageOneResult{
		JobID: "j1",
		Issues: types.IssuesDocument{
			Status:      "ok",
			JobID:       "j1",
			FoundIssues: 1,
			Issues:      []types.Issue{{Path: "app.py", Line: 3, Message: "eval"}},
		},
	}}
	h := NewAnalyzeHandler(stub, 1<<20, "/data/one", nil)

	req := multipartRequest(t, "/analyze", []part{{"file", "src.zip", "PK..."}}, map[string]string{"mode": "issues", "job_id": "j1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.ModeIssues, stub.mode)
	assert.Equal(t, "j1", stub.got.JobID)
	assert.Equal(t, "src.zip", stub.got.Filename)
	assert.Equal(t, "PK...", string(stub.body))

	var doc types.IssuesDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc.FoundIssues)
	assert.Equal(t, "app.py", doc.Issues[0].Path)
}

func TestAnalyzeRelaysStageTwo(t *testing.T) {
	stub := &stageOneStub{res: &pipeline.StageOneResult{
		JobID: "j2",
		Forwarded: &forward.Response{
			StatusCode:  http.StatusOK,
			ContentType: "application/pdf",
			Filename:    "j2.pdf",
			Body:        []byte("%PDF-1.3 fake"),
		},
	}}
	h := NewAnalyzeHandler(stub, 0, "/data/one", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze", []part{{"file", "src.zip", "x"}}, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.ModeForward, stub.mode)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=j2.pdf`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.3 fake", rec.Body.String())
}

func TestAnalyzeInputErrors(t *testing.T) {
	h := NewAnalyzeHandler(&stageOneStub{}, 0, "/data/one", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze", nil, map[string]string{"job_id": "j1"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "no file uploaded")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze", []part{{"file", "src.zip", "x"}}, map[string]string{"mode": "bogus"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("not a form"))
	req.Header.Set("Content-Type", "text/plain")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeUploadTooLarge(t *testing.T) {
	h := NewAnalyzeHandler(&stageOneStub{}, 64, "/data/one", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze", []part{{"file", "src.zip", string(bytes.Repeat([]byte("a"), 4096))}}, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"busy", fmt.Errorf("%w: j1", jobdir.ErrJobBusy), http.StatusConflict},
		{"bad id", &types.InputError{Field: "job_id", Err: jobdir.ErrInvalidID}, http.StatusBadRequest},
		{"bad archive", &types.ExtractionError{Archive: "source.zip", Err: errors.New("zip: not a valid zip file")}, http.StatusBadRequest},
		{"forward", &types.ForwardingError{URL: "http://two/deep-analyze", Attempts: 2, Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"internal", errors.New("disk full at /data/one/uploads/j1/source.zip"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAnalyzeHandler(&stageOneStub{err: tc.err}, 0, "/data/one", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, multipartRequest(t, "/analyze", []part{{"file", "src.zip", "x"}}, nil))

			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.NotEmpty(t, body.Error)
			assert.NotContains(t, body.Detail, "/data/one")
		})
	}
}

func TestForwardingErrorNamesCause(t *testing.T) {
	err := &types.ForwardingError{URL: "http://two/deep-analyze", Attempts: 2, Err: errors.New("connection refused")}
	h := NewAnalyzeHandler(&stageOneStub{err: err}, 0, "/data/one", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/analyze", []part{{"file", "src.zip", "x"}}, nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "connection refused")
}

func TestDeepAnalyzeStatusDocument(t *testing.T) {
	stub := &stageTwoStub{res: &pipeline.StageTwoResult{
		JobID:    "j3",
		Total:    2,
		Meta:     types.RunMeta{JobID: "j3", ProcessedTotal: 2, SuccessCount: 1, SkippedCount: 1},
		Location: "output/j3.pdf",
	}}
	h := NewDeepAnalyzeHandler(stub, 0, "/data/two", nil)

	req := multipartRequest(t, "/deep-analyze",
		[]part{{"source_zip", "source.zip", "zip"}, {"json_file", "issues.json", "[]"}},
		map[string]string{"job_id": "j3"})
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "j3", stub.got.JobID)
	assert.Equal(t, "source.zip", stub.got.SourceName)

	var doc types.StatusDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "j3", doc.JobID)
	assert.Equal(t, 2, doc.ProcessedTotal)
	assert.Equal(t, 1, doc.SkippedCount)
	assert.Equal(t, "output/j3.pdf", doc.ReportLocation)
}

func TestDeepAnalyzeReportAttachment(t *testing.T) {
	pdfPath := filepath.Join(t.TempDir(), "j4.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.3 report"), 0o644))
	stub := &stageTwoStub{res: &pipeline.StageTwoResult{
		JobID:  "j4",
		Report: &report.Result{JobID: "j4", PDFPath: pdfPath},
	}}
	h := NewDeepAnalyzeHandler(stub, 0, "/data/two", nil)

	req := multipartRequest(t, "/deep-analyze",
		[]part{{"source_zip", "source.zip", "zip"}, {"json_file", "issues.json", "[]"}}, nil)
	req.Header.Set("Accept", "application/pdf")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=j4.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.3 report", rec.Body.String())
}

func TestDeepAnalyzeMissingParts(t *testing.T) {
	h := NewDeepAnalyzeHandler(&stageTwoStub{}, 0, "/data/two", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/deep-analyze", []part{{"source_zip", "source.zip", "zip"}}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "json_file")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/deep-analyze", []part{{"json_file", "issues.json", "[]"}}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Detail, "source_zip")
}

func TestDeepAnalyzeRenderFailure(t *testing.T) {
	stub := &stageTwoStub{err: &types.RenderError{Stage: "pdf", Err: errors.New("boom")}}
	h := NewDeepAnalyzeHandler(stub, 0, "/data/two", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, "/deep-analyze",
		[]part{{"source_zip", "source.zip", "zip"}, {"json_file", "issues.json", "[]"}}, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "report rendering failed", decodeError(t, rec).Error)
}

func TestScrubRemovesDataRoot(t *testing.T) {
	e := errorWriter{roots: []string{"/srv/data/two"}}
	assert.Equal(t, "open received/j1/issues.json: no such file",
		e.scrub("open /srv/data/two/received/j1/issues.json: no such file"))
	assert.Equal(t, "root . missing", e.scrub("root /srv/data/two missing"))
}

func TestAcceptsPDF(t *testing.T) {
	assert.True(t, acceptsPDF("application/pdf"))
	assert.True(t, acceptsPDF("application/json;q=0.5, application/pdf"))
	assert.False(t, acceptsPDF("application/json"))
	assert.False(t, acceptsPDF(""))
}

func TestStatusForCancelled(t *testing.T) {
	status, _ := statusFor(fmt.Errorf("scan: %w", context.Canceled))
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = statusFor(context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, status)
}
