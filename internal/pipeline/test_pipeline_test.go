package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auditflow/internal/artifact"
	"auditflow/internal/enrich"
	"auditflow/internal/events"
	"auditflow/internal/forward"
	"auditflow/internal/ingest"
	"auditflow/internal/jobdir"
	"auditflow/internal/llm"
	"auditflow/internal/report"
	"auditflow/internal/runstore"
	"auditflow/internal/scanner"
	"auditflow/internal/types"
	"auditflow/internal/unit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// semgrepStub reports one ERROR finding per scanned path.
type semgrepStub struct{}

func (semgrepStub) Run(_ context.Context, paths []string) ([]byte, error) {
	var parts []string
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf(`{"check_id":"python.lang.eval","path":%q,"start":{"line":2},"extra":{"message":"eval use","lines":"eval(x)","severity":"ERROR"}}`, p))
	}
	return []byte(`{"results":[` + strings.Join(parts, ",") + `]}`), nil
}

type forwarderStub struct {
	got  forward.Request
	resp *forward.Response
	err  error
}

func (f *forwarderStub) Forward(_ context.Context, req forward.Request) (*forward.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newStageOne(t *testing.T, root string, fw Forwarder) *StageOne {
	t.Helper()
	s, err := NewStageOne(StageOneDeps{
		DataRoot:  root,
		Ingestor:  ingest.New(ingest.Limits{}, zap.NewNop()),
		Scanner:   scanner.New(semgrepStub{}, scanner.Options{MaxBatchChars: 8000, Concurrency: 2}, zap.NewNop()),
		Forwarder: fw,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return s
}

func TestStageOneIssuesMode(t *testing.T) {
	root := t.TempDir()
	s := newStageOne(t, root, nil)
	archive := zipOf(t, map[string]string{
		"proj/app.py":      "import os\neval(x)",
		"proj/web/main.js": "eval(y)",
		"proj/README.md":   "docs",
	})

	res, err := s.Run(context.Background(), Upload{JobID: "job1", Filename: "proj.zip", Body: bytes.NewReader(archive)}, ModeIssues, forward.VariantReport)
	require.NoError(t, err)

	assert.Equal(t, "job1", res.JobID)
	assert.Equal(t, 2, res.Issues.FoundIssues)
	assert.Equal(t, 2, res.Issues.ScannedFiles)
	assert.Zero(t, res.Issues.FailedBatches)
	var paths []string
	for _, is := range res.Issues.Issues {
		paths = append(paths, is.Path)
		assert.Equal(t, "ERROR", is.Severity)
		assert.Equal(t, 2, is.Line)
	}
	assert.ElementsMatch(t, []string{"app.py", "web/main.js"}, paths)

	assert.Equal(t, filepath.Join(root, "outputs", "job1.issues.json"), res.IssuesPath)
	raw, err := os.ReadFile(res.IssuesPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "["))
	assert.FileExists(t, filepath.Join(root, "uploads", "job1", "source.zip"))
}

func TestStageOneForwardsArchiveAndIssues(t *testing.T) {
	fw := &forwarderStub{resp: &forward.Response{Variant: forward.VariantReport, StatusCode: 200, ContentType: "application/pdf", Filename: "job2.pdf", Body: []byte("%PDF")}}
	s := newStageOne(t, t.TempDir(), fw)

	res, err := s.Run(context.Background(), Upload{JobID: "job2", Filename: "src.zip", Body: bytes.NewReader(zipOf(t, map[string]string{"a.py": "x"}))}, ModeForward, forward.VariantReport)
	require.NoError(t, err)
	require.NotNil(t, res.Forwarded)
	assert.Equal(t, "job2.pdf", res.Forwarded.Filename)

	assert.Equal(t, "job2", fw.got.JobID)
	assert.Equal(t, forward.VariantReport, fw.got.Variant)
	assert.FileExists(t, fw.got.ArchivePath)
	assert.Equal(t, res.IssuesPath, fw.got.IssuesPath)
}

func TestStageOneForwardFailureSurfaces(t *testing.T) {
	cause := &types.ForwardingError{URL: "http://127.0.0.1:1/deep-analyze", Attempts: 2, Err: errors.New("connection refused")}
	s := newStageOne(t, t.TempDir(), &forwarderStub{err: cause})

	_, err := s.Run(context.Background(), Upload{Filename: "src.zip", Body: bytes.NewReader(zipOf(t, map[string]string{"a.py": "x"}))}, ModeForward, forward.VariantStatus)
	var fe *types.ForwardingError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStageOneRejectsBadInput(t *testing.T) {
	s := newStageOne(t, t.TempDir(), nil)

	_, err := s.Run(context.Background(), Upload{JobID: "../etc", Filename: "a.zip", Body: bytes.NewReader(nil)}, ModeIssues, forward.VariantReport)
	assert.True(t, types.IsInputError(err))

	_, err = s.Run(context.Background(), Upload{JobID: "ok", Filename: "a.rar", Body: strings.NewReader("x")}, ModeIssues, forward.VariantReport)
	assert.True(t, types.IsInputError(err))

	_, err = s.Run(context.Background(), Upload{JobID: "ok", Filename: "a.zip", Body: strings.NewReader("not a zip")}, ModeIssues, forward.VariantReport)
	assert.True(t, types.IsInputError(err))

	release, err := s.Jobs().Acquire("held")
	require.NoError(t, err)
	defer release()
	_, err = s.Run(context.Background(), Upload{JobID: "held", Filename: "a.zip", Body: bytes.NewReader(zipOf(t, map[string]string{"a.py": "x"}))}, ModeIssues, forward.VariantReport)
	assert.ErrorIs(t, err, jobdir.ErrJobBusy)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeForward, m)
	m, err = ParseMode("issues")
	require.NoError(t, err)
	assert.Equal(t, ModeIssues, m)
	_, err = ParseMode("pdf")
	assert.True(t, types.IsInputError(err))
}

type failingRenderer struct{}

func (failingRenderer) Render(string, io.Writer) error { return errors.New("layout failed") }

type stageTwoOpts struct {
	renderer report.Renderer
	mirror   *artifact.Mirror
	pub      events.Publisher
	client   llm.Client
	runs     runstore.Store
}

func newStageTwo(t *testing.T, root string, o stageTwoOpts) *StageTwo {
	t.Helper()
	if o.renderer == nil {
		o.renderer = report.NewPDFRenderer(report.PDFOptions{})
	}
	if o.client == nil {
		o.client = llm.NewFakeClient()
	}
	s, err := NewStageTwo(StageTwoDeps{
		DataRoot:     root,
		Ingestor:     ingest.New(ingest.Limits{}, zap.NewNop()),
		Materializer: unit.NewMaterializer(zap.NewNop()),
		Worker:       enrich.NewWorker(o.client, enrich.Options{Concurrency: 2, QueueSize: 2}, o.pub, zap.NewNop()),
		Reporter:     report.NewReporter(o.renderer, zap.NewNop()),
		Runs:         o.runs,
		Mirror:       o.mirror,
		Publisher:    o.pub,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	return s
}

const stageTwoIssues = `[
  {"path":"app.py","line":2,"code":"eval(x)","message":"eval use","severity":"ERROR","rule":"r1"},
  {"path":"lib/db.py","line":9,"code":"q","message":"sqli","severity":"WARNING","rule":"r2"},
  {"path":"gone.py","line":1,"code":"","message":"m","severity":"INFO","rule":"r3"},
  {"path":"","line":1,"code":"","message":"no path","severity":"INFO","rule":"r4"}
]`

func stageTwoArchive(t *testing.T) []byte {
	return zipOf(t, map[string]string{
		"proj/app.py":    "eval(x)",
		"proj/lib/db.py": "q = 1",
	})
}

func TestStageTwoRunsEndToEnd(t *testing.T) {
	root := t.TempDir()
	hub := events.NewHub(64)
	ch, stop := hub.Subscribe("job9")
	defer stop()
	s := newStageTwo(t, root, stageTwoOpts{pub: hub})

	res, err := s.Run(context.Background(), Submission{
		JobID:      "job9",
		SourceName: "source.zip",
		Source:     bytes.NewReader(stageTwoArchive(t)),
		Issues:     strings.NewReader(stageTwoIssues),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Meta.ProcessedTotal)
	assert.Equal(t, 2, res.Meta.SuccessCount)
	assert.Equal(t, 1, res.Meta.FailureCount)
	require.Len(t, res.Meta.FailedItems, 1)
	assert.Equal(t, types.KindMissingSource, res.Meta.FailedItems[0].Kind)
	assert.Equal(t, "output/job9.pdf", res.Location)

	for _, p := range res.Report.Paths() {
		assert.FileExists(t, p)
	}
	md, err := os.ReadFile(filepath.Join(root, "output", "job9.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "## File: `app.py`")
	assert.Contains(t, string(md), "## File: `lib__db.py`")

	status := res.Status()
	assert.Equal(t, "ok", status.Message)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.SuccessCount)

	rec, err := s.Runs().Get(context.Background(), "job9")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Meta.SuccessCount)

	var stages []events.Stage
	for len(ch) > 0 {
		stages = append(stages, (<-ch).Stage)
	}
	assert.Contains(t, stages, events.StageGrouped)
	assert.Contains(t, stages, events.StageUnit)
	assert.Equal(t, events.StageCompleted, stages[len(stages)-1])
}

func TestStageTwoRerunLeavesNoStaleFiles(t *testing.T) {
	root := t.TempDir()
	s := newStageTwo(t, root, stageTwoOpts{})
	ctx := context.Background()

	_, err := s.Run(ctx, Submission{JobID: "same", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(stageTwoIssues)})
	require.NoError(t, err)

	second := zipOf(t, map[string]string{"other.py": "x"})
	res, err := s.Run(ctx, Submission{JobID: "same", SourceName: "source.zip", Source: bytes.NewReader(second), Issues: strings.NewReader(`[{"path":"other.py","line":1}]`)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meta.ProcessedTotal)

	units, err := os.ReadDir(filepath.Join(root, "files", "same"))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "other.py", units[0].Name())

	pieces, err := os.ReadDir(filepath.Join(root, "markdowns", "same"))
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.NoFileExists(t, filepath.Join(root, "extracted", "same", "proj", "app.py"))
}

func TestStageTwoRejectsInvalidIssues(t *testing.T) {
	s := newStageTwo(t, t.TempDir(), stageTwoOpts{})
	_, err := s.Run(context.Background(), Submission{SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader("{broken")})
	var in *types.InputError
	require.ErrorAs(t, err, &in)
	assert.Equal(t, "json_file", in.Field)
}

func TestStageTwoRenderFailureLeavesNoReport(t *testing.T) {
	root := t.TempDir()
	s := newStageTwo(t, root, stageTwoOpts{renderer: failingRenderer{}})
	_, err := s.Run(context.Background(), Submission{JobID: "r1", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(stageTwoIssues)})
	var re *types.RenderError
	require.ErrorAs(t, err, &re)
	assert.NoFileExists(t, filepath.Join(root, "output", "r1.pdf"))
	assert.NoFileExists(t, filepath.Join(root, "output", "r1.json"))
}

func TestStageTwoMirrorsArtifacts(t *testing.T) {
	store := artifact.NewMemoryStore()
	s := newStageTwo(t, t.TempDir(), stageTwoOpts{mirror: artifact.NewMirror(store, zap.NewNop())})

	res, err := s.Run(context.Background(), Submission{JobID: "m1", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(`[]`)})
	require.NoError(t, err)
	assert.Equal(t, "memory://m1/m1.pdf", res.Location)
	assert.Equal(t, 2, res.Meta.ProcessedTotal)
	assert.Equal(t, 2, res.Meta.SkippedCount)
	assert.Equal(t, "# Security Audit Report\n\n_No content_.", res.Report.Markdown)

	names, err := store.List(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1.json", "m1.md", "m1.pdf"}, names)
}

func TestStageTwoCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &llm.FakeClient{Respond: func(ctx context.Context, _ llm.Request) (string, error) {
		cancel()
		return "", ctx.Err()
	}}
	s := newStageTwo(t, t.TempDir(), stageTwoOpts{client: client})
	_, err := s.Run(ctx, Submission{JobID: "c1", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(stageTwoIssues)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStageTwoCleanFileIsSkipped(t *testing.T) {
	s := newStageTwo(t, t.TempDir(), stageTwoOpts{})
	res, err := s.Run(context.Background(), Submission{
		JobID:      "clean",
		SourceName: "source.zip",
		Source:     bytes.NewReader(zipOf(t, map[string]string{"app.py": "print('hello')\n"})),
		Issues:     strings.NewReader(`[]`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Meta.ProcessedTotal)
	assert.Equal(t, 1, res.Meta.SkippedCount)
	assert.Zero(t, res.Meta.SuccessCount)
	assert.Zero(t, res.Meta.FailureCount)
	assert.Equal(t, "# Security Audit Report\n\n_No content_.", res.Report.Markdown)
}

type memRuns struct {
	recs    map[string]runstore.Record
	deleted []string
}

func (m *memRuns) Save(_ context.Context, rec runstore.Record) error {
	m.recs[rec.Meta.JobID] = rec
	return nil
}

func (m *memRuns) Get(_ context.Context, jobID string) (runstore.Record, error) {
	rec, ok := m.recs[jobID]
	if !ok {
		return runstore.Record{}, runstore.ErrNotFound
	}
	return rec, nil
}

func (m *memRuns) Delete(_ context.Context, jobID string) error {
	m.deleted = append(m.deleted, jobID)
	delete(m.recs, jobID)
	return nil
}

func TestStageTwoFailedRerunDropsPreviousRecord(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	runs := &memRuns{recs: map[string]runstore.Record{}}
	store := artifact.NewMemoryStore()
	mirror := artifact.NewMirror(store, zap.NewNop())

	first := newStageTwo(t, root, stageTwoOpts{runs: runs, mirror: mirror})
	_, err := first.Run(ctx, Submission{JobID: "again", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(stageTwoIssues)})
	require.NoError(t, err)
	rec, err := runs.Get(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "memory://again/again.pdf", rec.ReportLocation)

	second := newStageTwo(t, root, stageTwoOpts{runs: runs, mirror: mirror, renderer: failingRenderer{}})
	_, err = second.Run(ctx, Submission{JobID: "again", SourceName: "source.zip", Source: bytes.NewReader(stageTwoArchive(t)), Issues: strings.NewReader(stageTwoIssues)})
	var re *types.RenderError
	require.ErrorAs(t, err, &re)

	_, err = runs.Get(ctx, "again")
	assert.ErrorIs(t, err, runstore.ErrNotFound)
	assert.Equal(t, []string{"again", "again"}, runs.deleted)

	names, err := store.List(ctx, "again")
	require.NoError(t, err)
	assert.Empty(t, names)
}
