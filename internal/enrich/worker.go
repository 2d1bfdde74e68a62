package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"auditflow/internal/events"
	"auditflow/internal/llm"
	"auditflow/internal/safeio"
	"auditflow/internal/types"
	"auditflow/internal/unit"

	"go.uber.org/zap"
)

// PieceExt is the extension of per-unit markdown pieces.
const PieceExt = ".md"

// Options tune a Worker.
type Options struct {
	Concurrency     int
	QueueSize       int
	CallTimeout     time.Duration
	MaxOutputTokens int
}

// Outcome is one unit's terminal result.
type Outcome struct {
	Unit    string
	State   types.UnitState
	Piece   string
	Failure *types.FailureItem
}

// Worker turns materialized units into markdown pieces.
type Worker struct {
	client llm.Client
	opts   Options
	pub    events.Publisher
	log    *zap.Logger
}

func NewWorker(client llm.Client, opts Options, pub events.Publisher, logger *zap.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Concurrency
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{client: client, opts: opts, pub: pub, log: logger.Named("enrich")}
}

type task struct {
	index int
	name  string
	dir   string
}

// Run processes every unit directory under unitsDir and writes pieces into
// piecesDir. One unit's failure never stops the others; the returned RunMeta
// lists outcomes folded in unit-name order. If ctx is cancelled the pending
// units are recorded as cancelled and ctx's error is returned with the meta.
func (w *Worker) Run(ctx context.Context, jobID, unitsDir, piecesDir string) (types.RunMeta, error) {
	meta := types.RunMeta{JobID: jobID, StartedAt: time.Now().UTC(), FailedItems: []types.FailureItem{}, Pieces: []string{}}

	names, err := listUnits(unitsDir)
	if err != nil {
		return meta, fmt.Errorf("list units: %w", err)
	}
	if err := os.MkdirAll(piecesDir, 0o755); err != nil {
		return meta, fmt.Errorf("create pieces dir: %w", err)
	}
	meta.Total = len(names)

	outcomes := make([]Outcome, len(names))
	queue := make(chan task, w.opts.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range queue {
				outcomes[t.index] = w.process(ctx, jobID, t, piecesDir)
			}
		}()
	}

	// Sends block while the queue is full.
	for i, name := range names {
		queue <- task{index: i, name: name, dir: filepath.Join(unitsDir, name)}
	}
	close(queue)
	wg.Wait()

	for _, o := range outcomes {
		meta.Record(o.Unit, o.State, o.Failure, o.Piece)
	}
	meta.FinishedAt = time.Now().UTC()

	w.log.Info("enrichment finished",
		zap.String("job_id", jobID),
		zap.Int("processed", meta.ProcessedTotal),
		zap.Int("success", meta.SuccessCount),
		zap.Int("skipped", meta.SkippedCount),
		zap.Int("failed", meta.FailureCount))
	return meta, ctx.Err()
}

func (w *Worker) process(ctx context.Context, jobID string, t task, piecesDir string) Outcome {
	out := Outcome{Unit: t.name}
	if err := ctx.Err(); err != nil {
		return w.fail(ctx, jobID, out, types.KindCancelled, err)
	}

	dir, err := safeio.NewSafeFS(t.dir)
	if err != nil {
		return w.fail(ctx, jobID, out, types.KindReadFailed, err)
	}
	issuesName, sourceName, kind, err := locate(dir)
	if err != nil {
		return w.fail(ctx, jobID, out, kind, err)
	}

	raw, err := dir.SafeReadFile(issuesName)
	if err != nil {
		return w.fail(ctx, jobID, out, types.KindReadFailed, err)
	}
	var issues []types.Issue
	if err := json.Unmarshal(raw, &issues); err != nil {
		return w.fail(ctx, jobID, out, types.KindInvalidIssues, err)
	}
	if len(issues) == 0 {
		out.State = types.UnitSkipped
		w.emit(ctx, jobID, out, "")
		return out
	}

	source, err := dir.SafeReadFile(sourceName)
	if err != nil {
		return w.fail(ctx, jobID, out, types.KindReadFailed, err)
	}

	callCtx := ctx
	if w.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.opts.CallTimeout)
		defer cancel()
	}
	text, err := w.client.Generate(callCtx, llm.AuditPrompt(string(raw), string(source), w.opts.MaxOutputTokens))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return w.fail(ctx, jobID, out, types.KindCancelled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return w.fail(ctx, jobID, out, types.KindTimeout, err)
		default:
			return w.fail(ctx, jobID, out, types.KindGenerationFailed, err)
		}
	}

	text = llm.CleanMarkdown(text)
	if text == "" {
		return w.fail(ctx, jobID, out, types.KindGenerationFailed, llm.ErrEmptyResponse)
	}

	piece := t.name + PieceExt
	if err := safeio.WriteFileAtomic(filepath.Join(piecesDir, piece), strings.NewReader(text), 0o644); err != nil {
		return w.fail(ctx, jobID, out, types.KindWriteFailed, err)
	}
	out.State = types.UnitSuccess
	out.Piece = piece
	w.emit(ctx, jobID, out, "")
	return out
}

func (w *Worker) fail(ctx context.Context, jobID string, out Outcome, kind string, err error) Outcome {
	unitErr := &types.EnrichmentUnitError{Unit: out.Unit, Kind: kind, Err: localError(err)}
	item := unitErr.Item()
	out.State = types.UnitFailure
	out.Failure = &item
	w.log.Warn("unit failed", zap.String("job_id", jobID), zap.String("unit", out.Unit), zap.String("kind", kind), zap.Error(err))
	w.emit(ctx, jobID, out, item.Message)
	return out
}

func (w *Worker) emit(ctx context.Context, jobID string, out Outcome, msg string) {
	ev := events.New(jobID, events.StageUnit)
	ev.Unit = out.Unit
	ev.State = string(out.State)
	ev.Message = msg
	events.Emit(context.WithoutCancel(ctx), w.pub, w.log, ev)
}

// localError strips directories from file-system errors so a failure
// record names only the unit's own files.
func localError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return &fs.PathError{Op: pe.Op, Path: filepath.Base(pe.Path), Err: pe.Err}
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return &os.LinkError{Op: le.Op, Old: filepath.Base(le.Old), New: filepath.Base(le.New), Err: le.Err}
	}
	return err
}

// locate finds exactly one issues document and exactly one source file.
func locate(dir *safeio.SafeFS) (issuesName, sourceName, kind string, err error) {
	entries, err := dir.SafeReadDir(".")
	if err != nil {
		return "", "", types.KindReadFailed, err
	}
	var docs, sources []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if unit.IsIssuesDoc(e.Name()) {
			docs = append(docs, e.Name())
		} else {
			sources = append(sources, e.Name())
		}
	}
	switch {
	case len(docs) == 0:
		return "", "", types.KindMissingIssues, errors.New("no issues document")
	case len(docs) > 1:
		return "", "", types.KindAmbiguousUnit, fmt.Errorf("%d issues documents", len(docs))
	case len(sources) == 0:
		return "", "", types.KindMissingSource, errors.New("source file not found")
	case len(sources) > 1:
		return "", "", types.KindAmbiguousUnit, fmt.Errorf("%d candidate source files", len(sources))
	}
	return docs[0], sources[0], "", nil
}

func listUnits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
