package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auditflow/internal/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune a Scanner.
type Options struct {
	// MaxBatchChars bounds the serialized length of one batch's path list.
	MaxBatchChars int
	// BatchTimeout bounds one scanner invocation.
	BatchTimeout time.Duration
	// Concurrency is the number of batches scanned at once.
	Concurrency int
}

// Result is the outcome of scanning a file list.
type Result struct {
	Findings []RawFinding
	Batches  int
	Files    int
	Failed   []*types.ScannerBatchError
}

// Scanner partitions files into batches and runs them through a Runner.
type Scanner struct {
	runner Runner
	opts   Options
	log    *zap.Logger
}

func New(runner Runner, opts Options, logger *zap.Logger) *Scanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{runner: runner, opts: opts, log: logger.Named("scanner")}
}

type report struct {
	Results []RawFinding `json:"results"`
}

// Scan runs every batch. A failed batch is logged and recorded in
// Result.Failed; its findings are dropped and the remaining batches still
// run. Findings are returned in batch order regardless of completion order.
func (s *Scanner) Scan(ctx context.Context, paths []string) (*Result, error) {
	batches := Partition(paths, s.opts.MaxBatchChars)
	res := &Result{Batches: len(batches), Files: len(paths)}
	if len(batches) == 0 {
		return res, nil
	}

	findings := make([][]RawFinding, len(batches))
	failures := make([]*types.ScannerBatchError, len(batches))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.scanBatch(ctx, b)
			if err != nil {
				failures[b.Index] = err
				return nil
			}
			findings[b.Index] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range batches {
		if failures[i] != nil {
			res.Failed = append(res.Failed, failures[i])
			continue
		}
		res.Findings = append(res.Findings, findings[i]...)
	}
	return res, nil
}

func (s *Scanner) scanBatch(ctx context.Context, b Batch) ([]RawFinding, *types.ScannerBatchError) {
	runCtx := ctx
	if s.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.BatchTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := s.runner.Run(runCtx, b.Paths)
	if err != nil {
		batchErr := asBatchError(err, b)
		s.log.Warn("scanner batch failed",
			zap.Int("batch", b.Index),
			zap.Int("files", len(b.Paths)),
			zap.Bool("timed_out", batchErr.TimedOut),
			zap.String("stderr", batchErr.Stderr),
			zap.Error(batchErr.Err))
		return nil, batchErr
	}

	var rep report
	if err := json.Unmarshal(raw, &rep); err != nil {
		s.log.Warn("scanner batch produced unparsable output",
			zap.Int("batch", b.Index), zap.Error(err))
		return nil, &types.ScannerBatchError{Batch: b.Index, Files: len(b.Paths), Err: fmt.Errorf("parse output: %w", err)}
	}
	s.log.Debug("scanner batch done",
		zap.Int("batch", b.Index),
		zap.Int("files", len(b.Paths)),
		zap.Int("findings", len(rep.Results)),
		zap.Duration("took", time.Since(start)))
	return rep.Results, nil
}

func asBatchError(err error, b Batch) *types.ScannerBatchError {
	var batchErr *types.ScannerBatchError
	if errors.As(err, &batchErr) {
		batchErr.Batch = b.Index
		batchErr.Files = len(b.Paths)
		return batchErr
	}
	return &types.ScannerBatchError{
		Batch:    b.Index,
		Files:    len(b.Paths),
		TimedOut: errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}
