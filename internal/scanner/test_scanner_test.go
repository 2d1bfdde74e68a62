package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auditflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRunner reports one finding per path, and fails batches containing a
// path listed in fail.
type fakeRunner struct {
	fail    map[string]error
	delay   time.Duration
	mu      sync.Mutex
	calls   int
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, paths []string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for _, p := range paths {
		if err, ok := f.fail[p]; ok {
			return nil, err
		}
	}
	var parts []string
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf(`{"check_id":"rule.%s","path":%q,"start":{"line":1},"extra":{"message":"m","lines":"x","severity":"ERROR"}}`, p, p))
	}
	return []byte(`{"results":[` + strings.Join(parts, ",") + `],"errors":[]}`), nil
}

func paths(n int) []string {
	var out []string
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf("f%02d.py", i))
	}
	return out
}

func TestScanConcatenatesInBatchOrder(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	s := New(runner, Options{MaxBatchChars: 16, Concurrency: 4}, zap.NewNop())

	res, err := s.Scan(context.Background(), paths(12))
	require.NoError(t, err)

	assert.Equal(t, 6, res.Batches)
	require.Len(t, res.Findings, 12)
	for i, f := range res.Findings {
		assert.Equal(t, fmt.Sprintf("f%02d.py", i), f.Path.Value)
	}
	assert.Empty(t, res.Failed)
	assert.LessOrEqual(t, runner.maxSeen.Load(), int32(4))
}

func TestScanSkipsFailedBatch(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"f02.py": &types.ScannerBatchError{ExitCode: 2, Err: errors.New("exit status 2")},
	}}
	s := New(runner, Options{MaxBatchChars: 16, Concurrency: 1}, zap.NewNop())

	res, err := s.Scan(context.Background(), paths(6))
	require.NoError(t, err)

	assert.Len(t, res.Findings, 4)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Batch)
	assert.Equal(t, 2, res.Failed[0].ExitCode)
	for _, f := range res.Findings {
		assert.NotContains(t, []string{"f02.py", "f03.py"}, f.Path.Value)
	}
}

func TestScanBatchTimeout(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	s := New(runner, Options{MaxBatchChars: 1000, BatchTimeout: 20 * time.Millisecond, Concurrency: 1}, zap.NewNop())

	res, err := s.Scan(context.Background(), paths(2))
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.True(t, res.Failed[0].TimedOut)
	assert.Empty(t, res.Findings)
}

type garbageRunner struct{}

func (garbageRunner) Run(context.Context, []string) ([]byte, error) {
	return []byte("Traceback (most recent call last):"), nil
}

func TestScanUnparsableOutputFailsBatch(t *testing.T) {
	s := New(garbageRunner{}, Options{MaxBatchChars: 1000}, zap.NewNop())
	res, err := s.Scan(context.Background(), paths(1))
	require.NoError(t, err)
	assert.Len(t, res.Failed, 1)
}

func TestScanCancelled(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	s := New(runner, Options{MaxBatchChars: 8, Concurrency: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Scan(ctx, paths(8))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanNoFiles(t *testing.T) {
	s := New(&fakeRunner{}, Options{MaxBatchChars: 100}, zap.NewNop())
	res, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
	assert.Empty(t, res.Findings)
}
