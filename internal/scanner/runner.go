package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"auditflow/internal/types"
)

// Runner executes the external scanner over one batch and returns its raw
// JSON report.
type Runner interface {
	Run(ctx context.Context, paths []string) ([]byte, error)
}

// SemgrepRunner shells out to the semgrep CLI.
type SemgrepRunner struct {
	Binary    string
	Rules     string
	ExtraArgs []string
}

// Args builds the argument list for one batch.
func (r SemgrepRunner) Args(paths []string) []string {
	rules := r.Rules
	if rules == "" {
		rules = "auto"
	}
	args := []string{"--config", rules, "--json", "--quiet"}
	args = append(args, r.ExtraArgs...)
	return append(args, paths...)
}

func (r SemgrepRunner) Run(ctx context.Context, paths []string) ([]byte, error) {
	bin := r.Binary
	if bin == "" {
		bin = "semgrep"
	}
	cmd := exec.CommandContext(ctx, bin, r.Args(paths)...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &types.ScannerBatchError{
			Files:    len(paths),
			TimedOut: errors.Is(ctxErr, context.DeadlineExceeded),
			Err:      ctxErr,
		}
	}
	if err != nil {
		batchErr := &types.ScannerBatchError{Files: len(paths), Stderr: tail(stderr.String(), 2048), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			batchErr.ExitCode = exitErr.ExitCode()
		}
		return nil, batchErr
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
