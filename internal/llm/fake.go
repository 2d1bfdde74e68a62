package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// FakeClient returns deterministic markdown for offline runs and tests.
// When Respond is set it is used instead of the built-in reply.
type FakeClient struct {
	Respond func(ctx context.Context, req Request) (string, error)
	calls   atomic.Int64
}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

// Calls reports how many times Generate ran.
func (f *FakeClient) Calls() int { return int(f.calls.Load()) }

func (f *FakeClient) Generate(ctx context.Context, req Request) (string, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Respond != nil {
		return f.Respond(ctx, req)
	}
	lines := strings.Count(req.Prompt, "\n") + 1
	return fmt.Sprintf("### Findings\n\nOffline review of a %d-line prompt.\n\n## Instructions\n\nReview the flagged lines manually.", lines), nil
}
