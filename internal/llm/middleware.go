package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Middleware decorates a Client with a cross-cutting concern.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// Throttle makes every call wait for q, keyed by the wrapped client's model
// name. A nil q disables throttling.
func Throttle(q *Quota) Middleware {
	return func(next Client) Client {
		return &throttled{next: next, quota: q}
	}
}

type throttled struct {
	next  Client
	quota *Quota
}

func (c *throttled) Name() string { return c.next.Name() }
func (c *throttled) Close() error { return c.next.Close() }

func (c *throttled) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.quota.Wait(ctx, c.next.Name()); err != nil {
		return "", err
	}
	return c.next.Generate(ctx, req)
}

// Retry retries up to maxAttempts with exponential backoff starting at
// baseDelay. PermanentError and context cancellation stop it immediately.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Client) Client {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Client
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.next.Generate(ctx, req)
		if err == nil {
			return out, nil
		}
		var pErr *PermanentError
		if errors.As(err, &pErr) {
			return "", err
		}
		last = err
		if ctx.Err() != nil {
			return "", err
		}
		if i == r.max-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return "", last
}

// Logging records each call's duration and outcome.
func Logging(logger *zap.Logger) Middleware {
	return func(next Client) Client {
		return &logged{next: next, log: logger.Named("llm")}
	}
}

type logged struct {
	next Client
	log  *zap.Logger
}

func (l *logged) Name() string { return l.next.Name() }
func (l *logged) Close() error { return l.next.Close() }

func (l *logged) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := l.next.Generate(ctx, req)
	fields := []zap.Field{
		zap.String("client", l.next.Name()),
		zap.Int("prompt_bytes", len(req.Prompt)),
		zap.Duration("took", time.Since(start)),
	}
	if err != nil {
		l.log.Warn("generation failed", append(fields, zap.Error(err))...)
		return "", err
	}
	l.log.Debug("generation done", append(fields, zap.Int("output_bytes", len(out)))...)
	return out, nil
}
