package gmail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultExpensiveConcurrency caps simultaneous full-message and
	// attachment requests.
	DefaultExpensiveConcurrency = 8

	maxDrain = 64 << 10
)

// RetryPolicy controls ExecuteWithRetry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 5 attempts with delays of
// min(250ms * 2^attempt, 10s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Backoff returns the wait after the given zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestFactory builds a fresh request for each attempt.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Transport executes requests with exponential backoff on transient
// failures, and gates expensive requests through a bounded semaphore.
type Transport struct {
	doer   Doer
	policy RetryPolicy
	gate   *semaphore.Weighted
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) TransportOption {
	return func(t *Transport) { t.policy = p }
}

// WithExpensiveGate shares a gate between transports. Use it when several
// clients must respect one concurrency cap.
func WithExpensiveGate(g *semaphore.Weighted) TransportOption {
	return func(t *Transport) { t.gate = g }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) TransportOption {
	return func(t *Transport) { t.sleep = sleep }
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport wraps doer.
func NewTransport(doer Doer, opts ...TransportOption) *Transport {
	t := &Transport{
		doer:   doer,
		policy: DefaultRetryPolicy(),
		sleep:  sleepContext,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.gate == nil {
		t.gate = semaphore.NewWeighted(DefaultExpensiveConcurrency)
	}
	return t
}

// NewExpensiveGate returns a gate with the default capacity.
func NewExpensiveGate() *semaphore.Weighted {
	return semaphore.NewWeighted(DefaultExpensiveConcurrency)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// ExecuteWithRetry sends the request built by newReq.
//
// A 429 or 5xx response is retried after Backoff(attempt). A network error
// is retried the same way, except on the final attempt where it is
// returned. Any other response is returned to the caller as-is, whatever
// its status. If every attempt ends in a retryable status the result is a
// *RetriesExhaustedError.
func (t *Transport) ExecuteWithRetry(ctx context.Context, newReq RequestFactory) (*http.Response, error) {
	lastStatus := 0
	for attempt := 0; attempt < t.policy.MaxAttempts; attempt++ {
		final := attempt == t.policy.MaxAttempts-1

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := t.doer.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if final {
				return nil, fmt.Errorf("http request: %w", err)
			}
			t.logger.Debug("retrying request after network error",
				"attempt", attempt+1, "path", req.URL.Path, "error", err)
			if err := t.sleep(ctx, t.policy.Backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		drainAndClose(resp.Body)
		if final {
			break
		}
		backoff := t.policy.Backoff(attempt)
		t.logger.Debug("retrying request",
			"attempt", attempt+1, "status", resp.StatusCode, "backoff", backoff, "path", req.URL.Path)
		if err := t.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, &RetriesExhaustedError{Attempts: t.policy.MaxAttempts, LastStatus: lastStatus}
}

// Expensive runs an expensive request while holding a gate permit. The
// permit is held across retries and until consume returns, so the body is
// fully read before another expensive call may start.
func (t *Transport) Expensive(ctx context.Context, newReq RequestFactory, consume func(*http.Response) error) error {
	if err := t.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.gate.Release(1)

	resp, err := t.ExecuteWithRetry(ctx, newReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return consume(resp)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrain))
	body.Close()
}
