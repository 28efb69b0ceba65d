package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/fault"
)

// DefaultRetries is the total number of completion attempts.
const DefaultRetries = 3

const defaultRetryDelay = time.Second

type retryingClient struct {
	inner    Client
	attempts int
	delay    time.Duration
	log      zerolog.Logger
}

// WithRetry wraps inner so transient completion failures are retried with
// exponential backoff. attempts counts every try including the first.
// Ping is deliberately not retried; it is a health probe.
func WithRetry(inner Client, attempts int, logger zerolog.Logger) Client {
	if attempts <= 0 {
		attempts = DefaultRetries
	}
	return &retryingClient{inner: inner, attempts: attempts, delay: defaultRetryDelay, log: logger}
}

func (c *retryingClient) Name() string { return c.inner.Name() }

func (c *retryingClient) Ping(ctx context.Context) error { return c.inner.Ping(ctx) }

func (c *retryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := c.delay << (attempt - 2)
			c.log.Warn().Err(lastErr).
				Int("attempt", attempt).Int("max", c.attempts).Dur("backoff", delay).
				Msg("retrying llm call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, fault.Wrap(fault.KindTransport, ctx.Err(), "llm call cancelled")
			}
		}

		resp, err := c.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			// Operator cancellation, not a provider failure.
			return Response{}, err
		}
		lastErr = err
		if !Retryable(err) {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

// Retryable reports whether err is worth another attempt. Rate limits,
// server errors, per-call timeouts, and plain network failures are; client
// errors (bad request, bad credentials) and operator cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code, ok := statusCode(err); ok {
		return retryableStatus(code)
	}
	return fault.KindOf(err) == fault.KindTransport
}

func statusCode(err error) (int, bool) {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	return 0, false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
