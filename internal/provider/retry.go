package provider

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff with full jitter for one class of
// provider call.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// StreamPolicy is the default for stream starts.
func StreamPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// JSONPolicy is the default for structured generation calls.
func JSONPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 3 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do runs fn with retries under the policy. Non-retryable errors return
// immediately; "maybe" class errors get at most two extra attempts.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error), onRetry func(attempt int, delay time.Duration, err error)) (T, error) {
	var zero T
	attempt := 0

	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		class := Classify(err)
		if class == RetryClassNonRetryable {
			return zero, err
		}
		if attempt+1 >= policy.MaxAttempts {
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt + 1}
		}
		if class == RetryClassMaybe && attempt >= 2 {
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt + 1}
		}

		delay := backoffDelay(policy, attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
		attempt++
	}
}

// backoffDelay computes the wait before the next attempt. A server
// Retry-After wins over the exponential schedule, capped at MaxDelay.
func backoffDelay(policy Policy, attempt int, err error) time.Duration {
	if ra := retryAfterDelay(err); ra > 0 {
		if ra > policy.MaxDelay {
			return policy.MaxDelay
		}
		return ra
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}

// streamIdleTimeout bounds the gap between chunks; a stream that goes
// quiet for this long is treated as stalled and aborted.
const streamIdleTimeout = 60 * time.Second

// withRetry wraps a Provider so stream starts and JSON calls are
// retried transparently. A stream only retries while no chunk has been
// delivered; once output reached the consumer the error is surfaced.
type withRetry struct {
	inner   Provider
	stream  Policy
	json    Policy
	idle    time.Duration
	onRetry func(attempt int, delay time.Duration, err error)
}

// WithRetry decorates a provider with the default backoff policies.
func WithRetry(p Provider, onRetry func(attempt int, delay time.Duration, err error)) Provider {
	return &withRetry{
		inner:   p,
		stream:  StreamPolicy(),
		json:    JSONPolicy(),
		idle:    streamIdleTimeout,
		onRetry: onRetry,
	}
}

func (w *withRetry) Name() string  { return w.inner.Name() }
func (w *withRetry) Model() string { return w.inner.Model() }

func (w *withRetry) GenerateJSON(ctx context.Context, req Request, schema map[string]any) (map[string]any, error) {
	return Do(ctx, w.json, func(ctx context.Context) (map[string]any, error) {
		return w.inner.GenerateJSON(ctx, req, schema)
	}, w.onRetry)
}

func (w *withRetry) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	outCh := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		attempt := 0
		for {
			delivered, err := w.relayOnce(ctx, req, outCh)
			if err == nil {
				return
			}

			class := Classify(err)
			retryable := !delivered && class != RetryClassNonRetryable &&
				attempt+1 < w.stream.MaxAttempts &&
				!(class == RetryClassMaybe && attempt >= 2)
			if !retryable {
				if !delivered && attempt > 0 {
					err = &RetryExhaustedError{Err: err, Attempts: attempt + 1}
				}
				errCh <- err
				return
			}

			delay := backoffDelay(w.stream, attempt, err)
			if w.onRetry != nil {
				w.onRetry(attempt+1, delay, err)
			}
			select {
			case <-ctx.Done():
				errCh <- fmt.Errorf("context cancelled during retry: %w", ctx.Err())
				return
			case <-time.After(delay):
			}
			attempt++
		}
	}()

	return outCh, errCh
}

// relayOnce runs one stream attempt, forwarding chunks. Returns whether
// any chunk reached the consumer and the terminal error, if any.
func (w *withRetry) relayOnce(ctx context.Context, req Request, outCh chan<- Chunk) (bool, error) {
	chunkCh, innerErrCh := w.inner.Stream(ctx, req)
	delivered := false

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if w.idle > 0 {
		idleTimer = time.NewTimer(w.idle)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	for chunkCh != nil || innerErrCh != nil {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				chunkCh = nil
				continue
			}
			if idleTimer != nil {
				if !idleTimer.Stop() {
					<-idleTimer.C
				}
				idleTimer.Reset(w.idle)
			}
			select {
			case outCh <- chunk:
				delivered = true
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		case err, ok := <-innerErrCh:
			if !ok {
				innerErrCh = nil
				continue
			}
			if err != nil {
				// Drain remaining chunks so the inner goroutine exits.
				for chunkCh != nil {
					if _, ok := <-chunkCh; !ok {
						chunkCh = nil
					}
				}
				return delivered, err
			}
		case <-idleC:
			return delivered, &Error{
				Err:   fmt.Errorf("stream stalled: no chunks for %s", w.idle),
				Class: RetryClassRetryable,
			}
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	return delivered, nil
}
