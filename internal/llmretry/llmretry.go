// Package llmretry wraps an llms.Model with the bounded exponential
// backoff contract every external LLM call in this module needs: a
// permanent 400 fails fast, 429/5xx/timeouts retry with jittered
// exponential backoff, and a cancelled context always wins the race.
package llmretry

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// Config configures retry behavior for LLM calls.
type Config struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	TimeoutPerRetry time.Duration
}

// DefaultConfig matches the 0s/1s/2s/4s backoff ladder described for
// both the matcher and the pattern suggester (each wait gets up to half
// its length again as random jitter), capped well inside the
// per-invocation budget either caller operates under.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		TimeoutPerRetry: 60 * time.Second,
	}
}

// PermanentError marks a failure that must never be retried (an upstream
// 400, or an explicitly invalid request).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Wrapper wraps an LLM with retry logic.
type Wrapper struct {
	llm    llms.Model
	config Config
	log    zerolog.Logger
}

// New builds a retry wrapper around llm using config, logging attempts
// through log at debug level.
func New(llm llms.Model, config Config, log zerolog.Logger) *Wrapper {
	return &Wrapper{llm: llm, config: config, log: log.With().Str("component", "llmretry").Logger()}
}

// GenerateContent calls the wrapped LLM with retry logic for transient
// failures. A *PermanentError from the underlying call, or from the
// caller wrapping a 400 response, short-circuits immediately.
func (w *Wrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var lastErr error
	delay := w.config.InitialDelay

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llmretry: context cancelled before attempt %d: %w", attempt+1, ctx.Err())
		default:
		}

		retryCtx, cancel := context.WithTimeout(ctx, w.config.TimeoutPerRetry)
		response, err := w.llm.GenerateContent(retryCtx, messages, options...)
		cancel()

		if err == nil {
			return response, nil
		}
		lastErr = err

		var perm *PermanentError
		if isPermanent(err, &perm) {
			w.log.Debug().Err(err).Int("attempt", attempt+1).Msg("llm call failed permanently, not retrying")
			return nil, err
		}

		if attempt >= w.config.MaxRetries || !isRetryable(err) {
			break
		}

		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		}
		w.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("llm call failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("llmretry: context cancelled during retry delay: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * w.config.BackoffFactor)
		if delay > w.config.MaxDelay {
			delay = w.config.MaxDelay
		}
	}

	return nil, fmt.Errorf("llmretry: failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

func isPermanent(err error, target **PermanentError) bool {
	for e := err; e != nil; e = unwrap(e) {
		if p, ok := e.(*PermanentError); ok {
			*target = p
			return true
		}
	}
	if strings.Contains(err.Error(), "400") {
		return true
	}
	return false
}

func unwrap(err error) error {
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}

// isRetryable classifies 429/5xx/timeout/network errors as worth a
// retry; everything else is treated as not retryable to avoid looping
// on a call that will never succeed.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "context cancelled") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "429") {
		return true
	}

	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "overloaded") {
		return true
	}

	var netErr net.Error
	if asNetErr(err, &netErr) {
		return netErr.Timeout()
	}

	if urlErr, ok := err.(*url.Error); ok {
		return isRetryable(urlErr.Err)
	}

	return false
}

func asNetErr(err error, target *net.Error) bool {
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	return false
}
