package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/metrics"
	"feedly-pipeline/internal/common/observability"

	"github.com/sashabaranov/go-openai"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper is the production Sleeper.
func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRateLimitError reports whether err came from provider throttling.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	if errors.Is(err, ErrInvalidAgentResponse) || errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	text := err.Error()
	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		text = stdErr.Details
	}
	text = strings.ToLower(text)
	return strings.Contains(text, "429") ||
		strings.Contains(text, "too many requests") ||
		strings.Contains(text, "rate")
}

// Retrier retries rate-limited agent calls with exponential backoff.
// Every other failure is returned on the attempt that produced it.
type Retrier struct {
	newInvoker  InvokerFactory
	maxAttempts int
	backoffBase time.Duration
	cooldown    time.Duration
	sleep       Sleeper
	obs         *observability.Observability
	logger      logger.Logger
}

type RetrierOption func(*Retrier)

func WithSleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) { r.sleep = s }
}

func WithCooldown(d time.Duration) RetrierOption {
	return func(r *Retrier) { r.cooldown = d }
}

func WithObservability(obs *observability.Observability) RetrierOption {
	return func(r *Retrier) { r.obs = obs }
}

func NewRetrier(factory InvokerFactory, maxAttempts int, backoffBase time.Duration, log logger.Logger, opts ...RetrierOption) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	r := &Retrier{
		newInvoker:  factory,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		sleep:       ContextSleeper,
		logger:      log.WithFields(map[string]interface{}{"component": "agent-retrier"}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke calls the agent with a fresh Invoker per attempt. Rate-limited attempts
// sleep backoffBase*2^attempt before the next one; no sleep follows the last.
func (r *Retrier) Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		invoker, err := r.newInvoker()
		if err != nil {
			return nil, err
		}

		r.logger.Info("Calling agent", map[string]interface{}{
			"agent":       agentName,
			"attempt":     attempt + 1,
			"maxAttempts": r.maxAttempts,
		})

		start := time.Now()
		result, err := invoker.Invoke(ctx, agentName, payload)
		if err == nil {
			r.obs.RecordAgentCall(ctx, agentName, "completed", time.Since(start))
			return result, nil
		}
		lastErr = err

		if !IsRateLimitError(err) {
			r.obs.RecordAgentCall(ctx, agentName, "failed", time.Since(start))
			r.logger.Error("Agent call failed", map[string]interface{}{
				"agent": agentName,
				"error": err.Error(),
			})
			return nil, err
		}

		r.obs.RecordAgentCall(ctx, agentName, "rate_limited", time.Since(start))
		if attempt == r.maxAttempts-1 {
			break
		}

		wait := r.backoffBase * time.Duration(1<<attempt)
		metrics.AgentRetries.WithLabelValues(agentName).Inc()
		r.logger.Warn("Agent rate limited, backing off", map[string]interface{}{
			"agent":   agentName,
			"attempt": attempt + 1,
			"wait":    wait.String(),
		})
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	r.logger.Error("Agent retries exhausted", map[string]interface{}{
		"agent":    agentName,
		"attempts": r.maxAttempts,
	})
	return nil, apperrors.NewAgentRateLimitedError(agentName, r.maxAttempts, lastErr)
}

// Cooldown pauses between successive agent calls.
func (r *Retrier) Cooldown(ctx context.Context) error {
	if r.cooldown <= 0 {
		return nil
	}
	return r.sleep(ctx, r.cooldown)
}
