package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	"github.com/couchcryptid/relative-yield-service/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

// temporary is implemented by errors worth retrying.
type temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err, or any error it wraps, is transient.
func IsTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// RetryPolicy bounds the retries of a Retrying pipeline.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Retrying decorates a RasterPipeline with exponential-backoff retries of
// transient failures. Terminal failures surface as *domain.RemoteEvaluationError.
type Retrying struct {
	inner   domain.RasterPipeline
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetrying wraps inner with retries.
func NewRetrying(inner domain.RasterPipeline, policy RetryPolicy, logger *slog.Logger, metrics *observability.Metrics) *Retrying {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.MaxBackoff < policy.Backoff {
		policy.MaxBackoff = policy.Backoff
	}
	return &Retrying{inner: inner, policy: policy, logger: logger, metrics: metrics}
}

// Evaluate forwards to the wrapped pipeline, retrying transient failures.
func (r *Retrying) Evaluate(ctx context.Context, node domain.Node, region domain.Region) (domain.Raster, error) {
	backoff := r.policy.Backoff
	var err error
	attempt := 0
	for attempt < r.policy.Attempts {
		attempt++
		var out domain.Raster
		out, err = r.inner.Evaluate(ctx, node, region)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !IsTemporary(err) || attempt == r.policy.Attempts {
			break
		}
		r.metrics.RemoteRequests.WithLabelValues("retry").Inc()
		r.logger.Warn("evaluation failed, retrying",
			"op", node.Op(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = sharedretry.NextBackoff(backoff, r.policy.MaxBackoff)
	}

	var remote *domain.RemoteEvaluationError
	if errors.As(err, &remote) {
		return domain.Raster{}, err
	}
	return domain.Raster{}, &domain.RemoteEvaluationError{Op: node.Op(), Attempts: attempt, Err: err}
}
