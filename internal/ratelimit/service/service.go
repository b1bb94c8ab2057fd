package service

import (
	"context"
	"log/slog"
	"time"

	"lifetag/internal/ratelimit/metrics"
	"lifetag/internal/ratelimit/models"
	"lifetag/internal/ratelimit/store/bucket"
	id "lifetag/pkg/domain"
	"lifetag/pkg/platform/circuit"
)

// BucketStore is a sliding-window counter keyed by string.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (models.Result, error)
}

// Limiter throttles emergency resolutions per tag. When the shared store
// fails, decisions fall back to an in-process window so a store outage never
// blocks access to emergency data.
type Limiter struct {
	primary  BucketStore
	fallback *bucket.InMemory
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Limiter)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithBreaker replaces the default breaker guarding the primary store.
func WithBreaker(b *circuit.Breaker) Option {
	return func(l *Limiter) { l.breaker = b }
}

func WithFallback(fallback *bucket.InMemory) Option {
	return func(l *Limiter) { l.fallback = fallback }
}

// New builds a limiter. A nil primary means the in-process window is the
// only store.
func New(primary BucketStore, limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		primary:  primary,
		fallback: bucket.New(),
		breaker: circuit.New("ratelimit",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(3),
			circuit.WithCooldown(10*time.Second),
		),
		limit:  limit,
		window: window,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one resolution attempt for tagID. The returned error is
// non-nil only when no store could answer; callers fail open on it.
func (l *Limiter) Allow(ctx context.Context, tagID id.TagID) (models.Result, error) {
	key := models.TagKey(tagID)
	if l.primary != nil && l.breaker.Allow() {
		result, err := l.primary.Allow(ctx, key, l.limit, l.window)
		if err == nil {
			if _, change := l.breaker.RecordSuccess(); change.Closed {
				l.metrics.SetDegraded(false)
				l.logger.InfoContext(ctx, "rate limit store recovered")
			}
			l.metrics.IncrementDecision(result.Allowed)
			return result, nil
		}
		l.metrics.IncrementBackendErrors()
		if _, change := l.breaker.RecordFailure(); change.Opened {
			l.metrics.SetDegraded(true)
			l.logger.WarnContext(ctx, "rate limit store circuit opened", "error", err)
		} else {
			l.logger.WarnContext(ctx, "rate limit store error, using fallback",
				"tag_id", tagID,
				"error", err,
			)
		}
	}

	result, err := l.fallback.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return models.Result{Allowed: true, Limit: l.limit, Degraded: true}, err
	}
	result.Degraded = l.primary != nil
	l.metrics.IncrementDecision(result.Allowed)
	return result, nil
}

// RunSweeper periodically drops idle fallback windows until ctx ends.
func (l *Limiter) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.fallback.Sweep(); n > 0 {
				l.logger.DebugContext(ctx, "swept idle rate limit windows", "count", n)
			}
		}
	}
}
