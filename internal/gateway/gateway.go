package gateway

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/metrics"
)

// Config holds the per-check tunables. Loaded once at startup and immutable
// for the process lifetime.
type Config struct {
	Check               CheckType
	Enabled             bool
	Timeout             time.Duration
	RetryAttempts       int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	CacheTTL            time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	return c
}

// Gateway turns one check type's perform function into a bounded-latency,
// fault-tolerant operation. Each instance owns its breaker state and cache;
// concurrent calls for the same check share both.
type Gateway struct {
	cfg     Config
	perform Perform
	cache   Cache
	breaker *circuitBreaker
	clock   Clock
	hasher  Hasher
	logger  *zap.Logger
}

// New constructs a Gateway for a single check type.
func New(cfg Config, perform Perform, cache Cache, clock Clock, hasher Hasher, logger *zap.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		perform: perform,
		cache:   cache,
		breaker: newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerResetTimeout, clock),
		clock:   clock,
		hasher:  hasher,
		logger:  logger,
	}
}

// Check returns the check type this gateway serves.
func (g *Gateway) Check() CheckType { return g.cfg.Check }

// BreakerPhase exposes the breaker phase for health reporting.
func (g *Gateway) BreakerPhase() CircuitPhase { return g.breaker.Phase() }

// Execute runs one check with cache-first reads, circuit breaking, bounded
// retry with capped exponential backoff and stale fallback. It always
// returns an envelope; raw upstream failures never escape.
func (g *Gateway) Execute(ctx context.Context, in Input) Result {
	key := g.cacheKey(in)
	now := g.clock.Now()

	entry, cached, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache read failed", zap.String("check", string(g.cfg.Check)), zap.Error(err))
		cached = false
	}
	if cached && entry.Fresh(now) {
		metrics.ObserveCacheEvent(string(g.cfg.Check), "hit")
		result := entry.Result
		result.Source = SourceCache
		return result
	}
	metrics.ObserveCacheEvent(string(g.cfg.Check), "miss")

	if !g.cfg.Enabled {
		return Result{
			Check:     g.cfg.Check,
			Status:    StatusUnknown,
			Source:    SourceFallback,
			CheckedAt: now,
			Warning:   ErrServiceDisabled.Error(),
		}
	}

	if ok, retryAfter := g.breaker.Allow(); !ok {
		g.observePhase()
		openErr := &CircuitOpenError{RetryAfter: retryAfter}
		if cached {
			return g.staleFallback(entry, openErr.Error(), retryAfter)
		}
		return Result{
			Check:      g.cfg.Check,
			Status:     StatusError,
			Source:     SourceFallback,
			CheckedAt:  now,
			Error:      openErr.Error(),
			Retryable:  true,
			RetryAfter: seconds(retryAfter),
		}
	}

	result, lastErr := g.attempt(ctx, in, key)
	if lastErr == nil {
		return result
	}

	if cached {
		return g.staleFallback(entry, lastErr.Error(), 0)
	}
	return Result{
		Check:     g.cfg.Check,
		Status:    StatusError,
		Source:    SourceFallback,
		CheckedAt: g.clock.Now(),
		Error:     lastErr.Error(),
		Retryable: true,
	}
}

// attempt runs the retry loop. A nil error means the returned result is a
// live success already written to cache.
func (g *Gateway) attempt(ctx context.Context, in Input, key string) (Result, error) {
	var lastErr error
	for i := 1; i <= g.cfg.RetryAttempts; i++ {
		start := g.clock.Now()
		outcome, err := g.runOnce(ctx, in)
		if err == nil {
			g.breaker.RecordSuccess()
			g.observePhase()
			result := Result{
				Check:     g.cfg.Check,
				Status:    outcome.Status,
				Payload:   outcome.Payload,
				Source:    SourceLive,
				CheckedAt: g.clock.Now(),
			}
			g.writeCache(ctx, key, result)
			metrics.ObserveCheck(string(g.cfg.Check), string(SourceLive), string(outcome.Status), g.clock.Now().Sub(start))
			return result, nil
		}

		lastErr = err
		g.logger.Warn("check attempt failed",
			zap.String("check", string(g.cfg.Check)),
			zap.Int("attempt", i),
			zap.Error(err),
		)
		metrics.ObserveCheck(string(g.cfg.Check), string(SourceLive), string(StatusError), g.clock.Now().Sub(start))

		if !retryable(err) {
			break
		}
		if tripped := g.breaker.RecordFailure(); tripped {
			g.observePhase()
			g.logger.Warn("circuit opened", zap.String("check", string(g.cfg.Check)))
			break
		}
		g.observePhase()
		if i == g.cfg.RetryAttempts {
			break
		}
		metrics.ObserveRetry(string(g.cfg.Check))
		if err := g.clock.Sleep(ctx, g.backoff(i)); err != nil {
			break
		}
	}
	return Result{}, lastErr
}

func (g *Gateway) runOnce(ctx context.Context, in Input) (Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.perform(attemptCtx, in)
}

// backoff returns base * 2^(attempt-1), capped at the configured maximum.
func (g *Gateway) backoff(attempt int) time.Duration {
	delay := g.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= g.cfg.RetryMaxDelay {
			return g.cfg.RetryMaxDelay
		}
	}
	if delay > g.cfg.RetryMaxDelay {
		delay = g.cfg.RetryMaxDelay
	}
	return delay
}

func (g *Gateway) staleFallback(entry CacheEntry, errText string, retryAfter time.Duration) Result {
	metrics.ObserveCacheEvent(string(g.cfg.Check), "stale_fallback")
	result := entry.Result
	result.Source = SourceFallback
	result.Warning = "data may be outdated"
	result.Error = errText
	result.Retryable = true
	result.RetryAfter = seconds(retryAfter)
	return result
}

func (g *Gateway) writeCache(ctx context.Context, key string, result Result) {
	entry := CacheEntry{
		Result:   result,
		CachedAt: g.clock.Now(),
		TTL:      g.cfg.CacheTTL,
	}
	if err := g.cache.Set(ctx, key, entry); err != nil {
		g.logger.Warn("cache write failed", zap.String("check", string(g.cfg.Check)), zap.Error(err))
	}
}

// Invalidate drops the cached result for the given input.
func (g *Gateway) Invalidate(ctx context.Context, in Input) error {
	return g.cache.Delete(ctx, g.cacheKey(in))
}

// cacheKey derives a deterministic key from the populated identity fields.
func (g *Gateway) cacheKey(in Input) string {
	parts := make([]string, 0, 9)
	for _, f := range in.fields() {
		parts = append(parts, strings.ToLower(strings.TrimSpace(f)))
	}
	joined := strings.Join(parts, "|")
	digest, err := g.hasher.Hash([]byte(joined))
	if err != nil {
		digest = joined
	}
	return "check:" + string(g.cfg.Check) + ":" + digest
}

func (g *Gateway) observePhase() {
	metrics.SetBreakerPhase(string(g.cfg.Check), string(g.breaker.Phase()))
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
