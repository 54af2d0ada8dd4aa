package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pawgrid/feed-service/internal/metrics"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/rs/zerolog"
)

// Fallback turns the triggering error into a degraded result. It is invoked
// when retries are exhausted or the circuit is open, never for rate-limit
// rejections.
type Fallback func(err error) error

// GatewayConfig bundles the policies applied to every outbound call.
type GatewayConfig struct {
	Breaker     BreakerConfig
	Retry       RetryConfig
	CallTimeout time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Breaker:     DefaultBreakerConfig(),
		Retry:       DefaultRetryConfig(),
		CallTimeout: 5 * time.Second,
	}
}

// Gateway wraps outbound collaborator calls with rate limiting, circuit
// breaking, retry with exponential backoff and a hard per-call timeout, and
// turns terminal failures into fallback results.
type Gateway struct {
	cfg     GatewayConfig
	limiter *Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	retries  map[string]*RetryStats
}

// RetryStats mirrors what operators expect to see per collaborator.
type RetryStats struct {
	SuccessWithoutRetry int64 `json:"numberOfSuccessfulCallsWithoutRetryAttempt"`
	SuccessWithRetry    int64 `json:"numberOfSuccessfulCallsWithRetryAttempt"`
	FailedWithRetry     int64 `json:"numberOfFailedCallsWithRetryAttempt"`
}

func NewGateway(cfg GatewayConfig, limiter *Limiter) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if limiter == nil {
		limiter = NewLimiter()
	}
	return &Gateway{
		cfg:      cfg,
		limiter:  limiter,
		log:      logger.Logger.With().Str("component", "resilience_gateway").Logger(),
		breakers: make(map[string]*CircuitBreaker),
		retries:  make(map[string]*RetryStats),
	}
}

// Limiter exposes the shared limiter so the admission layer reuses the same
// named buckets the admin endpoints report on.
func (g *Gateway) Limiter() *Limiter {
	return g.limiter
}

// Call runs fn under the full policy stack for the named collaborator.
func (g *Gateway) Call(ctx context.Context, name string, fn func(context.Context) error, fallback Fallback) error {
	if err := g.limiter.Wait(ctx, ClassService, name); err != nil {
		metrics.RecordGatewayCall(name, "rate_limited")
		return err
	}

	br := g.breaker(name)
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < g.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, CalculateDelay(attempt-1, g.cfg.Retry)); err != nil {
				lastErr = err
				break
			}
		}

		if err := br.Allow(); err != nil {
			lastErr = err
			break // an open circuit will not recover within the backoff budget
		}

		attempts++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		start := time.Now()
		err := fn(callCtx)
		elapsed := time.Since(start)
		cancel()

		br.Record(elapsed, err)

		if err == nil {
			g.recordRetryOutcome(name, attempts, true)
			metrics.RecordGatewayCall(name, "ok")
			return nil
		}
		lastErr = err
		g.log.Warn().Str("name", name).Int("attempt", attempts).Err(err).Msg("collaborator call failed")
	}

	g.recordRetryOutcome(name, attempts, false)

	if errors.Is(lastErr, ErrCircuitOpen) {
		metrics.RecordGatewayCall(name, "short_circuited")
	} else {
		metrics.RecordGatewayCall(name, "exhausted")
	}

	if fallback != nil {
		return fallback(lastErr)
	}
	return fmt.Errorf("call %s failed: %w", name, lastErr)
}

// Breakers returns a snapshot of every known circuit breaker.
func (g *Gateway) Breakers() map[string]BreakerSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(g.breakers))
	for name, br := range g.breakers {
		out[name] = br.Snapshot()
	}
	return out
}

// RetryStatsSnapshot returns per-collaborator retry counters.
func (g *Gateway) RetryStatsSnapshot() map[string]RetryStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]RetryStats, len(g.retries))
	for name, s := range g.retries {
		out[name] = *s
	}
	return out
}

// ForceOpen trips the named breaker (operator action).
func (g *Gateway) ForceOpen(name string) {
	g.breaker(name).ForceOpen()
}

// ForceClose resets the named breaker (operator action).
func (g *Gateway) ForceClose(name string) {
	g.breaker(name).ForceClose()
}

func (g *Gateway) breaker(name string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	br, ok := g.breakers[name]
	if !ok {
		br = NewCircuitBreaker(name, g.cfg.Breaker, func(n string, to State) {
			metrics.RecordBreakerTransition(n, to.String())
			g.log.Info().Str("name", n).Str("state", to.String()).Msg("circuit breaker transition")
		})
		g.breakers[name] = br
	}
	return br
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (g *Gateway) recordRetryOutcome(name string, attempts int, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.retries[name]
	if !ok {
		s = &RetryStats{}
		g.retries[name] = s
	}
	switch {
	case success && attempts <= 1:
		s.SuccessWithoutRetry++
	case success:
		s.SuccessWithRetry++
	default:
		s.FailedWithRetry++
	}
}
