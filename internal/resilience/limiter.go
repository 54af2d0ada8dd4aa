package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited marks an admission rejection. It is a distinguishable
// outcome, not a collaborator failure: the gateway surfaces it directly
// instead of invoking the fallback.
var ErrRateLimited = errors.New("rate limited")

// LimiterClass configures one class of named buckets.
type LimiterClass struct {
	Limit   int
	Window  time.Duration
	MaxWait time.Duration // 0 = fail fast
}

const (
	// ClassUser throttles a single caller: 100 req/min, fail fast.
	ClassUser = "user"
	// ClassService throttles calls toward one collaborator: 1000 req/s,
	// waiting briefly for the next window before rejecting.
	ClassService = "service"
)

// Limiter keeps fixed-window counters for named buckets, grouped by class.
type Limiter struct {
	mu      sync.Mutex
	classes map[string]LimiterClass
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	class       string
	windowStart time.Time
	count       int
}

// NewLimiter creates a limiter with the default user and service classes.
func NewLimiter() *Limiter {
	return &Limiter{
		classes: map[string]LimiterClass{
			ClassUser:    {Limit: 100, Window: time.Minute, MaxWait: 0},
			ClassService: {Limit: 1000, Window: time.Second, MaxWait: 100 * time.Millisecond},
		},
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Configure replaces the config of one class.
func (l *Limiter) Configure(class string, cfg LimiterClass) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes[class] = cfg
}

// Allow takes one permit from class:key, failing fast when the window is full.
func (l *Limiter) Allow(class, key string) error {
	ok, _ := l.take(class, key)
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// Wait takes one permit from class:key, sleeping until the window resets if
// that happens within the class's MaxWait; otherwise ErrRateLimited.
func (l *Limiter) Wait(ctx context.Context, class, key string) error {
	ok, retryIn := l.take(class, key)
	if ok {
		return nil
	}

	cfg := l.classCfg(class)
	if cfg.MaxWait <= 0 || retryIn > cfg.MaxWait {
		return ErrRateLimited
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryIn):
	}

	if ok, _ = l.take(class, key); ok {
		return nil
	}
	return ErrRateLimited
}

// take attempts one permit; on rejection it reports how long until the
// current window resets.
func (l *Limiter) take(class, key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.classes[class]
	if !ok {
		return true, 0 // unknown class: fail open
	}

	now := l.now()
	id := class + ":" + key
	b := l.buckets[id]
	if b == nil {
		b = &bucket{class: class, windowStart: now}
		l.buckets[id] = b
	}

	if now.Sub(b.windowStart) >= cfg.Window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= cfg.Limit {
		return false, cfg.Window - now.Sub(b.windowStart)
	}
	b.count++
	return true, 0
}

func (l *Limiter) classCfg(class string) LimiterClass {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.classes[class]
}

// BucketSnapshot is a read-only view for the admin endpoints.
type BucketSnapshot struct {
	Class     string `json:"class"`
	Limit     int    `json:"limit"`
	Available int    `json:"availablePermissions"`
}

func (l *Limiter) Snapshots() map[string]BucketSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]BucketSnapshot, len(l.buckets))
	now := l.now()
	for id, b := range l.buckets {
		cfg := l.classes[b.class]
		count := b.count
		if now.Sub(b.windowStart) >= cfg.Window {
			count = 0
		}
		avail := cfg.Limit - count
		if avail < 0 {
			avail = 0
		}
		out[id] = BucketSnapshot{Class: b.class, Limit: cfg.Limit, Available: avail}
	}
	return out
}
