package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_UserClassFailsFast(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassUser, LimiterClass{Limit: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Allow(ClassUser, "42"))
	}
	assert.ErrorIs(t, l.Allow(ClassUser, "42"), ErrRateLimited)

	// another user has its own bucket
	assert.NoError(t, l.Allow(ClassUser, "43"))
}

func TestLimiter_WindowResets(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassUser, LimiterClass{Limit: 1, Window: 20 * time.Millisecond})

	assert.NoError(t, l.Allow(ClassUser, "u"))
	assert.ErrorIs(t, l.Allow(ClassUser, "u"), ErrRateLimited)

	time.Sleep(25 * time.Millisecond)
	assert.NoError(t, l.Allow(ClassUser, "u"))
}

func TestLimiter_ServiceClassWaits(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassService, LimiterClass{Limit: 1, Window: 30 * time.Millisecond, MaxWait: 50 * time.Millisecond})

	ctx := context.Background()
	assert.NoError(t, l.Wait(ctx, ClassService, "svc"))

	// second permit becomes available after the short wait
	start := time.Now()
	assert.NoError(t, l.Wait(ctx, ClassService, "svc"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_WaitRejectsBeyondMaxWait(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassService, LimiterClass{Limit: 1, Window: time.Minute, MaxWait: 10 * time.Millisecond})

	ctx := context.Background()
	assert.NoError(t, l.Wait(ctx, ClassService, "svc"))
	assert.ErrorIs(t, l.Wait(ctx, ClassService, "svc"), ErrRateLimited)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassService, LimiterClass{Limit: 1, Window: 50 * time.Millisecond, MaxWait: 100 * time.Millisecond})

	assert.NoError(t, l.Allow(ClassService, "svc"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx, ClassService, "svc"), context.Canceled)
}

func TestLimiter_Snapshots(t *testing.T) {
	l := NewLimiter()
	l.Configure(ClassUser, LimiterClass{Limit: 5, Window: time.Minute})

	_ = l.Allow(ClassUser, "7")
	_ = l.Allow(ClassUser, "7")

	snaps := l.Snapshots()
	s, ok := snaps["user:7"]
	assert.True(t, ok)
	assert.Equal(t, 5, s.Limit)
	assert.Equal(t, 3, s.Available)
}
