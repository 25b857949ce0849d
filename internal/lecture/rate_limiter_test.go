package lecture_test

import (
	"sync"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/lecture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func TestRateLimiter_WithinLimit(t *testing.T) {
	t.Parallel()

	limiter := lecture.NewRateLimiter(10)

	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
}

func TestRateLimiter_ExceedsLimit(t *testing.T) {
	t.Parallel()

	limiter := lecture.NewRateLimiter(2)

	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
	require.ErrorIs(t, limiter.CheckSubmissionRate("client-1"), lecture.ErrRateLimitExceeded)

	// Keys are limited independently.
	require.NoError(t, limiter.CheckSubmissionRate("client-2"))
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := lecture.NewRateLimiterWithClock(1, clock.Now)

	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
	require.ErrorIs(t, limiter.CheckSubmissionRate("client-1"), lecture.ErrRateLimitExceeded)

	clock.Advance(61 * time.Second)

	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
}

func TestRateLimiter_Prune(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	limiter := lecture.NewRateLimiterWithClock(5, clock.Now)

	require.NoError(t, limiter.CheckSubmissionRate("client-1"))
	clock.Advance(30 * time.Second)
	require.NoError(t, limiter.CheckSubmissionRate("client-2"))

	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, limiter.Prune())
	assert.Equal(t, 0, limiter.Prune())
}

func TestRateLimiter_Disabled(t *testing.T) {
	t.Parallel()

	limiter := lecture.NewRateLimiter(0)

	for range 100 {
		require.NoError(t, limiter.CheckSubmissionRate("client-1"))
	}

	var nilLimiter *lecture.RateLimiter
	require.NoError(t, nilLimiter.CheckSubmissionRate("client-1"))
	assert.Zero(t, nilLimiter.Prune())
}
