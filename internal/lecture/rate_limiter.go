package lecture

import (
	"sync"
	"time"
)

const submissionWindowLength = time.Minute

// RateLimiter caps job submissions per client key over a fixed one-minute window.
type RateLimiter struct {
	mu sync.Mutex

	maxSubmissionsPerMinute int
	submissionWindows       map[string]*submissionWindow
	now                     func() time.Time
}

type submissionWindow struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter allows maxSubmissionsPerMinute submissions per key. Zero or less disables it.
func NewRateLimiter(maxSubmissionsPerMinute int) *RateLimiter {
	return newRateLimiter(maxSubmissionsPerMinute, time.Now)
}

func newRateLimiter(maxSubmissionsPerMinute int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		maxSubmissionsPerMinute: maxSubmissionsPerMinute,
		submissionWindows:       make(map[string]*submissionWindow),
		now:                     now,
	}
}

// CheckSubmissionRate counts a submission for key and returns ErrRateLimitExceeded
// once the current window is used up.
func (rl *RateLimiter) CheckSubmissionRate(key string) error {
	if rl == nil || rl.maxSubmissionsPerMinute <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	window, exists := rl.submissionWindows[key]
	if !exists || now.After(window.windowEnd) {
		rl.submissionWindows[key] = &submissionWindow{count: 1, windowEnd: now.Add(submissionWindowLength)}

		return nil
	}

	if window.count >= rl.maxSubmissionsPerMinute {
		return ErrRateLimitExceeded
	}

	window.count++

	return nil
}

// Prune drops expired windows and returns how many were removed.
func (rl *RateLimiter) Prune() int {
	if rl == nil {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0

	for key, window := range rl.submissionWindows {
		if now.After(window.windowEnd) {
			delete(rl.submissionWindows, key)

			removed++
		}
	}

	return removed
}
