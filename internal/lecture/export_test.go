package lecture

import "time"

func NewRateLimiterWithClock(maxSubmissionsPerMinute int, now func() time.Time) *RateLimiter {
	return newRateLimiter(maxSubmissionsPerMinute, now)
}

func (s *Service) SetIDGenerator(newID func() string) {
	s.newID = newID
}
