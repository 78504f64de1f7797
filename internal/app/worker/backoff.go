package worker

import "time"

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Steps walks a fixed delay schedule and holds at the last step once the
// schedule runs out.
type Steps struct {
	Schedule []time.Duration
}

func NewSteps(schedule ...time.Duration) *Steps {
	return &Steps{Schedule: schedule}
}

func (s *Steps) Delay(attempt int) time.Duration {
	if len(s.Schedule) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.Schedule) {
		attempt = len(s.Schedule)
	}
	return s.Schedule[attempt-1]
}

// DefaultStrategy is the retry schedule for fulfillment jobs: one minute,
// five minutes, fifteen minutes.
func DefaultStrategy() Strategy {
	return NewSteps(1*time.Minute, 5*time.Minute, 15*time.Minute)
}
