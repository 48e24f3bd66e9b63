package data

import "time"

// TimeProvider supplies the clock used for row timestamps so tests can pin it.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always returns the same instant.
type FixedTimeProvider struct {
	fixed time.Time
}

// NewFixedTimeProvider pins the clock to t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{fixed: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.fixed
}

// AddTime adds a duration to the current fixed time.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.fixed = f.fixed.Add(d)
}
