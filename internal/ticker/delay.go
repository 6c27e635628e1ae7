package ticker

import (
	"time"

	"github.com/robfig/cron/v3"
)

// delayedSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule.
type delayedSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func makeSchedule(every, delay time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	if delay <= 0 {
		return base
	}
	return &delayedSchedule{base: base, first: now.Add(delay)}
}
