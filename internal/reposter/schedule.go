package reposter

import (
	"math/rand"
	"sort"
	"time"
)

// GenerateSchedule picks one repost time on each of the cfg.Reposts() days
// after now: a uniform hour in [HourStart, HourEnd], a uniform minute, zero
// seconds. The result is sorted ascending and every entry is after now,
// because each lands on a later calendar day.
func GenerateSchedule(now time.Time, cfg Config, rng *rand.Rand) []time.Time {
	loc := cfg.location()
	base := now.In(loc)
	span := cfg.HourEnd - cfg.HourStart + 1

	out := make([]time.Time, 0, cfg.Reposts())
	for i := 1; i < cfg.PostingDays; i++ {
		day := base.AddDate(0, 0, i)
		hour := cfg.HourStart + rng.Intn(span)
		minute := rng.Intn(60)
		out = append(out, time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
