package reposter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHourStart   = 9
	DefaultHourEnd     = 23
	DefaultPostingDays = 14
)

// Config is fixed for the engine's lifetime.
//
// PostingDays counts the day of the initial post, so a job gets
// PostingDays-1 reposts, one per following day.
type Config struct {
	HourStart   int // inclusive, 0..23
	HourEnd     int // inclusive, 0..23
	PostingDays int
	Destination string
	Location    *time.Location // nil means time.Local
}

// DefaultConfig returns the stock repost window for destination.
func DefaultConfig(destination string) Config {
	return Config{
		HourStart:   DefaultHourStart,
		HourEnd:     DefaultHourEnd,
		PostingDays: DefaultPostingDays,
		Destination: destination,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Destination) == "" {
		return errors.New("destination is required")
	}
	if c.HourStart < 0 || c.HourStart > 23 || c.HourEnd < 0 || c.HourEnd > 23 {
		return fmt.Errorf("repost hours must be within 0..23 (got %d..%d)", c.HourStart, c.HourEnd)
	}
	if c.HourStart > c.HourEnd {
		return fmt.Errorf("repost hour start %d is after end %d", c.HourStart, c.HourEnd)
	}
	if c.PostingDays < 2 {
		return fmt.Errorf("posting days must be >= 2 (got %d)", c.PostingDays)
	}
	return nil
}

// Reposts is the number of schedule entries a new job receives.
func (c Config) Reposts() int { return c.PostingDays - 1 }

func (c Config) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}
