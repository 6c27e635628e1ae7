package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reposter/internal/publish"
)

// Load builds the process config: defaults, then the optional file at path
// (YAML or JSON, unknown keys rejected), then environment overrides.
// getenv is usually os.Getenv. Every failure wraps ErrConfig.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if err := decodeInto(cfg, path, b); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConfig, path, err)
		}
	}
	if getenv != nil {
		if err := applyEnv(cfg, getenv); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, path string, data []byte) error {
	if isYAML(path) {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("trailing data")
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := env(EnvBotToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := env(EnvAdminUserID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer user id, got %q", ErrConfig, EnvAdminUserID, v)
		}
		cfg.Telegram.AdminUserID = id
	}
	if v := env(EnvTargetChannel); v != "" {
		cfg.Telegram.TargetChannel = v
	}
	if v := env(EnvDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := env(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks required values and every tunable.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("%s is required", EnvBotToken)
	}
	if c.Telegram.AdminUserID == 0 {
		add("%s is required", EnvAdminUserID)
	}
	if strings.TrimSpace(c.Telegram.TargetChannel) == "" {
		add("%s is required", EnvTargetChannel)
	} else if _, err := publish.ParseDestination(c.Telegram.TargetChannel); err != nil {
		add("%s: %v", EnvTargetChannel, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		add("%v", err)
	}

	s := c.Scheduler
	start, end := s.Hours()
	if start < 0 || start > 23 || end < 0 || end > 23 {
		add("scheduler: hours must be within 0..23 (got %d..%d)", start, end)
	} else if start > end {
		add("scheduler: hour_start %d is after hour_end %d", start, end)
	}
	if s.PostingDays < 2 {
		add("scheduler.posting_days must be >= 2 (got %d)", s.PostingDays)
	}
	for _, f := range []struct{ name, raw string }{
		{"scheduler.tick_interval", s.TickInterval},
		{"scheduler.initial_delay", s.InitialDelay},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.name, f.raw); err != nil {
			add("%v", err)
		}
	}
	if d := mustDuration(s.TickInterval, DefaultTickInterval); d < time.Second {
		add("scheduler.tick_interval must be at least 1s (got %s)", d)
	}
	if _, err := s.Location(); err != nil {
		add("scheduler.timezone: %v", err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Publish.RatePerMin < 0 {
		add("publish.rate_per_min must be >= 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (s SchedulerConfig) Hours() (start, end int) {
	start, end = DefaultHourStart, DefaultHourEnd
	if s.HourStart != nil {
		start = *s.HourStart
	}
	if s.HourEnd != nil {
		end = *s.HourEnd
	}
	return start, end
}

func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (s SchedulerConfig) TickEvery() time.Duration {
	return mustDuration(s.TickInterval, DefaultTickInterval)
}

// FirstTickAfter is the delay before the first tick. An explicit "0s" means one full interval.
func (s SchedulerConfig) FirstTickAfter() time.Duration {
	d, err := ParseDurationField("", s.InitialDelay)
	if err != nil {
		return DefaultInitialDelay
	}
	return d
}

func (t TelegramConfig) PollEvery() time.Duration {
	return mustDuration(t.PollTimeout, DefaultPollTimeout)
}

// DriverName normalizes the storage driver.
func (s StorageConfig) DriverName() string {
	switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return "file"
	}
}

// JobsPath is the store location: Path if set, else the jobs file in DataDir.
func (s StorageConfig) JobsPath() string {
	if p := strings.TrimSpace(s.Path); p != "" {
		return p
	}
	dir := strings.TrimSpace(s.DataDir)
	if dir == "" {
		dir = "."
	}
	ext := ".json"
	if s.DriverName() == "sqlite" {
		ext = ".db"
	}
	return filepath.Join(dir, JobsFileName+ext)
}

func (s StorageConfig) Busy() time.Duration {
	return mustDuration(s.BusyTimeout, 0)
}
