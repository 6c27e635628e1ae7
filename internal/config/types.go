package config

import (
	"errors"
	"time"
)

// ErrConfig marks a missing or malformed setting. The process cannot start with it.
var ErrConfig = errors.New("invalid configuration")

// Environment variables. Env wins over the file for the values it covers.
const (
	EnvBotToken      = "BOT_TOKEN"
	EnvAdminUserID   = "ADMIN_USER_ID"
	EnvTargetChannel = "TARGET_CHANNEL_ID"
	EnvDataDir       = "RENDER_DISK_PATH"
	EnvLogLevel      = "LOG_LEVEL"
)

const (
	DefaultHourStart    = 9
	DefaultHourEnd      = 23
	DefaultPostingDays  = 14
	DefaultTickInterval = 60 * time.Second
	DefaultInitialDelay = 10 * time.Second
	DefaultPollTimeout  = 10 * time.Second
	DefaultRatePerMin   = 20

	JobsFileName = "scheduled_jobs"
)

// Config is the full process configuration.
//
// Only the logging section is applied live on file change; every other
// section is read once at startup.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Publish   PublishConfig   `json:"publish"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token         string `json:"token,omitempty"`
	AdminUserID   int64  `json:"admin_user_id,omitempty"`
	TargetChannel string `json:"target_channel,omitempty"` // numeric chat id or @username
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// SchedulerConfig holds the repost window and tick cadence.
// Hours are pointers so an explicit 0 (midnight) is distinguishable from unset.
type SchedulerConfig struct {
	HourStart    *int   `json:"hour_start,omitempty"`
	HourEnd      *int   `json:"hour_end,omitempty"`
	PostingDays  int    `json:"posting_days,omitempty"`
	TickInterval string `json:"tick_interval,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "data_dir": "/var/data" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default) | sqlite
	DataDir     string `json:"data_dir,omitempty"`
	Path        string `json:"path,omitempty"`         // default <data_dir>/scheduled_jobs.{json,db}
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type PublishConfig struct {
	RatePerMin int `json:"rate_per_min,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines to the administrator's private chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Default returns a config with every tunable at its default and no secrets.
func Default() *Config {
	start, end := DefaultHourStart, DefaultHourEnd
	return &Config{
		Telegram: TelegramConfig{PollTimeout: DefaultPollTimeout.String()},
		Scheduler: SchedulerConfig{
			HourStart:    &start,
			HourEnd:      &end,
			PostingDays:  DefaultPostingDays,
			TickInterval: DefaultTickInterval.String(),
			InitialDelay: DefaultInitialDelay.String(),
		},
		Storage: StorageConfig{Driver: "file", DataDir: "."},
		Publish: PublishConfig{RatePerMin: DefaultRatePerMin},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "error", RatePerSec: 1},
		},
	}
}
