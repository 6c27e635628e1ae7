package config

import (
	"reflect"
	"sort"
	"strings"

	logx "reposter/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.AdminUserID != nt.AdminUserID ||
		strings.TrimSpace(ot.TargetChannel) != strings.TrimSpace(nt.TargetChannel) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.target_channel", strings.TrimSpace(nt.TargetChannel)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oSched, nSched := oldCfg.Scheduler, newCfg.Scheduler
	oStart, oEnd := oSched.Hours()
	nStart, nEnd := nSched.Hours()
	if oStart != nStart || oEnd != nEnd || oSched.PostingDays != nSched.PostingDays ||
		strings.TrimSpace(oSched.TickInterval) != strings.TrimSpace(nSched.TickInterval) ||
		strings.TrimSpace(oSched.InitialDelay) != strings.TrimSpace(nSched.InitialDelay) ||
		strings.TrimSpace(oSched.Timezone) != strings.TrimSpace(nSched.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.hour_start", nStart),
			logx.Int("scheduler.hour_end", nEnd),
			logx.Int("scheduler.posting_days", nSched.PostingDays),
			logx.String("scheduler.tick_interval", strings.TrimSpace(nSched.TickInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(nSched.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.DriverName()),
			logx.String("storage.path", newCfg.Storage.JobsPath()),
		)
	}

	if oldCfg.Publish != newCfg.Publish {
		changed = append(changed, "publish")
		attrs = append(attrs, logx.Int("publish.rate_per_min", newCfg.Publish.RatePerMin))
	}

	sort.Strings(changed)
	return changed, attrs
}
