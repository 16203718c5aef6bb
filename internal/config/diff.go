package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ixbrbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe log attrs.
// Secrets (bot token, http token) are never included; only their presence.
// restart lists changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token {
		restart = append(restart, "telegram.token")
	}
	if !reflect.DeepEqual(o.AdminUserIDs, n.AdminUserIDs) || strings.TrimSpace(o.GroupLog) != strings.TrimSpace(n.GroupLog) ||
		o.PollTimeout != n.PollTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.admin_count", len(n.AdminUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.GroupLog) != ""),
		)
		if o.PollTimeout != n.PollTimeout {
			restart = append(restart, "telegram.poll_timeout")
		}
	}

	if oldCfg.Feed != newCfg.Feed {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.check_interval", newCfg.Feed.CheckInterval),
			logx.Int("feed.max_age_days", newCfg.Feed.MaxAgeDays),
		)
		if oldCfg.Feed.URL != newCfg.Feed.URL || oldCfg.Feed.HTTPTimeout != newCfg.Feed.HTTPTimeout ||
			oldCfg.Feed.RetryAttempts != newCfg.Feed.RetryAttempts || oldCfg.Feed.RetryBase != newCfg.Feed.RetryBase {
			restart = append(restart, "feed.fetch")
		}
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs, logx.String("delivery.pacing", newCfg.Delivery.Pacing))
	}
	if oldCfg.QuietHours != newCfg.QuietHours {
		changed = append(changed, "quiet_hours")
		attrs = append(attrs,
			logx.String("quiet_hours.start", newCfg.QuietHours.Start),
			logx.String("quiet_hours.end", newCfg.QuietHours.End),
			logx.String("quiet_hours.timezone", newCfg.QuietHours.Timezone),
		)
	}
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.Int("commands.rate_per_minute", newCfg.Commands.RatePerMinute))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
	}
	if oldCfg.Backup != newCfg.Backup {
		changed = append(changed, "backup")
		attrs = append(attrs,
			logx.Bool("backup.enabled", newCfg.Backup.Enabled),
			logx.String("backup.schedule", newCfg.Backup.Schedule),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
		restart = append(restart, "http")
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		restart = append(restart, "health")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
