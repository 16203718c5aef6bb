package config

import "strings"

const (
	DefaultFeedURL       = "https://status.ix.br/rss"
	DefaultStatusPageURL = "https://status.ix.br"
	DefaultDatabasePath  = "./data/ixbr_bot.db"
	DefaultHealthFile    = "./data/health"
	DefaultBackupMaxSize = 1 << 20
)

// ApplyDefaults fills every omitted field. It never overrides explicit values.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	setStr(&c.Telegram.PollTimeout, "10s")

	setStr(&c.Feed.URL, DefaultFeedURL)
	setStr(&c.Feed.CheckInterval, "5m")
	setStr(&c.Feed.FirstCheckDelay, "10s")
	setStr(&c.Feed.HTTPTimeout, "30s")
	setStr(&c.Feed.RetryBase, "4s")
	if c.Feed.MaxAgeDays == 0 {
		c.Feed.MaxAgeDays = 7
	}
	if c.Feed.RetryAttempts == 0 {
		c.Feed.RetryAttempts = 3
	}

	setStr(&c.Delivery.Pacing, "100ms")
	setStr(&c.Delivery.StatusPageURL, DefaultStatusPageURL)

	setStr(&c.QuietHours.Timezone, "UTC")

	if c.Commands.RatePerMinute == 0 {
		c.Commands.RatePerMinute = 10
	}
	setStr(&c.Commands.Timeout, "30s")

	setStr(&c.Storage.Path, DefaultDatabasePath)
	setStr(&c.Storage.BusyTimeout, "5s")

	setStr(&c.Backup.Schedule, "0 3 * * *")
	setStr(&c.Backup.Timezone, "UTC")
	if c.Backup.MaxSize == 0 {
		c.Backup.MaxSize = DefaultBackupMaxSize
	}

	setStr(&c.HTTP.Addr, "127.0.0.1:8080")
	setStr(&c.HTTP.ReadTimeout, "10s")
	setStr(&c.HTTP.WriteTimeout, "10s")

	setStr(&c.Health.File, DefaultHealthFile)
	setStr(&c.Health.Interval, "30s")

	setStr(&c.Logging.Level, "info")
}

// RetentionDays resolves the ledger retention horizon.
func (c *Config) RetentionDays() int {
	if c.Delivery.RetentionDays > 0 {
		return c.Delivery.RetentionDays
	}
	return 2 * c.Feed.MaxAgeDays
}

func setStr(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}
