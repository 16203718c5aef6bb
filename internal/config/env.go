package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces overrides. Bare names (TELEGRAM_BOT_TOKEN) are accepted too.
const EnvPrefix = "IXBR"

// envOverlay mirrors the legacy environment-only deployment. Pointers stay
// nil when a variable is unset, so only present variables override the file.
type envOverlay struct {
	Token         *string `envconfig:"TELEGRAM_BOT_TOKEN"`
	FeedURL       *string `envconfig:"RSS_FEED_URL"`
	CheckInterval *int    `envconfig:"CHECK_INTERVAL"` // seconds
	MaxAgeDays    *int    `envconfig:"MAX_MESSAGE_AGE_DAYS"`
	DatabasePath  *string `envconfig:"DATABASE_PATH"`
	HealthFile    *string `envconfig:"HEALTH_CHECK_FILE"`
	LogLevel      *string `envconfig:"LOG_LEVEL"`
	RateLimit     *int    `envconfig:"RATE_LIMIT_COMMANDS"`
	AdminUserIDs  *string `envconfig:"ADMIN_USER_IDS"`
	BackupEnabled *bool   `envconfig:"BACKUP_ENABLED"`
	BackupChatID  *int64  `envconfig:"BACKUP_CHAT_ID"`
	MaxBackupSize *int64  `envconfig:"MAX_BACKUP_SIZE"`
	QuietStart    *string `envconfig:"QUIET_HOURS_START"`
	QuietEnd      *string `envconfig:"QUIET_HOURS_END"`
}

// ApplyEnv overlays environment variables onto c.
func ApplyEnv(c *Config) error {
	var ov envOverlay
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return fmt.Errorf("env: %w", err)
	}
	return ov.apply(c)
}

func (ov envOverlay) apply(c *Config) error {
	if ov.Token != nil {
		c.Telegram.Token = strings.TrimSpace(*ov.Token)
	}
	if ov.FeedURL != nil {
		c.Feed.URL = strings.TrimSpace(*ov.FeedURL)
	}
	if ov.CheckInterval != nil {
		c.Feed.CheckInterval = strconv.Itoa(*ov.CheckInterval) + "s"
	}
	if ov.MaxAgeDays != nil {
		c.Feed.MaxAgeDays = *ov.MaxAgeDays
	}
	if ov.DatabasePath != nil {
		c.Storage.Path = *ov.DatabasePath
	}
	if ov.HealthFile != nil {
		c.Health.File = *ov.HealthFile
	}
	if ov.LogLevel != nil {
		c.Logging.Level = *ov.LogLevel
	}
	if ov.RateLimit != nil {
		c.Commands.RatePerMinute = *ov.RateLimit
	}
	if ov.AdminUserIDs != nil {
		ids, err := ParseIDList(*ov.AdminUserIDs)
		if err != nil {
			return fmt.Errorf("env ADMIN_USER_IDS: %w", err)
		}
		c.Telegram.AdminUserIDs = ids
	}
	if ov.BackupEnabled != nil {
		c.Backup.Enabled = *ov.BackupEnabled
	}
	if ov.BackupChatID != nil {
		c.Backup.ChatID = *ov.BackupChatID
	}
	if ov.MaxBackupSize != nil {
		c.Backup.MaxSize = *ov.MaxBackupSize
	}
	if ov.QuietStart != nil {
		c.QuietHours.Start = strings.TrimSpace(*ov.QuietStart)
	}
	if ov.QuietEnd != nil {
		c.QuietHours.End = strings.TrimSpace(*ov.QuietEnd)
	}
	return nil
}

// ParseIDList parses "1, 2,3" into ids. Empty items are ignored.
func ParseIDList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
