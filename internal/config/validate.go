package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ixbrbot/internal/backup"
	"ixbrbot/internal/quiet"
	logx "ixbrbot/pkg/logx"
)

var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

const MinCheckInterval = 60 * time.Second

// Validate performs static checks on a defaulted config and returns every
// problem found, joined.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	tok := strings.TrimSpace(c.Telegram.Token)
	switch {
	case tok == "":
		add("telegram.token: required (or TELEGRAM_BOT_TOKEN)")
	case !tokenPattern.MatchString(tok):
		add("telegram.token: invalid format")
	}
	if _, _, err := ParseGroupLog(c.Telegram.GroupLog); err != nil {
		add("telegram.group_log: %v", err)
	}

	if u, err := url.Parse(strings.TrimSpace(c.Feed.URL)); err != nil || u.Scheme == "" || u.Host == "" {
		add("feed.url: invalid %q", c.Feed.URL)
	}
	if d, err := ParseDuration("feed.check_interval", c.Feed.CheckInterval); err != nil {
		errs = append(errs, err)
	} else if d < MinCheckInterval {
		add("feed.check_interval: must be >= %s", MinCheckInterval)
	}
	if c.Feed.MaxAgeDays < 1 || c.Feed.MaxAgeDays > 30 {
		add("feed.max_age_days: must be in 1..30")
	}
	if c.Feed.RetryAttempts < 1 {
		add("feed.retry_attempts: must be >= 1")
	}
	for path, raw := range map[string]string{
		"feed.first_check_delay": c.Feed.FirstCheckDelay,
		"feed.http_timeout":      c.Feed.HTTPTimeout,
		"feed.retry_base":        c.Feed.RetryBase,
		"delivery.pacing":        c.Delivery.Pacing,
		"commands.timeout":       c.Commands.Timeout,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
		"http.read_timeout":      c.HTTP.ReadTimeout,
		"http.write_timeout":     c.HTTP.WriteTimeout,
		"health.interval":        c.Health.Interval,
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
	} {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Delivery.RetentionDays < 0 {
		add("delivery.retention_days: must be >= 0")
	}

	q := c.QuietHours
	if (q.Start == "") != (q.End == "") {
		add("quiet_hours: start and end must be set together")
	}
	for path, raw := range map[string]string{"quiet_hours.start": q.Start, "quiet_hours.end": q.End} {
		if raw == "" {
			continue
		}
		if _, err := quiet.ParseClock(raw); err != nil {
			add("%s: %v", path, err)
		}
	}
	if q.Timezone != "" && !quiet.KnownZone(q.Timezone) {
		add("quiet_hours.timezone: unknown zone %q (want one of %s)", q.Timezone, strings.Join(quiet.Zones(), ", "))
	}

	if c.Commands.RatePerMinute < 1 {
		add("commands.rate_per_minute: must be >= 1")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path: required")
	}
	if c.Backup.Enabled && c.Backup.ChatID == 0 {
		add("backup.chat_id: required when backup is enabled")
	}
	if c.Backup.MaxSize < 1 {
		add("backup.max_size: must be > 0")
	}
	if err := backup.ValidateSchedule(c.Backup.Schedule); err != nil {
		add("backup.schedule: %v", err)
	}
	if _, err := time.LoadLocation(c.Backup.Timezone); err != nil {
		add("backup.timezone: %v", err)
	}
	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http.addr: required when http is enabled")
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	return errors.Join(errs...)
}

// ParseGroupLog parses "chat_id" or "chat_id:thread_id". Empty is (0, 0).
func ParseGroupLog(s string) (int64, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q", chat)
	}
	if !hasThread {
		return chatID, 0, nil
	}
	threadID, err := strconv.Atoi(strings.TrimSpace(thread))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid thread id %q", thread)
	}
	return chatID, threadID, nil
}
