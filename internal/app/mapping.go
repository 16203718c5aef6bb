package app

import (
	"time"

	"ixbrbot/internal/backup"
	"ixbrbot/internal/bot"
	"ixbrbot/internal/config"
	"ixbrbot/internal/feed"
	"ixbrbot/internal/httpapi"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	logx "ixbrbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log; a thread in group_log wins over
// logging.telegram.thread_id.
func logTarget(cfg *config.Config) (int64, int) {
	chatID, thread, err := config.ParseGroupLog(cfg.Telegram.GroupLog)
	if err != nil {
		return 0, 0
	}
	if thread == 0 {
		thread = cfg.Logging.Telegram.ThreadID
	}
	return chatID, thread
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, nil
}

func mapFeedOptions(cfg *config.Config, log logx.Logger) (feed.Options, error) {
	timeout, err := config.ParseDurationOrDefault("feed.http_timeout", cfg.Feed.HTTPTimeout, feed.DefaultTimeout)
	if err != nil {
		return feed.Options{}, err
	}
	base, err := config.ParseDurationOrDefault("feed.retry_base", cfg.Feed.RetryBase, 4*time.Second)
	if err != nil {
		return feed.Options{}, err
	}
	return feed.Options{
		URL:      cfg.Feed.URL,
		Timeout:  timeout,
		Attempts: cfg.Feed.RetryAttempts,
		Base:     base,
		Logger:   log,
	}, nil
}

// monitorSettings are the hot-reloadable pipeline knobs.
type monitorSettings struct {
	Interval   time.Duration
	FirstDelay time.Duration
	MaxAgeDays int
	Retention  int
	Pacing     time.Duration
	Fallback   quiet.Window
}

func mapMonitorSettings(cfg *config.Config) (monitorSettings, error) {
	interval, err := config.ParseDurationOrDefault("feed.check_interval", cfg.Feed.CheckInterval, 5*time.Minute)
	if err != nil {
		return monitorSettings{}, err
	}
	first, err := config.ParseDurationOrDefault("feed.first_check_delay", cfg.Feed.FirstCheckDelay, 10*time.Second)
	if err != nil {
		return monitorSettings{}, err
	}
	pacing, err := config.ParseDurationOrDefault("delivery.pacing", cfg.Delivery.Pacing, 100*time.Millisecond)
	if err != nil {
		return monitorSettings{}, err
	}
	return monitorSettings{
		Interval:   interval,
		FirstDelay: first,
		MaxAgeDays: cfg.Feed.MaxAgeDays,
		Retention:  cfg.RetentionDays(),
		Pacing:     pacing,
		Fallback: quiet.Window{
			Start: cfg.QuietHours.Start,
			End:   cfg.QuietHours.End,
			Zone:  quiet.NormalizeZone(cfg.QuietHours.Timezone),
		},
	}, nil
}

func mapBackupSchedule(cfg *config.Config) backup.ScheduleConfig {
	return backup.ScheduleConfig{
		Enabled:  cfg.Backup.Enabled,
		ChatID:   cfg.Backup.ChatID,
		Spec:     cfg.Backup.Schedule,
		Timezone: cfg.Backup.Timezone,
	}
}

func mapBotSettings(cfg *config.Config) bot.Settings {
	return bot.Settings{
		RatePerMinute: cfg.Commands.RatePerMinute,
		MaxBackupSize: cfg.Backup.MaxSize,
	}
}

func mapHTTPOptions(cfg *config.Config) (httpapi.Options, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Options{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Options{}, err
	}
	return httpapi.Options{
		Addr:         cfg.HTTP.Addr,
		Token:        cfg.HTTP.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
		Pprof:        cfg.HTTP.Pprof,
	}, nil
}
