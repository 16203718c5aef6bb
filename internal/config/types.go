package config

// Config is the whole file. Durations are Go duration strings ("5m", "30s").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Feed       FeedConfig       `json:"feed"`
	Delivery   DeliveryConfig   `json:"delivery"`
	QuietHours QuietHoursConfig `json:"quiet_hours"`
	Commands   CommandsConfig   `json:"commands"`
	Storage    StorageConfig    `json:"storage"`
	Backup     BackupConfig     `json:"backup"`
	HTTP       HTTPConfig       `json:"http"`
	Health     HealthConfig     `json:"health"`
	Logging    LoggingConfig    `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may run /backup, /restore and /stats.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is "chat_id" or "chat_id:thread_id" for the Telegram log sink.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type FeedConfig struct {
	URL             string `json:"url"`
	CheckInterval   string `json:"check_interval"`
	FirstCheckDelay string `json:"first_check_delay"`
	HTTPTimeout     string `json:"http_timeout"`
	// MaxAgeDays drops entries published earlier than now minus this many days.
	MaxAgeDays    int    `json:"max_age_days"`
	RetryAttempts int    `json:"retry_attempts"`
	RetryBase     string `json:"retry_base"`
}

type DeliveryConfig struct {
	// Pacing is the pause after every successful send or edit.
	Pacing string `json:"pacing"`
	// RetentionDays bounds ledger growth. 0 means twice feed.max_age_days.
	RetentionDays int    `json:"retention_days"`
	StatusPageURL string `json:"status_page_url"`
}

// QuietHoursConfig is the fallback window for chats that never set their own.
type QuietHoursConfig struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type CommandsConfig struct {
	RatePerMinute int    `json:"rate_per_minute"`
	Timeout       string `json:"timeout"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type BackupConfig struct {
	Enabled  bool   `json:"enabled"`
	ChatID   int64  `json:"chat_id"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
	MaxSize  int64  `json:"max_size"`
}

// HTTPConfig controls the local status/metrics server.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"` // optional bearer token (do not log)
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts /debug behind the bearer token.
	Pprof bool `json:"pprof,omitempty"`
}

type HealthConfig struct {
	File     string `json:"file"`
	Interval string `json:"interval"`
	Systemd  bool   `json:"systemd"`
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

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
