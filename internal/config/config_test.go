package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testToken = "123456:ABC-def_ghi"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseYAMLWithDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: "`+testToken+`"
  admin_user_ids: [10, 20]
feed:
  check_interval: 2m
quiet_hours:
  start: "22:00"
  end: "07:00"
  timezone: BRT
`)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != DefaultFeedURL {
		t.Fatalf("feed url default = %q", cfg.Feed.URL)
	}
	if cfg.Feed.CheckInterval != "2m" || cfg.Feed.MaxAgeDays != 7 {
		t.Fatalf("feed = %+v", cfg.Feed)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if cfg.RetentionDays() != 14 {
		t.Fatalf("RetentionDays() = %d", cfg.RetentionDays())
	}
	if m.Get() != cfg {
		t.Fatalf("Load should commit")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"`+testToken+`"},"plugins":{}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatalf("unknown top-level key should fail")
	}
}

func TestParseYAMLRejectsDuplicateKeys(t *testing.T) {
	p := writeFile(t, "config.yml", "feed:\n  max_age_days: 3\n  max_age_days: 9\n")
	if _, err := NewConfigManager(p).Parse(); err == nil || !strings.Contains(err.Error(), "duplicate key") {
		t.Fatalf("err = %v, want duplicate key", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "concatenated", body: `{"telegram":{}} {"telegram":{}}`, wantErr: true},
		{name: "unknown object", body: `{"telegram":{}} {"nope":1}`, wantErr: true},
		{name: "array", body: `{"telegram":{}} []`, wantErr: true},
		{name: "string", body: `{"telegram":{}} "x"`, wantErr: true},
		{name: "stray brace", body: `{"telegram":{}} }`, wantErr: true},
		{name: "garbage", body: `{"telegram":{}} xyz`, wantErr: true},
		{name: "whitespace only", body: "{\"telegram\":{}}\n\t \n", wantErr: false},
	}
	for _, tc := range cases {
		p := writeFile(t, "config.json", tc.body)
		_, err := NewConfigManager(p).Parse()
		if tc.wantErr && (err == nil || !strings.Contains(err.Error(), "trailing")) {
			t.Fatalf("%s: err = %v, want trailing data", tc.name, err)
		}
		if !tc.wantErr && err != nil && strings.Contains(err.Error(), "trailing") {
			t.Fatalf("%s: err = %v", tc.name, err)
		}
	}
}

func TestMissingFileUsesEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", testToken)
	t.Setenv("IXBR_CHECK_INTERVAL", "120")
	t.Setenv("ADMIN_USER_IDS", "1, 2,3")
	t.Setenv("BACKUP_ENABLED", "true")
	t.Setenv("BACKUP_CHAT_ID", "-100200")

	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != testToken {
		t.Fatalf("token not taken from env")
	}
	if cfg.Feed.CheckInterval != "120s" {
		t.Fatalf("check interval = %q", cfg.Feed.CheckInterval)
	}
	if got := cfg.Telegram.AdminUserIDs; len(got) != 3 || got[2] != 3 {
		t.Fatalf("admins = %v", got)
	}
	if !cfg.Backup.Enabled || cfg.Backup.ChatID != -100200 {
		t.Fatalf("backup = %+v", cfg.Backup)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("RSS_FEED_URL", "https://example.org/feed")
	p := writeFile(t, "config.yaml", "telegram:\n  token: \""+testToken+"\"\nfeed:\n  url: https://status.ix.br/rss\n")
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != "https://example.org/feed" {
		t.Fatalf("feed url = %q", cfg.Feed.URL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: testToken}}
		ApplyDefaults(c)
		return c
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad token", func(c *Config) { c.Telegram.Token = "abc" }, "telegram.token"},
		{"interval too short", func(c *Config) { c.Feed.CheckInterval = "30s" }, "feed.check_interval"},
		{"max age too large", func(c *Config) { c.Feed.MaxAgeDays = 31 }, "feed.max_age_days"},
		{"quiet half set", func(c *Config) { c.QuietHours.Start = "22:00" }, "quiet_hours"},
		{"quiet bad clock", func(c *Config) { c.QuietHours.Start, c.QuietHours.End = "25:00", "07:00" }, "quiet_hours.start"},
		{"quiet bad zone", func(c *Config) { c.QuietHours.Timezone = "PST" }, "quiet_hours.timezone"},
		{"backup without chat", func(c *Config) { c.Backup.Enabled = true }, "backup.chat_id"},
		{"bad backup schedule", func(c *Config) { c.Backup.Schedule = "every day" }, "backup.schedule"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "x:y" }, "telegram.group_log"},
		{"bad duration", func(c *Config) { c.Delivery.Pacing = "fast" }, "delivery.pacing"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestParseGroupLog(t *testing.T) {
	t.Parallel()

	chat, thread, err := ParseGroupLog("-1001234:55")
	if err != nil || chat != -1001234 || thread != 55 {
		t.Fatalf("got %d %d %v", chat, thread, err)
	}
	chat, thread, err = ParseGroupLog("")
	if err != nil || chat != 0 || thread != 0 {
		t.Fatalf("empty: %d %d %v", chat, thread, err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v %v", d, err)
	}
	if _, err := ParseDuration("x", "-1s"); err == nil {
		t.Fatalf("negative duration should fail")
	}
	if d, err := ParseDuration("x", "300"); err != nil || d != 5*time.Minute {
		t.Fatalf("bare seconds: %v %v", d, err)
	}
	if _, err := ParseDuration("x", "soon"); err == nil {
		t.Fatalf("garbage duration accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := &Config{Telegram: TelegramConfig{Token: testToken}}
	ApplyDefaults(a)
	b := *a
	b.Feed.MaxAgeDays = 3
	b.HTTP.Token = "secret"
	b.Telegram.Token = "999:zzz"

	changed, attrs, restart := SummarizeConfigChange(a, &b)
	if strings.Join(changed, ",") != "feed,http" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "http,telegram.token" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}
