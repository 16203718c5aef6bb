// Package health keeps the liveness file fresh and speaks sd_notify when the
// process runs under systemd.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "ixbrbot/pkg/logx"
)

const DefaultInterval = 30 * time.Second

// Notifier is the sd_notify surface. The default calls go-systemd.
type Notifier interface {
	Notify(state string) (bool, error)
	WatchdogInterval() (time.Duration, error)
}

type systemdNotifier struct{}

func (systemdNotifier) Notify(state string) (bool, error) { return daemon.SdNotify(false, state) }

func (systemdNotifier) WatchdogInterval() (time.Duration, error) {
	return daemon.SdWatchdogEnabled(false)
}

type Options struct {
	File     string
	Interval time.Duration
	// Systemd enables READY/WATCHDOG/STOPPING notifications.
	Systemd  bool
	Notifier Notifier
	Logger   logx.Logger
	Now      func() time.Time
}

type Beacon struct {
	file     string
	interval time.Duration
	systemd  bool
	notifier Notifier
	log      logx.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastBeat  time.Time
	lastError error
}

func New(opt Options) *Beacon {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if opt.Notifier == nil {
		opt.Notifier = systemdNotifier{}
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	return &Beacon{
		file:     opt.File,
		interval: opt.Interval,
		systemd:  opt.Systemd,
		notifier: opt.Notifier,
		log:      opt.Logger.With(logx.Component("health")),
		now:      opt.Now,
	}
}

// Run beats once immediately, reports READY, then beats every interval until
// ctx is done. The watchdog is pinged at half its configured timeout.
func (b *Beacon) Run(ctx context.Context) error {
	b.beat()
	b.notify(daemon.SdNotifyReady)

	var watchdog <-chan time.Time
	if b.systemd {
		if wd, err := b.notifier.WatchdogInterval(); err != nil {
			b.log.Warn("watchdog interval unavailable", logx.Err(err))
		} else if wd > 0 {
			t := time.NewTicker(wd / 2)
			defer t.Stop()
			watchdog = t.C
			b.log.Info("systemd watchdog enabled", logx.Duration("timeout", wd))
		}
	}

	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			b.notify(daemon.SdNotifyStopping)
			return nil
		case <-tick.C:
			b.beat()
		case <-watchdog:
			b.notify(daemon.SdNotifyWatchdog)
		}
	}
}

// Status returns the time of the last successful write and the last error.
func (b *Beacon) Status() (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBeat, b.lastError
}

func (b *Beacon) beat() {
	if b.file == "" {
		return
	}
	now := b.now()
	err := writeStamp(b.file, now)
	b.mu.Lock()
	b.lastError = err
	if err == nil {
		b.lastBeat = now
	}
	b.mu.Unlock()
	if err != nil {
		b.log.Error("health check write failed", logx.String("file", b.file), logx.Err(err))
	}
}

func (b *Beacon) notify(state string) {
	if !b.systemd {
		return
	}
	sent, err := b.notifier.Notify(state)
	if err != nil {
		b.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if state == daemon.SdNotifyReady && !sent {
		b.log.Debug("NOTIFY_SOCKET not set; readiness not reported")
	}
}

// writeStamp replaces path atomically so readers never see a partial file.
func writeStamp(path string, now time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("health: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("health: temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(now.Format(time.RFC3339Nano)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("health: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("health: close: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("health: rename: %w", err)
	}
	return nil
}
