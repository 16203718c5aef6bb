package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "ixbrbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls the operator chat sink. The target chat comes from
// Service.SetTelegramTarget.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./ixbrbot.log"

// Sender is the slice of the transport the Telegram sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the sinks. Apply swaps them at runtime.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	sender  Sender
	alerts  chan alert
	now     func() time.Time
	started sync.Once
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	file     *os.File
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level
	recent   map[string]*repeat
}

// New applies cfg and returns the service with its live root Logger.
// A nil sender leaves the Telegram sink inert.
func New(cfg Config, sender Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{
		sender: sender,
		alerts: make(chan alert, 256),
		now:    time.Now,
		recent: map[string]*repeat{},
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetTelegramTarget sets the operator chat. threadID 0 keeps the configured thread.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	if threadID != 0 {
		s.threadID = threadID
	}
}

// Close stops the Telegram worker, dropping queued alerts, and closes the file sink.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stop
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.wg.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps outputs and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	burst := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(burst), burst)
	if cfg.Telegram.ThreadID != 0 {
		s.threadID = cfg.Telegram.ThreadID
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if w := s.reopenFile(cfg.File); w != nil {
		writers = append(writers, w)
	}
	if cfg.Telegram.Enabled {
		s.startWorker()
		writers = append(writers, &telegramWriter{svc: s})
		if s.chatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.group_log is not set")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// reopenFile closes the previous file sink and opens the configured one.
// Callers hold mu.
func (s *Service) reopenFile(fc FileConfig) io.Writer {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

func (s *Service) startWorker() {
	s.started.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sendAlerts(ctx)
		}()
	})
}

func (s *Service) sendAlerts(ctx context.Context) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.alerts:
			if s.sender != nil {
				_, _ = s.sender.SendText(ctx, a.to, a.text, opt)
			}
		}
	}
}
