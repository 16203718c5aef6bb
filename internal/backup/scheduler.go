package backup

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ixbrbot/internal/metrics"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

const (
	DefaultSchedule = "0 3 * * *"
	jobTimeout      = 2 * time.Minute
)

// Parser accepts 5-field and 6-field (with seconds) specs and descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := Parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("backup schedule %q: %w", spec, err)
	}
	return nil
}

type ScheduleConfig struct {
	Enabled  bool
	ChatID   int64
	Spec     string
	Timezone string
}

// DocumentSender is the transport slice the job needs.
type DocumentSender interface {
	SendDocument(ctx context.Context, to kit.ChatTarget, name string, data []byte, caption string) error
}

// Scheduler sends a directory export to the backup chat on a cron schedule.
type Scheduler struct {
	src Source
	out DocumentSender
	log logx.Logger
	now func() time.Time

	mu     sync.Mutex
	cfg    ScheduleConfig
	loc    *time.Location
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg ScheduleConfig, src Source, out DocumentSender, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{src: src, out: out, cfg: cfg, now: time.Now, log: log.With(logx.Component("backup"))}
}

// Start registers the job; it is a no-op while backups are disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	cfg := s.cfg
	if !cfg.Enabled || cfg.ChatID == 0 {
		s.log.Info("auto backup disabled")
		return nil
	}
	spec := strings.TrimSpace(cfg.Spec)
	if spec == "" {
		spec = DefaultSchedule
	}
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil || strings.TrimSpace(cfg.Timezone) == "" {
		loc = time.UTC
	}
	s.loc = loc
	c := cron.New(cron.WithParser(Parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.fire); err != nil {
		return fmt.Errorf("backup: schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("auto backup scheduled", logx.String("spec", spec), logx.String("tz", loc.String()), logx.Int64("chat_id", cfg.ChatID))
	return nil
}

func (s *Scheduler) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// Apply swaps the schedule, restarting cron when anything relevant changed.
func (s *Scheduler) Apply(cfg ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.runCtx == nil || old == cfg {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.runCtx, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		if cancel != nil {
			cancel()
		}
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) fire() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in backup job", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error("auto backup failed", logx.Err(err))
	}
}

// RunOnce exports and sends one backup to the configured chat.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	defer func() { metrics.ObserveBackup("auto", err) }()

	s.mu.Lock()
	cfg, loc := s.cfg, s.loc
	s.mu.Unlock()
	if cfg.ChatID == 0 {
		return fmt.Errorf("backup: no backup chat configured")
	}
	if loc == nil {
		loc = time.UTC
	}
	now := s.now().In(loc)

	snap, err := Export(ctx, s.src, now)
	if err != nil {
		return err
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	caption := fmt.Sprintf("Backup automatico\n\nChats ativos: %d\nData: %s",
		snap.Stats.ActiveChats, now.Format("02/01/2006 15:04"))
	if err := s.out.SendDocument(ctx, kit.ChatTarget{ChatID: cfg.ChatID}, Filename(now), data, caption); err != nil {
		return fmt.Errorf("backup: send document: %w", err)
	}
	s.log.Info("auto backup completed",
		logx.Int("chats_count", len(snap.SubscribedChats)),
		logx.Int64("backup_chat_id", cfg.ChatID),
	)
	return nil
}
