package pipeline

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"ixbrbot/internal/event"
	"ixbrbot/internal/feed"
	"ixbrbot/internal/metrics"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	logx "ixbrbot/pkg/logx"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultFirstDelay = 10 * time.Second
	DefaultMaxAgeDays = 7
	MinInterval       = 60 * time.Second

	commandLogMaxAge = time.Hour
)

type Options struct {
	Source    Source
	Ledger    Ledger
	Directory Directory
	Transport Transport
	Logger    logx.Logger

	Interval      time.Duration
	FirstDelay    time.Duration
	MaxAgeDays    int
	RetentionDays int // 0 means twice MaxAgeDays
	Pacing        time.Duration
	StatusURL     string
	FallbackQuiet quiet.Window

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Entries    int            `json:"entries"`
	Events     int            `json:"events"`
	TooOld     int            `json:"too_old"`
	Recipients int            `json:"recipients"`
	Actions    map[Action]int `json:"actions,omitempty"`
	Flushed    int            `json:"flushed"`
	FetchError string         `json:"fetch_error,omitempty"`
	Swept      int64          `json:"swept"`
}

// Status is the read-only projection for /status and the HTTP surface.
type Status struct {
	Feed              feed.Health   `json:"feed"`
	LastCycle         CycleReport   `json:"last_cycle"`
	Cycles            uint64        `json:"cycles"`
	TransientFailures uint64        `json:"transient_failures"`
	Interval          time.Duration `json:"interval_ns"`
	MaxAgeDays        int           `json:"max_age_days"`
}

// Monitor owns the polling loop.
type Monitor struct {
	src   Source
	led   Ledger
	dir   Directory
	rec   *Reconciler
	gate  *Gate
	quiet *QuietPolicy
	log   logx.Logger
	now   func() time.Time

	firstDelay time.Duration

	mu         sync.Mutex
	interval   time.Duration
	maxAgeDays int
	retention  int
	last       CycleReport
	cycles     uint64
	transient  uint64

	reschedule chan struct{}
}

func NewMonitor(opt Options) *Monitor {
	if opt.Interval < MinInterval {
		opt.Interval = DefaultInterval
	}
	if opt.FirstDelay < 0 {
		opt.FirstDelay = 0
	}
	if opt.MaxAgeDays <= 0 {
		opt.MaxAgeDays = DefaultMaxAgeDays
	}
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	policy := NewQuietPolicy(opt.FallbackQuiet)
	deps := Deps{
		Ledger:    opt.Ledger,
		Directory: opt.Directory,
		Transport: opt.Transport,
		Quiet:     policy,
		Logger:    opt.Logger,
		Pacing:    opt.Pacing,
		Now:       opt.Now,
		Sleep:     opt.Sleep,
	}
	return &Monitor{
		src:        opt.Source,
		led:        opt.Ledger,
		dir:        opt.Directory,
		rec:        NewReconciler(deps),
		gate:       NewGate(deps, opt.StatusURL),
		quiet:      policy,
		log:        opt.Logger.With(logx.Component("monitor")),
		now:        opt.Now,
		firstDelay: opt.FirstDelay,
		interval:   opt.Interval,
		maxAgeDays: opt.MaxAgeDays,
		retention:  opt.RetentionDays,
		reschedule: make(chan struct{}, 1),
	}
}

// SetInterval changes the wait between cycles; the current wait restarts.
func (m *Monitor) SetInterval(d time.Duration) {
	if d < MinInterval {
		d = MinInterval
	}
	m.mu.Lock()
	changed := m.interval != d
	m.interval = d
	m.mu.Unlock()
	if changed {
		select {
		case m.reschedule <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) SetMaxAge(days int) {
	if days <= 0 {
		return
	}
	m.mu.Lock()
	m.maxAgeDays = days
	m.mu.Unlock()
}

func (m *Monitor) SetRetention(days int) {
	m.mu.Lock()
	m.retention = days
	m.mu.Unlock()
}

func (m *Monitor) SetFallbackQuiet(w quiet.Window) { m.quiet.SetFallback(w) }

func (m *Monitor) SetPacing(d time.Duration) {
	m.rec.SetPacing(d)
	m.gate.SetPacing(d)
}

// Quiet exposes the effective-window policy to the command layer.
func (m *Monitor) Quiet() *QuietPolicy { return m.quiet }

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		LastCycle:         m.last,
		Cycles:            m.cycles,
		TransientFailures: m.transient,
		Interval:          m.interval,
		MaxAgeDays:        m.maxAgeDays,
	}
	if m.src != nil {
		st.Feed = m.src.Health()
	}
	return st
}

// Run polls until ctx is done. A cycle in flight when ctx is cancelled runs
// to completion on a detached context.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		logx.Duration("interval", m.currentInterval()),
		logx.Duration("first_delay", m.firstDelay),
	)
	if !m.wait(ctx, m.firstDelay) {
		return nil
	}
	for {
		m.RunCycle(context.WithoutCancel(ctx))
		if ctx.Err() != nil {
			return nil
		}
		if !m.wait(ctx, m.currentInterval()) {
			return nil
		}
	}
}

func (m *Monitor) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// wait sleeps d, restarting with the new interval on SetInterval. It
// returns false when ctx ends first.
func (m *Monitor) wait(ctx context.Context, d time.Duration) bool {
	for {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
			return true
		case <-m.reschedule:
			t.Stop()
			d = m.currentInterval()
		}
	}
}

// RunCycle runs fetch, classify, reconcile, flush and sweep in that order.
// Failures are logged and counted; nothing escapes the cycle.
func (m *Monitor) RunCycle(ctx context.Context) (rep CycleReport) {
	start := m.now()
	rep = CycleReport{StartedAt: start, Actions: map[Action]int{}}
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("cycle panic", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		rep.Duration = m.now().Sub(start)
		metrics.CycleSeconds.Observe(rep.Duration.Seconds())
		m.mu.Lock()
		m.last = rep
		m.cycles++
		m.transient += uint64(rep.Actions[ActionFailed])
		m.mu.Unlock()
	}()

	m.mu.Lock()
	maxAge, retention := m.maxAgeDays, m.retention
	m.mu.Unlock()
	if retention <= 0 {
		retention = 2 * maxAge
	}

	events := m.fetchEvents(ctx, start, maxAge, &rep)

	chats, err := m.dir.ListActive(ctx)
	if err != nil {
		m.log.Error("list recipients failed", logx.Err(err))
	} else {
		rep.Recipients = len(chats)
		metrics.ActiveRecipients.Set(float64(len(chats)))

		for _, ev := range events {
			if len(chats) == 0 {
				break
			}
			outcomes := m.rec.Reconcile(ctx, ev, chats)
			chats = m.tally(outcomes, chats, &rep)
		}

		for _, fr := range m.gate.FlushAll(ctx, chats) {
			if fr.Action == ActionSend {
				rep.Flushed += fr.Pending
			}
			if fr.Action == ActionFailed {
				rep.Actions[ActionFailed]++
			}
		}
	}

	rep.Swept = m.sweep(ctx, start, retention)

	m.log.Debug("cycle finished",
		logx.Int("events", rep.Events),
		logx.Int("recipients", rep.Recipients),
		logx.Int("flushed", rep.Flushed),
		logx.Duration("took", m.now().Sub(start)),
	)
	return rep
}

func (m *Monitor) fetchEvents(ctx context.Context, now time.Time, maxAgeDays int, rep *CycleReport) []event.Event {
	if m.src == nil {
		return nil
	}
	t0 := time.Now()
	raws, err := m.src.Fetch(ctx)
	metrics.ObserveFetch(t0, len(raws), m.src.Health().ConsecutiveFailures, err)
	if err != nil {
		rep.FetchError = err.Error()
		return nil
	}
	rep.Entries = len(raws)

	cutoff := now.UTC().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	events := make([]event.Event, 0, len(raws))
	for _, raw := range raws {
		ev := event.Parse(raw, now)
		if ev.Published.Before(cutoff) {
			rep.TooOld++
			m.log.Debug("event too old", logx.String("guid", ev.GUID), logx.Time("published", ev.Published))
			continue
		}
		events = append(events, ev)
	}
	rep.Events = len(events)
	return events
}

// tally counts outcomes and drops pruned recipients from the rest of the cycle.
func (m *Monitor) tally(outcomes []Outcome, chats []storage.Chat, rep *CycleReport) []storage.Chat {
	pruned := map[int64]bool{}
	for _, o := range outcomes {
		rep.Actions[o.Action]++
		if o.Action == ActionPruned {
			pruned[o.ChatID] = true
		}
	}
	if len(pruned) == 0 {
		return chats
	}
	kept := chats[:0:0]
	for _, c := range chats {
		if !pruned[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept
}

func (m *Monitor) sweep(ctx context.Context, now time.Time, retentionDays int) int64 {
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	var total int64
	if n, err := m.led.SweepDeliveries(ctx, cutoff); err != nil {
		m.log.Error("sweep deliveries failed", logx.Err(err))
	} else {
		total += n
	}
	if n, err := m.led.SweepPending(ctx, cutoff); err != nil {
		m.log.Error("sweep pending failed", logx.Err(err))
	} else {
		total += n
	}
	if s, ok := m.dir.(CommandLogSweeper); ok {
		if _, err := s.SweepCommandLog(ctx, commandLogMaxAge); err != nil {
			m.log.Error("sweep command log failed", logx.Err(err))
		}
	}
	if total > 0 {
		m.log.Info("ledger swept", logx.Int64("rows", total), logx.Int("retention_days", retentionDays))
	}
	return total
}
