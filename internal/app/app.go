// Package app wires the notifier: configuration, logging, storage, the
// Telegram transport, the feed monitor, commands and the local surfaces.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ixbrbot/internal/backup"
	"ixbrbot/internal/bot"
	"ixbrbot/internal/config"
	"ixbrbot/internal/feed"
	"ixbrbot/internal/health"
	"ixbrbot/internal/httpapi"
	"ixbrbot/internal/metrics"
	"ixbrbot/internal/pipeline"
	rtsup "ixbrbot/internal/runtime/supervisor"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	telegram "ixbrbot/internal/transport/telegram/adapter"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	base logx.Logger
	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter *telegram.Adapter
	monitor *pipeline.Monitor
	backups *backup.Scheduler
	cmdm    *router.CommandManager
	bot     *bot.Bot
	http    *httpapi.Server
	beacon  *health.Beacon

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.Component("telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink off, set its target, then apply the
	// final config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, base := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logTarget(cfg))
	logSvc.Apply(logCfg)
	log := base.With(logx.Component("app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, base.With(logx.Component("storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	fopt, err := mapFeedOptions(cfg, base)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetcher := feed.NewFetcher(fopt)
	prober := feed.NewProber(fopt.URL, fopt.Timeout)

	ms, err := mapMonitorSettings(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mon := pipeline.NewMonitor(pipeline.Options{
		Source:        fetcher,
		Ledger:        store,
		Directory:     store,
		Transport:     ad,
		Logger:        base,
		Interval:      ms.Interval,
		FirstDelay:    ms.FirstDelay,
		MaxAgeDays:    ms.MaxAgeDays,
		RetentionDays: ms.Retention,
		Pacing:        ms.Pacing,
		StatusURL:     cfg.Delivery.StatusPageURL,
		FallbackQuiet: ms.Fallback,
	})

	cmdTimeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 30*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var b *bot.Bot
	cmdm := router.NewCommandManager(ad, router.Options{
		DefaultTimeout: cmdTimeout,
		RatePerMinute:  cfg.Commands.RatePerMinute,
		Admins:         cfg.Telegram.AdminUserIDs,
		Denials:        bot.Denials(),
		Logger:         base,
		OnAccepted:     func(ctx context.Context, req *router.Request) { b.OnAccepted(ctx, req) },
	})
	b = bot.New(bot.Options{Store: store, Prober: prober, Monitor: mon, Admins: cmdm, Logger: base})
	b.SetSettings(mapBotSettings(cfg))
	b.Register(cmdm)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	var srv *httpapi.Server
	if cfg.HTTP.Enabled {
		hopt, err := mapHTTPOptions(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		hopt.Monitor, hopt.Store, hopt.Gatherer, hopt.Logger = mon, store, reg, base
		srv = httpapi.New(hopt)
	}

	hInterval, err := config.ParseDurationOrDefault("health.interval", cfg.Health.Interval, health.DefaultInterval)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	beacon := health.New(health.Options{File: cfg.Health.File, Interval: hInterval, Systemd: cfg.Health.Systemd, Logger: base})

	return &App{
		cfgm:    cfgm,
		base:    base,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		monitor: mon,
		backups: backup.NewScheduler(mapBackupSchedule(cfg), store, ad, base),
		cmdm:    cmdm,
		bot:     b,
		http:    srv,
		beacon:  beacon,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.base.With(logx.Component("supervisor"))), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.base.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapMonitorSettings(cfg); err != nil {
			return err
		}
		if _, err := mapFeedOptions(cfg, a.base); err != nil {
			return err
		}
		_, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 0)
		return err
	})

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	menuCtx, cancel := context.WithTimeout(run, 10*time.Second)
	_ = a.cmdm.PublishMenu(menuCtx)
	cancel()

	if err := a.backups.Start(run); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.GoRestart("feed.monitor", a.monitor.Run, rtsup.WithRestartBackoff(time.Second, time.Minute))
	a.sup.Go("health", a.beacon.Run)
	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Supervised loops go first so nothing sends while the adapter shuts down.
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Stop)
	a.step(ctx, "backup", 2*time.Second, func(c context.Context) error { a.backups.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
