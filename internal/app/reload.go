package app

import (
	"context"
	"strings"

	"ixbrbot/internal/config"
	logx "ixbrbot/pkg/logx"
)

// reloadLoop applies published configs to the running components.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 && len(restart) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("fields", strings.Join(restart, ",")))
	}

	// Target first so Apply does not warn when the Telegram sink is enabled.
	a.logs.SetTelegramTarget(logTarget(newCfg))
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetAdmins(newCfg.Telegram.AdminUserIDs)
	a.cmdm.SetRate(newCfg.Commands.RatePerMinute)
	a.bot.SetSettings(mapBotSettings(newCfg))

	if ms, err := mapMonitorSettings(newCfg); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	} else {
		a.monitor.SetInterval(ms.Interval)
		a.monitor.SetMaxAge(ms.MaxAgeDays)
		a.monitor.SetRetention(ms.Retention)
		a.monitor.SetPacing(ms.Pacing)
		a.monitor.SetFallbackQuiet(ms.Fallback)
	}

	if err := a.backups.Apply(mapBackupSchedule(newCfg)); err != nil {
		a.log.Warn("backup schedule not applied", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
