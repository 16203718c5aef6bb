package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ixbrbot/internal/backup"
	"ixbrbot/internal/metrics"
	kit "ixbrbot/internal/transport"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
	"ixbrbot/pkg/tgui"
)

func (b *Bot) cmdBackup(ctx context.Context, req *router.Request) (err error) {
	defer func() { metrics.ObserveBackup("manual", err) }()

	if _, err := req.Reply(ctx, textGeneratingBackup, nil); err != nil {
		return err
	}
	now := b.now()
	snap, err := backup.Export(ctx, b.store, now)
	if err == nil {
		var data []byte
		if data, err = backup.Encode(snap); err == nil {
			caption := fmt.Sprintf("Backup realizado com sucesso!\n\nChats ativos: %d\nTotal de chats: %d\n\n"+
				"Para restaurar, use /restore e envie este arquivo.",
				snap.Stats.ActiveChats, len(snap.SubscribedChats))
			err = req.Adapter.SendDocument(ctx, req.Chat, backup.Filename(now), data, caption)
		}
	}
	if err != nil {
		req.Logger.Error("backup failed", logx.Err(err))
		_, _ = req.Reply(ctx, "Erro ao gerar backup: "+err.Error(), nil)
		return err
	}
	req.Logger.Info("backup created and sent", logx.Int("chats_count", len(snap.SubscribedChats)))
	return nil
}

func (b *Bot) cmdRestore(ctx context.Context, req *router.Request) error {
	replace := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "replace")
	b.setRestoreMode(req.FromID, replace)
	mode := "MESCLAR (mantem dados existentes)"
	if replace {
		mode = "SUBSTITUIR (apaga dados existentes)"
	}
	_, err := req.Reply(ctx, "<b>Restauracao de Backup</b>\n\n"+
		"Modo atual: <b>"+mode+"</b>\n\n"+
		"Envie o arquivo JSON de backup para restaurar.\n\n"+
		"Opcoes:\n"+
		"/restore - Mescla com dados existentes\n"+
		"/restore replace - Substitui todos os dados", kit.HTML())
	return err
}

// onDocument restores an uploaded backup using the mode chosen by /restore.
func (b *Bot) onDocument(ctx context.Context, req *router.Request) (err error) {
	msg := req.Message()
	if msg == nil || msg.Document == nil {
		return nil
	}
	doc := msg.Document
	if doc.MIME != "" && doc.MIME != "application/json" {
		return nil
	}
	defer func() { metrics.ObserveBackup("restore", err) }()

	maxSize := b.current().MaxBackupSize
	if doc.Size > maxSize {
		req.Logger.Warn("backup file too large", logx.Int64("file_size", doc.Size))
		_, err := req.Reply(ctx, fmt.Sprintf("Arquivo muito grande. Maximo permitido: %.1fMB", float64(maxSize)/1024/1024), nil)
		return err
	}
	if _, err := req.Reply(ctx, textProcessingBackup, nil); err != nil {
		return err
	}

	data, err := req.Adapter.DownloadFile(ctx, doc.FileID, maxSize)
	if err != nil {
		_, _ = req.Reply(ctx, "Erro ao restaurar: "+err.Error(), nil)
		return fmt.Errorf("download backup: %w", err)
	}
	if !json.Valid(data) {
		_, err := req.Reply(ctx, textBackupBadJSON, nil)
		return err
	}

	replace := b.restoreMode(req.FromID)
	res, err := backup.Import(ctx, b.store, data, replace)
	if errors.Is(err, backup.ErrInvalid) {
		_, err := req.Reply(ctx, textBackupNoChats, nil)
		return err
	}
	if err != nil {
		req.Logger.Error("restore failed", logx.Err(err))
		_, _ = req.Reply(ctx, "Erro ao restaurar: "+err.Error(), nil)
		return err
	}

	mode := "mesclar"
	if replace {
		mode = "substituir"
	}
	req.Logger.Info("backup restored",
		logx.Bool("replace", replace),
		logx.Int("imported", res.Imported),
		logx.Int("skipped", res.Skipped),
		logx.Int("errors", res.Errors),
	)
	_, err = req.Reply(ctx, fmt.Sprintf("<b>Restauracao concluida!</b>\n\n"+
		"Modo: %s\nChats no backup: %d\nImportados: %d\nIgnorados (ja existiam): %d\nErros: %d",
		mode, res.TotalInBackup, res.Imported, res.Skipped, res.Errors), kit.HTML())
	return err
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	recent, err := b.store.CommandCount(ctx, req.Chat.ChatID, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	probe := b.prober.Probe(ctx)
	st := b.monitor.Status()

	reach := "Inacessivel"
	if probe.Reachable {
		reach = "Acessivel"
	}
	admins := 0
	if b.admins != nil {
		admins = b.admins.AdminCount()
	}
	lines := []string{
		"<b>Estatisticas do Bot</b>",
		"",
		"<b>Chats:</b>",
		fmt.Sprintf("  Ativos: %d", stats.ActiveChats),
		"",
		"<b>Mensagens:</b>",
		fmt.Sprintf("  Total enviadas: %d", stats.TotalMessagesSent),
		fmt.Sprintf("  Falhas de entrega: %d", stats.FailedDeliveries),
		fmt.Sprintf("  Comandos neste chat (24h): %d", recent),
		"",
		"<b>RSS Feed:</b>",
		"  Status: " + reach,
		fmt.Sprintf("  Entradas no feed: %d", probe.TotalEntries),
		fmt.Sprintf("  Falhas consecutivas: %d", st.Feed.ConsecutiveFailures),
		"",
		"<b>Configuracao:</b>",
		fmt.Sprintf("  Intervalo de check: %.0fs", st.Interval.Seconds()),
		fmt.Sprintf("  Idade max eventos: %d dias", st.MaxAgeDays),
		fmt.Sprintf("  Rate limit: %d/min", b.current().RatePerMinute),
		fmt.Sprintf("  Admins: %d", admins),
	}
	if !probe.LastDate.IsZero() {
		lines = append(lines, "\n<b>Ultimo post:</b> "+tgui.Esc(probe.LastDate.UTC().Format("02/01/2006 15:04")).String())
	}
	_, err = req.Reply(ctx, strings.Join(lines, "\n"), kit.HTML())
	return err
}
