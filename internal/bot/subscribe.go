package bot

import (
	"context"
	"fmt"
	"strings"

	"ixbrbot/internal/feed"
	"ixbrbot/internal/quiet"
	kit "ixbrbot/internal/transport"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
	"ixbrbot/pkg/tgui"
)

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	title := ""
	if msg := req.Message(); msg != nil {
		title = msg.ChatTitle
	}
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("Chat %d", req.Chat.ChatID)
	}
	isNew, err := b.store.Subscribe(ctx, req.Chat.ChatID, string(req.ChatType), title)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	text := textAlreadySubscribed
	if isNew {
		text = textSubscribed
	}
	req.Logger.Info("start command", logx.String("chat_type", string(req.ChatType)), logx.Bool("is_new", isNew))
	_, err = req.Reply(ctx, text, htmlNoPreview())
	return err
}

func (b *Bot) cmdStop(ctx context.Context, req *router.Request) error {
	was, err := b.store.Unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	text := textNotSubscribed
	if was {
		text = textUnsubscribed
	}
	req.Logger.Info("stop command", logx.Bool("was_subscribed", was))
	_, err = req.Reply(ctx, text, kit.HTML())
	return err
}

// cmdStatus answers at once and edits the reply after probing the feed.
func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	ref, err := req.Reply(ctx, textChecking, nil)
	if err != nil {
		return err
	}
	probe := b.prober.Probe(ctx)
	subscribed, err := b.store.IsSubscribed(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	w, hasQuiet, err := b.store.QuietHours(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	var quietLine *quiet.Window
	if hasQuiet {
		quietLine = &w
	}
	queued, err := b.store.PendingCount(ctx, req.Chat.ChatID)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return req.Adapter.EditText(ctx, ref, renderStatus(probe, subscribed, quietLine, queued), kit.HTML())
}

// renderStatus builds the /status body. queued is the chat's quiet-window
// backlog; it is only shown when non-zero.
func renderStatus(p feed.ProbeResult, subscribed bool, w *quiet.Window, queued int) string {
	lines := []string{"<b>Status do Bot</b>", "", "Bot: <b>Online</b>"}
	if p.Reachable {
		lines = append(lines, "Feed RSS (status.ix.br): <b>Acessivel</b>")
	} else {
		lines = append(lines, "Feed RSS (status.ix.br): <b>Inacessivel</b>")
		if p.Error != "" {
			lines = append(lines, "  Erro: "+tgui.Esc(tgui.Truncate(p.Error, 100, "")).String())
		}
	}
	lines = append(lines, "")

	if !p.LastDate.IsZero() {
		lines = append(lines, "<b>Ultimo post:</b> "+p.LastDate.UTC().Format("02/01/2006 as 15:04"))
		if p.LastTitle != "" {
			lines = append(lines, tgui.I(tgui.Truncate(p.LastTitle, 60, "...")).String())
		}
	} else {
		lines = append(lines, "Ultimo post: <i>Nao disponivel</i>")
	}
	lines = append(lines, "")

	sub := "Nao inscrito"
	if subscribed {
		sub = "Inscrito"
	}
	lines = append(lines, "Este chat: <b>"+sub+"</b>")
	if w != nil {
		lines = append(lines, fmt.Sprintf("Horario de silencio: %s - %s (%s)",
			tgui.Esc(w.Start), tgui.Esc(w.End), quiet.NormalizeZone(w.Zone)))
	}
	if queued > 0 {
		lines = append(lines, fmt.Sprintf("Notificacoes aguardando: <b>%d</b>", queued))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	text := textHelp
	if req.BotAdmin {
		text += textHelpAdmin
	}
	_, err := req.Reply(ctx, text, htmlNoPreview())
	return err
}
