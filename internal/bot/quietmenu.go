package bot

import (
	"context"
	"fmt"
	"strings"

	"ixbrbot/internal/quiet"
	kit "ixbrbot/internal/transport"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
	"ixbrbot/pkg/tgui"
)

const quietPrefix = "quiet"

// presets are the one-tap windows offered by the menus.
var presets = [][2]string{
	{"22:00", "07:00"},
	{"23:00", "08:00"},
	{"00:00", "06:00"},
	{"21:00", "06:00"},
}

func (b *Bot) cmdQuiet(ctx context.Context, req *router.Request) error {
	args := req.Args
	if len(args) == 0 {
		text, kb, err := b.quietMenu(ctx, req.Chat.ChatID)
		if err != nil {
			return err
		}
		_, err = req.Reply(ctx, text, htmlKeyboard(kb))
		return err
	}

	if strings.EqualFold(args[0], "off") {
		return b.clearQuiet(ctx, req, func(text string) error {
			_, err := req.Reply(ctx, text, nil)
			return err
		})
	}

	zone := quiet.DefaultZone
	var start, end string
	switch len(args) {
	case 2:
		start, end = args[0], args[1]
	case 3:
		zone = strings.ToUpper(args[0])
		if !quiet.KnownZone(zone) {
			_, err := req.Reply(ctx, fmt.Sprintf("Timezone invalido: %s\nOpcoes validas: %s",
				zone, strings.Join(quiet.Zones(), ", ")), nil)
			return err
		}
		start, end = args[1], args[2]
	default:
		_, err := req.Reply(ctx, "Uso:\n"+
			"/silencio HH:MM HH:MM (UTC)\n"+
			"/silencio BRT 22:00 07:00 (com timezone)\n\n"+
			"Timezones: "+strings.Join(quiet.Zones(), ", "), nil)
		return err
	}

	w, ok := normalizeWindow(start, end, zone)
	if !ok {
		_, err := req.Reply(ctx, textBadClock, nil)
		return err
	}
	return b.storeQuiet(ctx, req, w, false, func(text string) error {
		_, err := req.Reply(ctx, text, nil)
		return err
	})
}

// cbQuiet handles the inline menu. Payloads:
//
//	off | tz | back | tzsel:TZ | set:TZ:HH:MM:HH:MM | TZ:HH:MM:HH:MM
func (b *Bot) cbQuiet(ctx context.Context, req *router.Request) error {
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
	edit := func(text string, kb [][]kit.Button) error {
		return req.Adapter.EditText(ctx, ref, text, htmlKeyboard(kb))
	}

	payload := strings.TrimSpace(req.Payload)
	switch {
	case payload == "off":
		return b.clearQuiet(ctx, req, func(text string) error { return edit(text, nil) })
	case payload == "tz":
		return edit(textQuietZones, zoneKeyboard())
	case payload == "back":
		text, kb, err := b.quietMenu(ctx, req.Chat.ChatID)
		if err != nil {
			return err
		}
		return edit(text, kb)
	case strings.HasPrefix(payload, "tzsel:"):
		zone := strings.ToUpper(strings.TrimPrefix(payload, "tzsel:"))
		if !quiet.KnownZone(zone) {
			return nil
		}
		return edit(fmt.Sprintf("<b>Timezone: %s</b>\n\nSelecione o horario de silencio:", zone), presetKeyboard(zone))
	}

	parts := strings.Split(payload, ":")
	if len(parts) == 6 && parts[0] == "set" {
		parts = parts[1:]
	}
	if len(parts) != 5 || !quiet.KnownZone(parts[0]) {
		req.Logger.Debug("unknown quiet callback", logx.String("payload", payload))
		return nil
	}
	w, ok := normalizeWindow(parts[1]+":"+parts[2], parts[3]+":"+parts[4], parts[0])
	if !ok {
		return nil
	}
	return b.storeQuiet(ctx, req, w, true, func(text string) error { return edit(text, nil) })
}

func (b *Bot) quietMenu(ctx context.Context, chatID int64) (string, [][]kit.Button, error) {
	w, ok, err := b.store.QuietHours(ctx, chatID)
	if err != nil {
		return "", nil, fmt.Errorf("quiet hours: %w", err)
	}
	header := "<b>Horario de silencio: Desativado</b>\n\n"
	if ok {
		header = fmt.Sprintf("<b>Configuracao atual:</b>\nInicio: %s | Fim: %s\nTimezone: %s\n\n",
			tgui.Esc(w.Start), tgui.Esc(w.End), quiet.NormalizeZone(w.Zone))
	}
	kb := tgui.NewKeyboard()
	btns := make([]kit.Button, 0, len(presets))
	for _, p := range presets {
		btns = append(btns, tgui.Btn(fmt.Sprintf("%s - %s (BRT)", p[0], p[1]), quietPrefix, "BRT", p[0], p[1]))
	}
	kb.Grid(2, btns...).
		Row(tgui.Btn("Selecionar timezone", quietPrefix, "tz")).
		Row(tgui.Btn("Desativar", quietPrefix, "off"))
	return header + textQuietManual, kb.Rows(), nil
}

func zoneKeyboard() [][]kit.Button {
	kb := tgui.NewKeyboard()
	for _, z := range quiet.Zones() {
		kb.Row(tgui.Btn(quiet.ZoneLabel(z), quietPrefix, "tzsel", z))
	}
	return kb.Row(tgui.Btn("Voltar", quietPrefix, "back")).Rows()
}

func presetKeyboard(zone string) [][]kit.Button {
	btns := make([]kit.Button, 0, len(presets))
	for _, p := range presets {
		btns = append(btns, tgui.Btn(p[0]+" - "+p[1], quietPrefix, "set", zone, p[0], p[1]))
	}
	return tgui.NewKeyboard().Grid(2, btns...).Row(tgui.Btn("Voltar", quietPrefix, "tz")).Rows()
}

// normalizeWindow validates both bounds and renders them as HH:MM.
func normalizeWindow(start, end, zone string) (quiet.Window, bool) {
	s, err := quiet.ParseClock(start)
	if err != nil {
		return quiet.Window{}, false
	}
	e, err := quiet.ParseClock(end)
	if err != nil {
		return quiet.Window{}, false
	}
	return quiet.Window{Start: s.String(), End: e.String(), Zone: quiet.NormalizeZone(zone)}, true
}

func (b *Bot) storeQuiet(ctx context.Context, req *router.Request, w quiet.Window, bold bool, reply func(string) error) error {
	ok, err := b.store.SetQuietHours(ctx, req.Chat.ChatID, w)
	if err != nil {
		return fmt.Errorf("set quiet hours: %w", err)
	}
	if !ok {
		return reply(textQuietNeedsSubscription)
	}
	head := "Horario de silencio configurado!"
	if bold {
		head = "<b>" + head + "</b>"
	}
	req.Logger.Info("quiet hours set", logx.String("start", w.Start), logx.String("end", w.End), logx.String("tz", w.Zone))
	return reply(fmt.Sprintf("%s\n\nInicio: %s\nFim: %s\nTimezone: %s\n\n"+
		"Durante este periodo, notificacoes serao acumuladas e enviadas em resumo quando o silencio terminar.",
		head, w.Start, w.End, w.Zone))
}

func (b *Bot) clearQuiet(ctx context.Context, req *router.Request, reply func(string) error) error {
	if _, err := b.store.SetQuietHours(ctx, req.Chat.ChatID, quiet.Window{}); err != nil {
		return fmt.Errorf("clear quiet hours: %w", err)
	}
	req.Logger.Info("quiet hours disabled")
	return reply(textQuietOff)
}
