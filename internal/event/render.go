package event

import (
	"strings"

	"ixbrbot/pkg/tgui"
)

const (
	maxDescriptionRunes = 800
	editedMarker        = "\n\n<i>[Mensagem atualizada]</i>"
)

// Render formats e as a Telegram HTML message.
func Render(e Event) string {
	var lines []string
	add := func(h tgui.H) { lines = append(lines, h.String(), "") }

	add(tgui.B(e.Kind.Label()))
	add(tgui.B(e.Title))
	if e.Location != "" {
		add(tgui.Raw("<b>Local:</b> " + tgui.Esc(e.Location).String()))
	}
	if e.Description != "" {
		add(tgui.Esc(tgui.Truncate(e.Description, maxDescriptionRunes, "...")))
	}
	if e.Link != "" {
		add(tgui.Raw("<b>Detalhes:</b> " + tgui.Esc(e.Link).String()))
	}
	lines = append(lines, tgui.I("Postado em: "+e.Published.UTC().Format("02/01/2006")+" as "+
		e.Published.UTC().Format("15:04")+" (UTC)").String())
	return strings.Join(lines, "\n")
}

// MarkEdited appends the "updated" footer used when a sent message is edited.
func MarkEdited(text string) string { return text + editedMarker }
