package tgui

import (
	"strings"

	kit "ixbrbot/internal/transport"
)

// Keyboard builds inline keyboard rows.
type Keyboard struct {
	rows [][]kit.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends one row of buttons.
func (k *Keyboard) Row(btn ...kit.Button) *Keyboard {
	if len(btn) > 0 {
		k.rows = append(k.rows, btn)
	}
	return k
}

// Grid appends buttons split into rows of `cols`.
func (k *Keyboard) Grid(cols int, btn ...kit.Button) *Keyboard {
	if cols <= 0 {
		cols = 1
	}
	for len(btn) > 0 {
		n := min(cols, len(btn))
		k.Row(btn[:n]...)
		btn = btn[n:]
	}
	return k
}

func (k *Keyboard) Rows() [][]kit.Button { return k.rows }

func Btn(text string, data ...string) kit.Button {
	return kit.Button{Text: text, Data: Data(data...)}
}

// Data joins callback parts with ':' ("quiet:tzsel:BRT").
// Telegram caps callback data at 64 bytes; callers keep parts short.
func Data(parts ...string) string {
	return strings.Join(parts, ":")
}
