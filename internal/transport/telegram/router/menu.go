package router

import (
	"context"
	"strings"
	"unicode"

	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

// sanitizeTelegramCommand converts a name into a Telegram bot command,
// restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
		if len(out) > 32 {
			out = strings.TrimRight(out[:32], "_")
		}
	}
	return out
}

// MenuCommands is the public command list, in registration order. Hidden and
// bot-admin commands are left out.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	var out []kit.BotCommand
	seen := map[string]bool{}
	for _, c := range m.Commands() {
		if c.Hidden || c.Access == AccessBotAdmin {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// PublishMenu pushes MenuCommands to the adapter when it supports menus.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	if err := up.UpdateMenuCommands(ctx, m.MenuCommands()); err != nil {
		m.log.Warn("menu update failed", logx.Err(err))
		return err
	}
	return nil
}
