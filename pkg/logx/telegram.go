package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	kit "ixbrbot/internal/transport"
	"ixbrbot/pkg/tgui"
)

const (
	alertLimit = 3500
	// repeatWindow folds identical alerts; a feed failing on every poll
	// reports once per window with a repeat count.
	repeatWindow = 10 * time.Minute
	maxRecent    = 256
)

type alert struct {
	to   kit.ChatTarget
	text string
}

type repeat struct {
	first      time.Time
	suppressed int
}

// telegramWriter is a zerolog LevelWriter feeding the operator chat. It never
// blocks the caller: alerts beyond the rate or queue are dropped.
type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil || s.sender == nil {
		return len(p), nil
	}
	text, key := formatAlert(p)
	if text == "" {
		return len(p), nil
	}

	s.mu.Lock()
	if s.chatID == 0 || level < s.minLevel {
		s.mu.Unlock()
		return len(p), nil
	}
	folded, fold := s.fold(key)
	if fold || !s.limiter.Allow() {
		s.mu.Unlock()
		return len(p), nil
	}
	to := kit.ChatTarget{ChatID: s.chatID, ThreadID: s.threadID}
	s.mu.Unlock()

	if folded > 0 {
		text += fmt.Sprintf("\n<i>(+%d repeats in the last %s)</i>", folded, repeatWindow)
	}
	select {
	case s.alerts <- alert{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// fold reports whether key was already sent inside the window. When a window
// ends it returns how many alerts it swallowed. Callers hold mu.
func (s *Service) fold(key string) (int, bool) {
	now := s.now()
	if r, ok := s.recent[key]; ok && now.Sub(r.first) < repeatWindow {
		r.suppressed++
		return 0, true
	}
	prev := 0
	if r, ok := s.recent[key]; ok {
		prev = r.suppressed
	}
	if len(s.recent) >= maxRecent {
		for k, r := range s.recent {
			if now.Sub(r.first) >= repeatWindow {
				delete(s.recent, k)
			}
		}
	}
	s.recent[key] = &repeat{first: now}
	return prev, false
}

// formatAlert renders one zerolog JSON line as Telegram HTML. key identifies
// the alert for folding: level, component, message and error.
func formatAlert(p []byte) (text, key string) {
	line := bytes.TrimSpace(p)
	if len(line) == 0 {
		return "", ""
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		raw := tgui.Truncate(string(line), alertLimit, "...")
		return tgui.Esc(raw).String(), raw
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	comp, _ := m[componentKey].(string)
	errText, _ := m[zerolog.ErrorFieldName].(string)

	head := tgui.B(strings.ToUpper(lvl))
	if comp != "" {
		head += " " + tgui.Code(comp)
	}
	var b strings.Builder
	b.WriteString(tgui.JoinH("\n", head, tgui.Esc(msg)).String())

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", componentKey, "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field := "\n" + tgui.B(k+":").String() + " " + tgui.Code(tgui.Truncate(fmt.Sprint(m[k]), 600, "...")).String()
		if b.Len()+len(field) > alertLimit {
			b.WriteString("\n...")
			break
		}
		b.WriteString(field)
	}
	if st, ok := m["stack"].(string); ok && st != "" {
		pre := "\n<pre>" + tgui.Esc(tgui.Truncate(st, 900, "...")).String() + "</pre>"
		if b.Len()+len(pre) <= alertLimit {
			b.WriteString(pre)
		}
	}
	return b.String(), strings.Join([]string{lvl, comp, msg, errText}, "\x00")
}
