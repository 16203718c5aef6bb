// Package backup exports and restores the recipient directory as JSON, and
// runs the scheduled auto-backup.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
)

const Version = "1.0"

// ErrInvalid is returned for documents that are not a directory backup.
var ErrInvalid = errors.New("backup: invalid format")

type Snapshot struct {
	Version         string        `json:"version"`
	ExportedAt      string        `json:"exported_at"`
	Stats           storage.Stats `json:"stats"`
	SubscribedChats []ChatRecord  `json:"subscribed_chats"`
}

// ChatRecord mirrors one subscribed_chats row.
type ChatRecord struct {
	ChatID          int64   `json:"chat_id"`
	ChatType        string  `json:"chat_type,omitempty"`
	ChatTitle       *string `json:"chat_title"`
	SubscribedAt    string  `json:"subscribed_at,omitempty"`
	IsActive        *Flag   `json:"is_active,omitempty"`
	QuietHoursStart *string `json:"quiet_hours_start"`
	QuietHoursEnd   *string `json:"quiet_hours_end"`
	QuietHoursTZ    string  `json:"quiet_hours_tz,omitempty"`
}

// Flag is a boolean that also decodes 0/1 numbers and strings, as written by
// older exports.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "", "null":
		*f = true
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("is_active: %q is not a boolean", s)
	}
	*f = n != 0
	return nil
}

// Source is the read side of the directory.
type Source interface {
	AllChats(ctx context.Context) ([]storage.Chat, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

// Importer is the write side of the directory.
type Importer interface {
	ImportChats(ctx context.Context, chats []storage.Chat, replace bool) (storage.ImportResult, error)
}

// Export dumps every chat, active or not, with aggregate stats.
func Export(ctx context.Context, src Source, now time.Time) (Snapshot, error) {
	chats, err := src.AllChats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup: list chats: %w", err)
	}
	stats, err := src.Stats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup: stats: %w", err)
	}
	snap := Snapshot{
		Version:         Version,
		ExportedAt:      now.Format(time.RFC3339),
		Stats:           stats,
		SubscribedChats: make([]ChatRecord, 0, len(chats)),
	}
	for _, c := range chats {
		snap.SubscribedChats = append(snap.SubscribedChats, recordFromChat(c))
	}
	return snap, nil
}

// Encode renders s as indented JSON.
func Encode(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Decode parses a backup document. subscribed_chats must be present.
func Decode(data []byte) (Snapshot, error) {
	var probe struct {
		Version         string          `json:"version"`
		ExportedAt      string          `json:"exported_at"`
		Stats           storage.Stats   `json:"stats"`
		SubscribedChats json.RawMessage `json:"subscribed_chats"`
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(data, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(probe.SubscribedChats) == 0 || string(probe.SubscribedChats) == "null" {
		return Snapshot{}, fmt.Errorf("%w: missing subscribed_chats", ErrInvalid)
	}
	snap := Snapshot{Version: probe.Version, ExportedAt: probe.ExportedAt, Stats: probe.Stats}
	if err := json.Unmarshal(probe.SubscribedChats, &snap.SubscribedChats); err != nil {
		return Snapshot{}, fmt.Errorf("%w: subscribed_chats: %v", ErrInvalid, err)
	}
	return snap, nil
}

// Import decodes data and writes it to dst. With replace the directory is
// cleared first; otherwise existing chats are kept.
func Import(ctx context.Context, dst Importer, data []byte, replace bool) (storage.ImportResult, error) {
	snap, err := Decode(data)
	if err != nil {
		return storage.ImportResult{}, err
	}
	chats := make([]storage.Chat, 0, len(snap.SubscribedChats))
	for _, r := range snap.SubscribedChats {
		chats = append(chats, r.chat())
	}
	return dst.ImportChats(ctx, chats, replace)
}

// Filename is the attachment name for an export taken at t.
func Filename(t time.Time) string {
	return "ixbr_bot_backup_" + t.Format("20060102_150405") + ".json"
}

func recordFromChat(c storage.Chat) ChatRecord {
	active := Flag(c.Active)
	r := ChatRecord{
		ChatID:       c.ID,
		ChatType:     c.Type,
		ChatTitle:    optional(c.Title),
		IsActive:     &active,
		QuietHoursTZ: quiet.NormalizeZone(c.Quiet.Zone),
	}
	if !c.SubscribedAt.IsZero() {
		r.SubscribedAt = c.SubscribedAt.UTC().Format(time.RFC3339)
	}
	if c.Quiet.Configured() {
		r.QuietHoursStart = optional(c.Quiet.Start)
		r.QuietHoursEnd = optional(c.Quiet.End)
	}
	return r
}

func (r ChatRecord) chat() storage.Chat {
	c := storage.Chat{
		ID:     r.ChatID,
		Type:   r.ChatType,
		Active: r.IsActive == nil || bool(*r.IsActive),
		Quiet: quiet.Window{
			Start: deref(r.QuietHoursStart),
			End:   deref(r.QuietHoursEnd),
			Zone:  quiet.NormalizeZone(r.QuietHoursTZ),
		},
		Title: deref(r.ChatTitle),
	}
	c.SubscribedAt = parseLoose(r.SubscribedAt)
	return c
}

// parseLoose reads the timestamp forms found in exports; unknown forms
// yield the zero time and the importer substitutes now.
func parseLoose(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
