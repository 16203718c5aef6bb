package backup

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := openStore(t)
	_, _ = src.Subscribe(ctx, 1, "private", "ana")
	_, _ = src.Subscribe(ctx, -100, "supergroup", "NOC")
	_, _ = src.SetQuietHours(ctx, -100, quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"})
	_, _ = src.Subscribe(ctx, 2, "private", "gone")
	_, _ = src.Unsubscribe(ctx, 2)

	now := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)
	snap, err := Export(ctx, src, now)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snap.Version != Version || len(snap.SubscribedChats) != 3 || snap.Stats.ActiveChats != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	data, err := Encode(snap)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dst := openStore(t)
	res, err := Import(ctx, dst, data, false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Imported != 3 || res.TotalInBackup != 3 {
		t.Fatalf("import result = %+v", res)
	}
	c, err := dst.GetChat(ctx, -100)
	if err != nil || c.Quiet != (quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}) || c.Title != "NOC" {
		t.Fatalf("restored chat = %+v err=%v", c, err)
	}
	if sub, _ := dst.IsSubscribed(ctx, 2); sub {
		t.Fatalf("inactive chat restored as active")
	}
}

func TestImportLegacyDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dst := openStore(t)
	_, _ = dst.Subscribe(ctx, 5, "private", "already here")

	doc := `{
	  "version": "1.0",
	  "exported_at": "2026-01-02T03:04:05.123456",
	  "subscribed_chats": [
	    {"chat_id": 5, "chat_type": "private"},
	    {"chat_id": 6, "chat_title": null, "subscribed_at": "2026-01-01 10:00:00", "is_active": 1, "quiet_hours_tz": "amt"},
	    {"chat_id": 7, "is_active": 0},
	    {"chat_type": "group"}
	  ]
	}`
	res, err := Import(ctx, dst, []byte(doc), false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := storage.ImportResult{Imported: 2, Skipped: 1, Errors: 1, TotalInBackup: 4}
	if res != want {
		t.Fatalf("result = %+v, want %+v", res, want)
	}
	c, _ := dst.GetChat(ctx, 6)
	if c.Type != "unknown" || !c.Active || c.Quiet.Zone != "AMT" {
		t.Fatalf("chat 6 = %+v", c)
	}
	if !c.SubscribedAt.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("subscribed_at = %v", c.SubscribedAt)
	}
	if sub, _ := dst.IsSubscribed(ctx, 7); sub {
		t.Fatalf("is_active 0 imported as active")
	}
}

func TestDecodeRejectsForeignDocuments(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{`{"version":"1.0"}`, `{"subscribed_chats": null}`, `[1,2]`, `not json`} {
		if _, err := Decode([]byte(doc)); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Decode(%s) = %v, want ErrInvalid", doc, err)
		}
	}
	if snap, err := Decode([]byte(`{"subscribed_chats": []}`)); err != nil || len(snap.SubscribedChats) != 0 {
		t.Fatalf("empty list should decode: %v", err)
	}
}

func TestFlag(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{`true`, true}, {`false`, false}, {`1`, true}, {`0`, false}, {`"1"`, true}, {`"false"`, false},
	}
	for _, tt := range tests {
		var f Flag
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil || bool(f) != tt.want {
			t.Fatalf("Flag(%s) = %v, %v", tt.in, f, err)
		}
	}
	var f Flag
	if err := json.Unmarshal([]byte(`"yes please"`), &f); err == nil {
		t.Fatalf("expected error for non-boolean")
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()
	got := Filename(time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC))
	if got != "ixbr_bot_backup_20260504_030201.json" {
		t.Fatalf("Filename = %q", got)
	}
}

type fakeDocs struct {
	to      kit.ChatTarget
	name    string
	data    []byte
	caption string
	err     error
}

func (f *fakeDocs) SendDocument(_ context.Context, to kit.ChatTarget, name string, data []byte, caption string) error {
	if f.err != nil {
		return f.err
	}
	f.to, f.name, f.data, f.caption = to, name, data, caption
	return nil
}

func TestSchedulerRunOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	_, _ = st.Subscribe(ctx, 1, "private", "ana")

	out := &fakeDocs{}
	s := NewScheduler(ScheduleConfig{Enabled: true, ChatID: -42, Spec: DefaultSchedule}, st, out, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC) }

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if out.to.ChatID != -42 || out.name != "ixbr_bot_backup_20260504_030000.json" {
		t.Fatalf("sent %+v %q", out.to, out.name)
	}
	if !strings.Contains(out.caption, "Chats ativos: 1") || !strings.Contains(out.caption, "Data: 04/05/2026 03:00") {
		t.Fatalf("caption = %q", out.caption)
	}
	if _, err := Decode(out.data); err != nil {
		t.Fatalf("sent document does not decode: %v", err)
	}

	out.err = errors.New("network down")
	if err := s.RunOnce(ctx); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	s := NewScheduler(ScheduleConfig{Enabled: true, ChatID: 1, Spec: "@every 1h", Timezone: "America/Sao_Paulo"}, st, &fakeDocs{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Apply(ScheduleConfig{Enabled: true, ChatID: 1, Spec: "not a spec"}); err == nil {
		t.Fatalf("Apply should reject a bad spec")
	}
	if err := s.Apply(ScheduleConfig{Enabled: true, ChatID: 1, Spec: "0 4 * * *"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"0 3 * * *", "30 0 3 * * *", "@daily"} {
		if err := ValidateSchedule(ok); err != nil {
			t.Fatalf("ValidateSchedule(%q) = %v", ok, err)
		}
	}
	if err := ValidateSchedule("every day"); err == nil {
		t.Fatalf("expected error")
	}
}
