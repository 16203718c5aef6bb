package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"ixbrbot/internal/quiet"
	logx "ixbrbot/pkg/logx"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func openTest(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	clk := &fakeClock{t: time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)}
	st.now = clk.now
	return st, clk
}

func TestDeliveryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	if _, ok, err := st.GetDelivery(ctx, "g1", 10); err != nil || ok {
		t.Fatalf("empty ledger: ok=%v err=%v", ok, err)
	}
	if err := st.PutDelivery(ctx, Delivery{GUID: "g1", ChatID: 10, MessageID: 77, ContentHash: "h1", Title: "T"}); err != nil {
		t.Fatalf("PutDelivery: %v", err)
	}
	d, ok, err := st.GetDelivery(ctx, "g1", 10)
	if err != nil || !ok {
		t.Fatalf("GetDelivery: ok=%v err=%v", ok, err)
	}
	if d.MessageID != 77 || d.ContentHash != "h1" || d.Status != StatusSent || d.Origin != OriginDirect {
		t.Fatalf("delivery = %+v", d)
	}
	if !d.SentAt.Equal(clk.t) || !d.UpdatedAt.IsZero() {
		t.Fatalf("times = %v / %v", d.SentAt, d.UpdatedAt)
	}

	clk.t = clk.t.Add(time.Minute)
	if err := st.UpdateDelivery(ctx, "g1", 10, "h2", "T2"); err != nil {
		t.Fatalf("UpdateDelivery: %v", err)
	}
	d, _, _ = st.GetDelivery(ctx, "g1", 10)
	if d.ContentHash != "h2" || d.Title != "T2" || !d.UpdatedAt.Equal(clk.t) {
		t.Fatalf("after edit = %+v", d)
	}
	if err := st.UpdateDelivery(ctx, "missing", 10, "h", ""); err != ErrNotFound {
		t.Fatalf("UpdateDelivery(missing) = %v", err)
	}

	// replace keeps one row per (guid, chat)
	if err := st.PutDelivery(ctx, Delivery{GUID: "g1", ChatID: 10, ContentHash: FingerprintPendingSummary, Origin: OriginPendingSummary}); err != nil {
		t.Fatalf("PutDelivery replace: %v", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil || stats.TotalMessagesSent != 1 {
		t.Fatalf("stats = %+v err=%v", stats, err)
	}
	d, _, _ = st.GetDelivery(ctx, "g1", 10)
	if d.Editable() || !d.Origin.FromQuietFlush() || !IsSentinelFingerprint(d.ContentHash) {
		t.Fatalf("summary row = %+v", d)
	}
	if err := st.RebaselineDelivery(ctx, "g1", 10, "real"); err != nil {
		t.Fatalf("RebaselineDelivery: %v", err)
	}
	d, _, _ = st.GetDelivery(ctx, "g1", 10)
	if d.ContentHash != "real" || d.Origin != OriginPendingSummary {
		t.Fatalf("rebaselined = %+v", d)
	}
}

func TestPendingQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	for i, guid := range []string{"b", "a", "c"} {
		clk.t = clk.t.Add(time.Second)
		added, err := st.AddPending(ctx, Pending{GUID: guid, ChatID: 5, Text: "txt " + guid, Title: guid})
		if err != nil || !added {
			t.Fatalf("AddPending #%d: added=%v err=%v", i, added, err)
		}
	}
	added, err := st.AddPending(ctx, Pending{GUID: "a", ChatID: 5, Text: "dup"})
	if err != nil || added {
		t.Fatalf("duplicate AddPending: added=%v err=%v", added, err)
	}

	items, err := st.ListPending(ctx, 5)
	if err != nil || len(items) != 3 {
		t.Fatalf("ListPending = %d items, err=%v", len(items), err)
	}
	if items[0].GUID != "b" || items[2].GUID != "c" || items[1].Text != "txt a" {
		t.Fatalf("order = %+v", items)
	}

	// an item queued after the read survives the clear
	_, _ = st.AddPending(ctx, Pending{GUID: "d", ChatID: 5, Text: "late"})
	n, err := st.ClearPending(ctx, 5, items[len(items)-1].ID)
	if err != nil || n != 3 {
		t.Fatalf("ClearPending = %d, %v", n, err)
	}
	if left, _ := st.PendingCount(ctx, 5); left != 1 {
		t.Fatalf("pending left = %d", left)
	}
}

func TestSweeps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	old := clk.t.Add(-20 * 24 * time.Hour)
	_ = st.PutDelivery(ctx, Delivery{GUID: "old", ChatID: 1, ContentHash: "h", SentAt: old})
	_ = st.PutDelivery(ctx, Delivery{GUID: "new", ChatID: 1, ContentHash: "h"})
	_, _ = st.AddPending(ctx, Pending{GUID: "old", ChatID: 1, Text: "x", CreatedAt: old})

	cutoff := clk.t.Add(-14 * 24 * time.Hour)
	if n, err := st.SweepDeliveries(ctx, cutoff); err != nil || n != 1 {
		t.Fatalf("SweepDeliveries = %d, %v", n, err)
	}
	if n, err := st.SweepPending(ctx, cutoff); err != nil || n != 1 {
		t.Fatalf("SweepPending = %d, %v", n, err)
	}
	if _, ok, _ := st.GetDelivery(ctx, "new", 1); !ok {
		t.Fatalf("recent delivery swept")
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	isNew, err := st.Subscribe(ctx, -100, "group", "NOC")
	if err != nil || !isNew {
		t.Fatalf("first Subscribe = %v, %v", isNew, err)
	}
	if isNew, _ = st.Subscribe(ctx, -100, "group", "NOC"); isNew {
		t.Fatalf("second Subscribe should not be new")
	}
	if ok, _ := st.Unsubscribe(ctx, -100); !ok {
		t.Fatalf("Unsubscribe should report active chat")
	}
	if ok, _ := st.Unsubscribe(ctx, -100); ok {
		t.Fatalf("second Unsubscribe should report false")
	}
	if sub, _ := st.IsSubscribed(ctx, -100); sub {
		t.Fatalf("chat should be inactive")
	}

	clk.t = clk.t.Add(time.Hour)
	if isNew, _ = st.Subscribe(ctx, -100, "group", "NOC 2"); !isNew {
		t.Fatalf("reactivation counts as new")
	}
	c, err := st.GetChat(ctx, -100)
	if err != nil || c.Title != "NOC 2" || !c.SubscribedAt.Equal(clk.t) || !c.Active {
		t.Fatalf("chat = %+v err=%v", c, err)
	}
}

func TestQuietHoursStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTest(t)

	if ok, _ := st.SetQuietHours(ctx, 7, quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}); ok {
		t.Fatalf("unknown chat should not update")
	}
	_, _ = st.Subscribe(ctx, 7, "private", "ana")
	if ok, err := st.SetQuietHours(ctx, 7, quiet.Window{Start: "22:00", End: "07:00", Zone: "brt"}); !ok || err != nil {
		t.Fatalf("SetQuietHours = %v, %v", ok, err)
	}
	w, ok, err := st.QuietHours(ctx, 7)
	if err != nil || !ok || w != (quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}) {
		t.Fatalf("QuietHours = %+v ok=%v err=%v", w, ok, err)
	}

	_, _ = st.SetQuietHours(ctx, 7, quiet.Window{})
	if _, ok, _ := st.QuietHours(ctx, 7); ok {
		t.Fatalf("cleared window still reported")
	}

	active, err := st.ListActive(ctx)
	if err != nil || len(active) != 1 || active[0].Quiet.Zone != "UTC" {
		t.Fatalf("ListActive = %+v err=%v", active, err)
	}
}

func TestImportChats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTest(t)

	_, _ = st.Subscribe(ctx, 1, "private", "existing")
	in := []Chat{
		{ID: 1, Type: "private", Title: "from backup", Active: true},
		{ID: 2, Title: "no type", Active: true, Quiet: quiet.Window{Start: "23:00", End: "06:00", Zone: "AMT"}},
		{ID: 0, Title: "broken"},
		{ID: 3, Type: "group", Active: false},
	}

	res, err := st.ImportChats(ctx, in, false)
	if err != nil {
		t.Fatalf("merge import: %v", err)
	}
	want := ImportResult{Imported: 2, Skipped: 1, Errors: 1, TotalInBackup: 4}
	if res != want {
		t.Fatalf("merge result = %+v, want %+v", res, want)
	}
	c, _ := st.GetChat(ctx, 2)
	if c.Type != "unknown" || c.Quiet.Zone != "AMT" || c.Quiet.Start != "23:00" {
		t.Fatalf("imported chat = %+v", c)
	}
	c, _ = st.GetChat(ctx, 1)
	if c.Title != "existing" {
		t.Fatalf("merge overwrote existing chat: %+v", c)
	}

	res, err = st.ImportChats(ctx, in[:1], true)
	if err != nil || res.Imported != 1 {
		t.Fatalf("replace import = %+v, %v", res, err)
	}
	all, _ := st.AllChats(ctx)
	if len(all) != 1 || all[0].Title != "from backup" {
		t.Fatalf("after replace = %+v", all)
	}
}

func TestCommandLog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	_ = st.LogCommand(ctx, 9, "start")
	clk.t = clk.t.Add(2 * time.Minute)
	_ = st.LogCommand(ctx, 9, "status")

	if n, _ := st.CommandCount(ctx, 9, time.Minute); n != 1 {
		t.Fatalf("CommandCount = %d", n)
	}
	if n, _ := st.SweepCommandLog(ctx, time.Minute); n != 1 {
		t.Fatalf("SweepCommandLog = %d", n)
	}
}

func TestPendingRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, clk := openTest(t)

	if _, err := st.AddPending(ctx, Pending{GUID: "g", ChatID: 3, Text: "v1", ContentHash: "h1"}); err != nil {
		t.Fatalf("AddPending: %v", err)
	}
	clk.t = clk.t.Add(time.Hour)
	cases := []struct {
		text, hash  string
		wantChanged bool
		wantText    string
	}{
		{text: "v1 again", hash: "h1", wantChanged: false, wantText: "v1"},
		{text: "v2", hash: "h2", wantChanged: true, wantText: "v2"},
	}
	for _, tc := range cases {
		changed, err := st.AddPending(ctx, Pending{GUID: "g", ChatID: 3, Text: tc.text, ContentHash: tc.hash})
		if err != nil || changed != tc.wantChanged {
			t.Fatalf("AddPending(%s) changed=%v err=%v", tc.hash, changed, err)
		}
		items, _ := st.ListPending(ctx, 3)
		if len(items) != 1 || items[0].Text != tc.wantText {
			t.Fatalf("after %s queue = %+v", tc.hash, items)
		}
		if !items[0].CreatedAt.Equal(time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)) {
			t.Fatalf("refresh moved the item: %v", items[0].CreatedAt)
		}
	}

	for _, tc := range []struct {
		guid string
		chat int64
		want bool
	}{{"g", 3, true}, {"g", 4, false}, {"other", 3, false}} {
		if got, err := st.HasPending(ctx, tc.guid, tc.chat); err != nil || got != tc.want {
			t.Fatalf("HasPending(%s, %d) = %v, %v", tc.guid, tc.chat, got, err)
		}
	}
}

func TestPutFlushedDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openTest(t)

	_ = st.PutDelivery(ctx, Delivery{GUID: "direct", ChatID: 1, MessageID: 9, ContentHash: "h"})
	_ = st.PutDelivery(ctx, Delivery{GUID: "failed", ChatID: 1, MessageID: 9, ContentHash: "h", Status: StatusFailed})
	_ = st.PutDelivery(ctx, Delivery{GUID: "flushed", ChatID: 1, ContentHash: FingerprintPendingSummary, Origin: OriginPendingSummary})

	cases := []struct {
		guid        string
		wantWritten bool
		wantOrigin  Origin
	}{
		{guid: "direct", wantWritten: false, wantOrigin: OriginDirect},
		{guid: "failed", wantWritten: true, wantOrigin: OriginPendingDelivered},
		{guid: "flushed", wantWritten: true, wantOrigin: OriginPendingDelivered},
		{guid: "new", wantWritten: true, wantOrigin: OriginPendingDelivered},
	}
	for _, tc := range cases {
		written, err := st.PutFlushedDelivery(ctx, Delivery{
			GUID: tc.guid, ChatID: 1, MessageID: 20, ContentHash: FingerprintPendingDelivered,
			DeliveredHash: "queued", Origin: OriginPendingDelivered,
		})
		if err != nil || written != tc.wantWritten {
			t.Fatalf("%s: written=%v err=%v", tc.guid, written, err)
		}
		d, ok, _ := st.GetDelivery(ctx, tc.guid, 1)
		if !ok || d.Origin != tc.wantOrigin {
			t.Fatalf("%s: row = %+v", tc.guid, d)
		}
		if tc.wantWritten && (d.DeliveredHash != "queued" || d.MessageID != 20 || d.Status != StatusSent) {
			t.Fatalf("%s: flushed row = %+v", tc.guid, d)
		}
	}
}

func TestOpenAddsDeliveredHashColumn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.Exec(`CREATE TABLE sent_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_guid TEXT NOT NULL,
		chat_id INTEGER NOT NULL,
		telegram_message_id INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		message_title TEXT,
		delivery_status TEXT NOT NULL DEFAULT 'sent',
		origin TEXT NOT NULL DEFAULT 'direct',
		sent_at TEXT NOT NULL,
		updated_at TEXT,
		UNIQUE(message_guid, chat_id))`)
	if err == nil {
		_, err = db.Exec(`INSERT INTO sent_messages (message_guid, chat_id, content_hash, sent_at) VALUES ('g', 1, 'h', '2026-05-01T00:00:00.000Z')`)
	}
	_ = db.Close()
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	d, ok, err := st.GetDelivery(ctx, "g", 1)
	if err != nil || !ok || d.ContentHash != "h" || d.DeliveredHash != "" {
		t.Fatalf("old row = %+v ok=%v err=%v", d, ok, err)
	}
	if _, err := st.PutFlushedDelivery(ctx, Delivery{GUID: "n", ChatID: 1, ContentHash: FingerprintPendingSummary, DeliveredHash: "x", Origin: OriginPendingSummary}); err != nil {
		t.Fatalf("PutFlushedDelivery on upgraded schema: %v", err)
	}
}
