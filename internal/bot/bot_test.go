package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ixbrbot/internal/feed"
	"ixbrbot/internal/pipeline"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
)

type sent struct {
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []sent
	edits  []sent
	docs   map[string][]byte
	cap    string
	files  map[string][]byte
	nextID int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{docs: map[string][]byte{}, files: map[string][]byte{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sent{text, opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{text, opt})
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendDocument(_ context.Context, _ kit.ChatTarget, name string, data []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[name] = data
	f.cap = caption
	return nil
}

func (f *fakeAdapter) DownloadFile(_ context.Context, fileID string, _ int64) ([]byte, error) {
	return f.files[fileID], nil
}

func (f *fakeAdapter) IsChatAdmin(context.Context, int64, int64) (bool, error) { return true, nil }

func (f *fakeAdapter) lastSent(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeAdapter) lastEdit(t *testing.T) sent {
	t.Helper()
	if len(f.edits) == 0 {
		t.Fatalf("nothing edited")
	}
	return f.edits[len(f.edits)-1]
}

type fakeProber struct{ res feed.ProbeResult }

func (p fakeProber) Probe(context.Context) feed.ProbeResult { return p.res }

type fakeMonitor struct{ st pipeline.Status }

func (m fakeMonitor) Status() pipeline.Status { return m.st }

type fakeAdmins int

func (a fakeAdmins) AdminCount() int { return int(a) }

type fixture struct {
	bot   *Bot
	store *storage.Store
	ad    *fakeAdapter
}

func newFixture(t *testing.T, probe feed.ProbeResult) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	b := New(Options{
		Store:  st,
		Prober: fakeProber{probe},
		Monitor: fakeMonitor{pipeline.Status{
			Feed:       feed.Health{ConsecutiveFailures: 2},
			Interval:   5 * time.Minute,
			MaxAgeDays: 7,
		}},
		Admins: fakeAdmins(2),
		Now:    func() time.Time { return time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC) },
	})
	b.SetSettings(Settings{RatePerMinute: 5})
	return &fixture{bot: b, store: st, ad: newFakeAdapter()}
}

func (f *fixture) req(chatID int64, args ...string) *router.Request {
	return &router.Request{
		Update:   kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, ChatType: kit.ChatPrivate}},
		Chat:     kit.ChatTarget{ChatID: chatID},
		ChatType: kit.ChatPrivate,
		FromID:   chatID,
		Args:     args,
		Adapter:  f.ad,
		Logger:   logx.Nop(),
	}
}

func (f *fixture) callback(chatID int64, payload string) *router.Request {
	r := f.req(chatID)
	r.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ChatID: chatID, Data: quietPrefix + ":" + payload}}
	r.Payload = payload
	r.MessageID = 77
	return r
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()

	steps := []struct {
		run  func(context.Context, *router.Request) error
		want string
	}{
		{f.bot.cmdStart, textSubscribed},
		{f.bot.cmdStart, textAlreadySubscribed},
		{f.bot.cmdStop, textUnsubscribed},
		{f.bot.cmdStop, textNotSubscribed},
		{f.bot.cmdStart, textSubscribed},
	}
	for i, s := range steps {
		if err := s.run(ctx, f.req(10)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := f.ad.lastSent(t); got != s.want {
			t.Fatalf("step %d reply = %q", i, got)
		}
	}
	c, err := f.store.GetChat(ctx, 10)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if c.Title != "Chat 10" || c.Type != "private" || !c.Active {
		t.Fatalf("chat = %+v", c)
	}
}

func TestQuietCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()
	if err := f.bot.cmdStart(ctx, f.req(1)); err != nil {
		t.Fatalf("start: %v", err)
	}

	tests := []struct {
		args   []string
		prefix string
		window quiet.Window
	}{
		{[]string{"brt", "22:00", "7:00"}, "Horario de silencio configurado!", quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}},
		{[]string{"XYZ", "22:00", "07:00"}, "Timezone invalido: XYZ\nOpcoes validas: UTC, BRT, AMT, ACT, FNT", quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}},
		{[]string{"25:00", "07:00"}, textBadClock, quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}},
		{[]string{"22:00"}, "Uso:\n", quiet.Window{Start: "22:00", End: "07:00", Zone: "BRT"}},
		{[]string{"23:30", "06:00"}, "Horario de silencio configurado!", quiet.Window{Start: "23:30", End: "06:00", Zone: "UTC"}},
		{[]string{"OFF"}, textQuietOff, quiet.Window{}},
	}
	for _, tt := range tests {
		if err := f.bot.cmdQuiet(ctx, f.req(1, tt.args...)); err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if got := f.ad.lastSent(t); !strings.HasPrefix(got, tt.prefix) {
			t.Fatalf("%v: reply = %q", tt.args, got)
		}
		w, _, err := f.store.QuietHours(ctx, 1)
		if err != nil {
			t.Fatalf("QuietHours: %v", err)
		}
		if w.Start != tt.window.Start || w.End != tt.window.End || (tt.window.Zone != "" && w.Zone != tt.window.Zone) {
			t.Fatalf("%v: stored %+v", tt.args, w)
		}
	}
}

func TestQuietRequiresSubscription(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	if err := f.bot.cmdQuiet(context.Background(), f.req(2, "22:00", "07:00")); err != nil {
		t.Fatalf("cmdQuiet: %v", err)
	}
	if got := f.ad.lastSent(t); got != textQuietNeedsSubscription {
		t.Fatalf("reply = %q", got)
	}
}

func TestQuietMenuAndCallbacks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()
	if err := f.bot.cmdStart(ctx, f.req(3)); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.bot.cmdQuiet(ctx, f.req(3)); err != nil {
		t.Fatalf("menu: %v", err)
	}
	menu := f.ad.sent[len(f.ad.sent)-1]
	if !strings.HasPrefix(menu.text, "<b>Horario de silencio: Desativado</b>") {
		t.Fatalf("menu text = %q", menu.text)
	}
	kb := menu.opt.Keyboard
	if len(kb) != 4 || kb[0][0].Data != "quiet:BRT:22:00:07:00" || kb[2][0].Data != "quiet:tz" || kb[3][0].Data != "quiet:off" {
		t.Fatalf("menu keyboard = %+v", kb)
	}

	if err := f.bot.cbQuiet(ctx, f.callback(3, "tz")); err != nil {
		t.Fatalf("tz: %v", err)
	}
	e := f.ad.lastEdit(t)
	if e.text != textQuietZones || len(e.opt.Keyboard) != 6 || e.opt.Keyboard[1][0].Text != "BRT (UTC-3)" || e.opt.Keyboard[5][0].Data != "quiet:back" {
		t.Fatalf("zones edit = %+v", e)
	}

	if err := f.bot.cbQuiet(ctx, f.callback(3, "tzsel:AMT")); err != nil {
		t.Fatalf("tzsel: %v", err)
	}
	e = f.ad.lastEdit(t)
	if !strings.HasPrefix(e.text, "<b>Timezone: AMT</b>") || e.opt.Keyboard[0][1].Data != "quiet:set:AMT:23:00:08:00" || e.opt.Keyboard[2][0].Data != "quiet:tz" {
		t.Fatalf("preset edit = %+v", e)
	}

	for payload, want := range map[string]quiet.Window{
		"set:AMT:23:00:08:00": {Start: "23:00", End: "08:00", Zone: "AMT"},
		"BRT:00:00:06:00":     {Start: "00:00", End: "06:00", Zone: "BRT"},
	} {
		if err := f.bot.cbQuiet(ctx, f.callback(3, payload)); err != nil {
			t.Fatalf("%s: %v", payload, err)
		}
		if e := f.ad.lastEdit(t); !strings.HasPrefix(e.text, "<b>Horario de silencio configurado!</b>") {
			t.Fatalf("%s: edit = %q", payload, e.text)
		}
		w, _, _ := f.store.QuietHours(ctx, 3)
		if w != want {
			t.Fatalf("%s: stored %+v", payload, w)
		}
	}

	if err := f.bot.cbQuiet(ctx, f.callback(3, "back")); err != nil {
		t.Fatalf("back: %v", err)
	}
	if e := f.ad.lastEdit(t); !strings.HasPrefix(e.text, "<b>Configuracao atual:</b>\nInicio: 00:00 | Fim: 06:00\nTimezone: BRT") {
		t.Fatalf("back edit = %q", e.text)
	}

	edits := len(f.ad.edits)
	for _, bad := range []string{"tzsel:PST", "XYZ:22:00:07:00", "BRT:99:00:07:00", "garbage"} {
		if err := f.bot.cbQuiet(ctx, f.callback(3, bad)); err != nil {
			t.Fatalf("%s: %v", bad, err)
		}
	}
	if len(f.ad.edits) != edits {
		t.Fatalf("malformed callbacks should not edit")
	}

	if err := f.bot.cbQuiet(ctx, f.callback(3, "off")); err != nil {
		t.Fatalf("off: %v", err)
	}
	if _, ok, _ := f.store.QuietHours(ctx, 3); ok {
		t.Fatalf("quiet hours still set after off")
	}
}

func TestStatusEditsPlaceholder(t *testing.T) {
	t.Parallel()
	title := strings.Repeat("Manutencao programada ", 4)
	f := newFixture(t, feed.ProbeResult{
		Reachable:    true,
		TotalEntries: 3,
		LastTitle:    title,
		LastDate:     time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC),
	})
	ctx := context.Background()
	_ = f.bot.cmdStart(ctx, f.req(4))
	_ = f.bot.cmdQuiet(ctx, f.req(4, "BRT", "22:00", "07:00"))
	_, _ = f.store.AddPending(ctx, storage.Pending{GUID: "g1", ChatID: 4, Text: "t", ContentHash: "h"})

	if err := f.bot.cmdStatus(ctx, f.req(4)); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := f.ad.lastSent(t); got != textChecking {
		t.Fatalf("placeholder = %q", got)
	}
	e := f.ad.lastEdit(t).text
	for _, want := range []string{
		"Feed RSS (status.ix.br): <b>Acessivel</b>",
		"<b>Ultimo post:</b> 01/03/2026 as 14:05",
		"<i>" + title[:60] + "...</i>",
		"Este chat: <b>Inscrito</b>",
		"Horario de silencio: 22:00 - 07:00 (BRT)",
		"Notificacoes aguardando: <b>1</b>",
	} {
		if !strings.Contains(e, want) {
			t.Fatalf("status missing %q:\n%s", want, e)
		}
	}
}

func TestRenderStatusUnreachable(t *testing.T) {
	t.Parallel()
	out := renderStatus(feed.ProbeResult{Error: "dial tcp <nil>: " + strings.Repeat("x", 200)}, false, nil, 0)
	if strings.Contains(out, "aguardando") {
		t.Fatalf("empty backlog rendered:\n%s", out)
	}
	for _, want := range []string{
		"Feed RSS (status.ix.br): <b>Inacessivel</b>",
		"  Erro: dial tcp &lt;nil&gt;: ",
		"Ultimo post: <i>Nao disponivel</i>",
		"Este chat: <b>Nao inscrito</b>",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Horario de silencio") || strings.Contains(out, strings.Repeat("x", 90)) {
		t.Fatalf("unexpected content:\n%s", out)
	}
}

func TestHelpAdminSection(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()

	_ = f.bot.cmdHelp(ctx, f.req(5))
	if strings.Contains(f.ad.lastSent(t), "Comandos de admin") {
		t.Fatalf("non-admin got admin section")
	}
	r := f.req(5)
	r.BotAdmin = true
	_ = f.bot.cmdHelp(ctx, r)
	if got := f.ad.lastSent(t); got != textHelp+textHelpAdmin {
		t.Fatalf("admin help = %q", got)
	}
}

func TestBackupAndRestore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()
	for _, id := range []int64{20, 21} {
		_ = f.bot.cmdStart(ctx, f.req(id))
	}
	_ = f.bot.cmdStop(ctx, f.req(21))

	if err := f.bot.cmdBackup(ctx, f.req(99)); err != nil {
		t.Fatalf("backup: %v", err)
	}
	data := f.ad.docs["ixbr_bot_backup_20260504_030000.json"]
	if len(data) == 0 {
		t.Fatalf("no document sent: %v", f.ad.docs)
	}
	if !strings.Contains(f.ad.cap, "Chats ativos: 1\nTotal de chats: 2") {
		t.Fatalf("caption = %q", f.ad.cap)
	}

	// A replace restore into a directory with an extra chat drops it.
	_ = f.bot.cmdStart(ctx, f.req(22))
	if err := f.bot.cmdRestore(ctx, f.req(99, "replace")); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(f.ad.lastSent(t), "SUBSTITUIR") {
		t.Fatalf("restore reply = %q", f.ad.lastSent(t))
	}

	f.ad.files["good"] = data
	f.ad.files["bad"] = []byte("{not json")
	f.ad.files["empty"] = []byte(`{"version":"1.0"}`)

	upload := func(fileID string, size int64) string {
		r := f.req(99)
		r.Update = kit.Update{Kind: kit.UpdateDocument, Message: &kit.Message{
			ChatID: 99, ChatType: kit.ChatPrivate, FromID: 99,
			Document: &kit.Document{FileID: fileID, MIME: "application/json", Size: size},
		}}
		if err := f.bot.onDocument(ctx, r); err != nil {
			t.Fatalf("upload %s: %v", fileID, err)
		}
		return f.ad.lastSent(t)
	}

	if got := upload("good", int64(len(data))); !strings.Contains(got, "Modo: substituir\nChats no backup: 2\nImportados: 2") {
		t.Fatalf("restore result = %q", got)
	}
	if ok, _ := f.store.IsSubscribed(ctx, 22); ok {
		t.Fatalf("replace restore kept chat 22")
	}
	if ok, _ := f.store.IsSubscribed(ctx, 20); !ok {
		t.Fatalf("chat 20 not restored")
	}

	if got := upload("bad", 10); got != textBackupBadJSON {
		t.Fatalf("bad json reply = %q", got)
	}
	if got := upload("empty", 10); got != textBackupNoChats {
		t.Fatalf("no chats reply = %q", got)
	}
	if got := upload("good", DefaultMaxBackupSize+1); got != "Arquivo muito grande. Maximo permitido: 1.0MB" {
		t.Fatalf("too large reply = %q", got)
	}

	// Merge is the default for admins who never ran /restore.
	_ = f.bot.cmdRestore(ctx, f.req(99))
	if got := upload("good", int64(len(data))); !strings.Contains(got, "Modo: mesclar") || !strings.Contains(got, "Ignorados (ja existiam): 2") {
		t.Fatalf("merge result = %q", got)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{Reachable: true, TotalEntries: 12, LastDate: time.Date(2026, 2, 3, 4, 5, 0, 0, time.UTC)})
	ctx := context.Background()
	_ = f.bot.cmdStart(ctx, f.req(30))
	_ = f.store.LogCommand(ctx, 99, "stats")
	_ = f.store.LogCommand(ctx, 99, "backup")
	_ = f.store.LogCommand(ctx, 30, "start")

	if err := f.bot.cmdStats(ctx, f.req(99)); err != nil {
		t.Fatalf("stats: %v", err)
	}
	got := f.ad.lastSent(t)
	for _, want := range []string{
		"  Ativos: 1",
		"  Total enviadas: 0",
		"  Status: Acessivel",
		"  Entradas no feed: 12",
		"  Comandos neste chat (24h): 2",
		"  Falhas consecutivas: 2",
		"  Intervalo de check: 300s",
		"  Idade max eventos: 7 dias",
		"  Rate limit: 5/min",
		"  Admins: 2",
		"\n\n<b>Ultimo post:</b> 03/02/2026 04:05",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("stats missing %q:\n%s", want, got)
		}
	}
}

func TestOnAcceptedLogsCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	ctx := context.Background()
	r := f.req(40)
	r.Command = "status"
	f.bot.OnAccepted(ctx, r)

	cb := f.callback(40, "tz")
	cb.Command = "cb:quiet"
	f.bot.OnAccepted(ctx, cb)

	n, err := f.store.CommandCount(ctx, 40, time.Hour)
	if err != nil {
		t.Fatalf("CommandCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("command count = %d, want 1", n)
	}
}

func TestRegistryShape(t *testing.T) {
	t.Parallel()
	f := newFixture(t, feed.ProbeResult{})
	m := router.NewCommandManager(f.ad, router.Options{})
	f.bot.Register(m)
	var names []string
	for _, c := range m.MenuCommands() {
		names = append(names, c.Command)
	}
	if got := strings.Join(names, ","); got != "start,stop,status,silencio,help" {
		t.Fatalf("menu = %s", got)
	}
}
