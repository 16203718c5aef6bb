// Package bot implements the chat-facing commands: subscription management,
// status, quiet hours and the admin backup tools.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ixbrbot/internal/feed"
	"ixbrbot/internal/metrics"
	"ixbrbot/internal/pipeline"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	"ixbrbot/internal/transport/telegram/router"
	logx "ixbrbot/pkg/logx"
)

// DefaultMaxBackupSize caps uploaded restore files.
const DefaultMaxBackupSize int64 = 1 << 20

// Directory is the storage slice the commands use.
type Directory interface {
	Subscribe(ctx context.Context, chatID int64, chatType, title string) (bool, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	IsSubscribed(ctx context.Context, chatID int64) (bool, error)
	SetQuietHours(ctx context.Context, chatID int64, w quiet.Window) (bool, error)
	QuietHours(ctx context.Context, chatID int64) (quiet.Window, bool, error)
	LogCommand(ctx context.Context, chatID int64, command string) error
	CommandCount(ctx context.Context, chatID int64, window time.Duration) (int, error)
	PendingCount(ctx context.Context, chatID int64) (int, error)
	Stats(ctx context.Context) (storage.Stats, error)
	AllChats(ctx context.Context) ([]storage.Chat, error)
	ImportChats(ctx context.Context, chats []storage.Chat, replace bool) (storage.ImportResult, error)
}

type Prober interface {
	Probe(ctx context.Context) feed.ProbeResult
}

type StatusSource interface {
	Status() pipeline.Status
}

// Admins reports the configured bot admins.
type Admins interface {
	AdminCount() int
}

// Settings are the reloadable values shown by /stats and used by restores.
type Settings struct {
	RatePerMinute int
	MaxBackupSize int64
}

type Options struct {
	Store   Directory
	Prober  Prober
	Monitor StatusSource
	Admins  Admins
	Logger  logx.Logger
	Now     func() time.Time
}

type Bot struct {
	store   Directory
	prober  Prober
	monitor StatusSource
	admins  Admins
	log     logx.Logger
	now     func() time.Time

	settings atomic.Pointer[Settings]

	mu sync.Mutex
	// restoreReplace holds the mode chosen by /restore, per admin user.
	restoreReplace map[int64]bool
}

func New(opt Options) *Bot {
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	b := &Bot{
		store:          opt.Store,
		prober:         opt.Prober,
		monitor:        opt.Monitor,
		admins:         opt.Admins,
		log:            opt.Logger.With(logx.Component("bot")),
		now:            opt.Now,
		restoreReplace: map[int64]bool{},
	}
	b.SetSettings(Settings{})
	return b
}

func (b *Bot) SetSettings(s Settings) {
	if s.MaxBackupSize <= 0 {
		s.MaxBackupSize = DefaultMaxBackupSize
	}
	b.settings.Store(&s)
}

func (b *Bot) current() Settings { return *b.settings.Load() }

// Denials are the router texts for rejected requests.
func Denials() router.Denials {
	return router.Denials{
		Unauthorized: textAdminOnly,
		ChatAdmin:    textChatAdminStart,
		RateLimited:  textRateLimited,
		Busy:         textBusy,
	}
}

// Commands returns the registry in menu order.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "Iniciar recebimento de notificacoes", Access: router.AccessChatAdmin, Denied: textChatAdminStart, Handle: b.cmdStart},
		{Name: "stop", Description: "Parar de receber notificacoes", Access: router.AccessChatAdmin, Denied: textChatAdminStop, Handle: b.cmdStop},
		{Name: "status", Description: "Verificar status do bot e do feed", Handle: b.cmdStatus},
		{Name: "silencio", Description: "Configurar horario de silencio", Usage: "/silencio [off | [TZ] HH:MM HH:MM]", Access: router.AccessChatAdmin, Denied: textChatAdminQuiet, Handle: b.cmdQuiet},
		{Name: "help", Description: "Mostrar ajuda e informacoes", Handle: b.cmdHelp},
		{Name: "backup", Description: "Exportar backup dos chats", Access: router.AccessBotAdmin, Timeout: 2 * time.Minute, Handle: b.cmdBackup},
		{Name: "restore", Description: "Restaurar backup", Usage: "/restore [replace]", Access: router.AccessBotAdmin, Handle: b.cmdRestore},
		{Name: "stats", Description: "Estatisticas detalhadas", Access: router.AccessBotAdmin, Handle: b.cmdStats},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{Prefix: quietPrefix, Access: router.AccessChatAdmin, Handle: b.cbQuiet}}
}

func (b *Bot) Document() *router.DocumentRoute {
	return &router.DocumentRoute{Access: router.AccessBotAdmin, Timeout: 2 * time.Minute, Handle: b.onDocument}
}

// Register installs every route on m.
func (b *Bot) Register(m *router.CommandManager) {
	m.SetRegistry(b.Commands(), b.Callbacks(), b.Document())
}

// OnAccepted audits accepted commands.
func (b *Bot) OnAccepted(ctx context.Context, req *router.Request) {
	if req.Update.Kind != kit.UpdateMessage {
		return
	}
	metrics.CommandsTotal.WithLabelValues(req.Command).Inc()
	if err := b.store.LogCommand(ctx, req.Chat.ChatID, req.Command); err != nil {
		req.Logger.Warn("command log write failed", logx.Err(err))
	}
}

func (b *Bot) setRestoreMode(userID int64, replace bool) {
	b.mu.Lock()
	b.restoreReplace[userID] = replace
	b.mu.Unlock()
}

func (b *Bot) restoreMode(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restoreReplace[userID]
}

func htmlNoPreview() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}

func htmlKeyboard(rows [][]kit.Button) *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", Keyboard: rows}
}
