package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdateDocument UpdateKind = "document"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSuperGroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

type Message struct {
	ID           int
	ChatID       int64
	ChatType     ChatType
	ChatTitle    string // group title, or the user's name for private chats
	ThreadID     int    // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	Document     *Document
}

func (m *Message) IsGroup() bool {
	return m != nil && (m.ChatType == ChatGroup || m.ChatType == ChatSuperGroup)
}

// Document is an uploaded file attached to a message.
type Document struct {
	FileID   string
	FileName string
	MIME     string
	Size     int64
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ChatType  ChatType
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is one inline keyboard button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       [][]Button
}

// HTML is the common option set for rendered notifications.
func HTML() *SendOptions { return &SendOptions{ParseMode: "HTML"} }

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	SendDocument(ctx context.Context, to ChatTarget, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
