package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "ixbrbot/internal/runtime/supervisor"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessChatAdmin lets anyone run the command in a private chat; elsewhere
	// the sender must be a chat administrator or a bot admin.
	AccessChatAdmin
	// AccessBotAdmin is restricted to the configured admin user ids.
	AccessBotAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden keeps the command out of the Telegram menu.
	Hidden bool
	// Denied overrides Denials.ChatAdmin for this command.
	Denied  string
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles inline buttons whose data is "Prefix:payload".
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// DocumentRoute handles uploaded files.
type DocumentRoute struct {
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	ChatType kit.ChatType
	FromID   int64
	Command  string
	Args     []string
	// Payload is the callback data after the route prefix.
	Payload    string
	CallbackID string
	MessageID  int
	ReqID      string
	BotAdmin   bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Message is the originating message, nil for callbacks.
func (r *Request) Message() *kit.Message { return r.Update.Message }

func (r *Request) IsGroup() bool {
	return r.ChatType == kit.ChatGroup || r.ChatType == kit.ChatSuperGroup
}

func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Denials are the user-facing texts for rejected requests.
type Denials struct {
	Unauthorized string
	ChatAdmin    string
	RateLimited  string
	Busy         string
	Unknown      string
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	RatePerMinute  int
	Admins         []int64
	Denials        Denials
	Logger         logx.Logger
	// OnAccepted runs for every command that passed access and rate checks.
	OnAccepted func(ctx context.Context, req *Request)
}

type CommandManager struct {
	mu        sync.RWMutex
	cmds      map[string]*Command
	alias     map[string]*Command
	order     []*Command
	callbacks map[string]CallbackRoute
	document  *DocumentRoute
	admins    map[int64]struct{}

	opt     Options
	log     logx.Logger
	adapter kit.Adapter
	limiter *chatLimiter

	jobs chan func()
}

func NewCommandManager(adapter kit.Adapter, opt Options) *CommandManager {
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 30 * time.Second
	}
	m := &CommandManager{
		cmds:      map[string]*Command{},
		alias:     map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
		opt:       opt,
		log:       opt.Logger.With(logx.Component("router")),
		adapter:   adapter,
		limiter:   newChatLimiter(opt.RatePerMinute),
		jobs:      make(chan func(), opt.QueueSize),
	}
	m.SetAdmins(opt.Admins)
	return m
}

// SetAdmins replaces the bot admin list. Safe during hot reload.
func (m *CommandManager) SetAdmins(ids []int64) {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	m.admins = set
	m.mu.Unlock()
}

func (m *CommandManager) IsBotAdmin(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.admins[userID]
	return ok
}

func (m *CommandManager) AdminCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.admins)
}

// SetRate changes the per-chat command budget.
func (m *CommandManager) SetRate(perMinute int) { m.limiter.setRate(perMinute) }

// SetRegistry installs commands, callback routes and the document handler.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute, doc *DocumentRoute) {
	byName := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = &c
		order = append(order, &c)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = &c
			}
		}
	}
	routes := map[string]CallbackRoute{}
	for _, r := range cbs {
		if p := strings.TrimSpace(r.Prefix); p != "" && r.Handle != nil {
			routes[p] = r
		}
	}

	m.mu.Lock()
	m.cmds, m.alias, m.order = byName, alias, order
	m.callbacks = routes
	m.document = doc
	m.mu.Unlock()
}

// Commands lists the registry in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, c := range m.order {
		out = append(out, *c)
	}
	return out
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// DispatchLoop routes updates to a bounded worker pool until ctx is done.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	case kit.UpdateDocument:
		m.routeDocument(ctx, up)
	}
}

// parseCommand splits "/cmd@bot a b" into the lowercase command word and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := m.lookup(word)
	if !ok {
		// Groups share the command namespace with other bots.
		if !msg.IsGroup() && m.opt.Denials.Unknown != "" {
			_, _ = m.adapter.SendText(ctx, chat, m.opt.Denials.Unknown, nil)
		}
		return
	}
	req := m.newRequest(up, chat, msg.ChatType, msg.FromID, cmd.Name)
	req.Args = args
	req.MessageID = msg.ID
	d := m.opt.Denials
	if cmd.Denied != "" {
		d.ChatAdmin = cmd.Denied
	}
	m.enqueue(ctx, req, cmd.Access, cmd.Timeout, d, true, cmd.Handle)
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	m.mu.RLock()
	route, ok := m.callbacks[prefix]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.ChatType, cb.FromID, "cb:"+prefix)
	req.Payload = payload
	req.CallbackID = cb.ID
	req.MessageID = cb.MessageID
	m.enqueue(ctx, req, route.Access, route.Timeout, m.opt.Denials, false, route.Handle)
}

func (m *CommandManager) routeDocument(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil || msg.Document == nil {
		return
	}
	m.mu.RLock()
	route := m.document
	m.mu.RUnlock()
	if route == nil || route.Handle == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	req := m.newRequest(up, chat, msg.ChatType, msg.FromID, "document")
	req.MessageID = msg.ID
	// Uploads from non-admins are ignored silently.
	if route.Access == AccessBotAdmin && !req.BotAdmin {
		return
	}
	m.enqueue(ctx, req, route.Access, route.Timeout, m.opt.Denials, false, route.Handle)
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, chatType kit.ChatType, fromID int64, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:   up,
		Chat:     chat,
		ChatType: chatType,
		FromID:   fromID,
		Command:  command,
		ReqID:    rid,
		BotAdmin: m.IsBotAdmin(fromID),
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

// enqueue runs access checks and the middleware chain on a worker.
// Rate limiting applies to commands only; button presses are not throttled.
func (m *CommandManager) enqueue(ctx context.Context, req *Request, access Access, timeout time.Duration, d Denials, limit bool, h HandlerFunc) {
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	mws := []Middleware{
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
		MWAccess(access, m.adapter, d),
	}
	if limit {
		mws = append(mws, MWRateLimit(m.limiter, m.opt.Denials.RateLimited))
	}
	if m.opt.OnAccepted != nil {
		hook := m.opt.OnAccepted
		mws = append(mws, func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				hook(ctx, req)
				return next(ctx, req)
			}
		})
	}
	final := Chain(h, mws...)

	job := func() {
		_ = final(ctx, req)
		if req.CallbackID != "" {
			_ = m.adapter.AnswerCallback(ctx, req.CallbackID, "")
		}
	}
	select {
	case m.jobs <- job:
	default:
		m.log.Warn("command queue full", logx.String("cmd", req.Command))
		if req.CallbackID != "" {
			_ = m.adapter.AnswerCallback(ctx, req.CallbackID, m.opt.Denials.Busy)
		} else if m.opt.Denials.Busy != "" {
			_, _ = m.adapter.SendText(ctx, req.Chat, m.opt.Denials.Busy, nil)
		}
	}
}
