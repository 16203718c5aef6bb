// Package pipeline runs the delivery cycle: fetch, classify, reconcile each
// event against every recipient, flush quiet-window queues and sweep the
// ledger.
//
// Everything in a cycle is sequential. Per (guid, chat) pair there is at most
// one writer, so the ledger needs no locking beyond SQLite's own.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"ixbrbot/internal/event"
	"ixbrbot/internal/feed"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
)

// Ledger is the delivery state the pipeline reads and writes.
type Ledger interface {
	GetDelivery(ctx context.Context, guid string, chatID int64) (storage.Delivery, bool, error)
	PutDelivery(ctx context.Context, d storage.Delivery) error
	PutFlushedDelivery(ctx context.Context, d storage.Delivery) (bool, error)
	UpdateDelivery(ctx context.Context, guid string, chatID int64, hash, title string) error
	RebaselineDelivery(ctx context.Context, guid string, chatID int64, hash string) error
	MarkDeliveryFailed(ctx context.Context, guid string, chatID int64) error

	AddPending(ctx context.Context, p storage.Pending) (bool, error)
	HasPending(ctx context.Context, guid string, chatID int64) (bool, error)
	ListPending(ctx context.Context, chatID int64) ([]storage.Pending, error)
	ClearPending(ctx context.Context, chatID int64, upToID int64) (int64, error)

	SweepDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
	SweepPending(ctx context.Context, cutoff time.Time) (int64, error)
}

// Directory is the recipient list. The pipeline only ever deactivates.
type Directory interface {
	ListActive(ctx context.Context) ([]storage.Chat, error)
	Deactivate(ctx context.Context, chatID int64) (bool, error)
}

type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

type Source interface {
	Fetch(ctx context.Context) ([]event.Raw, error)
	Health() feed.Health
}

// CommandLogSweeper is optional; when the directory implements it the
// monitor trims the command audit log every cycle.
type CommandLogSweeper interface {
	SweepCommandLog(ctx context.Context, maxAge time.Duration) (int64, error)
}

var permanentMarkers = []string{
	"blocked", "deactivated", "not found", "chat not found", "kicked", "forbidden",
}

// IsPermanent reports whether a transport error means the chat can never be
// reached again.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// QuietPolicy resolves a chat's effective window. Chats without their own
// window use the configured fallback, which may be empty.
type QuietPolicy struct {
	mu       sync.RWMutex
	fallback quiet.Window
}

func NewQuietPolicy(fallback quiet.Window) *QuietPolicy {
	return &QuietPolicy{fallback: fallback}
}

func (p *QuietPolicy) SetFallback(w quiet.Window) {
	p.mu.Lock()
	p.fallback = w
	p.mu.Unlock()
}

func (p *QuietPolicy) Window(c storage.Chat) quiet.Window {
	if p == nil {
		return c.Quiet
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return c.Quiet.Or(p.fallback)
}

func (p *QuietPolicy) Quiet(c storage.Chat, now time.Time) bool {
	return p.Window(c).Active(now)
}

// pacer is the flat delay after each outbound message.
type pacer struct {
	mu    sync.RWMutex
	d     time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *pacer) set(d time.Duration) {
	p.mu.Lock()
	p.d = d
	p.mu.Unlock()
}

func (p *pacer) wait(ctx context.Context) {
	p.mu.RLock()
	d := p.d
	p.mu.RUnlock()
	if d <= 0 {
		return
	}
	_ = p.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
