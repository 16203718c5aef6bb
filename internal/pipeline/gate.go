package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ixbrbot/internal/metrics"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
	"ixbrbot/pkg/tgui"
)

const (
	summaryMaxTitles    = 5
	summaryMaxTitleRune = 50
	summaryEmptyTitle   = "Evento"
)

// FlushResult describes one recipient's flush.
type FlushResult struct {
	ChatID  int64
	Pending int
	Summary bool
	Action  Action // ActionSkip when nothing was queued
	Err     error
}

// Gate replays queued notifications once a recipient leaves its quiet window.
type Gate struct {
	ledger    Ledger
	dir       Directory
	tx        Transport
	quiet     *QuietPolicy
	log       logx.Logger
	now       func() time.Time
	pace      *pacer
	statusURL string
}

func NewGate(d Deps, statusURL string) *Gate {
	d.fill()
	return &Gate{
		ledger:    d.Ledger,
		dir:       d.Directory,
		tx:        d.Transport,
		quiet:     d.Quiet,
		log:       d.Logger.With(logx.Component("pipeline"), logx.String("stage", "flush")),
		now:       d.Now,
		pace:      &pacer{d: d.Pacing, sleep: d.Sleep},
		statusURL: statusURL,
	}
}

func (g *Gate) SetPacing(d time.Duration) { g.pace.set(d) }

// FlushAll flushes every recipient that is not inside its quiet window.
func (g *Gate) FlushAll(ctx context.Context, chats []storage.Chat) []FlushResult {
	now := g.now()
	var out []FlushResult
	for _, c := range chats {
		if g.quiet.Quiet(c, now) {
			continue
		}
		res := g.Flush(ctx, c.ID)
		if res.Pending > 0 || res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Flush sends a chat's queue as one message: the item itself when there is
// one, a capped summary otherwise. The queue is kept on a transient failure.
func (g *Gate) Flush(ctx context.Context, chatID int64) FlushResult {
	log := g.log.With(logx.Int64("chat_id", chatID))
	res := FlushResult{ChatID: chatID, Action: ActionSkip}

	items, err := g.ledger.ListPending(ctx, chatID)
	if err != nil {
		metrics.DeliveryErrorsTotal.WithLabelValues("store").Inc()
		log.Error("list pending failed", logx.Err(err))
		res.Action, res.Err = ActionFailed, err
		return res
	}
	res.Pending = len(items)
	if len(items) == 0 {
		return res
	}
	upTo := items[0].ID
	for _, it := range items {
		if it.ID > upTo {
			upTo = it.ID
		}
	}

	to := kit.ChatTarget{ChatID: chatID}
	var (
		ref  kit.MessageRef
		mode string
	)
	if len(items) == 1 {
		mode = "single"
		ref, err = g.tx.SendText(ctx, to, items[0].Text, kit.HTML())
	} else {
		mode = "summary"
		res.Summary = true
		opt := kit.HTML()
		opt.DisablePreview = true
		ref, err = g.tx.SendText(ctx, to, Summary(items, g.statusURL), opt)
	}
	if err != nil {
		if IsPermanent(err) {
			o := prune(ctx, g.dir, log, chatID, err)
			// nobody is left to read the queue
			if _, cerr := g.ledger.ClearPending(ctx, chatID, upTo); cerr != nil {
				log.Error("clear pending failed", logx.Err(cerr))
			}
			res.Action, res.Err = o.Action, err
			return res
		}
		metrics.DeliveryErrorsTotal.WithLabelValues("transient").Inc()
		log.Error("failed to send pending notifications", logx.Int("pending_count", len(items)), logx.Err(err))
		res.Action, res.Err = ActionFailed, err
		return res
	}

	for _, it := range items {
		d := storage.Delivery{
			GUID:          it.GUID,
			ChatID:        chatID,
			ContentHash:   storage.FingerprintPendingSummary,
			DeliveredHash: it.ContentHash,
			Title:         it.Title,
			Status:        storage.StatusSent,
			Origin:        storage.OriginPendingSummary,
		}
		if !res.Summary {
			d.MessageID = ref.MessageID
			d.ContentHash = storage.FingerprintPendingDelivered
			d.Origin = storage.OriginPendingDelivered
		}
		written, err := g.ledger.PutFlushedDelivery(ctx, d)
		if err != nil {
			metrics.DeliveryErrorsTotal.WithLabelValues("store").Inc()
			log.Error("record flushed delivery failed", logx.String("guid", it.GUID), logx.Err(err))
			continue
		}
		if !written {
			log.Debug("direct delivery kept after flush", logx.String("guid", it.GUID))
		}
	}
	if _, err := g.ledger.ClearPending(ctx, chatID, upTo); err != nil {
		metrics.DeliveryErrorsTotal.WithLabelValues("store").Inc()
		log.Error("clear pending failed", logx.Err(err))
	}
	metrics.PendingFlushedTotal.WithLabelValues(mode).Inc()
	log.Info("sent pending notifications", logx.Int("count", len(items)), logx.String("mode", mode))
	g.pace.wait(ctx)

	res.Action = ActionSend
	return res
}

// Summary renders the batched message for more than one queued item.
func Summary(items []storage.Pending, statusURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Resumo: %d notificacoes durante silencio</b>\n\n", len(items))
	for i, it := range items {
		if i == summaryMaxTitles {
			break
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = summaryEmptyTitle
		}
		b.WriteString("- ")
		b.WriteString(tgui.Esc(tgui.Truncate(title, summaryMaxTitleRune, "...")).String())
		b.WriteString("\n")
	}
	if extra := len(items) - summaryMaxTitles; extra > 0 {
		fmt.Fprintf(&b, "\n... e mais %d eventos.", extra)
	}
	if statusURL != "" {
		b.WriteString("\n\nVeja detalhes em ")
		b.WriteString(tgui.Esc(statusURL).String())
	}
	return b.String()
}
