package pipeline

import (
	"context"
	"time"

	"ixbrbot/internal/event"
	"ixbrbot/internal/metrics"
	"ixbrbot/internal/quiet"
	"ixbrbot/internal/storage"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

type Action string

const (
	ActionSend   Action = "send"
	ActionEdit   Action = "edit"
	ActionSkip   Action = "skip"
	ActionDefer  Action = "defer"
	ActionFailed Action = "failed" // transient transport or store error
	ActionPruned Action = "pruned" // permanent error, recipient deactivated
)

// Outcome is the single result for one recipient of one event.
type Outcome struct {
	ChatID    int64
	Action    Action
	MessageID int
	Err       error
}

// Deps are the collaborators shared by the Reconciler and the Gate.
type Deps struct {
	Ledger    Ledger
	Directory Directory
	Transport Transport
	Quiet     *QuietPolicy
	Logger    logx.Logger
	Pacing    time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d *Deps) fill() {
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleepCtx
	}
	if d.Quiet == nil {
		d.Quiet = NewQuietPolicy(quiet.Window{})
	}
}

type Reconciler struct {
	ledger Ledger
	dir    Directory
	tx     Transport
	quiet  *QuietPolicy
	log    logx.Logger
	now    func() time.Time
	pace   *pacer
}

func NewReconciler(d Deps) *Reconciler {
	d.fill()
	return &Reconciler{
		ledger: d.Ledger,
		dir:    d.Directory,
		tx:     d.Transport,
		quiet:  d.Quiet,
		log:    d.Logger.With(logx.Component("pipeline")),
		now:    d.Now,
		pace:   &pacer{d: d.Pacing, sleep: d.Sleep},
	}
}

func (r *Reconciler) SetPacing(d time.Duration) { r.pace.set(d) }

// Reconcile produces exactly one Outcome per recipient, in recipient order.
func (r *Reconciler) Reconcile(ctx context.Context, ev event.Event, recipients []storage.Chat) []Outcome {
	text := event.Render(ev)
	hash := ev.ContentHash()

	out := make([]Outcome, 0, len(recipients))
	for _, chat := range recipients {
		o := r.reconcileOne(ctx, ev, text, hash, chat)
		metrics.DeliveriesTotal.WithLabelValues(string(o.Action)).Inc()
		out = append(out, o)
	}
	return out
}

func (r *Reconciler) reconcileOne(ctx context.Context, ev event.Event, text, hash string, chat storage.Chat) Outcome {
	log := r.log.With(logx.String("guid", ev.GUID), logx.Int64("chat_id", chat.ID))

	rec, ok, err := r.ledger.GetDelivery(ctx, ev.GUID, chat.ID)
	if err != nil {
		return r.storeFailure(log, chat.ID, "lookup delivery", err)
	}
	if ok && rec.Status == storage.StatusFailed {
		// a failed row only exists to be counted; deliver as new
		ok = false
	}

	// A queued pair belongs to the gate until it is flushed; only its text is refreshed.
	queued, err := r.ledger.HasPending(ctx, ev.GUID, chat.ID)
	if err != nil {
		return r.storeFailure(log, chat.ID, "lookup pending", err)
	}

	if ok && !queued {
		if rec.Origin.FromQuietFlush() && storage.IsSentinelFingerprint(rec.ContentHash) {
			if rec.DeliveredHash == "" || rec.DeliveredHash == hash {
				if err := r.ledger.RebaselineDelivery(ctx, ev.GUID, chat.ID, hash); err != nil {
					return r.storeFailure(log, chat.ID, "rebaseline delivery", err)
				}
				log.Debug("flushed delivery rebaselined", logx.String("origin", string(rec.Origin)))
				return Outcome{ChatID: chat.ID, Action: ActionSkip, MessageID: rec.MessageID}
			}
			// changed after the queued text went out
			log.Debug("flushed delivery is stale", logx.String("origin", string(rec.Origin)))
		} else if rec.ContentHash == hash {
			return Outcome{ChatID: chat.ID, Action: ActionSkip, MessageID: rec.MessageID}
		}
	}

	// Only new or changed content is queued; an unchanged delivery stays a skip.
	if queued || r.quiet.Quiet(chat, r.now()) {
		changed, err := r.ledger.AddPending(ctx, storage.Pending{
			GUID:        ev.GUID,
			ChatID:      chat.ID,
			Text:        text,
			Title:       ev.Title,
			ContentHash: hash,
		})
		if err != nil {
			return r.storeFailure(log, chat.ID, "queue pending", err)
		}
		switch {
		case changed && queued:
			log.Debug("deferred notification refreshed")
		case changed:
			log.Debug("notification deferred (quiet hours)")
		}
		return Outcome{ChatID: chat.ID, Action: ActionDefer}
	}

	if ok && rec.Editable() {
		ref := kit.MessageRef{ChatID: chat.ID, MessageID: rec.MessageID}
		err := r.tx.EditText(ctx, ref, event.MarkEdited(text), kit.HTML())
		if err == nil {
			if err := r.ledger.UpdateDelivery(ctx, ev.GUID, chat.ID, hash, ev.Title); err != nil {
				r.storeFailure(log, chat.ID, "update delivery", err)
			}
			log.Info("message updated", logx.Int("message_id", rec.MessageID))
			r.pace.wait(ctx)
			return Outcome{ChatID: chat.ID, Action: ActionEdit, MessageID: rec.MessageID}
		}
		log.Warn("could not edit message, sending a new one", logx.Int("message_id", rec.MessageID), logx.Err(err))
	}

	return r.send(ctx, log, ev, text, hash, chat, ok)
}

func (r *Reconciler) send(ctx context.Context, log logx.Logger, ev event.Event, text, hash string, chat storage.Chat, hadRecord bool) Outcome {
	ref, err := r.tx.SendText(ctx, kit.ChatTarget{ChatID: chat.ID}, text, kit.HTML())
	if err != nil {
		if IsPermanent(err) {
			return prune(ctx, r.dir, log, chat.ID, err)
		}
		metrics.DeliveryErrorsTotal.WithLabelValues("transient").Inc()
		log.Error("message delivery failed", logx.Err(err))
		if hadRecord {
			if merr := r.ledger.MarkDeliveryFailed(ctx, ev.GUID, chat.ID); merr != nil {
				r.storeFailure(log, chat.ID, "mark delivery failed", merr)
			}
		}
		return Outcome{ChatID: chat.ID, Action: ActionFailed, Err: err}
	}

	err = r.ledger.PutDelivery(ctx, storage.Delivery{
		GUID:        ev.GUID,
		ChatID:      chat.ID,
		MessageID:   ref.MessageID,
		ContentHash: hash,
		Title:       ev.Title,
		Status:      storage.StatusSent,
		Origin:      storage.OriginDirect,
	})
	if err != nil {
		// the message went out; report the send but surface the store error
		r.storeFailure(log, chat.ID, "record delivery", err)
		r.pace.wait(ctx)
		return Outcome{ChatID: chat.ID, Action: ActionSend, MessageID: ref.MessageID, Err: err}
	}
	log.Info("message sent", logx.Int("message_id", ref.MessageID))
	r.pace.wait(ctx)
	return Outcome{ChatID: chat.ID, Action: ActionSend, MessageID: ref.MessageID}
}

func (r *Reconciler) storeFailure(log logx.Logger, chatID int64, op string, err error) Outcome {
	metrics.DeliveryErrorsTotal.WithLabelValues("store").Inc()
	log.Error("ledger "+op+" failed", logx.Err(err))
	return Outcome{ChatID: chatID, Action: ActionFailed, Err: err}
}

// prune deactivates a recipient after a permanent transport error.
func prune(ctx context.Context, dir Directory, log logx.Logger, chatID int64, cause error) Outcome {
	metrics.DeliveryErrorsTotal.WithLabelValues("permanent").Inc()
	log.Warn("chat inaccessible, unsubscribing", logx.Err(cause))
	if _, err := dir.Deactivate(ctx, chatID); err != nil {
		log.Error("deactivate chat failed", logx.Err(err))
	}
	return Outcome{ChatID: chatID, Action: ActionPruned, Err: cause}
}
