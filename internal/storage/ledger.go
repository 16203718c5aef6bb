package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	tableSent    = "sent_messages"
	tablePending = "pending_notifications"
)

// GetDelivery returns the ledger row for (guid, chat). ok is false when absent.
func (s *Store) GetDelivery(ctx context.Context, guid string, chatID int64) (Delivery, bool, error) {
	var (
		d              Delivery
		title, updated sql.NullString
		delivered      sql.NullString
		status, origin string
		sentAt         string
	)
	err := queryRowB(ctx, s.db, qb.
		Select("message_guid", "chat_id", "telegram_message_id", "content_hash", "delivered_hash", "message_title",
			"delivery_status", "origin", "sent_at", "updated_at").
		From(tableSent).
		Where(sq.Eq{"message_guid": guid, "chat_id": chatID}),
		&d.GUID, &d.ChatID, &d.MessageID, &d.ContentHash, &delivered, &title, &status, &origin, &sentAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, err
	}
	d.Title = title.String
	d.DeliveredHash = delivered.String
	d.Status = Status(status)
	d.Origin = Origin(origin)
	d.SentAt = parseTime(sentAt)
	d.UpdatedAt = parseTime(updated.String)
	return d, true, nil
}

// PutDelivery inserts or replaces the row for (d.GUID, d.ChatID).
func (s *Store) PutDelivery(ctx context.Context, d Delivery) error {
	_, err := execB(ctx, s.db, s.insertDelivery(d).Options("OR REPLACE"))
	return err
}

// PutFlushedDelivery records a quiet-window flush. A live direct row keeps
// its message and fingerprint; only flush rows and failed rows are replaced.
// written is false when the existing row was kept.
func (s *Store) PutFlushedDelivery(ctx context.Context, d Delivery) (bool, error) {
	res, err := execB(ctx, s.db, s.insertDelivery(d).Suffix(
		"ON CONFLICT(message_guid, chat_id) DO UPDATE SET "+
			"telegram_message_id = excluded.telegram_message_id, "+
			"content_hash = excluded.content_hash, "+
			"delivered_hash = excluded.delivered_hash, "+
			"message_title = excluded.message_title, "+
			"delivery_status = excluded.delivery_status, "+
			"origin = excluded.origin, "+
			"sent_at = excluded.sent_at, "+
			"updated_at = NULL "+
			"WHERE "+tableSent+".origin <> ? OR "+tableSent+".delivery_status = ?",
		string(OriginDirect), string(StatusFailed)))
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

func (s *Store) insertDelivery(d Delivery) sq.InsertBuilder {
	if d.SentAt.IsZero() {
		d.SentAt = s.now()
	}
	if d.Status == "" {
		d.Status = StatusSent
	}
	if d.Origin == "" {
		d.Origin = OriginDirect
	}
	var updated any
	if !d.UpdatedAt.IsZero() {
		updated = fmtTime(d.UpdatedAt)
	}
	return qb.Insert(tableSent).
		Columns("message_guid", "chat_id", "telegram_message_id", "content_hash", "delivered_hash", "message_title",
			"delivery_status", "origin", "sent_at", "updated_at").
		Values(d.GUID, d.ChatID, d.MessageID, d.ContentHash, nullStr(d.DeliveredHash), nullStr(d.Title),
			string(d.Status), string(d.Origin), fmtTime(d.SentAt), updated)
}

// UpdateDelivery records a successful edit: new fingerprint, title and updated_at.
func (s *Store) UpdateDelivery(ctx context.Context, guid string, chatID int64, hash, title string) error {
	res, err := execB(ctx, s.db, qb.Update(tableSent).
		Set("content_hash", hash).
		Set("message_title", nullStr(title)).
		Set("delivery_status", string(StatusSent)).
		Set("updated_at", fmtTime(s.now())).
		Where(sq.Eq{"message_guid": guid, "chat_id": chatID}))
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return ErrNotFound
	}
	return nil
}

// RebaselineDelivery replaces a flush sentinel with the event's real fingerprint
// without touching updated_at, since nothing was sent.
func (s *Store) RebaselineDelivery(ctx context.Context, guid string, chatID int64, hash string) error {
	_, err := execB(ctx, s.db, qb.Update(tableSent).
		Set("content_hash", hash).
		Where(sq.Eq{"message_guid": guid, "chat_id": chatID}))
	return err
}

// MarkDeliveryFailed flags an existing row after a transient send failure.
func (s *Store) MarkDeliveryFailed(ctx context.Context, guid string, chatID int64) error {
	_, err := execB(ctx, s.db, qb.Update(tableSent).
		Set("delivery_status", string(StatusFailed)).
		Where(sq.Eq{"message_guid": guid, "chat_id": chatID}))
	return err
}

// AddPending queues a deferred notification. A (guid, chat) already queued
// keeps its place and gets the new text when the content changed. changed is
// false when the queue was left as it was.
func (s *Store) AddPending(ctx context.Context, p Pending) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	res, err := execB(ctx, s.db, qb.Insert(tablePending).
		Columns("chat_id", "message_guid", "message_text", "event_title", "content_hash", "created_at").
		Values(p.ChatID, p.GUID, p.Text, nullStr(p.Title), p.ContentHash, fmtTime(p.CreatedAt)).
		Suffix("ON CONFLICT(message_guid, chat_id) DO UPDATE SET "+
			"message_text = excluded.message_text, "+
			"event_title = excluded.event_title, "+
			"content_hash = excluded.content_hash "+
			"WHERE "+tablePending+".content_hash <> excluded.content_hash"))
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

// HasPending reports whether (guid, chat) is waiting in the quiet-window queue.
func (s *Store) HasPending(ctx context.Context, guid string, chatID int64) (bool, error) {
	var n int
	err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tablePending).
		Where(sq.Eq{"message_guid": guid, "chat_id": chatID}), &n)
	return n > 0, err
}

// ListPending returns a chat's queue, oldest first.
func (s *Store) ListPending(ctx context.Context, chatID int64) ([]Pending, error) {
	rows, err := queryB(ctx, s.db, qb.
		Select("id", "chat_id", "message_guid", "message_text", "event_title", "content_hash", "created_at").
		From(tablePending).
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var (
			p       Pending
			title   sql.NullString
			created string
		)
		if err := rows.Scan(&p.ID, &p.ChatID, &p.GUID, &p.Text, &title, &p.ContentHash, &created); err != nil {
			return nil, err
		}
		p.Title = title.String
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingCount returns the queue length for a chat.
func (s *Store) PendingCount(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tablePending).Where(sq.Eq{"chat_id": chatID}), &n)
	return n, err
}

// ClearPending deletes a chat's queued items with id <= upToID, so items
// queued after the flush read are kept.
func (s *Store) ClearPending(ctx context.Context, chatID int64, upToID int64) (int64, error) {
	res, err := execB(ctx, s.db, qb.Delete(tablePending).
		Where(sq.Eq{"chat_id": chatID}).
		Where(sq.LtOrEq{"id": upToID}))
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// SweepDeliveries removes ledger rows sent before cutoff.
func (s *Store) SweepDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := execB(ctx, s.db, qb.Delete(tableSent).Where(sq.Lt{"sent_at": fmtTime(cutoff)}))
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

// SweepPending removes queued items created before cutoff.
func (s *Store) SweepPending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := execB(ctx, s.db, qb.Delete(tablePending).Where(sq.Lt{"created_at": fmtTime(cutoff)}))
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}
