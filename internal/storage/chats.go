package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"ixbrbot/internal/quiet"
	logx "ixbrbot/pkg/logx"
)

const tableChats = "subscribed_chats"

var chatColumns = []string{
	"chat_id", "chat_type", "chat_title", "subscribed_at", "is_active",
	"quiet_hours_start", "quiet_hours_end", "quiet_hours_tz",
}

// Subscribe activates chatID. isNew is true for a first subscription and for
// the reactivation of a chat that had left; both refresh subscribed_at.
func (s *Store) Subscribe(ctx context.Context, chatID int64, chatType, title string) (isNew bool, err error) {
	var active bool
	err = queryRowB(ctx, s.db, qb.Select("is_active").From(tableChats).Where(sq.Eq{"chat_id": chatID}), &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = execB(ctx, s.db, qb.Insert(tableChats).
			Columns("chat_id", "chat_type", "chat_title", "subscribed_at", "is_active").
			Values(chatID, chatType, nullStr(title), fmtTime(s.now()), 1))
		if err != nil {
			return false, err
		}
		s.log.Info("chat subscribed", logx.Int64("chat_id", chatID), logx.String("chat_type", chatType))
		return true, nil
	case err != nil:
		return false, err
	case active:
		return false, nil
	}

	_, err = execB(ctx, s.db, qb.Update(tableChats).
		Set("is_active", 1).
		Set("subscribed_at", fmtTime(s.now())).
		Set("chat_title", nullStr(title)).
		Where(sq.Eq{"chat_id": chatID}))
	if err != nil {
		return false, err
	}
	s.log.Info("chat resubscribed", logx.Int64("chat_id", chatID))
	return true, nil
}

// Unsubscribe deactivates chatID. It reports whether the chat was active.
func (s *Store) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	res, err := execB(ctx, s.db, qb.Update(tableChats).
		Set("is_active", 0).
		Where(sq.Eq{"chat_id": chatID, "is_active": 1}))
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

// Deactivate is Unsubscribe under the name the delivery pipeline uses.
func (s *Store) Deactivate(ctx context.Context, chatID int64) (bool, error) {
	return s.Unsubscribe(ctx, chatID)
}

func (s *Store) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := queryRowB(ctx, s.db, qb.Select("1").From(tableChats).Where(sq.Eq{"chat_id": chatID, "is_active": 1}), &one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SetQuietHours stores w for an active chat; an empty window clears it.
// It reports whether an active chat was updated.
func (s *Store) SetQuietHours(ctx context.Context, chatID int64, w quiet.Window) (bool, error) {
	zone := quiet.NormalizeZone(w.Zone)
	var start, end any
	if w.Configured() {
		start, end = w.Start, w.End
	}
	res, err := execB(ctx, s.db, qb.Update(tableChats).
		Set("quiet_hours_start", start).
		Set("quiet_hours_end", end).
		Set("quiet_hours_tz", zone).
		Where(sq.Eq{"chat_id": chatID, "is_active": 1}))
	if err != nil {
		return false, err
	}
	return affected(res) > 0, nil
}

// QuietHours returns the chat's own window. ok is false when none is set.
func (s *Store) QuietHours(ctx context.Context, chatID int64) (quiet.Window, bool, error) {
	c, err := s.GetChat(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return quiet.Window{}, false, nil
	}
	if err != nil {
		return quiet.Window{}, false, err
	}
	return c.Quiet, c.Quiet.Configured(), nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	rows, err := queryB(ctx, s.db, qb.Select(chatColumns...).From(tableChats).Where(sq.Eq{"chat_id": chatID}))
	if err != nil {
		return Chat{}, err
	}
	chats, err := scanChats(rows)
	if err != nil {
		return Chat{}, err
	}
	if len(chats) == 0 {
		return Chat{}, ErrNotFound
	}
	return chats[0], nil
}

// ListActive is the per-cycle recipient snapshot.
func (s *Store) ListActive(ctx context.Context) ([]Chat, error) {
	rows, err := queryB(ctx, s.db, qb.Select(chatColumns...).From(tableChats).
		Where(sq.Eq{"is_active": 1}).OrderBy("chat_id"))
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

// AllChats returns every row, active or not, for export.
func (s *Store) AllChats(ctx context.Context) ([]Chat, error) {
	rows, err := queryB(ctx, s.db, qb.Select(chatColumns...).From(tableChats).OrderBy("chat_id"))
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

func scanChats(rows *sql.Rows) ([]Chat, error) {
	defer rows.Close()
	var out []Chat
	for rows.Next() {
		var (
			c                        Chat
			title, qStart, qEnd, qTZ sql.NullString
			subscribedAt             string
		)
		if err := rows.Scan(&c.ID, &c.Type, &title, &subscribedAt, &c.Active, &qStart, &qEnd, &qTZ); err != nil {
			return nil, err
		}
		c.Title = title.String
		c.SubscribedAt = parseTime(subscribedAt)
		c.Quiet = quiet.Window{Start: qStart.String, End: qEnd.String, Zone: quiet.NormalizeZone(qTZ.String)}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ImportChats writes chats in one transaction. With replace, the directory is
// emptied first; otherwise existing chat ids are skipped. A chat with id 0 is
// counted as an error.
func (s *Store) ImportChats(ctx context.Context, chats []Chat, replace bool) (ImportResult, error) {
	res := ImportResult{TotalInBackup: len(chats)}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := execB(ctx, tx, qb.Delete(tableChats)); err != nil {
			return res, fmt.Errorf("clear chats: %w", err)
		}
		s.log.Warn("cleared subscriptions for restore")
	}

	for _, c := range chats {
		if c.ID == 0 {
			res.Errors++
			continue
		}
		if !replace {
			var one int
			err := queryRowB(ctx, tx, qb.Select("1").From(tableChats).Where(sq.Eq{"chat_id": c.ID}), &one)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return res, err
			}
		}

		chatType := c.Type
		if chatType == "" {
			chatType = "unknown"
		}
		subscribedAt := c.SubscribedAt
		if subscribedAt.IsZero() {
			subscribedAt = s.now()
		}
		var qStart, qEnd any
		if c.Quiet.Configured() {
			qStart, qEnd = c.Quiet.Start, c.Quiet.End
		}
		active := 0
		if c.Active {
			active = 1
		}
		_, err := execB(ctx, tx, qb.Insert(tableChats).
			Options("OR REPLACE").
			Columns(chatColumns...).
			Values(c.ID, chatType, nullStr(c.Title), fmtTime(subscribedAt), active,
				qStart, qEnd, quiet.NormalizeZone(c.Quiet.Zone)))
		if err != nil {
			s.log.Error("import chat failed", logx.Int64("chat_id", c.ID), logx.Err(err))
			res.Errors++
			continue
		}
		res.Imported++
	}

	if err := tx.Commit(); err != nil {
		return res, err
	}
	s.log.Info("chats imported",
		logx.Int("imported", res.Imported),
		logx.Int("skipped", res.Skipped),
		logx.Int("errors", res.Errors),
		logx.Bool("replace", replace),
	)
	return res, nil
}
