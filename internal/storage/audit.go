package storage

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const tableCommands = "command_log"

// LogCommand appends an accepted command to the audit trail.
func (s *Store) LogCommand(ctx context.Context, chatID int64, command string) error {
	_, err := execB(ctx, s.db, qb.Insert(tableCommands).
		Columns("chat_id", "command", "timestamp").
		Values(chatID, command, fmtTime(s.now())))
	return err
}

// CommandCount counts a chat's commands newer than window.
func (s *Store) CommandCount(ctx context.Context, chatID int64, window time.Duration) (int, error) {
	var n int
	err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tableCommands).
		Where(sq.Eq{"chat_id": chatID}).
		Where(sq.Gt{"timestamp": fmtTime(s.now().Add(-window))}), &n)
	return n, err
}

// SweepCommandLog drops audit rows older than maxAge.
func (s *Store) SweepCommandLog(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := execB(ctx, s.db, qb.Delete(tableCommands).
		Where(sq.Lt{"timestamp": fmtTime(s.now().Add(-maxAge))}))
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tableChats).Where(sq.Eq{"is_active": 1}), &st.ActiveChats); err != nil {
		return st, err
	}
	if err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tableSent), &st.TotalMessagesSent); err != nil {
		return st, err
	}
	err := queryRowB(ctx, s.db, qb.Select("COUNT(*)").From(tableSent).
		Where(sq.Eq{"delivery_status": string(StatusFailed)}), &st.FailedDeliveries)
	return st, err
}
