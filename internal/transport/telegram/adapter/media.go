package adapter

import (
	"bytes"
	"context"
	"errors"
	"io"

	tele "gopkg.in/telebot.v4"

	kit "ixbrbot/internal/transport"
)

// ErrFileTooLarge is returned by DownloadFile when the file exceeds maxBytes.
var ErrFileTooLarge = errors.New("telegram: file too large")

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: name,
		Caption:  caption,
		MIME:     "application/json",
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, &tele.SendOptions{ThreadID: to.ThreadID})
	return err
}

// DownloadFile fetches an uploaded file, reading at most maxBytes.
func (a *Adapter) DownloadFile(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := a.bot.File(&tele.File{FileID: fileID})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if maxBytes <= 0 {
		return io.ReadAll(rc)
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// IsChatAdmin reports whether userID is the creator or an administrator of chatID.
func (a *Adapter) IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return m.Role == tele.Creator || m.Role == tele.Administrator, nil
}
