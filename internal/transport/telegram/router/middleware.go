package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"ixbrbot/internal/metrics"
	kit "ixbrbot/internal/transport"
	logx "ixbrbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAccess enforces the route's access level. Chat admin lookups that fail
// count as a denial.
func MWAccess(access Access, adapter kit.Adapter, d Denials) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			switch access {
			case AccessBotAdmin:
				if !req.BotAdmin {
					req.Logger.Warn("unauthorized admin command")
					deny(ctx, req, d.Unauthorized)
					return nil
				}
			case AccessChatAdmin:
				if req.ChatType != kit.ChatPrivate && !req.BotAdmin {
					ok, err := adapter.IsChatAdmin(ctx, req.Chat.ChatID, req.FromID)
					if err != nil {
						req.Logger.Warn("could not check admin status", logx.Err(err))
					}
					if err != nil || !ok {
						deny(ctx, req, d.ChatAdmin)
						return nil
					}
				}
			}
			return next(ctx, req)
		}
	}
}

// MWRateLimit drops commands once the chat exhausted its per-minute budget.
func MWRateLimit(l *chatLimiter, text string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !l.allow(req.Chat.ChatID) {
				metrics.CommandsRateLimited.Inc()
				req.Logger.Warn("rate limit exceeded")
				deny(ctx, req, text)
				return nil
			}
			return next(ctx, req)
		}
	}
}

func deny(ctx context.Context, req *Request, text string) {
	if req.CallbackID != "" {
		_ = req.Adapter.AnswerCallback(ctx, req.CallbackID, text)
		req.CallbackID = ""
		return
	}
	if text != "" {
		_, _ = req.Reply(ctx, text, nil)
	}
}
