package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/florabot/core/logger"
	"github.com/m3rciful/florabot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// sendAsync enqueues the send closure on the shared dispatcher. The caller's
// context bounds the queued job; a nil context falls back to the update's own.
func sendAsync(ctx context.Context, c tele.Context, action, endpoint string, run func() error) error {
	if ctx == nil {
		ctx = BuildContext(c)
	}

	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// sendTo delivers a payload to an explicit chat, or to the update's own chat
// when chatID is zero.
func sendTo(c tele.Context, chatID int64, what any, opts *tele.SendOptions) error {
	if chatID == 0 {
		if opts != nil {
			return c.Send(what, opts)
		}
		return c.Send(what)
	}
	if opts != nil {
		_, err := c.Bot().Send(tele.ChatID(chatID), what, opts)
		return err
	}
	_, err := c.Bot().Send(tele.ChatID(chatID), what)
	return err
}

// SendText sends raw text (no parse mode). A zero chatID targets the
// update's own chat.
func SendText(ctx context.Context, c tele.Context, chatID int64, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	return sendAsync(ctx, c, "send.text", "sendMessage", func() error {
		return sendTo(c, chatID, text, sendOpts)
	})
}

// SendMD sends a message with Markdown parse mode.
func SendMD(ctx context.Context, c tele.Context, chatID int64, text string) error {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	return SendText(ctx, c, chatID, text, opts)
}

// SendPhoto streams a photo.
// Photo uploads are not idempotent, so the closure is enqueued without retries
// in mind; the sender gives up on the first non-transient error.
func SendPhoto(ctx context.Context, c tele.Context, chatID int64, photo *tele.Photo) error {
	return sendAsync(ctx, c, "send.photo", "sendPhoto", func() error {
		return sendTo(c, chatID, photo, nil)
	})
}
