package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/m3rciful/florabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// teleGateway adapts one telebot update to the Gateway interface. Sends go
// through the shared async sender helpers, so ordering and retries follow the
// dispatcher's rules.
type teleGateway struct {
	c tele.Context
}

func (g *teleGateway) SendText(ctx context.Context, chatID int64, text string) error {
	// Handler texts carry light markup (code markers in usage hints);
	// dynamic pieces are escaped at the point of interpolation.
	return helpers.SendMD(ctx, g.c, chatID, text)
}

func (g *teleGateway) SendPhoto(ctx context.Context, chatID int64, photo *Photo) error {
	// Buffer the image up front: the async sender may retry the closure,
	// and a half-consumed stream cannot be replayed.
	data, err := io.ReadAll(photo.Body)
	if closer, ok := photo.Body.(io.Closer); ok {
		closer.Close()
	}
	if err != nil {
		return fmt.Errorf("bot: read photo stream: %w", err)
	}
	file := tele.FromReader(bytes.NewReader(data))
	return helpers.SendPhoto(ctx, g.c, chatID, &tele.Photo{File: file})
}

// HandleText returns the telebot handler that feeds every inbound text
// message into the dispatcher. Registered on tele.OnText, it also receives
// slash commands that have no dedicated route.
func HandleText(d *Dispatcher) tele.HandlerFunc {
	return func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		msg := &Message{
			Sender: User{ID: m.Sender.ID, Username: m.Sender.Username},
			Chat:   Chat{ID: m.Chat.ID},
			Text:   m.Text,
		}
		ctx := helpers.BuildContext(c)
		return d.Dispatch(ctx, &teleGateway{c: c}, msg)
	}
}
