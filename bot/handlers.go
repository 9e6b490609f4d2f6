package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/florabot/core/logger"
	"github.com/m3rciful/florabot/core/telegram/format"
	"github.com/m3rciful/florabot/flower"
	"github.com/m3rciful/florabot/session"
	"github.com/m3rciful/florabot/stats"
)

// User-facing texts. Kept verbatim from the bot's established voice.
const (
	msgNotUnderstood     = "I don't understand you... :("
	msgLoginUsage        = "Please enter email and password separated with space character:\n/login username password"
	msgAlreadyRegistered = "Your Flower Power is already registered. Please /remove it first."
	msgLoginSuccess      = "Hooray!"
	msgNotRegistered     = "Your Flower Power is not registered."
	msgRemoved           = "Your Flower Power has been successfully removed."
	msgLoginFirst        = "Please /login first."
	msgInfoUsage         = "Please specify which plant do you want to check? `/info your-plant-name`\nOr use `/info all` to check all plants."
	msgNoPlants          = "There is no plants found in your garden!"
	msgSomethingWrong    = "Something went wrong. Please try again later."
	msgFarewell          = "Shutting down. Bye!"
)

const defaultFarewellTimeout = 5 * time.Second

// AuthenticateFunc exchanges user credentials for an access token and a bound
// sensor-API client.
type AuthenticateFunc func(ctx context.Context, email, password string) (token string, api session.SensorAPI, err error)

// Handlers bundles the command handlers with their collaborators.
type Handlers struct {
	Sessions     *session.Cache
	Authenticate AuthenticateFunc
	Stats        *stats.Counters

	// Stop receives ErrShutdown when the shutdown command fires. Buffer it
	// so the handler never blocks on a run loop that is already stopping.
	Stop chan<- error

	// FarewellTimeout bounds the shutdown farewell send.
	FarewellTimeout time.Duration
}

// Registry builds the full command table.
func (h *Handlers) Registry() Registry {
	return Registry{
		NotFoundCommand: {Description: "Command not found", Hidden: true, Handler: h.notFound},
		"help":          {Description: "Show this message", Handler: h.help},
		"start":         {Alias: "help"},
		"помощь":        {Alias: "help"},
		"login":         {Description: "Register your Flower Power account with bot: `/login username password`", Handler: h.login},
		"remove":        {Description: "Unregister your account", Handler: h.remove},
		"stop":          {Alias: "remove"},
		"info":          {Description: "Show the plant info: `/info plant-name` or `/info all`", Handler: h.info},
		"shutdown":      {Description: "Stop the bot", Hidden: true, Handler: h.shutdown},
		"stats":         {Description: "Show usage counters", Hidden: true, Handler: h.statistics},
	}
}

func (h *Handlers) help(ctx context.Context, bc *Context, msg *Message) error {
	lines := []string{"Here is a possible commands list:"}
	for _, name := range bc.CommandNames() {
		if bc.IsHidden(name) {
			continue
		}
		cmd, _ := bc.Command(name)
		lines = append(lines, "  /"+name+": "+cmd.Description)
	}
	lines = append(lines, "Thanks!")
	return bc.Respond(ctx, msg, strings.Join(lines, "\n"))
}

func (h *Handlers) notFound(ctx context.Context, bc *Context, msg *Message) error {
	if err := bc.Respond(ctx, msg, msgNotUnderstood); err != nil {
		return err
	}
	return bc.Execute(ctx, "help", msg)
}

func (h *Handlers) login(ctx context.Context, bc *Context, msg *Message) error {
	sess, err := h.Sessions.Resolve(ctx, msg.Sender.ID, msg.Sender.Username)
	if err != nil {
		logger.Error(ctx, "bot", "login.session",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}
	args := strings.Fields(msg.Text)
	if len(args) != 2 {
		return bc.Respond(ctx, msg, msgLoginUsage)
	}
	if sess.Registered() {
		return bc.Respond(ctx, msg, msgAlreadyRegistered)
	}

	token, api, err := h.Authenticate(ctx, args[0], args[1])
	if err != nil {
		var apiErr *flower.APIError
		if errors.As(err, &apiErr) {
			// API rejections carry text the user can act on.
			return bc.Respond(ctx, msg, "There is an error:\n"+mdEscape(apiErr.Error()))
		}
		logger.Error(ctx, "bot", "login.auth",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}

	sess.AuthToken = token
	sess.API = api
	if err := h.Sessions.Persist(ctx, msg.Sender.ID); err != nil {
		sess.AuthToken = ""
		sess.API = nil
		logger.Error(ctx, "bot", "login.persist",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}
	return bc.Respond(ctx, msg, msgLoginSuccess)
}

func (h *Handlers) remove(ctx context.Context, bc *Context, msg *Message) error {
	sess, err := h.Sessions.Resolve(ctx, msg.Sender.ID, msg.Sender.Username)
	if err != nil {
		logger.Error(ctx, "bot", "remove.session",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}
	if !sess.Registered() {
		return bc.Respond(ctx, msg, msgNotRegistered)
	}

	sess.AuthToken = ""
	sess.Garden = session.Garden{}
	sess.API = nil
	// The cleared record must land in the store before the cache entry
	// goes away, otherwise the next resolve would resurrect the token.
	if err := h.Sessions.Persist(ctx, msg.Sender.ID); err != nil {
		logger.Error(ctx, "bot", "remove.persist",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}
	h.Sessions.Evict(msg.Sender.ID)
	return bc.Respond(ctx, msg, msgRemoved)
}

func (h *Handlers) info(ctx context.Context, bc *Context, msg *Message) error {
	sess, err := h.Sessions.Resolve(ctx, msg.Sender.ID, msg.Sender.Username)
	if err != nil {
		logger.Error(ctx, "bot", "info.session",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}
	if sess.API == nil {
		return bc.Respond(ctx, msg, msgLoginFirst)
	}

	name := strings.TrimSpace(msg.Text)
	if name == "" {
		return bc.Respond(ctx, msg, msgInfoUsage)
	}
	filter := name
	if name == "all" {
		filter = ""
	}

	sensors, err := sess.API.Garden(ctx)
	if err != nil {
		logger.Error(ctx, "bot", "info.garden",
			slog.Int64("user_id", msg.Sender.ID),
			slog.String("err", err.Error()),
		)
		return bc.Respond(ctx, msg, msgSomethingWrong)
	}

	found := false
	for _, s := range sensors {
		if filter != "" && s.Nickname != filter {
			continue
		}
		found = true
		sess.Garden[s.ID] = session.Plant{Nickname: s.Nickname}

		if s.ImageURL != "" {
			if img, err := sess.API.Image(ctx, s.ImageURL); err == nil {
				photo := &Photo{
					ContentType: img.ContentType,
					Filename:    "plant.jpg",
					Body:        img.Body,
				}
				if err := bc.SendPhoto(ctx, msg, photo); err != nil {
					logger.Warn(ctx, "bot", "info.photo",
						slog.String("sensor", s.ID),
						slog.String("err", err.Error()),
					)
				}
			} else {
				// Broken image links degrade to the text status line.
				logger.Debug(ctx, "bot", "info.image_fetch",
					slog.String("sensor", s.ID),
					slog.String("err", err.Error()),
				)
			}
		}

		status := fmt.Sprintf("%s: updated %s", mdEscape(s.Nickname), s.LastUpload)
		if err := bc.Respond(ctx, msg, status); err != nil {
			return err
		}
	}

	if !found {
		if filter != "" {
			return bc.Respond(ctx, msg, fmt.Sprintf("Plant with name %s is not found in your garden!", mdEscape(filter)))
		}
		return bc.Respond(ctx, msg, msgNoPlants)
	}
	return nil
}

func (h *Handlers) shutdown(ctx context.Context, bc *Context, msg *Message) error {
	timeout := h.FarewellTimeout
	if timeout <= 0 {
		timeout = defaultFarewellTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := bc.Respond(sendCtx, msg, msgFarewell); err != nil {
		logger.Warn(ctx, "bot", "shutdown.farewell",
			slog.String("err", err.Error()),
		)
	}

	logger.Warn(ctx, "bot", "shutdown.requested",
		slog.Int64("user_id", msg.Sender.ID),
	)
	if h.Stop != nil {
		select {
		case h.Stop <- ErrShutdown:
		default:
		}
	}
	return nil
}

func (h *Handlers) statistics(ctx context.Context, bc *Context, msg *Message) error {
	snapshot := h.Stats.Snapshot()
	if len(snapshot) == 0 {
		return bc.Respond(ctx, msg, "No stats collected yet.")
	}
	lines := make([]string, 0, len(snapshot))
	for _, counter := range snapshot {
		lines = append(lines, fmt.Sprintf("%s: %d", counter.Name, counter.Value))
	}
	return bc.Respond(ctx, msg, strings.Join(lines, "\n"))
}

// mdEscape neutralizes markdown specials in user or API supplied text before
// it is interpolated into an outbound message.
func mdEscape(s string) string {
	escaped, err := format.EscapeMarkdown(s, format.MarkdownV1)
	if err != nil {
		return s
	}
	return escaped
}
