package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m3rciful/florabot/core/logger"
	"github.com/m3rciful/florabot/stats"
)

// NotFoundCommand is the registry key substituted for unknown or
// non-discoverable commands.
const NotFoundCommand = "404"

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	Registry Registry
	Stats    *stats.Counters
	// AdminID is the only sender allowed to run hidden commands.
	AdminID int64
}

// Dispatcher routes inbound messages to command handlers. It owns token
// extraction, alias resolution, hidden-command gating and the per-message
// counter.
type Dispatcher struct {
	registry Registry
	stats    *stats.Counters
	adminID  int64
}

// NewDispatcher builds a dispatcher over a fixed registry.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		registry: opts.Registry,
		stats:    opts.Stats,
		adminID:  opts.AdminID,
	}
}

// Dispatch handles one inbound message end to end. The total-messages counter
// is bumped exactly once per call, before any resolution outcome is known.
func (d *Dispatcher) Dispatch(ctx context.Context, gw Gateway, msg *Message) error {
	if d.stats != nil {
		d.stats.Add(stats.TotalMessages)
	}

	token, args := splitCommand(msg.Text)
	name := strings.ToLower(strings.TrimPrefix(token, "/"))

	resolved, cmd, err := d.registry.Resolve(name)
	if err != nil {
		if errors.Is(err, ErrAliasCycle) {
			logger.Error(ctx, "bot", "dispatch.alias_cycle",
				slog.String("command", logger.SanitizeLimit(name, 64)),
				slog.String("err", err.Error()),
			)
		}
		resolved, cmd, err = d.registry.Resolve(NotFoundCommand)
		if err != nil {
			return err
		}
	} else if cmd.Hidden && msg.Sender.ID != d.adminID {
		// Hidden commands stay invisible to everyone but the admin. The
		// check runs against the final alias target, so aliasing into a
		// hidden command does not leak it either.
		resolved, cmd, err = d.registry.Resolve(NotFoundCommand)
		if err != nil {
			return err
		}
	}

	logger.Debug(ctx, "bot", "dispatch",
		slog.String("command", resolved),
		slog.Int64("user_id", msg.Sender.ID),
	)

	rewritten := *msg
	rewritten.Text = args
	bc := &Context{dispatcher: d, gateway: gw}
	return cmd.Handler(logger.WithHandler(ctx, resolved), bc, &rewritten)
}

// splitCommand returns the first whitespace-delimited word and the remaining
// arguments joined by single spaces.
func splitCommand(text string) (token, args string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// Context is the handler-facing surface of the dispatcher.
type Context struct {
	dispatcher *Dispatcher
	gateway    Gateway
}

// Respond sends a plain text reply into the message's chat.
func (c *Context) Respond(ctx context.Context, msg *Message, text string) error {
	return c.gateway.SendText(ctx, msg.Chat.ID, text)
}

// SendPhoto streams a photo into the message's chat.
func (c *Context) SendPhoto(ctx context.Context, msg *Message, photo *Photo) error {
	return c.gateway.SendPhoto(ctx, msg.Chat.ID, photo)
}

// Execute re-dispatches programmatically to a named command. Unlike Dispatch
// it does not bump counters, strip a token, or gate hidden commands.
func (c *Context) Execute(ctx context.Context, name string, msg *Message) error {
	resolved, cmd, err := c.dispatcher.registry.Resolve(name)
	if err != nil {
		return err
	}
	return cmd.Handler(logger.WithHandler(ctx, resolved), c, msg)
}

// IsHidden reports whether a command should be excluded from listings.
// Aliases and unknown names count as hidden.
func (c *Context) IsHidden(name string) bool {
	cmd, ok := c.dispatcher.registry[name]
	if !ok {
		return true
	}
	return cmd.Hidden || cmd.Alias != ""
}

// CommandNames returns every registered name in sorted order.
func (c *Context) CommandNames() []string {
	return c.dispatcher.registry.Names()
}

// Command looks up a descriptor by name.
func (c *Context) Command(name string) (Command, bool) {
	cmd, ok := c.dispatcher.registry[name]
	return cmd, ok
}
