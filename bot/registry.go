// Package bot implements the command layer: the registry of chat commands,
// the dispatcher that routes inbound messages to handlers, and the handlers
// themselves. The Telegram transport is adapted behind the Gateway interface
// so the whole layer is testable without a live bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	// ErrShutdown is delivered through the run loop when the shutdown
	// command asks the process to terminate.
	ErrShutdown = errors.New("bot: shutdown requested")

	// ErrAliasCycle reports a registry misconfiguration where alias
	// redirects never reach a concrete handler.
	ErrAliasCycle = errors.New("bot: alias cycle")

	// ErrUnknownCommand reports a lookup for a name the registry does not hold.
	ErrUnknownCommand = errors.New("bot: unknown command")
)

// HandlerFunc processes one inbound message. The message text has already
// been rewritten to the command arguments only.
type HandlerFunc func(ctx context.Context, bc *Context, msg *Message) error

// Command describes one registered chat command. A non-empty Alias makes the
// command a pure redirect; Handler and Description are ignored for aliases.
type Command struct {
	Description string
	Hidden      bool
	Alias       string
	Handler     HandlerFunc
}

// Registry maps command names to their descriptors. It is built once at
// startup and read-only afterwards.
type Registry map[string]Command

// Names returns all registered command names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve follows alias redirects until a concrete command is found. The hop
// count is bounded by the registry size, so a cycle (including a self-alias)
// fails with ErrAliasCycle instead of looping.
func (r Registry) Resolve(name string) (string, Command, error) {
	cmd, ok := r[name]
	if !ok {
		return "", Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	for hops := 0; cmd.Alias != ""; hops++ {
		if hops >= len(r) {
			return "", Command{}, fmt.Errorf("%w: starting at %q", ErrAliasCycle, name)
		}
		next, ok := r[cmd.Alias]
		if !ok {
			return "", Command{}, fmt.Errorf("%w: alias target %q", ErrUnknownCommand, cmd.Alias)
		}
		name = cmd.Alias
		cmd = next
	}
	return name, cmd, nil
}

// User identifies the sender of an inbound message.
type User struct {
	ID       int64
	Username string
}

// Chat identifies the conversation an inbound message arrived in.
type Chat struct {
	ID int64
}

// Message is one inbound chat message as seen by the dispatcher and handlers.
type Message struct {
	Sender User
	Chat   Chat
	Text   string
}

// Photo is an outbound image ready to be streamed to the user.
type Photo struct {
	ContentType string
	Filename    string
	Body        io.Reader
}

// Gateway sends outbound messages. The Telegram adapter implements it; tests
// substitute a recording fake.
type Gateway interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo *Photo) error
}
