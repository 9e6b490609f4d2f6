package bot

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/florabot/core/bootstrap"
	coreconfig "github.com/m3rciful/florabot/core/config"
	coretelegram "github.com/m3rciful/florabot/core/telegram"
	"github.com/m3rciful/florabot/flower"
	"github.com/m3rciful/florabot/session"
	"github.com/m3rciful/florabot/stats"

	tele "gopkg.in/telebot.v4"
)

// App wires the whole bot together: infrastructure from bootstrap, the
// session layer, the Flower Power client and the command dispatcher. It
// satisfies the runner's TelegramApp interface.
type App struct {
	cfg        *coreconfig.Config
	db         *sqlx.DB
	dispatcher *Dispatcher
	registry   Registry
	stop       chan error
}

// NewApp bootstraps infrastructure and assembles the command layer.
func NewApp(cfg *coreconfig.Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}

	flowerCfg := flower.Config{
		ClientID:     cfg.Flower.ClientID,
		ClientSecret: cfg.Flower.ClientSecret,
		BaseURL:      cfg.Flower.BaseURL,
	}

	cache := session.NewCache(session.CacheOptions{
		Store: session.NewPGStore(res.DB),
		Hydrate: func(token string) session.SensorAPI {
			return flower.FromToken(flowerCfg, token)
		},
	})

	counters := stats.New()
	stop := make(chan error, 1)

	handlers := &Handlers{
		Sessions: cache,
		Authenticate: func(ctx context.Context, email, password string) (string, session.SensorAPI, error) {
			client, err := flower.Authenticate(ctx, flowerCfg, email, password)
			if err != nil {
				return "", nil, err
			}
			return client.Token(), client, nil
		},
		Stats: counters,
		Stop:  stop,
	}

	registry := handlers.Registry()
	// Surface registry misconfiguration at startup instead of per message.
	for _, name := range registry.Names() {
		if _, _, err := registry.Resolve(name); err != nil {
			return nil, fmt.Errorf("bot: registry: %w", err)
		}
	}

	dispatcher := NewDispatcher(DispatcherOptions{
		Registry: registry,
		Stats:    counters,
		AdminID:  cfg.Telegram.AdminID,
	})

	return &App{
		cfg:        cfg,
		db:         res.DB,
		dispatcher: dispatcher,
		registry:   registry,
		stop:       stop,
	}, nil
}

// TelegramRunOptions builds the run loop configuration for the runner.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config:       a.cfg,
		Middlewares:  coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:       []coretelegram.Route{{Endpoint: tele.OnText, Handler: HandleText(a.dispatcher)}},
		MenuCommands: a.menuCommands(),
		Stop:         a.stop,
		OnStop: func(context.Context, coretelegram.Runtime) error {
			return a.db.Close()
		},
	}, nil
}

// menuCommands exposes the visible commands in the Telegram command menu.
// Aliases and hidden commands stay out, same as in the help listing.
func (a *App) menuCommands() []tele.Command {
	var menu []tele.Command
	for _, name := range a.registry.Names() {
		cmd := a.registry[name]
		if cmd.Hidden || cmd.Alias != "" {
			continue
		}
		menu = append(menu, tele.Command{Text: name, Description: cmd.Description})
	}
	return menu
}
