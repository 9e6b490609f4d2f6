package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/florabot/core/config"
	"github.com/m3rciful/florabot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared middleware chain for the bot.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}

	if cfg != nil && cfg.Telegram.AdminOnly && cfg.Telegram.AdminID != 0 {
		mws = append(mws, Middleware{
			Name: "admin_only",
			Use:  middleware.AdminOnlyMiddleware(middleware.AdminOptions{AdminID: cfg.Telegram.AdminID}),
		})
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			opts := middleware.RateLimitOptions{
				Interval: interval,
			}
			if onLimited != nil {
				opts.OnLimited = onLimited
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use:  middleware.RateLimitMiddleware(opts),
			})
		}
	}

	mws = append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
	)

	return mws
}
