package main

import (
	"errors"
	"log"
	"os"

	"github.com/m3rciful/florabot/bot"
	corecmd "github.com/m3rciful/florabot/core/cmd"
	coreconfig "github.com/m3rciful/florabot/core/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        coreconfig.Load,
		Bootstrap: func(cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
			return bot.NewApp(cfg)
		},
	})
	if err != nil {
		if errors.Is(err, bot.ErrShutdown) {
			log.Print("shutdown command received, exiting")
			os.Exit(1)
		}
		log.Fatalf("florabot: %v", err)
	}
}
