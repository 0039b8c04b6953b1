package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cryptomovers/internal/app"
	"cryptomovers/internal/bot"
	"cryptomovers/internal/server"
)

var flagWarm bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the Telegram bot when a token is set)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagWarm, "warm", true, "refresh every dataset in the background at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	if flagWarm {
		go a.Warm(ctx, a.Keys()...)
	}

	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken, a)
		if err != nil {
			return err
		}
		go b.Start(ctx)
	} else {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	log.Info().Strs("datasets", a.Keys()).Bool("strict_lease", cfg.StrictLease).Str("store", cfg.Store).Msg("starting")
	return server.New(a).ListenAndServe(ctx, cfg.ListenAddr)
}
