package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/channel"
	"github.com/huntred/flowbot/internal/secrets"
)

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Serve the recruiting flow as a Telegram bot (long polling)",
	Run: func(cmd *cobra.Command, _ []string) {
		serveTelegram(cmd)
	},
}

func init() {
	rootCmd.AddCommand(telegramCmd)
}

func serveTelegram(cmd *cobra.Command) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, config := setup(cmd.Name())

	token, err := secrets.Load(secrets.Source{
		Name: "telegram bot token",
		File: config.Telegram.TokenFile,
		Env:  "TELEGRAM_BOT_TOKEN",
	})
	if err != nil {
		logger.Fatal(
			"loading telegram token",
			zap.Error(err),
			zap.String("hint", "set TELEGRAM_BOT_TOKEN or the 'telegram.token-file' key in the configuration file"),
		)
	}

	svc, err := newServices(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing the conversation engine", zap.Error(err))
	}
	defer svc.Close()

	// The handler needs the dispatcher, which needs the bot as its gateway.
	var onUpdate bot.HandlerFunc
	b, err := bot.New(token,
		bot.WithWorkers(1),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			onUpdate(ctx, b, update)
		}),
	)
	if err != nil {
		logger.Fatal("creating telegram bot", zap.Error(err))
	}

	dispatcher := channel.NewDispatcher(svc.engine, channel.NewTelegram(b, logger), config.Telegram.MaxConcurrentTurns, logger)
	onUpdate = channel.UpdateHandler(dispatcher, logger)

	logger.Info("telegram bot started", zap.Int("max_concurrent_turns", config.Telegram.MaxConcurrentTurns))
	b.Start(ctx)

	dispatcher.Wait()
	logger.Info("telegram bot stopped")
}
