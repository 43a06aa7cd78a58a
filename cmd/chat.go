package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/channel"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the recruiting flow in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		chat(cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("user", "u", "local", "user id of the console conversation")
}

func chat(cmd *cobra.Command) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, config := setup(cmd.Name(), "stderr")

	svc, err := newServices(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing the conversation engine", zap.Error(err))
	}
	defer svc.Close()

	user, _ := cmd.Flags().GetString("user")
	console := channel.NewConsole(os.Stdout, user)

	for {
		text, err := console.Read()
		if errors.Is(err, channel.ErrConsoleClosed) {
			logger.Info("exiting", zap.String("reason", "console closed"))
			return
		}
		if err != nil {
			logger.Fatal("reading input", zap.Error(err))
		}

		in := console.Inbound(text)
		reply := svc.engine.Handle(ctx, in)
		if err := channel.Deliver(ctx, console, in, reply); err != nil {
			logger.Warn("printing reply", zap.Error(err))
		}
	}
}
