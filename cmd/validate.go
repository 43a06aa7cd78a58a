package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/engine"
	"github.com/huntred/flowbot/internal/flow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the flow and job pool and report every problem found",
	Run: func(cmd *cobra.Command, _ []string) {
		validate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validate(cmd *cobra.Command) {
	logger, config := setup(cmd.Name())

	graph, _, err := loadDefinitions(config, logger)
	if err != nil {
		var cfgErr *flow.ConfigurationError
		if errors.As(err, &cfgErr) {
			logger.Fatal("flow definition is invalid",
				zap.String("file", config.Flow.File),
				zap.Strings("problems", cfgErr.Problems),
			)
		}
		logger.Fatal("loading definitions", zap.Error(err))
	}

	if _, err := engine.MergeMessages(engine.DefaultMessages(), graph.Messages()); err != nil {
		logger.Fatal("flow messages are invalid", zap.String("file", config.Flow.File), zap.Error(err))
	}

	logger.Info("definitions are valid",
		zap.String("flow", config.Flow.File),
		zap.String("jobs", config.Jobs.File),
	)
}
