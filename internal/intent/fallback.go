package intent

import (
	"context"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/logger"
)

type fallback struct {
	primary   Classifier
	secondary Classifier
	logger    *zap.Logger
}

// Fallback asks primary first and secondary whenever primary fails. A
// cancelled context is returned as is.
func Fallback(primary, secondary Classifier, log *zap.Logger) Classifier {
	return &fallback{
		primary:   primary,
		secondary: secondary,
		logger:    logger.WithFields(log, zap.String("component", "intent")),
	}
}

func (f *fallback) Classify(ctx context.Context, text string) (Result, error) {
	res, err := f.primary.Classify(ctx, text)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return empty(), ctxErr
	}

	f.logger.Warn("primary classifier failed, falling back", zap.Error(err))
	return f.secondary.Classify(ctx, text)
}
