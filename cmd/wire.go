package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/ai/gemini"
	"github.com/huntred/flowbot/internal/engine"
	"github.com/huntred/flowbot/internal/flow"
	"github.com/huntred/flowbot/internal/intent"
	"github.com/huntred/flowbot/internal/jobs"
	"github.com/huntred/flowbot/internal/secrets"
	"github.com/huntred/flowbot/internal/storage"
)

// services is everything a conversation channel needs.
type services struct {
	engine *engine.Engine
	closer io.Closer
}

func (s *services) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func loadDefinitions(config *Config, logger *zap.Logger) (*flow.Graph, *jobs.Pool, error) {
	graph, err := flow.Load(config.Flow.File)
	if err != nil {
		return nil, nil, err
	}
	pool, err := jobs.LoadPool(config.Jobs.File)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("loaded definitions",
		zap.String("business_unit", graph.BusinessUnit()),
		zap.Int("questions", graph.Len()),
		zap.Int("jobs", pool.Len()),
	)
	return graph, pool, nil
}

func newStore(ctx context.Context, cfg StorageConfig, logger *zap.Logger) (storage.Store, io.Closer, error) {
	switch driver := strings.TrimSpace(strings.ToLower(cfg.Driver)); driver {
	case "", "memory":
		logger.Warn("using in-memory storage, conversations are lost on exit")
		return storage.NewMemory(), nopCloser{}, nil
	case "redis":
		password, err := secrets.Optional(secrets.Source{
			Name: "redis password",
			File: cfg.Redis.PasswordFile,
			Env:  "REDIS_PASSWORD",
		})
		if err != nil {
			return nil, nil, err
		}

		store, err := storage.NewRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func newClassifier(ctx context.Context, cfg IntentConfig, logger *zap.Logger) (intent.Classifier, error) {
	rules := intent.NewRules(nil)

	switch provider := strings.TrimSpace(strings.ToLower(cfg.Provider)); provider {
	case "", "rules":
		return rules, nil
	case "gemini":
	default:
		return nil, fmt.Errorf("unsupported intent provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set intent.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	remote := gemini.NewClassifier(generator, cfg.Gemini.MaxLogLength, genLogger)
	return intent.Fallback(remote, rules, logger), nil
}

// newServices builds the engine and its collaborators from config.
func newServices(ctx context.Context, config *Config, logger *zap.Logger) (*services, error) {
	graph, pool, err := loadDefinitions(config, logger)
	if err != nil {
		return nil, err
	}

	store, closer, err := newStore(ctx, config.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	classifier, err := newClassifier(ctx, config.Intent, logger)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("creating intent classifier: %w", err)
	}

	eng, err := engine.New(engine.Config{
		MenuKeywords: config.Flow.MenuKeywords,
		TopN:         config.Jobs.TopN,
		TurnTimeout:  config.Engine.TurnTimeout,
	}, engine.Deps{
		Graph:      graph,
		States:     store,
		People:     store,
		Classifier: classifier,
		Matcher:    jobs.NewMatcher(pool, logger),
		Interviews: jobs.NewBoard(pool, store),
		Logger:     logger,
	})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &services{engine: eng, closer: closer}, nil
}
