package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/intent"
	"github.com/huntred/flowbot/internal/logger"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed prompt.md
var systemPrompt string

const defaultMaxLogLength = 200

var knownLabels = map[string]bool{
	intent.LabelDate:     true,
	intent.LabelTime:     true,
	intent.LabelEmail:    true,
	intent.LabelPhone:    true,
	intent.LabelLocation: true,
}

// Classifier asks Gemini for intents and entities. Tags and labels outside
// the known sets are dropped.
type Classifier struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewClassifier(generator contentGenerator, maxLogLength int, log *zap.Logger) *Classifier {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Classifier{
		generator: generator,
		logger:    logger.WithFields(log, zap.String("component", "gemini_classifier")),
		maxLogLen: maxLogLength,
	}
}

func (c *Classifier) Classify(ctx context.Context, text string) (intent.Result, error) {
	res := intent.Result{Intents: []intent.Tag{}, Entities: []intent.Entity{}}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	c.logger.Debug("gemini classify request",
		zap.Int("text_length", utf8.RuneCountInString(text)),
		zap.String("text_preview", logger.TruncateForLog(text, c.maxLogLen)),
	)

	raw, err := c.generator.GenerateContent(ctx, systemPrompt, text)
	if err != nil {
		return res, err
	}

	c.logger.Debug("gemini classify response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, c.maxLogLen)),
	)

	return parseResponse(raw)
}

func parseResponse(raw string) (intent.Result, error) {
	res := intent.Result{Intents: []intent.Tag{}, Entities: []intent.Entity{}}

	var data struct {
		Intents  []string `json:"intents"`
		Entities []struct {
			Text  string `json:"text"`
			Label string `json:"label"`
		} `json:"entities"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return res, fmt.Errorf("parse gemini response: %w", err)
	}

	fired := make(map[intent.Tag]bool, len(data.Intents))
	for _, name := range data.Intents {
		fired[intent.Tag(strings.ToLower(strings.TrimSpace(name)))] = true
	}
	for _, tag := range intent.Known {
		if fired[tag] {
			res.Intents = append(res.Intents, tag)
		}
	}

	for _, e := range data.Entities {
		label := strings.ToUpper(strings.TrimSpace(e.Label))
		text := strings.TrimSpace(e.Text)
		if text == "" || !knownLabels[label] {
			continue
		}
		res.Entities = append(res.Entities, intent.Entity{Text: text, Label: label})
	}

	return res, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
