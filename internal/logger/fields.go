package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldPlatform is the structured log field key for the messaging platform.
	FieldPlatform = "platform"
	// FieldUserID is the structured log field key for the platform user identifier.
	FieldUserID = "user_id"
	// FieldTurnID is the structured log field key for a single inbound turn.
	FieldTurnID = "turn_id"
	// FieldQuestion is the structured log field key for the current question id.
	FieldQuestion = "question"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger is replaced with a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ConversationFields returns the fields identifying one conversation.
// Empty values are skipped.
func ConversationFields(platform, userID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldPlatform, Value: platform},
		StringField{Key: FieldUserID, Value: userID},
	)
}

// WithConversation attaches the conversation fields to the provided logger.
func WithConversation(logger *zap.Logger, platform, userID string) *zap.Logger {
	return WithFields(logger, ConversationFields(platform, userID)...)
}
