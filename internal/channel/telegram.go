package channel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/huntred/flowbot/internal/engine"
	"github.com/huntred/flowbot/internal/logger"
)

const TelegramPlatform = "telegram"

// commandAliases turn bot commands into plain conversation input.
var commandAliases = map[string]string{
	"/start": "hola",
	"/menu":  "menu",
	"/stop":  "adiós",
}

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram is a Gateway over the Bot API. The user id of a conversation is
// the Telegram chat id.
type Telegram struct {
	sender messageSender
	logger *zap.Logger
}

func NewTelegram(sender messageSender, log *zap.Logger) *Telegram {
	return &Telegram{
		sender: sender,
		logger: logger.WithFields(log, zap.String("component", "telegram")),
	}
}

func (t *Telegram) SendText(ctx context.Context, userID, _ string, text string) error {
	return t.send(ctx, userID, text, &models.ReplyKeyboardRemove{RemoveKeyboard: true})
}

// SendOptions shows options as a one-time reply keyboard, one button per row.
func (t *Telegram) SendOptions(ctx context.Context, userID, _ string, text string, options []string) error {
	rows := make([][]models.KeyboardButton, len(options))
	for i, option := range options {
		rows[i] = []models.KeyboardButton{{Text: option}}
	}
	return t.send(ctx, userID, text, &models.ReplyKeyboardMarkup{
		Keyboard:        rows,
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	})
}

func (t *Telegram) send(ctx context.Context, userID, text string, markup models.ReplyMarkup) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", userID, err)
	}

	if _, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	}); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// InboundFromUpdate normalises a Telegram update. Updates without message
// text are skipped.
func InboundFromUpdate(update *models.Update) (engine.Inbound, bool) {
	if update == nil || update.Message == nil {
		return engine.Inbound{}, false
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return engine.Inbound{}, false
	}
	if alias, ok := commandAliases[strings.ToLower(strings.Fields(text)[0])]; ok {
		text = alias
	}

	return engine.Inbound{
		Platform: TelegramPlatform,
		UserID:   strconv.FormatInt(update.Message.Chat.ID, 10),
		Text:     text,
	}, true
}

// UpdateHandler feeds Telegram updates into the dispatcher.
func UpdateHandler(d *Dispatcher, log *zap.Logger) bot.HandlerFunc {
	log = logger.WithFields(log, zap.String("component", "telegram"))
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		in, ok := InboundFromUpdate(update)
		if !ok {
			if update != nil {
				log.Debug("skipping update without text", zap.Int64("update_id", update.ID))
			}
			return
		}
		d.Submit(ctx, in)
	}
}
