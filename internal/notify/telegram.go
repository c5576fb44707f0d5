package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel sends messages to a single chat through the Bot API.
type TelegramChannel struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

// NewTelegramChannel authenticates the bot eagerly so a bad token fails at
// startup rather than on the first alert.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID, enabled: true}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Enabled() bool { return t != nil && t.enabled }

func (t *TelegramChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(msg.Photo) > 0 {
		name := msg.PhotoName
		if name == "" {
			name = "chart.png"
		}
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: name, Bytes: msg.Photo})
		photo.Caption = msg.Text
		if _, err := t.bot.Send(photo); err != nil {
			return fmt.Errorf("telegram: send photo: %w", err)
		}
		return nil
	}

	out := tgbotapi.NewMessage(t.chatID, msg.Text)
	if _, err := t.bot.Send(out); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}
