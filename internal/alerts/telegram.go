package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Telegram delivers alerts to one chat through the Bot API.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram validates the token against the Bot API and returns the
// sink.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	log.Info().
		Str("bot", api.Self.UserName).
		Int64("chat_id", chatID).
		Msg("Telegram alert sink ready")
	return &Telegram{api: api, chatID: chatID}, nil
}

// Send implements Sink.
func (t *Telegram) Send(_ context.Context, alert Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatMessage(alert))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("sending telegram alert: %w", err)
	}
	return nil
}

// formatMessage renders the alert as Telegram Markdown. Fields print in
// key order so messages are stable.
func formatMessage(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n%s", severityEmoji(alert.Severity), alert.Title, alert.Message)

	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n• %s: `%v`", k, alert.Fields[k])
		}
	}

	fmt.Fprintf(&b, "\n\n_%s_", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func severityEmoji(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
