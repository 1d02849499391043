// Package alert delivers operator notifications over Telegram. The chat
// platform itself is reached through the gateway; this is a side channel for
// batch-job failures, so a broken group surfaces without watching logs.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"wa_group_ledger_bot/internal/config"
	"wa_group_ledger_bot/internal/logging"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// createBot is overridable for tests.
var createBot = func(token string, options ...bot.Option) (messageSender, error) {
	return bot.New(token, options...)
}

// Notifier posts alert messages to a fixed Telegram chat. A nil Notifier is
// valid and silently drops alerts, so wiring code can skip the optional
// channel without nil checks at every call site.
type Notifier struct {
	bot    messageSender
	chatID int64
	logger *logrus.Entry
}

// NewNotifier initializes the Telegram client for the configured alert chat.
func NewNotifier(cfg config.Config, logger *logrus.Entry) (*Notifier, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.TelegramAlertChat == 0 {
		return nil, errors.New("telegram alert chat is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	tgBot, err := createBot(cfg.TelegramToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("init telegram alert client: %w", err)
	}

	return &Notifier{
		bot:    tgBot,
		chatID: cfg.TelegramAlertChat,
		logger: logger,
	}, nil
}

// Alert posts the message to the alert chat. Delivery failures are logged,
// never surfaced; alerting is best-effort by nature.
func (n *Notifier) Alert(ctx context.Context, message string) {
	if n == nil || n.bot == nil {
		return
	}
	if strings.TrimSpace(message) == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   message,
	})
	if err != nil {
		n.logger.WithFields(logging.Fields{
			"event":   "alert_delivery_failed",
			"chat_id": n.chatID,
		}).WithError(err).Error("operator alert not delivered")
		return
	}

	n.logger.WithFields(logging.Fields{
		"event":   "alert_sent",
		"chat_id": n.chatID,
	}).Debug("operator alert delivered")
}
