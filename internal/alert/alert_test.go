package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"wa_group_ledger_bot/internal/config"
)

type fakeSender struct {
	err    error
	params []*bot.SendMessageParams
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{}, nil
}

func stubCreateBot(sender messageSender, err error) func() {
	prev := createBot
	createBot = func(string, ...bot.Option) (messageSender, error) {
		return sender, err
	}
	return func() { createBot = prev }
}

func TestNewNotifierRequiresTokenAndChat(t *testing.T) {
	if _, err := NewNotifier(config.Config{TelegramAlertChat: -100123}, nil); err == nil {
		t.Fatalf("expected missing token to error")
	}

	if _, err := NewNotifier(config.Config{TelegramToken: "123:ABC"}, nil); err == nil {
		t.Fatalf("expected missing chat to error")
	}
}

func TestAlertSendsToConfiguredChat(t *testing.T) {
	sender := &fakeSender{}
	restore := stubCreateBot(sender, nil)
	t.Cleanup(restore)

	notifier, err := NewNotifier(config.Config{TelegramToken: "123:ABC", TelegramAlertChat: -100123}, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	notifier.Alert(context.Background(), "daily_warning run abc: 1 group(s) failed")

	if len(sender.params) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.params))
	}
	if sender.params[0].ChatID != int64(-100123) {
		t.Fatalf("expected configured chat id, got %v", sender.params[0].ChatID)
	}
	if sender.params[0].Text != "daily_warning run abc: 1 group(s) failed" {
		t.Fatalf("unexpected message text %q", sender.params[0].Text)
	}
}

func TestAlertSwallowsDeliveryFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("telegram down")}
	restore := stubCreateBot(sender, nil)
	t.Cleanup(restore)

	notifier, err := NewNotifier(config.Config{TelegramToken: "123:ABC", TelegramAlertChat: -100123}, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	notifier.Alert(context.Background(), "message")
}

func TestAlertIsNilSafe(t *testing.T) {
	var notifier *Notifier
	notifier.Alert(context.Background(), "dropped")
}

func TestAlertDropsBlankMessages(t *testing.T) {
	sender := &fakeSender{}
	restore := stubCreateBot(sender, nil)
	t.Cleanup(restore)

	notifier, err := NewNotifier(config.Config{TelegramToken: "123:ABC", TelegramAlertChat: -100123}, nil)
	if err != nil {
		t.Fatalf("NewNotifier returned error: %v", err)
	}

	notifier.Alert(context.Background(), "   ")
	if len(sender.params) != 0 {
		t.Fatalf("expected blank message to be dropped")
	}
}
