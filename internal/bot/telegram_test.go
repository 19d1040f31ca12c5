package bot

import (
	"strings"
	"testing"

	"layered-signals/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, what.(string))
	return &tele.Message{}, nil
}

func TestNotifySignalPushesToChat(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	bot := &TelegramBot{send: sender, chatID: tele.ChatID(42)}

	bot.NotifySignal(domain.Signal{
		Symbol:     "BTC",
		Timeframe:  "1h",
		Direction:  domain.DirectionLong,
		Score:      68.5,
		Confidence: 0.71,
		EntryPrice: 50000, TargetPrice: 51500, StopPrice: 49250,
		Contributing: []string{"tech-momentum", "crowd-sentiment"},
	})

	if len(sender.sent) != 1 {
		t.Fatalf("expected one push, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	for _, want := range []string{"LONG", "BTC/1h", "68.5", "71%", "$51500.00", "tech-momentum"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("push missing %q:\n%s", want, msg)
		}
	}
}

func TestNotifySignalSkippedWithoutChat(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	bot := &TelegramBot{send: sender}

	bot.NotifySignal(domain.Signal{Symbol: "ETH", Direction: domain.DirectionShort})
	if len(sender.sent) != 0 {
		t.Fatalf("expected no push without a configured chat, got %d", len(sender.sent))
	}
}

func TestFormatSignalMarksDegraded(t *testing.T) {
	t.Parallel()

	msg := formatSignal(domain.Signal{
		Symbol:    "SOL",
		Timeframe: "4h",
		Direction: domain.DirectionNeutral,
		Score:     50,
		Degraded:  true,
	})
	if !strings.Contains(msg, "NEUTRAL") || !strings.Contains(msg, "degraded") {
		t.Fatalf("expected degraded neutral formatting:\n%s", msg)
	}
}

func TestNewWithoutTokenDisablesBot(t *testing.T) {
	t.Parallel()

	b, err := New("", 0, nil, nil)
	if err != nil {
		t.Fatalf("empty token should not error: %v", err)
	}
	if b != nil {
		t.Fatal("expected nil bot when token is empty")
	}
}
