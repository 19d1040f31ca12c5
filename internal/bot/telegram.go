package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"layered-signals/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type SignalReader interface {
	Latest(ctx context.Context, symbol, timeframe string) (domain.Signal, error)
}

type LayerDirectory interface {
	Descriptors() []domain.LayerDescriptor
}

// sender is the slice of the telebot API the bot actually uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramBot serves chat commands and pushes non-neutral signals to a
// configured channel. It satisfies service.Notifier.
type TelegramBot struct {
	bot     *tele.Bot
	send    sender
	chatID  tele.ChatID
	signals SignalReader
	layers  LayerDirectory
}

// New builds the bot. An empty token disables it: callers get (nil, nil) and
// the rest of the system runs without chat integration.
func New(token string, chatID int64, signals SignalReader, layers LayerDirectory) (*TelegramBot, error) {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create Telegram bot: %w", err)
	}
	t := &TelegramBot{
		bot:     b,
		send:    b,
		chatID:  tele.ChatID(chatID),
		signals: signals,
		layers:  layers,
	}
	t.registerHandlers()
	return t, nil
}

func (t *TelegramBot) registerHandlers() {
	t.bot.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	t.bot.Handle("/signal", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send(fmt.Sprintf("Usage: /signal BTC [1h]\nSupported: %s", strings.Join(domain.SupportedSymbols, ", ")))
		}
		symbol := strings.ToUpper(args[0])
		if !domain.IsSupportedSymbol(symbol) {
			return c.Send(fmt.Sprintf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(domain.SupportedSymbols, ", ")))
		}
		timeframe := "1h"
		if len(args) > 1 {
			timeframe = args[1]
		}
		if !domain.IsSupportedTimeframe(timeframe) {
			return c.Send(fmt.Sprintf("Unknown timeframe: %s\nSupported: %s", timeframe, strings.Join(domain.SupportedTimeframes, ", ")))
		}
		sig, err := t.signals.Latest(context.Background(), symbol, timeframe)
		if err != nil {
			return c.Send(fmt.Sprintf("No signal for %s/%s yet: %v", symbol, timeframe, err))
		}
		return c.Send(formatSignal(sig))
	})

	t.bot.Handle("/layers", func(c tele.Context) error {
		descriptors := t.layers.Descriptors()
		if len(descriptors) == 0 {
			return c.Send("No layers registered")
		}
		lines := make([]string, 0, len(descriptors)+1)
		lines = append(lines, "Layer status:")
		for _, d := range descriptors {
			status := "on"
			if !d.Enabled {
				status = "off"
			}
			lines = append(lines, fmt.Sprintf("%s [%s] x%.2f %s breaker=%s", d.Name, d.Group, d.Multiplier, status, d.Breaker))
		}
		return c.Send(strings.Join(lines, "\n"))
	})
}

// Start begins long polling. Blocks until Stop; run it in a goroutine.
func (t *TelegramBot) Start() {
	log.Println("Telegram bot started")
	t.bot.Start()
}

func (t *TelegramBot) Stop() {
	t.bot.Stop()
}

// NotifySignal pushes a signal to the configured chat. Failures are logged
// and swallowed: chat delivery never blocks signal emission.
func (t *TelegramBot) NotifySignal(sig domain.Signal) {
	if t.chatID == 0 {
		return
	}
	if _, err := t.send.Send(t.chatID, formatSignal(sig)); err != nil {
		log.Printf("Telegram push for %s/%s failed: %v", sig.Symbol, sig.Timeframe, err)
	}
}

func formatSignal(sig domain.Signal) string {
	arrow := "→"
	switch sig.Direction {
	case domain.DirectionLong:
		arrow = "▲ LONG"
	case domain.DirectionShort:
		arrow = "▼ SHORT"
	case domain.DirectionNeutral:
		arrow = "• NEUTRAL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s/%s\n", arrow, sig.Symbol, sig.Timeframe)
	fmt.Fprintf(&b, "Score: %.1f  Confidence: %.0f%%\n", sig.Score, sig.Confidence*100)
	if sig.EntryPrice > 0 {
		fmt.Fprintf(&b, "Entry: $%.2f  Target: $%.2f  Stop: $%.2f\n", sig.EntryPrice, sig.TargetPrice, sig.StopPrice)
	}
	if sig.Degraded {
		b.WriteString("(degraded: fewer than half of layers reported)\n")
	}
	fmt.Fprintf(&b, "Layers: %s", strings.Join(sig.Contributing, ", "))
	return b.String()
}
