package notify

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"autotrader/internal/models"
	"autotrader/pkg/logger"
)

// Notifier delivers operator alerts. Fire-and-forget: a delivery failure is
// logged and never propagates into the decision loop.
type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// StatusSource is the engine view the command handlers use.
type StatusSource interface {
	StatusLine() string
	PositionLines() []string
	Halt() bool
	Resume() (models.HaltReason, bool)
}

// Telegram is the notifier plus a small command loop: /status, /positions,
// /halt and /resume (the only way to clear a loss-streak halt remotely).
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	src    StatusSource
}

func NewTelegram(token string, chatID int64, src StatusSource) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chatID: chatID, src: src}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Error("telegram send failed: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Listen processes incoming commands until ctx is canceled. Run on its own
// goroutine.
func (t *Telegram) Listen(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message == nil || upd.Message.Chat == nil || upd.Message.Chat.ID != t.chatID {
				continue
			}
			t.handleCommand(strings.TrimSpace(upd.Message.Text))
		}
	}
}

func (t *Telegram) handleCommand(text string) {
	switch {
	case strings.HasPrefix(text, "/status"):
		t.Send(t.src.StatusLine())
	case strings.HasPrefix(text, "/positions"):
		lines := t.src.PositionLines()
		if len(lines) == 0 {
			t.Send("no open positions")
			return
		}
		t.Send(strings.Join(lines, "\n"))
	case strings.HasPrefix(text, "/halt"):
		if !t.src.Halt() {
			t.Send("already halted")
			return
		}
		t.Send("trading halted, /resume to continue")
	case strings.HasPrefix(text, "/resume"):
		reason, was := t.src.Resume()
		if !was {
			t.Send("not halted")
			return
		}
		t.Sendf("trading resumed (was halted: %s)", reason)
	}
}

// Log is the fallback notifier when no telegram token is configured.
type Log struct{}

func (Log) Send(msg string)                  { logger.Info("notify: %s", msg) }
func (Log) Sendf(format string, args ...any) { logger.Info("notify: "+format, args...) }
