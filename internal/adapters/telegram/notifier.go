package telegram

import (
	"context"
	"fmt"
	"time"

	"perpagent/internal/domain"
	"perpagent/internal/ports"

	tele "gopkg.in/telebot.v3"
)

// Notifier implements ports.Notifier over the Telegram Bot API. It only
// pushes messages to a single configured chat; no command handling.
type Notifier struct {
	bot    *tele.Bot
	chatID int64
	logger ports.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64
	Logger ports.Logger
}

// New creates a Telegram notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for telegram notifier")
	}
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram token and chat ID are required: %w", ports.ErrConfigurationError)
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Notifier{bot: b, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// PositionOpened announces a freshly opened position.
func (n *Notifier) PositionOpened(ctx context.Context, pos domain.Position) error {
	emoji := "📈"
	if pos.Side == domain.Short {
		emoji = "📉"
	}

	msg := fmt.Sprintf(`✅ *POSITION OPENED*

%s *%s %s*
💰 Margin: %.2f USDT (x%d)
📊 Entry: %.4f
🤖 Confidence: %d%%
💬 %s

⏰ %s`,
		emoji,
		pos.Side,
		pos.Asset,
		pos.Margin,
		pos.Leverage,
		pos.EntryPrice,
		pos.Snapshot.Confidence,
		pos.Snapshot.Reasoning,
		pos.EntryTime.Format("15:04:05"),
	)
	return n.send(ctx, msg)
}

// PositionClosed announces a closed position with its realized result.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position) error {
	emoji := "✅"
	plEmoji := "💚"
	if pos.RealizedPnL < 0 {
		emoji = "⚠️"
		plEmoji = "❤️"
	}

	msg := fmt.Sprintf(`%s *POSITION CLOSED*

*%s %s* closed (%s)
%s P&L: %+.2f USDT
💸 Fees: %.2f USDT
📊 %.4f → %.4f
⏱️ Held: %s

⏰ %s`,
		emoji,
		pos.Side,
		pos.Asset,
		pos.CloseReason,
		plEmoji,
		pos.RealizedPnL,
		pos.Fees,
		pos.EntryPrice,
		pos.ExitPrice,
		formatDuration(pos.ExitTime.Sub(pos.EntryTime)),
		pos.ExitTime.Format("15:04:05"),
	)
	return n.send(ctx, msg)
}

// Report sends a free-form status report.
func (n *Notifier) Report(ctx context.Context, text string) error {
	return n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Send(&tele.Chat{ID: n.chatID}, msg, tele.ModeMarkdown); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
