// Package telegram forwards periodic fleet digests to a Telegram chat.
package telegram

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/aisstream/internal/models"
)

// sender is the part of the Bot API the client sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusFunc returns the most recent message, or nil if none exists yet.
type StatusFunc func() *models.Message

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, status StatusFunc) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusFunc) {
	var text string
	switch msg.Command() {
	case "ping":
		c.sender.Send(tgbotapi.NewMessage(msg.Chat.ID, "Pong")) //nolint:errcheck
		return
	case "status":
		var latest *models.Message
		if status != nil {
			latest = status()
		}
		if latest == nil {
			text = escapeMarkdownV2("No ticks yet. The stream starts when the first subscriber connects.")
		} else {
			text = formatDigest(latest)
		}
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.sender.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a stream health notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cause error) error {
	text := fmt.Sprintf("⚠️ *Stream problem*\n`%s`", escapeMarkdownV2(cause.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Stream recovered* after %d consecutive bad tick\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendDigest sends a summary of one tick.
func (c *Client) SendDigest(msg *models.Message) error {
	return c.sendMarkdownV2(formatDigest(msg))
}

// formatDigest renders a tick as a Telegram MarkdownV2 message.
func formatDigest(msg *models.Message) string {
	var b strings.Builder
	b.WriteString("🚢 *Fleet digest*\n")
	fmt.Fprintf(&b, "📅 Tick %d at %s\n\n", msg.Tick,
		escapeMarkdownV2(msg.Timestamp.UTC().Format("2006-01-02 15:04:05")))

	s := msg.Stats
	fmt.Fprintf(&b, "*Vessels:* %d \\(%d moving, %d stationary\\)\n", s.Total, s.Active, s.Stationary)
	fmt.Fprintf(&b, "*Speed:* avg %s kn, max %s kn\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f", s.AvgSpeed)),
		escapeMarkdownV2(fmt.Sprintf("%.1f", s.MaxSpeed)))

	a := msg.Aggregates
	fmt.Fprintf(&b, "\n*Window* %s min: %d reports, %d unique vessels\n",
		escapeMarkdownV2(strconv.FormatFloat(a.WindowMinutes, 'f', -1, 64)), a.Count, a.UniqueVessels)
	if a.Count > 0 {
		fmt.Fprintf(&b, "   stationary %d, slow %d, moderate %d, fast %d\n",
			a.Status.Stationary, a.Status.Slow, a.Status.Moderate, a.Status.Fast)
	}

	if len(msg.Trend.Trends) > 0 {
		fmt.Fprintf(&b, "\n*Trend* \\(%s\\)\n", escapeMarkdownV2(msg.Trend.Metric))
		keys := make([]string, 0, len(msg.Trend.Trends))
		for k := range msg.Trend.Trends {
			keys = append(keys, k)
		}
		sortTrendKeys(keys)
		for _, k := range keys {
			tr := msg.Trend.Trends[k]
			emoji := "📉"
			if tr.Direction == models.Increasing {
				emoji = "📈"
			}
			fmt.Fprintf(&b, "   %s %s: mean %s over %d\n", emoji, escapeMarkdownV2(k),
				escapeMarkdownV2(fmt.Sprintf("%.2f", tr.Mean)), tr.Count)
		}
	}
	return b.String()
}

// sortTrendKeys orders window_<n>_min keys by n.
func sortTrendKeys(keys []string) {
	minutes := func(k string) float64 {
		n, _ := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(k, "window_"), "_min"), 64)
		return n
	}
	slices.SortFunc(keys, func(a, b string) int { return cmp.Compare(minutes(a), minutes(b)) })
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
