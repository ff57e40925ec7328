// Package telegram sends notifications and listens for the operator's
// arming messages via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blockzenith/scanner/internal/models"
)

// ArmFunc receives the credential the operator submitted.
type ArmFunc func(token string)

// StatusFunc returns the /status report body.
type StatusFunc func() string

// Client handles Telegram notifications and operator commands.
type Client struct {
	bot            *tgbotapi.BotAPI
	channelID      int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client for the given bot token and
// numeric channel ID.
func NewClient(botToken, channelID string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	channelIDInt, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid channel ID: %w", err)
	}
	return &Client{
		bot:            bot,
		channelID:      channelIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
	}, nil
}

// ListenForUpdates starts a goroutine that polls for Telegram updates.
// Commands and credential submissions are handled inline; everything else is
// ignored. Returns immediately; the goroutine stops when ctx is cancelled.
//
// A plain message longer than minCredentialLen is taken to be a Dhan access
// token (commands and chatter are short, daily tokens are not).
func (c *Client) ListenForUpdates(ctx context.Context, minCredentialLen int, arm ArmFunc, status StatusFunc) {
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
				if update.Message == nil {
					continue
				}
				c.handleMessage(update.Message, minCredentialLen, arm, status)
			}
		}
	}()
}

func (c *Client) handleMessage(msg *tgbotapi.Message, minCredentialLen int, arm ArmFunc, status StatusFunc) {
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			c.reply(msg, "🏛️ *Block Zenith Terminal Online*\n\nSend your *Daily Dhan Access Token* to arm the institutional scanner\\.")
		case "status":
			c.reply(msg, escapeMarkdownV2(status()))
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if len(text) > minCredentialLen {
		arm(text)
		c.reply(msg, "🚀 *System Armed\\.*\nTracking Smart Money in the configured indices\\.\n_Alerts will appear automatically\\._")
	}
}

func (c *Client) reply(msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message to the channel with
// linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.channelID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendAlert dispatches one detected institutional signal to the channel.
func (c *Client) SendAlert(inst models.InstrumentSpec, rec *models.AlertRecord) error {
	return c.sendMarkdownV2(formatAlert(inst, rec))
}

// SendNotice sends an operator-facing notice (auth expiry, degraded mode).
func (c *Client) SendNotice(text string) error {
	return c.sendMarkdownV2("⚠️ *Scanner notice*\n" + escapeMarkdownV2(text))
}

func formatAlert(inst models.InstrumentSpec, rec *models.AlertRecord) string {
	signal := "🏛️ INSTITUTIONAL CALL"
	if rec.Key.Side == models.SidePut {
		signal = "🏛️ INSTITUTIONAL PUT"
	}

	var b strings.Builder
	b.WriteString("⚔️ *BLOCK ZENITH ORDER FLOW* ⚔️\n\n")
	fmt.Fprintf(&b, "Index: *%s*\n", escapeMarkdownV2(inst.Name))
	fmt.Fprintf(&b, "Signal: *%s*\n", signal)
	fmt.Fprintf(&b, "Strike: *%s*\n", escapeMarkdownV2(rec.Key.Strike))
	fmt.Fprintf(&b, "Price: ₹%s\n\n", escapeMarkdownV2(strconv.FormatFloat(rec.Price, 'f', -1, 64)))
	b.WriteString("📊 *BLOCK METRICS:*\n")
	fmt.Fprintf(&b, "└ Volume: %s\n", humanize.Comma(rec.Volume))
	fmt.Fprintf(&b, "└ Open Interest: %s\n\n", humanize.Comma(rec.OpenInterest))
	b.WriteString("🔥 _Detection: Smart Money Activity_")
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
