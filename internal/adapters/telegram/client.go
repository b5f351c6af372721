package telegram

import (
	"context"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// maxMessageLen is the Bot API limit on message text length
const maxMessageLen = 4096

// Bot sends operator alerts. It never polls for updates.
type Bot struct {
	api     *tgbotapi.BotAPI
	log     *logger.Logger
	limiter *rate.Limiter
}

type Config struct {
	Token       string
	Debug       bool
	HTTPTimeout time.Duration
	// PerSecond caps outgoing messages; Telegram rejects bursts above 30/s
	PerSecond int
}

func NewBot(cfg Config, log *logger.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.NewValidationError("token", "telegram bot token is required", "")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 20
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: cfg.HTTPTimeout})
	if err != nil {
		return nil, errors.Wrap(err, "authorize telegram bot")
	}
	api.Debug = cfg.Debug

	log = log.With("component", "telegram_bot")
	log.Infow("Telegram bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:     api,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.PerSecond),
	}, nil
}

// SendMessage delivers HTML text to chatID, split into as many messages as
// the length limit requires. Chunks break on line boundaries where possible.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := b.send(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "telegram rate limit wait")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	start := time.Now()
	_, err := b.api.Send(msg)
	metrics.RecordCollaboratorCall("telegram", time.Since(start), err)
	if err != nil {
		b.log.Warnw("Telegram send failed", "chat_id", chatID, "error", err)
		return errors.Wrapf(err, "send to chat %d", chatID)
	}
	return nil
}

// splitMessage cuts text into pieces of at most limit bytes, preferring the
// last newline inside each window
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
