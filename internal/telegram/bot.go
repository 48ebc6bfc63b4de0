// Package telegram is the chat boundary: it receives messages from the
// Telegram API, hands them to the daemon, and delivers the daemon's
// streamed updates back as sent or edited messages.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tessa/internal/config"
	"github.com/harun/tessa/internal/tracing"
	"github.com/rs/zerolog"
)

// InboundMessage is a normalized incoming chat message.
type InboundMessage struct {
	ConversationKey string
	AuthorID        string
	AuthorName      string
	Text            string
}

// Handler processes inbound messages. A non-empty return value is sent
// back to the chat immediately.
type Handler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) string
}

// Bot represents a Telegram bot instance
type Bot struct {
	api     *tgbotapi.BotAPI
	config  *config.TelegramConfig
	logger  zerolog.Logger
	handler Handler

	running bool
	updates tgbotapi.UpdatesChannel

	streams *streamTable
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := &Bot{
		api:    api,
		config: cfg,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
	bot.streams = newStreamTable(bot)

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// SetHandler sets the inbound message handler. Must be called before
// Start.
func (b *Bot) SetHandler(h Handler) {
	b.handler = h
}

// Start starts the bot and begins processing updates
func (b *Bot) Start() error {
	if b.running {
		return fmt.Errorf("bot is already running")
	}
	if b.handler == nil {
		return fmt.Errorf("handler is required")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.updates = b.api.GetUpdatesChan(u)
	b.running = true

	go b.processUpdates()

	b.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	if !b.running {
		return fmt.Errorf("bot is not running")
	}

	b.running = false
	b.api.StopReceivingUpdates()

	b.logger.Info().Msg("Telegram bot stopped")
	return nil
}

func (b *Bot) processUpdates() {
	for update := range b.updates {
		if !b.running {
			break
		}
		if update.Message == nil || update.Message.Text == "" {
			continue
		}
		b.handleMessage(update.Message)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !b.allowed(msg.Chat.ID) {
		b.logger.Debug().Int64("chat_id", msg.Chat.ID).Msg("Chat not in allowlist, ignoring")
		return
	}

	inbound := InboundMessage{
		ConversationKey: strconv.FormatInt(msg.Chat.ID, 10),
		Text:            normalizeCommand(msg.Text),
	}
	if msg.From != nil {
		inbound.AuthorID = strconv.FormatInt(msg.From.ID, 10)
		inbound.AuthorName = authorName(msg.From)
	}

	ctx := tracing.WithSessionKey(tracing.NewRequestContext(context.Background()), inbound.ConversationKey)

	reply := b.handler.HandleInbound(ctx, inbound)
	if reply == "" {
		return
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to send reply")
	}
}

func (b *Bot) allowed(chatID int64) bool {
	if len(b.config.Allowlist) == 0 {
		return true
	}
	for _, id := range b.config.Allowlist {
		if id == chatID {
			return true
		}
	}
	return false
}

// normalizeCommand maps native Telegram commands onto the daemon's
// command prefix, so /stop and !stop behave the same. The bot-mention
// suffix Telegram appends in groups is stripped.
func normalizeCommand(text string) string {
	if !strings.HasPrefix(text, "/") {
		return text
	}

	cmd, rest, _ := strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	if cmd == "" {
		return text
	}
	if rest == "" {
		return "!" + cmd
	}
	return "!" + cmd + " " + rest
}

func authorName(user *tgbotapi.User) string {
	if user.UserName != "" {
		return user.UserName
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}
