package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/HKUDS/secretary-go/pkg/bus"
	"github.com/HKUDS/secretary-go/pkg/config"
)

// ErrNotConnected is returned by Send before Connect succeeded.
var ErrNotConnected = errors.New("telegram bot not initialized")

// TelegramChannel implements the Telegram channel. It also delivers
// reminders, so its Deliver method is the scheduler's dispatcher.
type TelegramChannel struct {
	BaseChannel
	Config   config.TelegramConfig
	bot      *tgbotapi.BotAPI
	endpoint string
	logger   *zap.Logger
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus, logger *zap.Logger) *TelegramChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config:   cfg,
		endpoint: tgbotapi.APIEndpoint,
		logger:   logger.Named("telegram"),
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

// Connect authorizes the bot. It must succeed before Run, Send or Deliver.
func (c *TelegramChannel) Connect() error {
	client := &http.Client{Timeout: 90 * time.Second}
	if c.Config.Proxy != "" {
		proxy, err := url.Parse(c.Config.Proxy)
		if err != nil {
			return fmt.Errorf("invalid telegram proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.Config.Token, c.endpoint, client)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot
	c.logger.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
	return nil
}

// Run long-polls for updates until ctx is done.
func (c *TelegramChannel) Run(ctx context.Context) error {
	if c.bot == nil {
		return ErrNotConnected
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			c.handleUpdate(ctx, update)
		case <-ctx.Done():
			return nil
		}
	}
}

// Send delivers a reply published on the bus.
func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	return c.Deliver(ctx, msg.ChatID, msg.Content)
}

// Deliver sends text to chatID.
func (c *TelegramChannel) Deliver(ctx context.Context, chatID int64, text string) error {
	if c.bot == nil {
		return ErrNotConnected
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send to chat %d: %w", chatID, err)
	}
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg.From == nil || msg.Chat == nil {
		return
	}

	in := bus.InboundMessage{
		Channel:   c.Name(),
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Content:   msg.Text,
		Timestamp: msg.Time(),
	}
	if msg.IsCommand() {
		in.Command = msg.Command()
		in.Content = msg.CommandArguments()
	}
	if in.Content == "" && in.Command == "" {
		return
	}

	if !c.HandleMessage(ctx, in) {
		c.logger.Warn("message ignored",
			zap.Int64("user_id", in.UserID),
			zap.String("username", in.Username))
	}
}
