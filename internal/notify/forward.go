package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/corpus"
)

// Forwarder pushes a stored notification to an external chat channel.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, n *Notification) error
}

// BuildForwarders constructs every forwarder enabled in config. One
// that fails to initialize is logged and skipped, never fatal.
func BuildForwarders(cfg config.NotifyConfig) []Forwarder {
	var out []Forwarder
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		f, err := NewTelegramForwarder(cfg.Telegram)
		if err != nil {
			slog.Warn("notify: telegram forwarder disabled", "error", err)
		} else {
			out = append(out, f)
		}
	}
	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		f, err := NewDiscordForwarder(cfg.Discord)
		if err != nil {
			slog.Warn("notify: discord forwarder disabled", "error", err)
		} else {
			out = append(out, f)
		}
	}
	return out
}

type telegramForwarder struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramForwarder sends notifications to a Telegram chat.
func NewTelegramForwarder(cfg config.TelegramConfig) (Forwarder, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &telegramForwarder{bot: bot, chatID: cfg.ChatID}, nil
}

func (f *telegramForwarder) Name() string { return "telegram" }

func (f *telegramForwarder) Forward(ctx context.Context, n *Notification) error {
	_, err := f.bot.SendMessage(ctx, tu.Message(tu.ID(f.chatID), renderText(n)))
	return err
}

type discordForwarder struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordForwarder sends notifications to a Discord channel over
// the REST API; no gateway connection is opened.
func NewDiscordForwarder(cfg config.DiscordConfig) (Forwarder, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &discordForwarder{session: session, channelID: cfg.ChannelID}, nil
}

func (f *discordForwarder) Name() string { return "discord" }

func (f *discordForwarder) Forward(ctx context.Context, n *Notification) error {
	_, err := f.session.ChannelMessageSend(f.channelID, renderText(n), discordgo.WithContext(ctx))
	return err
}

// renderText renders a notification as one chat line.
func renderText(n *Notification) string {
	project := corpus.DisplayName(n.ProjectID)
	switch n.Type {
	case TypePermissionRequest:
		return fmt.Sprintf("🔐 [%s] permission needed: %s", project, n.Notification)
	case TypeToolUse:
		return fmt.Sprintf("🔧 [%s] tool: %s", project, n.ToolName)
	default:
		return fmt.Sprintf("💬 [%s] %s", project, n.Notification)
	}
}
