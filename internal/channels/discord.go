package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/kavyleancoder/meepo/internal/autonomy"
)

// discordMaxMessageLen is Discord's hard per-message character cap.
const discordMaxMessageLen = 2000

// DiscordChannel implements Channel for Discord via the gateway API.
type DiscordChannel struct {
	session    *discordgo.Session
	allowedIDs map[string]struct{}
	incoming   chan<- autonomy.IncomingMessage
	logger     *slog.Logger
	botUserID  string
}

// NewDiscordChannel creates a new Discord channel from a bot token.
func NewDiscordChannel(token string, allowedIDs []string, incoming chan<- autonomy.IncomingMessage, logger *slog.Logger) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	allowed := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscordChannel{
		session:    session,
		allowedIDs: allowed,
		incoming:   incoming,
		logger:     logger,
	}, nil
}

func (c *DiscordChannel) Name() string {
	return "discord"
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.logger.Info("discord bot connected", "username", user.Username, "id", user.ID)

	<-ctx.Done()
	c.logger.Info("stopping discord bot")
	return c.session.Close()
}

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}
	if len(c.allowedIDs) > 0 {
		if _, ok := c.allowedIDs[m.Author.ID]; !ok {
			c.logger.Warn("discord access denied", "user_id", m.Author.ID, "username", m.Author.Username)
			return
		}
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	in := autonomy.IncomingMessage{
		Sender:    m.Author.ID,
		Channel:   fmt.Sprintf("discord:%s", m.ChannelID),
		Content:   content,
		Timestamp: m.Timestamp,
	}

	select {
	case c.incoming <- in:
	default:
		c.logger.Warn("discord incoming queue full, dropping message", "channel_id", m.ChannelID)
	}
}

// Send delivers content to target, a Discord channel ID, splitting into
// multiple messages if it exceeds Discord's per-message length cap.
func (c *DiscordChannel) Send(_ context.Context, target, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMaxMessageLen {
			cutAt := discordMaxMessageLen
			if idx := strings.LastIndexByte(content[:discordMaxMessageLen], '\n'); idx > discordMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := c.session.ChannelMessageSend(target, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}
