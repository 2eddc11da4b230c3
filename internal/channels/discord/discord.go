// Package discord connects the runtime to Discord over the gateway.
// The bot runs under its own application account, so outbound text
// carries no bot-voice prefix.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/omrylcn/gbot/internal/bus"
	"github.com/omrylcn/gbot/internal/channels"
	"github.com/omrylcn/gbot/internal/config"
)

// messageLimit is Discord's cap per message.
const messageLimit = 2000

// Channel is the Discord adapter.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string
}

// New creates the Discord channel. The token comes from the environment
// via config loading.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the gateway connection.
func (c *Channel) Start(_ context.Context) error {
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

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers outbound text, splitting it under Discord's size cap.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat id for discord send")
	}

	for _, chunk := range channels.SplitMessage(msg.Content, messageLimit) {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// handleMessage turns one gateway message event into a bus publish.
// The bot's own messages and other bots are ignored.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	peerKind := bus.PeerGroup
	if m.GuildID == "" {
		peerKind = bus.PeerDirect
	}

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"user_name":  displayName(m),
	}
	if m.GuildID != "" {
		metadata["guild_id"] = m.GuildID
	}

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", m.ChannelID,
		"peer_kind", peerKind,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(m.Author.ID, m.ChannelID, content, metadata, peerKind)
}

// displayName prefers server nickname, then global name, then username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
