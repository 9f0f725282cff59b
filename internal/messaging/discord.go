package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dohr-michael/envoy/internal/config"
)

// Discord sends DMs through a bot session. The conversation id is the DM
// channel id; the contact is the Discord user id.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates the Discord integration.
func NewDiscord(cfg config.DiscordConfig) (*Discord, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: %w", ErrNotConfigured)
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{session: session}, nil
}

func (d *Discord) ID() ID { return IDDiscord }

// SendMessage DMs a user, creating the DM channel if needed.
func (d *Discord) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	channelID := req.ConversationID
	if channelID == "" {
		channel, err := d.session.UserChannelCreate(req.Recipient, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: open dm channel: %w", err)
		}
		channelID = channel.ID
	}

	sent, err := d.session.ChannelMessageSend(channelID, req.Body, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: send: %w", err)
	}

	return &SendResult{ConversationID: channelID, MessageID: sent.ID}, nil
}

// CheckForNewMessages reads channel history newer than since.
func (d *Discord) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	channelID := conversationID
	if channelID == "" {
		channel, err := d.session.UserChannelCreate(contact, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: open dm channel: %w", err)
		}
		channelID = channel.ID
	}

	msgs, err := d.channelMessages(ctx, channelID, 50)
	if err != nil {
		return nil, err
	}

	matched := FilterNew(msgs, contact, since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages fetches recent history from the contact's DM channel.
func (d *Discord) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	channelID := opts.ConversationID
	if channelID == "" {
		channel, err := d.session.UserChannelCreate(contact, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: open dm channel: %w", err)
		}
		channelID = channel.ID
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	return d.channelMessages(ctx, channelID, limit)
}

func (d *Discord) channelMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	raw, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: channel messages: %w", err)
	}

	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- { // API returns newest first
		m := raw[i]
		sender := ""
		if m.Author != nil {
			sender = m.Author.ID
		}
		msgs = append(msgs, Message{
			ID:             m.ID,
			ConversationID: channelID,
			Sender:         sender,
			Body:           m.Content,
			SentAt:         m.Timestamp,
		})
	}
	return msgs, nil
}
