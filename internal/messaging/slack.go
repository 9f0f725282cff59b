package messaging

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dohr-michael/envoy/internal/config"
)

// Slack talks to the Slack Web API over plain HTTP.
// The conversation id is the Slack channel id (DM or channel).
type Slack struct {
	cfg    config.SlackConfig
	client *http.Client
}

// NewSlack creates the Slack integration.
func NewSlack(cfg config.SlackConfig) *Slack {
	return &Slack{cfg: cfg, client: newHTTPClient()}
}

func (s *Slack) ID() ID { return IDSlack }

type slackPostResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type slackHistoryResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Messages []struct {
		User string `json:"user"`
		Text string `json:"text"`
		TS   string `json:"ts"`
	} `json:"messages"`
}

// SendMessage posts to a channel or DM. Recipient is a channel/user id;
// an explicit conversation id wins as the target channel.
func (s *Slack) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if s.cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: %w", ErrNotConfigured)
	}

	channel := req.Recipient
	if req.ConversationID != "" {
		channel = req.ConversationID
	}

	var resp slackPostResponse
	err := doJSON(ctx, s.client, http.MethodPost, s.cfg.BaseURL+"/chat.postMessage", s.cfg.BotToken,
		map[string]string{"channel": channel, "text": req.Body}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: chat.postMessage: %s", resp.Error)
	}

	return &SendResult{ConversationID: resp.Channel, MessageID: resp.TS}, nil
}

// CheckForNewMessages reads channel history newer than since. With no
// conversation id there is no channel to read, so detection degrades to
// empty — a Slack wait needs the thread captured at send time.
func (s *Slack) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	channel := conversationID
	if channel == "" {
		channel = contact // DMs: the contact id doubles as the channel
	}

	msgs, err := s.history(ctx, channel, since, 50)
	if err != nil {
		return nil, err
	}

	matched := FilterNew(msgs, contact, since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages fetches recent history for a contact's conversation.
func (s *Slack) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	channel := opts.ConversationID
	if channel == "" {
		channel = contact
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.history(ctx, channel, time.Time{}, limit)
}

func (s *Slack) history(ctx context.Context, channel string, oldest time.Time, limit int) ([]Message, error) {
	if s.cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: %w", ErrNotConfigured)
	}

	params := url.Values{}
	params.Set("channel", channel)
	params.Set("limit", strconv.Itoa(limit))
	if !oldest.IsZero() {
		params.Set("oldest", fmt.Sprintf("%d.000000", oldest.Unix()))
	}

	var resp slackHistoryResponse
	err := doJSON(ctx, s.client, http.MethodGet,
		s.cfg.BaseURL+"/conversations.history?"+params.Encode(), s.cfg.BotToken, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("slack: conversations.history: %s", resp.Error)
	}

	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, Message{
			ID:             m.TS,
			ConversationID: channel,
			Sender:         m.User,
			Body:           m.Text,
			SentAt:         slackTS(m.TS),
		})
	}
	return msgs, nil
}

// slackTS parses a Slack "1234567890.123456" timestamp.
func slackTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
