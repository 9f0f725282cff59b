package messaging

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dohr-michael/envoy/internal/config"
)

// X sends direct messages through the X API v2. The conversation id is the
// DM conversation id; the contact is the participant user id.
type X struct {
	cfg    config.XConfig
	client *http.Client
}

// NewX creates the X integration.
func NewX(cfg config.XConfig) *X {
	return &X{cfg: cfg, client: newHTTPClient()}
}

func (x *X) ID() ID { return IDX }

type xSendResponse struct {
	Data struct {
		ConversationID string `json:"dm_conversation_id"`
		EventID        string `json:"dm_event_id"`
	} `json:"data"`
}

type xEventsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		SenderID  string    `json:"sender_id"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

// SendMessage DMs a participant.
func (x *X) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if x.cfg.BearerToken == "" {
		return nil, fmt.Errorf("x: %w", ErrNotConfigured)
	}

	var endpoint string
	if req.ConversationID != "" {
		endpoint = fmt.Sprintf("%s/dm_conversations/%s/messages", x.cfg.BaseURL, req.ConversationID)
	} else {
		endpoint = fmt.Sprintf("%s/dm_conversations/with/%s/messages", x.cfg.BaseURL, req.Recipient)
	}

	var resp xSendResponse
	err := doJSON(ctx, x.client, http.MethodPost, endpoint, x.cfg.BearerToken,
		map[string]string{"text": req.Body}, &resp)
	if err != nil {
		return nil, err
	}

	return &SendResult{ConversationID: resp.Data.ConversationID, MessageID: resp.Data.EventID}, nil
}

// CheckForNewMessages reads DM events newer than since.
func (x *X) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	msgs, err := x.events(ctx, contact, conversationID)
	if err != nil {
		return nil, err
	}

	matched := FilterNew(msgs, contact, since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages fetches recent DM events for a contact.
func (x *X) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	msgs, err := x.events(ctx, contact, opts.ConversationID)
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	return msgs, nil
}

func (x *X) events(ctx context.Context, contact, conversationID string) ([]Message, error) {
	if x.cfg.BearerToken == "" {
		return nil, fmt.Errorf("x: %w", ErrNotConfigured)
	}

	var endpoint string
	if conversationID != "" {
		endpoint = fmt.Sprintf("%s/dm_conversations/%s/dm_events", x.cfg.BaseURL, conversationID)
	} else {
		endpoint = fmt.Sprintf("%s/dm_conversations/with/%s/dm_events", x.cfg.BaseURL, contact)
	}
	endpoint += "?dm_event.fields=sender_id,created_at,text"

	var resp xEventsResponse
	if err := doJSON(ctx, x.client, http.MethodGet, endpoint, x.cfg.BearerToken, nil, &resp); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(resp.Data))
	for _, ev := range resp.Data {
		msgs = append(msgs, Message{
			ID:             ev.ID,
			ConversationID: conversationID,
			Sender:         ev.SenderID,
			Body:           ev.Text,
			SentAt:         ev.CreatedAt,
		})
	}
	return msgs, nil
}
