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

// IMessage talks to a local iMessage bridge server (macOS only). The
// conversation id is the bridge's chat guid.
type IMessage struct {
	cfg    config.IMessageConfig
	client *http.Client
}

// NewIMessage creates the iMessage bridge integration.
func NewIMessage(cfg config.IMessageConfig) *IMessage {
	return &IMessage{cfg: cfg, client: newHTTPClient()}
}

func (i *IMessage) ID() ID { return IDIMessage }

type bridgeSendResponse struct {
	GUID     string `json:"guid"`
	ChatGUID string `json:"chat_guid"`
}

type bridgeMessage struct {
	GUID     string `json:"guid"`
	ChatGUID string `json:"chat_guid"`
	Sender   string `json:"sender"`
	Body     string `json:"body"`
	Date     int64  `json:"date"` // unix seconds
	FromMe   bool   `json:"from_me"`
}

type bridgeContact struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// SendMessage posts to the bridge.
func (i *IMessage) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	payload := map[string]string{
		"recipient": req.Recipient,
		"body":      req.Body,
	}
	if req.ConversationID != "" {
		payload["chat_guid"] = req.ConversationID
	}

	var resp bridgeSendResponse
	err := doJSON(ctx, i.client, http.MethodPost, i.cfg.BaseURL+"/messages", i.cfg.Token, payload, &resp)
	if err != nil {
		return nil, fmt.Errorf("imessage: send: %w", err)
	}

	return &SendResult{ConversationID: resp.ChatGUID, MessageID: resp.GUID}, nil
}

// CheckForNewMessages asks the bridge for incoming messages newer than since.
func (i *IMessage) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	msgs, err := i.fetch(ctx, contact, since, 50)
	if err != nil {
		return nil, err
	}

	matched := FilterNew(msgs, contact, since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages fetches recent history for a contact.
func (i *IMessage) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	msgs, err := i.fetch(ctx, contact, time.Time{}, opts.Limit)
	if err != nil {
		return nil, err
	}
	if opts.ConversationID != "" {
		msgs = FilterNew(msgs, "", time.Time{}, opts.ConversationID)
	}
	return msgs, nil
}

// ResolveContact asks the bridge's contact book for handle candidates.
func (i *IMessage) ResolveContact(ctx context.Context, name string) ([]Contact, error) {
	params := url.Values{}
	params.Set("q", name)

	var raw []bridgeContact
	err := doJSON(ctx, i.client, http.MethodGet, i.cfg.BaseURL+"/contacts?"+params.Encode(), i.cfg.Token, nil, &raw)
	if err != nil {
		return nil, fmt.Errorf("imessage: resolve contact: %w", err)
	}

	out := make([]Contact, 0, len(raw))
	for _, c := range raw {
		out = append(out, Contact{Name: c.Name, Handle: c.Handle})
	}
	return out, nil
}

func (i *IMessage) fetch(ctx context.Context, contact string, since time.Time, limit int) ([]Message, error) {
	params := url.Values{}
	params.Set("contact", contact)
	if !since.IsZero() {
		params.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw []bridgeMessage
	err := doJSON(ctx, i.client, http.MethodGet, i.cfg.BaseURL+"/messages?"+params.Encode(), i.cfg.Token, nil, &raw)
	if err != nil {
		return nil, fmt.Errorf("imessage: fetch: %w", err)
	}

	var msgs []Message
	for _, m := range raw {
		if m.FromMe {
			continue
		}
		msgs = append(msgs, Message{
			ID:             m.GUID,
			ConversationID: m.ChatGUID,
			Sender:         m.Sender,
			Body:           m.Body,
			SentAt:         time.Unix(m.Date, 0),
		})
	}
	return msgs, nil
}
