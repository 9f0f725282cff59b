package messaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dohr-michael/envoy/internal/config"
)

// Email talks to the Gmail REST API. The conversation id is the Gmail
// thread id, captured from the send response.
type Email struct {
	cfg    config.EmailConfig
	client *http.Client
}

// NewEmail creates the Gmail integration.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg, client: newHTTPClient()}
}

func (e *Email) ID() ID { return IDEmail }

type gmailSendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailListResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"` // epoch millis as string
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"payload"`
}

// SendMessage sends an RFC 822 message; replies thread via the threadId.
func (e *Email) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if e.cfg.AccessToken == "" {
		return nil, fmt.Errorf("email: %w", ErrNotConfigured)
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", req.Recipient, req.Subject, req.Body)
	body := map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	}
	if req.ConversationID != "" {
		body["threadId"] = req.ConversationID
	}

	var resp gmailSendResponse
	err := doJSON(ctx, e.client, http.MethodPost,
		e.cfg.BaseURL+"/users/me/messages/send", e.cfg.AccessToken, body, &resp)
	if err != nil {
		return nil, err
	}

	return &SendResult{ConversationID: resp.ThreadID, MessageID: resp.ID}, nil
}

// CheckForNewMessages searches for mail from the contact newer than since.
func (e *Email) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	if e.cfg.AccessToken == "" {
		return nil, fmt.Errorf("email: %w", ErrNotConfigured)
	}

	q := fmt.Sprintf("from:%s after:%d", contact, since.Unix())
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", "20")

	var list gmailListResponse
	err := doJSON(ctx, e.client, http.MethodGet,
		e.cfg.BaseURL+"/users/me/messages?"+params.Encode(), e.cfg.AccessToken, nil, &list)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, entry := range list.Messages {
		m, err := e.fetchMessage(ctx, entry.ID)
		if err != nil {
			continue
		}
		msgs = append(msgs, *m)
	}

	// Sender matching already happened via the from: query.
	matched := FilterNew(msgs, "", since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages fetches recent mail from the contact.
func (e *Email) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	result, err := e.CheckForNewMessages(ctx, contact, time.Time{}, opts.ConversationID)
	if err != nil {
		return nil, err
	}
	msgs := result.Messages
	if opts.Limit > 0 && len(msgs) > opts.Limit {
		msgs = msgs[len(msgs)-opts.Limit:]
	}
	return msgs, nil
}

func (e *Email) fetchMessage(ctx context.Context, id string) (*Message, error) {
	var gm gmailMessage
	err := doJSON(ctx, e.client, http.MethodGet,
		e.cfg.BaseURL+"/users/me/messages/"+id+"?format=metadata", e.cfg.AccessToken, nil, &gm)
	if err != nil {
		return nil, err
	}

	var subject, from string
	for _, h := range gm.Payload.Headers {
		switch h.Name {
		case "Subject":
			subject = h.Value
		case "From":
			from = h.Value
		}
	}

	sentAt := time.Time{}
	if ms, err := strconv.ParseInt(gm.InternalDate, 10, 64); err == nil {
		sentAt = time.UnixMilli(ms)
	}

	return &Message{
		ID:             gm.ID,
		ConversationID: gm.ThreadID,
		Sender:         from,
		Subject:        subject,
		Body:           gm.Snippet,
		SentAt:         sentAt,
	}, nil
}
