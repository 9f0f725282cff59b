// Package messaging defines the integration contract for messaging backends
// and the registry used to look them up by id.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured is returned by backends missing credentials.
var ErrNotConfigured = errors.New("integration not configured")

// ID identifies a messaging integration. The set is closed.
type ID string

const (
	IDEmail    ID = "email"
	IDIMessage ID = "imessage"
	IDSlack    ID = "slack"
	IDTelegram ID = "telegram"
	IDDiscord  ID = "discord"
	IDX        ID = "x"
)

// All lists every known integration id.
var All = []ID{IDEmail, IDIMessage, IDSlack, IDTelegram, IDDiscord, IDX}

// ParseID validates a string against the closed id set.
func ParseID(s string) (ID, error) {
	for _, id := range All {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown messaging integration: %q", s)
}

// Message is a platform-neutral view of one message in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject,omitempty"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// SendRequest describes an outgoing message.
type SendRequest struct {
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject,omitempty"`
	Body           string `json:"body"`
	ConversationID string `json:"conversation_id,omitempty"` // reply into this thread if set
}

// SendResult reports a successful send, including the thread identity
// captured for later reply scoping.
type SendResult struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// CheckResult reports the outcome of a reply poll.
type CheckResult struct {
	HasNew   bool      `json:"has_new"`
	Count    int       `json:"count"`
	Messages []Message `json:"messages"`
}

// GetOptions bounds a message-history fetch.
type GetOptions struct {
	Limit          int
	ConversationID string
}

// Integration is the capability contract every messaging backend implements.
//
// conversationID is an opaque per-platform scoping token (email thread id,
// chat/channel id, iMessage chat guid): presence means "match only this
// thread", absence degrades to "any message from this contact on this
// platform" — a documented weaker guarantee kept for first-contact tasks
// that have no thread yet.
type Integration interface {
	ID() ID
	SendMessage(ctx context.Context, req SendRequest) (*SendResult, error)
	CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error)
	GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error)
}

// Contact is one candidate from a contact-name lookup.
type Contact struct {
	Name   string `json:"name"`
	Handle string `json:"handle"` // platform-specific identifier
}

// ContactResolver is optionally implemented by integrations that can map
// free-form names to platform handles.
type ContactResolver interface {
	ResolveContact(ctx context.Context, name string) ([]Contact, error)
}

// FilterNew applies the shared reply-detection rules: keep messages newer
// than the cutoff, from the given contact (when senders are comparable), and
// — when a conversation id is present — belonging to that thread only.
// Same-contact, different-thread messages are dropped.
func FilterNew(msgs []Message, contact string, since time.Time, conversationID string) []Message {
	var out []Message
	for _, m := range msgs {
		if !m.SentAt.After(since) {
			continue
		}
		if contact != "" && m.Sender != "" && m.Sender != contact {
			continue
		}
		if conversationID != "" && m.ConversationID != conversationID {
			continue
		}
		out = append(out, m)
	}
	return out
}
