package messaging

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/dohr-michael/envoy/internal/config"
)

// Telegram sends and polls through the Bot API. Bots cannot read arbitrary
// chat history, so incoming messages are drained via getUpdates and retained
// in a small in-memory window. The conversation id is the chat id.
type Telegram struct {
	bot *telego.Bot

	mu     sync.Mutex
	offset int
	seen   []Message // recent incoming messages, bounded
}

// telegramWindow bounds the retained update history.
const telegramWindow = 200

// NewTelegram creates the Telegram integration.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: %w", ErrNotConfigured)
	}
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) ID() ID { return IDTelegram }

// SendMessage sends to a chat id. Recipient (or the conversation id) must be
// a numeric Telegram chat id.
func (t *Telegram) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	target := req.Recipient
	if req.ConversationID != "" {
		target = req.ConversationID
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: recipient %q is not a chat id: %w", target, err)
	}

	sent, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), req.Body))
	if err != nil {
		return nil, fmt.Errorf("telegram: send: %w", err)
	}

	return &SendResult{
		ConversationID: strconv.FormatInt(chatID, 10),
		MessageID:      strconv.Itoa(sent.MessageID),
	}, nil
}

// CheckForNewMessages drains pending updates, then matches the retained
// window against the wait tuple.
func (t *Telegram) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*CheckResult, error) {
	if err := t.drainUpdates(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	window := make([]Message, len(t.seen))
	copy(window, t.seen)
	t.mu.Unlock()

	matched := FilterNew(window, contact, since, conversationID)
	return &CheckResult{HasNew: len(matched) > 0, Count: len(matched), Messages: matched}, nil
}

// GetMessages returns retained messages for a contact.
func (t *Telegram) GetMessages(ctx context.Context, contact string, opts GetOptions) ([]Message, error) {
	if err := t.drainUpdates(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.seen {
		if contact != "" && m.Sender != contact {
			continue
		}
		if opts.ConversationID != "" && m.ConversationID != opts.ConversationID {
			continue
		}
		out = append(out, m)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func (t *Telegram) drainUpdates(ctx context.Context) error {
	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	updates, err := t.bot.GetUpdates(ctx, &telego.GetUpdatesParams{Offset: offset})
	if err != nil {
		return fmt.Errorf("telegram: get updates: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}
		msg := u.Message
		sender := ""
		if msg.From != nil {
			sender = strconv.FormatInt(msg.From.ID, 10)
		}
		t.seen = append(t.seen, Message{
			ID:             strconv.Itoa(msg.MessageID),
			ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
			Sender:         sender,
			Body:           msg.Text,
			SentAt:         time.Unix(msg.Date, 0),
		})
	}

	if len(t.seen) > telegramWindow {
		t.seen = t.seen[len(t.seen)-telegramWindow:]
	}
	return nil
}
