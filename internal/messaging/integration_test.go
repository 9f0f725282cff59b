package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dohr-michael/envoy/internal/config"
)

func TestParseID(t *testing.T) {
	if _, err := ParseID("slack"); err != nil {
		t.Fatalf("ParseID(slack): %v", err)
	}
	if _, err := ParseID("carrier-pigeon"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestFilterNewThreadScoping(t *testing.T) {
	since := time.Now().Add(-time.Hour)
	msgs := []Message{
		{ID: "1", Sender: "sam", ConversationID: "thread-a", SentAt: time.Now(), Body: "right thread"},
		{ID: "2", Sender: "sam", ConversationID: "thread-b", SentAt: time.Now(), Body: "wrong thread"},
		{ID: "3", Sender: "alex", ConversationID: "thread-a", SentAt: time.Now(), Body: "wrong sender"},
		{ID: "4", Sender: "sam", ConversationID: "thread-a", SentAt: since.Add(-time.Minute), Body: "too old"},
	}

	got := FilterNew(msgs, "sam", since, "thread-a")
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("thread scoping: got %+v", got)
	}

	// Without a conversation id, detection degrades to any message from the
	// contact on this platform.
	got = FilterNew(msgs, "sam", since, "")
	if len(got) != 2 {
		t.Fatalf("unscoped matching: got %d, want 2", len(got))
	}
}

func TestInferIntegration(t *testing.T) {
	cases := []struct {
		text string
		want ID
		ok   bool
	}{
		{"send an email to bob@example.com", IDEmail, true},
		{"text Sam about dinner", IDIMessage, true},
		{"ping the team on slack", IDSlack, true},
		{"message her on telegram", IDTelegram, true},
		{"DM him on discord", IDDiscord, true},
		{"reach out on twitter", IDX, true},
		{"call them on the phone", "", false},
	}
	for _, tc := range cases {
		got, ok := InferIntegration(tc.text)
		if ok != tc.ok || got != tc.want {
			t.Errorf("InferIntegration(%q) = (%q, %v), want (%q, %v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	slack := NewSlack(config.SlackConfig{BotToken: "xoxb-test", BaseURL: "http://unused"})
	r.Register(slack)

	got, ok := r.Lookup(IDSlack)
	if !ok || got.ID() != IDSlack {
		t.Fatalf("Lookup(slack): %v %v", got, ok)
	}
	if _, ok := r.Lookup(IDDiscord); ok {
		t.Fatal("Lookup(discord) should miss")
	}
}

func TestSlackSendAndCheck(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/chat.postMessage":
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true, "channel": "D123", "ts": "1700000100.000100",
			})
		case "/conversations.history":
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"messages": []map[string]string{
					{"user": "U42", "text": "sounds good!", "ts": "1700000200.000200"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewSlack(config.SlackConfig{BotToken: "xoxb-test", BaseURL: srv.URL})

	sent, err := s.SendMessage(context.Background(), SendRequest{Recipient: "U42", Body: "lunch?"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ConversationID != "D123" || sent.MessageID == "" {
		t.Fatalf("SendMessage result: %+v", sent)
	}
	if gotAuth != "Bearer xoxb-test" {
		t.Errorf("auth header: %q", gotAuth)
	}

	check, err := s.CheckForNewMessages(context.Background(), "U42", time.Unix(1700000000, 0), "D123")
	if err != nil {
		t.Fatalf("CheckForNewMessages: %v", err)
	}
	if !check.HasNew || check.Count != 1 {
		t.Fatalf("CheckForNewMessages: %+v", check)
	}
	if check.Messages[0].Body != "sounds good!" {
		t.Errorf("message body: %q", check.Messages[0].Body)
	}
}

func TestContactCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/contacts" {
			calls++
			json.NewEncoder(w).Encode([]map[string]string{{"name": "Sam", "handle": "+15551234"}})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	im := NewIMessage(config.IMessageConfig{BaseURL: srv.URL})
	cache := NewContactCache()

	for i := 0; i < 3; i++ {
		candidates, err := cache.Resolve(context.Background(), im, "Sam")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(candidates) != 1 || candidates[0].Handle != "+15551234" {
			t.Fatalf("candidates: %+v", candidates)
		}
	}
	if calls != 1 {
		t.Errorf("resolver calls: got %d, want 1 (cached)", calls)
	}

	cache.Clear()
	if _, err := cache.Resolve(context.Background(), im, "Sam"); err != nil {
		t.Fatalf("Resolve after clear: %v", err)
	}
	if calls != 2 {
		t.Errorf("resolver calls after clear: got %d, want 2", calls)
	}
}
