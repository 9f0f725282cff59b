package models

import (
	"context"
	"strings"
	"testing"

	"github.com/dohr-michael/envoy/internal/config"
)

func TestResolveAPIKey_DirectKey(t *testing.T) {
	cfg := config.ProviderConfig{Driver: "anthropic", APIKey: "sk-ant-test-123"}
	key, err := resolveAPIKey(cfg, "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("resolveAPIKey: %v", err)
	}
	if key != "sk-ant-test-123" {
		t.Fatalf("expected %q, got %q", "sk-ant-test-123", key)
	}
}

func TestResolveAPIKey_FallbackEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic-key")

	cfg := config.ProviderConfig{Driver: "anthropic"}
	key, err := resolveAPIKey(cfg, "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("resolveAPIKey: %v", err)
	}
	if key != "env-anthropic-key" {
		t.Fatalf("expected env key, got %q", key)
	}
}

func TestResolveAPIKey_Missing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := config.ProviderConfig{Driver: "openai"}
	if _, err := resolveAPIKey(cfg, "OPENAI_API_KEY"); err == nil {
		t.Fatal("expected error when no key is available")
	}
}

func TestCreateModel_UnknownDriver(t *testing.T) {
	_, err := CreateModel(context.Background(), config.ProviderConfig{Driver: "frontier"})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{
		Default: "main",
		Providers: map[string]config.ProviderConfig{
			"main": {Driver: "anthropic", Model: "claude-sonnet-4-6", APIKey: "sk-test"},
		},
	})

	if _, err := r.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if r.DefaultName() != "main" {
		t.Fatalf("DefaultName: %q", r.DefaultName())
	}
	if names := r.Names(); len(names) != 1 || names[0] != "main" {
		t.Fatalf("Names: %v", names)
	}
}

func TestRegistry_NoDefault(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{})
	if _, err := r.Default(context.Background()); err == nil {
		t.Fatal("expected error when no default configured")
	}
}

func TestHandleError(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"received 401 unauthorized", "authentication failed"},
		{"429 too many requests", "rate limited"},
		{"prompt exceeds context length", "context too long"},
		{"dial tcp: connection refused", "connection error"},
	}
	for _, tc := range cases {
		got := HandleError(errString(tc.in))
		if !strings.Contains(got.Error(), tc.want) {
			t.Errorf("HandleError(%q) = %q, want substring %q", tc.in, got, tc.want)
		}
	}
	if HandleError(nil) != nil {
		t.Error("HandleError(nil) should be nil")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
