package config

import "time"

// Config is the root configuration for Envoy.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Models    ModelsConfig    `json:"models"`
	Events    EventsConfig    `json:"events"`
	Engine    EngineConfig    `json:"engine"`
	Messaging MessagingConfig `json:"messaging"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string   `json:"driver"` // "anthropic", "openai"
	Model     string   `json:"model"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKey    string   `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	MaxTokens int      `json:"max_tokens,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// EngineConfig holds task engine tuning.
type EngineConfig struct {
	TickInterval        Duration `json:"tick_interval"`         // scheduler tick (default 30s)
	DefaultPollInterval Duration `json:"default_poll_interval"` // per-task reply polling (default 5m)
	DefaultMaxFollowups int      `json:"default_max_followups"` // follow-up budget (default 3)
	FollowupAfterHours  float64  `json:"followup_after_hours"`  // dwell before a follow-up (default 24)
	ConfirmTimeout      Duration `json:"confirm_timeout"`       // ad hoc approval wait (default 5m)
}

// MessagingConfig holds per-integration credentials and endpoints.
// Token fields accept ${{ .Env.VAR }} templates.
type MessagingConfig struct {
	Email    EmailConfig    `json:"email"`
	IMessage IMessageConfig `json:"imessage"`
	Slack    SlackConfig    `json:"slack"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	X        XConfig        `json:"x"`
}

// EmailConfig configures the Gmail REST integration.
type EmailConfig struct {
	Enabled     bool   `json:"enabled"`
	AccessToken string `json:"access_token,omitempty"`
	BaseURL     string `json:"base_url,omitempty"` // override for tests
}

// IMessageConfig configures the local iMessage bridge integration.
type IMessageConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"` // bridge server, default http://127.0.0.1:1234
	Token   string `json:"token,omitempty"`
}

// SlackConfig configures the Slack Web API integration.
type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token,omitempty"` // xoxb-...
	BaseURL  string `json:"base_url,omitempty"`  // override for tests
}

// TelegramConfig configures the Telegram bot integration.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// DiscordConfig configures the Discord bot integration.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// XConfig configures the X (Twitter) DM integration.
type XConfig struct {
	Enabled     bool   `json:"enabled"`
	BearerToken string `json:"bearer_token,omitempty"`
	BaseURL     string `json:"base_url,omitempty"` // override for tests
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
