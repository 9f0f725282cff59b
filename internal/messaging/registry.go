package messaging

import (
	"log/slog"
	"sync"

	"github.com/dohr-michael/envoy/internal/config"
)

// Registry maps integration ids to backends. Registration is static at
// process start; lookup is O(1).
type Registry struct {
	mu           sync.RWMutex
	integrations map[ID]Integration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{integrations: make(map[ID]Integration)}
}

// Register adds an integration. Later registrations for the same id win.
func (r *Registry) Register(i Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[i.ID()] = i
}

// Lookup returns the integration for an id.
func (r *Registry) Lookup(id ID) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.integrations[id]
	return i, ok
}

// IDs returns the registered integration ids.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ID, 0, len(r.integrations))
	for id := range r.integrations {
		out = append(out, id)
	}
	return out
}

// Setup builds a registry from config, registering every enabled backend.
// Backends that fail to initialize are skipped with a warning — one broken
// integration must not take the daemon down.
func Setup(cfg config.MessagingConfig) *Registry {
	r := NewRegistry()

	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(cfg.Telegram)
		if err != nil {
			slog.Warn("messaging: telegram init failed", "error", err)
		} else {
			r.Register(tg)
		}
	}
	if cfg.Discord.Enabled {
		dc, err := NewDiscord(cfg.Discord)
		if err != nil {
			slog.Warn("messaging: discord init failed", "error", err)
		} else {
			r.Register(dc)
		}
	}
	if cfg.Slack.Enabled {
		r.Register(NewSlack(cfg.Slack))
	}
	if cfg.Email.Enabled {
		r.Register(NewEmail(cfg.Email))
	}
	if cfg.IMessage.Enabled {
		r.Register(NewIMessage(cfg.IMessage))
	}
	if cfg.X.Enabled {
		r.Register(NewX(cfg.X))
	}

	slog.Info("messaging integrations registered", "count", len(r.integrations))
	return r
}
