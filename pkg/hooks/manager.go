package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle events hooks can subscribe to.
const (
	EventSessionCreated     = "session:created"
	EventSessionDeleted     = "session:deleted"
	EventAgentTurnCompleted = "agent:turn_completed"
	EventWhatsAppSent       = "whatsapp:sent"
	EventWhatsAppFailed     = "whatsapp:failed"
	EventRelayConnected     = "relay:connected"
	EventRelayDisconnected  = "relay:disconnected"
)

const (
	envEvent      = "AGENTKIT_HOOK_EVENT"
	envDataPrefix = "AGENTKIT_HOOK_DATA_"

	defaultTimeout = 30 * time.Second
)

// Hook runs a shell script when Event fires.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for lifecycle events. A nil *Manager is
// valid and does nothing.
type Manager struct {
	enabled      bool
	logger       zerolog.Logger
	hooksByEvent map[string][]Hook
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("component", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}
	if !cfg.Enabled {
		return m, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := strings.TrimSpace(hook.Event)
		if event == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		if hook.Timeout <= 0 {
			hook.Timeout = defaultTimeout
		}
		m.hooksByEvent[event] = append(m.hooksByEvent[event], hook)
	}
	return m, nil
}

// Has reports whether any hook listens for event.
func (m *Manager) Has(event string) bool {
	if m == nil || !m.enabled {
		return false
	}
	return len(m.hooksByEvent[event]) > 0
}

// Trigger runs every hook registered for event in order and joins their
// errors.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]any) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	hooks := m.hooksByEvent[event]
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		if err := m.run(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fire triggers event and logs failures instead of returning them.
func (m *Manager) Fire(ctx context.Context, event string, data map[string]any) {
	if !m.Has(event) {
		return
	}
	if err := m.Trigger(ctx, event, data); err != nil {
		m.logger.Warn().Err(err).Str("event", event).Msg("Hook failed")
	}
}

func (m *Manager) run(ctx context.Context, event string, hook Hook, data map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := hook.ID
	if strings.TrimSpace(id) == "" {
		id = event
	}

	runCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = hookEnv(event, data)

	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if runCtx.Err() != nil {
			err = fmt.Errorf("%w: %v", runCtx.Err(), err)
		}
		if text != "" {
			return fmt.Errorf("hook %s failed: %w: %s", id, err, text)
		}
		return fmt.Errorf("hook %s failed: %w", id, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", id).
		Str("output", text).
		Msg("Hook executed")
	return nil
}

func hookEnv(event string, data map[string]any) []string {
	env := append(os.Environ(), envEvent+"="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, envDataPrefix+envKey(k)+"="+fmt.Sprint(data[k]))
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		default:
			return '_'
		}
	}, key)
}
