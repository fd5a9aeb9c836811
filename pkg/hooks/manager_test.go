package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTriggerInjectsEventData(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")

	m, err := NewManager(Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []Hook{{
			ID:      "notify",
			Event:   EventWhatsAppSent,
			Script:  `echo "$AGENTKIT_HOOK_EVENT:$AGENTKIT_HOOK_DATA_PHONE:$AGENTKIT_HOOK_DATA_MESSAGE_INDEX" > ` + out,
			Enabled: true,
		}},
	})
	require.NoError(t, err)

	require.NoError(t, m.Trigger(context.Background(), EventWhatsAppSent, map[string]any{
		"phone":         "15551234",
		"message-index": 3,
	}))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:sent:15551234:3\n", string(content))
}

func TestManagerTriggerJoinsErrors(t *testing.T) {
	m, err := NewManager(Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []Hook{
			{ID: "fail-1", Event: EventSessionDeleted, Script: "exit 2", Enabled: true},
			{ID: "fail-2", Event: EventSessionDeleted, Script: "exit 3", Enabled: true},
		},
	})
	require.NoError(t, err)

	err = m.Trigger(context.Background(), EventSessionDeleted, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook fail-1 failed")
	assert.Contains(t, err.Error(), "hook fail-2 failed")
}

func TestManagerTriggerRespectsTimeout(t *testing.T) {
	m, err := NewManager(Config{
		Enabled: true,
		Logger:  zerolog.Nop(),
		Hooks: []Hook{{
			ID:      "slow",
			Event:   EventRelayConnected,
			Script:  "sleep 1",
			Enabled: true,
			Timeout: 30 * time.Millisecond,
		}},
	})
	require.NoError(t, err)

	err = m.Trigger(context.Background(), EventRelayConnected, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{Enabled: true, Hooks: []Hook{{Event: "x", Enabled: true}}})
	assert.Error(t, err)

	m, err := NewManager(Config{Enabled: true, Hooks: []Hook{{Event: "x", Enabled: false}}})
	require.NoError(t, err)
	assert.False(t, m.Has("x"))
}

func TestDisabledAndNilManager(t *testing.T) {
	var nilManager *Manager
	assert.NoError(t, nilManager.Trigger(context.Background(), EventSessionCreated, nil))
	nilManager.Fire(context.Background(), EventSessionCreated, nil)

	m, err := NewManager(Config{Enabled: false, Hooks: []Hook{{Event: "x", Script: "exit 1", Enabled: true}}})
	require.NoError(t, err)
	assert.NoError(t, m.Trigger(context.Background(), "x", nil))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "SESSION_ID", envKey("session_id"))
	assert.Equal(t, "APP_NAME", envKey("app.name"))
	assert.Equal(t, "UNKNOWN", envKey("  "))
}
