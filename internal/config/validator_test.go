package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-test123", "anthropic", false},
		{"invalid anthropic key", "invalid-key", "anthropic", true},
		{"valid openai key", "sk-test123", "openai", false},
		{"valid gemini key", "AIzaSyTest", "gemini", false},
		{"invalid gemini key", "sk-test", "gemini", true},
		{"ollama ignores key", "", "ollama", false},
		{"empty key", "", "anthropic", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePhone(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePhone("+6281234567890"))
	assert.NoError(t, v.ValidatePhone("15551234567"))
	assert.Error(t, v.ValidatePhone("call me"))
	assert.Error(t, v.ValidatePhone("+1"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule(""))
	assert.NoError(t, v.ValidateSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("every minute"))
}

func TestValidateURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL("vector_url", "https://search.example.com/api/query"))
	assert.Error(t, v.ValidateURL("vector_url", "search.example.com"))
	assert.Error(t, v.ValidateURL("vector_url", "ftp://example.com"))
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(1.5))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))
	assert.NoError(t, v.ValidateLogLevel("debug"))
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are clean", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AI.Profiles = []AIProfile{{ID: "x", Provider: "openai", APIKey: "bad"}}
		cfg.WhatsApp.Phone = "nope"
		cfg.WhatsApp.Schedule = "sometimes"
		cfg.Search.VectorURL = "not-a-url"
		cfg.Hooks = HooksConfig{Enabled: true, Entries: []HookConfig{{Enabled: true}}}

		errs := v.ValidateConfig(cfg)
		assert.GreaterOrEqual(t, len(errs), 6)
	})
}
