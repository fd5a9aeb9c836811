package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator performs field-level checks that are advisory rather than fatal.
// Config.Validate covers what commands need to start; ValidateConfig reports
// everything else for `agentkit config validate`.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key prefix each provider issues.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if provider == "ollama" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Google API key format (should start with AIza)")
		}
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ValidatePhone accepts international numbers with an optional leading +.
func (v *Validator) ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("invalid phone number %q (digits only, optional leading +)", phone)
	}
	return nil
}

// ValidateSchedule parses a standard five-field cron expression.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateURL requires an absolute http(s) URL.
func (v *Validator) ValidateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
		if profile.BaseURL != "" {
			if err := v.ValidateURL("base_url", profile.BaseURL); err != nil {
				errs = append(errs, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	for i, agent := range cfg.Agents {
		if agent.Temperature != 0 {
			if err := v.ValidateTemperature(agent.Temperature); err != nil {
				errs = append(errs, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if agent.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(agent.MaxTokens); err != nil {
				errs = append(errs, fmt.Errorf("agent %d (%s): %w", i, agent.ID, err))
			}
		}
		if agent.Instruction == "" && agent.InstructionFile == "" {
			errs = append(errs, fmt.Errorf("agent %d (%s): instruction is empty", i, agent.ID))
		}
	}

	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.Event) == "" {
				errs = append(errs, fmt.Errorf("hook %d: event is required", i))
			}
			if strings.TrimSpace(hook.Script) == "" {
				errs = append(errs, fmt.Errorf("hook %d: script is required", i))
			}
		}
	}

	for name, raw := range map[string]string{
		"search.vector_url":     cfg.Search.VectorURL,
		"search.google_url":     cfg.Search.GoogleURL,
		"search.duckduckgo_url": cfg.Search.DuckDuckGoURL,
	} {
		if raw == "" {
			continue
		}
		if err := v.ValidateURL(name, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.WhatsApp.Phone != "" {
		if err := v.ValidatePhone(cfg.WhatsApp.Phone); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateSchedule(cfg.WhatsApp.Schedule); err != nil {
		errs = append(errs, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
