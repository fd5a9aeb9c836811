package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix   = "AGENTKIT"
	appDirName  = ".agentkit"
	configFile  = "agentkit.json"
	defaultEnvF = ".env"
)

// legacyEnv maps config keys to the environment variable names the demo
// scripts used. AGENTKIT_<KEY> is always bound first and wins.
var legacyEnv = map[string][]string{
	"search.google_api_key":     {"GOOGLE_API_KEY"},
	"search.google_cse_id":      {"GOOGLE_CSE_ID"},
	"search.vector_url":         {"VECTOR_SEARCH_URL"},
	"bigquery.project_id":       {"BQ_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	"bigquery.dataset":          {"BQ_DATASET"},
	"bigquery.credentials_file": {"SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"},
	"redis.host":                {"REDIS_HOST"},
	"redis.port":                {"REDIS_PORT"},
	"redis.password":            {"REDIS_PASSWORD"},
	"redis.db":                  {"REDIS_DB"},
	"session.ttl_seconds":       {"REDIS_TTL"},
	"session.backend":           nil,
	"artifact.bucket":           {"BUCKET_NAME"},
	"artifact.backend":          nil,
	"artifact.credentials_file": {"SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"},
	"database.driver":           nil,
	"database.host":             {"DB_HOST"},
	"database.port":             {"DB_PORT"},
	"database.name":             {"DB_NAME"},
	"database.user":             {"DB_USER"},
	"database.password":         {"DB_PASSWORD"},
	"database.schema":           {"DB_SCHEMA"},
	"database.sqlite_path":      nil,
	"expense.db_path":           nil,
	"whatsapp.phone":            {"WHATSAPP_PHONE"},
	"logging.level":             nil,
	"data_dir":                  nil,
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFiles   []string
}

// NewLoader creates a loader for configPath. Each env file is loaded into
// the process environment before the config is read; variables that are
// already set are left alone.
func NewLoader(configPath string, envFiles ...string) *Loader {
	return &Loader{configPath: configPath, envFiles: envFiles}
}

// Load reads the config file (if present), applies environment overrides and
// fills derived paths. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		bind := append([]string{key, envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(bind...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	path, err := l.path()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	builtin := cfg.Agents
	cfg.Agents = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Agents = MergeAgents(builtin, cfg.Agents)

	if cfg.AgentsFile != "" {
		extra, err := LoadAgentsFile(cfg.AgentsFile)
		if err != nil {
			return nil, err
		}
		cfg.Agents = MergeAgents(cfg.Agents, extra)
	}

	if err := fillPaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadEnvFiles() error {
	if len(l.envFiles) > 0 {
		if err := godotenv.Load(l.envFiles...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(defaultEnvF); err == nil {
		if err := godotenv.Load(defaultEnvF); err != nil {
			return fmt.Errorf("failed to load %s: %w", defaultEnvF, err)
		}
	}
	return nil
}

func fillPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDirName)
	}

	defaults := []struct {
		target *string
		name   string
	}{
		{&cfg.Logging.File, "agentkit.log"},
		{&cfg.Logging.AuditFile, "audit.log"},
		{&cfg.Session.SQLitePath, "agent_data.db"},
		{&cfg.Database.SQLitePath, "market.db"},
		{&cfg.Expense.DBPath, "expenses.db"},
		{&cfg.Expense.CategoriesPath, "categories.json"},
		{&cfg.WhatsApp.UserDataDir, "whatsapp_session"},
	}
	for _, d := range defaults {
		if *d.target == "" {
			*d.target = filepath.Join(cfg.DataDir, d.name)
		}
	}
	return nil
}

// Save writes cfg as JSON to the loader's path.
func (l *Loader) Save(cfg *Config) error {
	path, err := l.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(cfg.String()+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, _ := l.path()
	return path
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, appDirName, configFile), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string, envFiles ...string) (*Config, error) {
	return NewLoader(configPath, envFiles...).Load()
}
