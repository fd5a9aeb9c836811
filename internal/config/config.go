package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main agentkit configuration
type Config struct {
	// Data directory for local databases, logs and the browser profile
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Agents   []AgentConfig  `json:"agents" mapstructure:"agents"`
	Session  SessionConfig  `json:"session" mapstructure:"session"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	BigQuery BigQueryConfig `json:"bigquery" mapstructure:"bigquery"`
	Expense  ExpenseConfig  `json:"expense" mapstructure:"expense"`
	Search   SearchConfig   `json:"search" mapstructure:"search"`
	Artifact ArtifactConfig `json:"artifact" mapstructure:"artifact"`
	Relay    RelayConfig    `json:"relay" mapstructure:"relay"`
	WhatsApp WhatsAppConfig `json:"whatsapp" mapstructure:"whatsapp"`
	Tools    ToolsConfig    `json:"tools" mapstructure:"tools"`
	Hooks    HooksConfig    `json:"hooks" mapstructure:"hooks"`

	// AgentsFile points at a YAML file with additional agent definitions.
	AgentsFile string `json:"agents_file" mapstructure:"agents_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one set of provider credentials. Profiles are tried in
// priority order when a model call fails.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini, ollama
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	// Model overrides the agent model when this profile is used.
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig declares one agent: its model, instruction and tools.
type AgentConfig struct {
	ID              string           `json:"id" mapstructure:"id" yaml:"id"`
	Name            string           `json:"name" mapstructure:"name" yaml:"name"`
	Description     string           `json:"description" mapstructure:"description" yaml:"description"`
	Model           string           `json:"model" mapstructure:"model" yaml:"model"`
	Instruction     string           `json:"instruction" mapstructure:"instruction" yaml:"instruction"`
	InstructionFile string           `json:"instruction_file" mapstructure:"instruction_file" yaml:"instruction_file"`
	Temperature     float64          `json:"temperature" mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int              `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	Tools           ToolPolicyConfig `json:"tools" mapstructure:"tools" yaml:"tools"`
	OutputKey       string           `json:"output_key" mapstructure:"output_key" yaml:"output_key"`
	Guardrails      []string         `json:"guardrails" mapstructure:"guardrails" yaml:"guardrails"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow" yaml:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny" yaml:"deny"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Backend    string `json:"backend" mapstructure:"backend"` // redis, sqlite, memory
	KeyPrefix  string `json:"key_prefix" mapstructure:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds" mapstructure:"ttl_seconds"`
	SQLitePath string `json:"sqlite_path" mapstructure:"sqlite_path"`
	AppName    string `json:"app_name" mapstructure:"app_name"`
}

type RedisConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig selects the backend for the product, sales and market
// growth tables.
type DatabaseConfig struct {
	Driver     string `json:"driver" mapstructure:"driver"` // sqlite, postgres, bigquery
	SQLitePath string `json:"sqlite_path" mapstructure:"sqlite_path"`
	Host       string `json:"host" mapstructure:"host"`
	Port       int    `json:"port" mapstructure:"port"`
	Name       string `json:"name" mapstructure:"name"`
	User       string `json:"user" mapstructure:"user"`
	Password   string `json:"password" mapstructure:"password"`
	Schema     string `json:"schema" mapstructure:"schema"`
	SSLMode    string `json:"ssl_mode" mapstructure:"ssl_mode"`
	// ReadLimit caps read results when the caller does not pass a limit.
	ReadLimit int `json:"read_limit" mapstructure:"read_limit"`
}

// PostgresDSN builds a keyword/value connection string for pgx.
func (d DatabaseConfig) PostgresDSN() string {
	parts := []string{
		"host=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"dbname=" + d.Name,
		"user=" + d.User,
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	if d.SSLMode != "" {
		parts = append(parts, "sslmode="+d.SSLMode)
	}
	return strings.Join(parts, " ")
}

type BigQueryConfig struct {
	ProjectID       string `json:"project_id" mapstructure:"project_id"`
	Dataset         string `json:"dataset" mapstructure:"dataset"`
	Location        string `json:"location" mapstructure:"location"`
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
}

type ExpenseConfig struct {
	DBPath         string `json:"db_path" mapstructure:"db_path"`
	CategoriesPath string `json:"categories_path" mapstructure:"categories_path"`
	// ServerCommand launches the expense MCP server that agents talk to.
	// Empty means the tools are registered in-process.
	ServerCommand []string `json:"server_command" mapstructure:"server_command"`
}

type SearchConfig struct {
	GoogleAPIKey   string  `json:"google_api_key" mapstructure:"google_api_key"`
	GoogleCSEID    string  `json:"google_cse_id" mapstructure:"google_cse_id"`
	GoogleURL      string  `json:"google_url" mapstructure:"google_url"`
	VectorURL      string  `json:"vector_url" mapstructure:"vector_url"`
	DatasetID      string  `json:"dataset_id" mapstructure:"dataset_id"`
	Rows           int     `json:"rows" mapstructure:"rows"`
	RRFAlpha       float64 `json:"rrf_alpha" mapstructure:"rrf_alpha"`
	DuckDuckGoURL  string  `json:"duckduckgo_url" mapstructure:"duckduckgo_url"`
	MaxResults     int     `json:"max_results" mapstructure:"max_results"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type ArtifactConfig struct {
	Backend         string `json:"backend" mapstructure:"backend"` // gcs, memory
	Bucket          string `json:"bucket" mapstructure:"bucket"`
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
}

// RelayConfig holds the live websocket relay settings.
type RelayConfig struct {
	Host       string   `json:"host" mapstructure:"host"`
	Port       int      `json:"port" mapstructure:"port"`
	AgentID    string   `json:"agent_id" mapstructure:"agent_id"`
	AppName    string   `json:"app_name" mapstructure:"app_name"`
	Voice      string   `json:"voice" mapstructure:"voice"`
	Modalities []string `json:"modalities" mapstructure:"modalities"`
}

type WhatsAppConfig struct {
	Headless      bool     `json:"headless" mapstructure:"headless"`
	UserDataDir   string   `json:"user_data_dir" mapstructure:"user_data_dir"`
	ChromePath    string   `json:"chrome_path" mapstructure:"chrome_path"`
	DelaySeconds  int      `json:"delay_seconds" mapstructure:"delay_seconds"`
	RetrySeconds  int      `json:"retry_seconds" mapstructure:"retry_seconds"`
	WaitSeconds   int      `json:"wait_seconds" mapstructure:"wait_seconds"`
	SettleSeconds int      `json:"settle_seconds" mapstructure:"settle_seconds"`
	Phone         string   `json:"phone" mapstructure:"phone"`
	Messages      []string `json:"messages" mapstructure:"messages"`
	Schedule      string   `json:"schedule" mapstructure:"schedule"`
}

// ToolsConfig holds tool execution settings
type ToolsConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// HooksConfig holds lifecycle hooks.
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Entries []HookConfig `json:"entries" mapstructure:"entries"`
}

type HookConfig struct {
	ID             string `json:"id" mapstructure:"id"`
	Event          string `json:"event" mapstructure:"event"`
	Script         string `json:"script" mapstructure:"script"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "agentkit",
			SampleRatio: 1,
		},
		AI: AIConfig{Profiles: []AIProfile{}},
		Agents: DefaultAgents(),
		Session: SessionConfig{
			Backend:    "memory",
			KeyPrefix:  "adk:session",
			TTLSeconds: 3600,
			AppName:    "default_app",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Database: DatabaseConfig{
			Driver:    "sqlite",
			Host:      "localhost",
			Port:      5432,
			Schema:    "public",
			SSLMode:   "disable",
			ReadLimit: 1000,
		},
		BigQuery: BigQueryConfig{
			Location: "US",
		},
		Search: SearchConfig{
			GoogleURL:      "https://www.googleapis.com/",
			VectorURL:      "https://www.ac0.cloudadvocacyorg.joonix.net/api/query",
			DatasetID:      "e-commerce-products",
			Rows:           3,
			RRFAlpha:       0.5,
			DuckDuckGoURL:  "https://api.duckduckgo.com/",
			MaxResults:     3,
			TimeoutSeconds: 10,
		},
		Artifact: ArtifactConfig{
			Backend: "memory",
		},
		Relay: RelayConfig{
			Host:       "0.0.0.0",
			Port:       8000,
			AgentID:    "live_agent",
			AppName:    "live_app",
			Voice:      "Puck",
			Modalities: []string{"TEXT"},
		},
		WhatsApp: WhatsAppConfig{
			Headless:      true,
			DelaySeconds:  10,
			RetrySeconds:  30,
			WaitSeconds:   30,
			SettleSeconds: 2,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 10 * 1024,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings every command depends on. Backend-specific
// requirements (bucket names, CSE IDs) are checked when the backend is built.
func (c *Config) Validate() error {
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if !contains(validProviders, profile.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be one of: %s)",
				profile.ID, profile.Provider, strings.Join(validProviders, ", "))
		}
		if profile.APIKey == "" && profile.Provider != "ollama" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: ID is required", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("agent %s: duplicate ID", agent.ID)
		}
		seen[agent.ID] = true
		if agent.Model == "" {
			return fmt.Errorf("agent %s: model is required", agent.ID)
		}
	}

	if !contains(validSessionBackends, c.Session.Backend) {
		return fmt.Errorf("invalid session backend %q (must be one of: %s)",
			c.Session.Backend, strings.Join(validSessionBackends, ", "))
	}
	if c.Session.TTLSeconds < 0 {
		return fmt.Errorf("session.ttl_seconds must be >= 0")
	}

	if !contains(validDatabaseDrivers, c.Database.Driver) {
		return fmt.Errorf("invalid database driver %q (must be one of: %s)",
			c.Database.Driver, strings.Join(validDatabaseDrivers, ", "))
	}
	if c.Database.Driver == "bigquery" && (c.BigQuery.ProjectID == "" || c.BigQuery.Dataset == "") {
		return fmt.Errorf("bigquery.project_id and bigquery.dataset are required for the bigquery driver")
	}

	if !contains(validArtifactBackends, c.Artifact.Backend) {
		return fmt.Errorf("invalid artifact backend %q (must be one of: %s)",
			c.Artifact.Backend, strings.Join(validArtifactBackends, ", "))
	}
	if c.Artifact.Backend == "gcs" && c.Artifact.Bucket == "" {
		return fmt.Errorf("artifact.bucket is required for the gcs backend")
	}

	return nil
}

// Agent returns the agent with the given ID.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

var (
	validProviders        = []string{"anthropic", "openai", "gemini", "ollama"}
	validSessionBackends  = []string{"redis", "sqlite", "memory"}
	validDatabaseDrivers  = []string{"sqlite", "postgres", "bigquery"}
	validArtifactBackends = []string{"gcs", "memory"}
)

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
