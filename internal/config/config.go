// Package config loads the Aria runtime's YAML configuration and exposes
// the composed Runtime that owns every long-lived dependency.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the Aria configuration file.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	LLM         LLMConfig         `yaml:"llm"`
	Agents      []AgentConfig     `yaml:"agents"`
	Session     SessionConfig     `yaml:"session"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Roundtable  RoundtableConfig  `yaml:"roundtable"`
	Swarm       SwarmConfig       `yaml:"swarm"`
	Logging     LoggingConfig     `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP/WS transport listener.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the Postgres session store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int32         `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig configures transport authentication.
type AuthConfig struct {
	APIKey      string        `yaml:"api_key"`
	AdminKey    string        `yaml:"admin_key"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// LLMConfig points at the model catalog file consumed by llmgateway and
// the LiteLLM proxy credentials layered on top of it at startup.
type LLMConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	BaseURL     string `yaml:"base_url"`
	MasterKey   string `yaml:"master_key"`
}

// AgentConfig is one statically-configured agent's bootstrap definition;
// additional agents may be spawned at runtime through the pool.
type AgentConfig struct {
	AgentID       string   `yaml:"agent_id"`
	DisplayName   string   `yaml:"display_name"`
	AgentType     string   `yaml:"agent_type"`
	FocusType     string   `yaml:"focus_type"`
	Model         string   `yaml:"model"`
	FallbackModel string   `yaml:"fallback_model"`
	ParentAgentID string   `yaml:"parent_agent_id"`
	Enabled       *bool    `yaml:"enabled"`
	Skills        []string `yaml:"skills"`
}

// SessionConfig configures protection defaults.
// AgentContextLimit bounds the agent pool's in-memory conversation context
// and is distinct from ContextWindow, the per-session DB default.
type SessionConfig struct {
	ContextWindow     int           `yaml:"context_window"`
	AgentContextLimit int           `yaml:"agent_context_limit"`
	GhostPurgeAfter   time.Duration `yaml:"ghost_purge_after"`
	IdlePruneAfter    time.Duration `yaml:"idle_prune_after"`
	SessionPerMinute  int           `yaml:"session_per_minute"`
	SessionPerHour    int           `yaml:"session_per_hour"`
}

// SchedulerConfig configures the cron subsystem's runtime knobs.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// HeartbeatConfig configures the per-agent liveness sweep.
type HeartbeatConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	MainInterval     time.Duration `yaml:"main_interval"`
	DefaultInterval  time.Duration `yaml:"default_interval"`
}

// RoundtableConfig configures default Roundtable bounds.
type RoundtableConfig struct {
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

// SwarmConfig configures default Swarm bounds.
type SwarmConfig struct {
	AgentTimeout         time.Duration `yaml:"agent_timeout"`
	TotalTimeout         time.Duration `yaml:"total_timeout"`
	ConvergenceThreshold float64       `yaml:"convergence_threshold"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// ObservabilityConfig configures Prometheus/OTel wiring.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// Load reads, expands, strictly decodes, env-overrides, defaults, and
// validates a config file in one pass.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applySchedulerDefaults(&cfg.Scheduler)
	applyHeartbeatDefaults(&cfg.Heartbeat)
	applyRoundtableDefaults(&cfg.Roundtable)
	applySwarmDefaults(&cfg.Swarm)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = 50
	}
	if cfg.AgentContextLimit == 0 {
		cfg.AgentContextLimit = 8
	}
	if cfg.GhostPurgeAfter == 0 {
		cfg.GhostPurgeAfter = 15 * time.Minute
	}
	if cfg.IdlePruneAfter == 0 {
		cfg.IdlePruneAfter = 24 * time.Hour
	}
	if cfg.SessionPerMinute == 0 {
		cfg.SessionPerMinute = 20
	}
	if cfg.SessionPerHour == 0 {
		cfg.SessionPerHour = 200
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
}

func applyHeartbeatDefaults(cfg *HeartbeatConfig) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MainInterval == 0 {
		cfg.MainInterval = 30 * time.Second
	}
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = 5 * time.Minute
	}
}

func applyRoundtableDefaults(cfg *RoundtableConfig) {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 60 * time.Second
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 5 * time.Minute
	}
}

func applySwarmDefaults(cfg *SwarmConfig) {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 60 * time.Second
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 10 * time.Minute
	}
	if cfg.ConvergenceThreshold == 0 {
		cfg.ConvergenceThreshold = 0.7
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyObservabilityDefaults(cfg *ObservabilityConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ariad"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("LITELLM_BASE_URL")); value != "" {
		cfg.LLM.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("LITELLM_MASTER_KEY")); value != "" {
		cfg.LLM.MasterKey = value
	}
	if value := strings.TrimSpace(os.Getenv("ARIA_API_KEY")); value != "" {
		cfg.Auth.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("ARIA_ADMIN_KEY")); value != "" {
		cfg.Auth.AdminKey = value
	}
	if value := strings.TrimSpace(os.Getenv("ARIA_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ARIA_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENT_CONTEXT_LIMIT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			cfg.Session.AgentContextLimit = parsed
		}
	}
}

func validateConfig(cfg *Config) error {
	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return fmt.Errorf("database.url (or DATABASE_URL) is required")
	}
	if strings.TrimSpace(cfg.LLM.CatalogPath) == "" {
		return fmt.Errorf("llm.catalog_path is required")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		if strings.TrimSpace(agent.AgentID) == "" {
			return fmt.Errorf("agents: agent_id is required")
		}
		if seen[agent.AgentID] {
			return fmt.Errorf("agents: duplicate agent_id %q", agent.AgentID)
		}
		seen[agent.AgentID] = true
		if strings.TrimSpace(agent.Model) == "" {
			return fmt.Errorf("agents[%s]: model is required", agent.AgentID)
		}
	}
	if cfg.Swarm.ConvergenceThreshold <= 0 || cfg.Swarm.ConvergenceThreshold > 1 {
		return fmt.Errorf("swarm.convergence_threshold must be in (0,1]")
	}
	if issues := pluginValidationIssues(cfg); len(issues) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(issues, "; "))
	}
	return nil
}
