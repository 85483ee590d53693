package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service  ServiceConfig
	Engine   EngineConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	HTTPNode HTTPNodeConfig
	Agents   AgentsConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	// Base directory agents and shell nodes run under when the
	// workflow does not name one.
	WorkingDirectory string

	// Poll interval used when every dispatched node is still in flight.
	IdlePollInterval time.Duration

	// Default ceilings; node config may lower but not raise them.
	ScriptTimeout time.Duration
	ShellTimeout  time.Duration
	AgentTimeout  time.Duration

	MaxConcurrentExecutions int
}

// StoreConfig selects and parameterizes the execution store
type StoreConfig struct {
	// "fs" or "postgres"
	Backend string
	DataDir string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds the optional event-mirror settings
type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// HTTPNodeConfig holds settings for the http node type
type HTTPNodeConfig struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	AllowPrivate     bool
	AllowedSchemes   []string
}

// AgentsConfig names the worker commands agent node types spawn. An empty
// command leaves the node type unwired; executing such a node errors.
type AgentsConfig struct {
	ClaudeCommand []string
	CodexCommand  []string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			WorkingDirectory:        getEnv("ENGINE_WORKING_DIR", "."),
			IdlePollInterval:        getEnvDuration("ENGINE_IDLE_POLL_INTERVAL", 100*time.Millisecond),
			ScriptTimeout:           getEnvDuration("ENGINE_SCRIPT_TIMEOUT", 30*time.Second),
			ShellTimeout:            getEnvDuration("ENGINE_SHELL_TIMEOUT", 2*time.Minute),
			AgentTimeout:            getEnvDuration("ENGINE_AGENT_TIMEOUT", 30*time.Minute),
			MaxConcurrentExecutions: getEnvInt("ENGINE_MAX_CONCURRENT_EXECUTIONS", 16),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "fs"),
			DataDir: getEnv("STORE_DATA_DIR", "./data"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "skein"),
			User:        getEnv("POSTGRES_USER", "skein"),
			Password:    getEnv("POSTGRES_PASSWORD", "skein"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_MIRROR_ENABLED", false),
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "skein:exec:"),
		},
		HTTPNode: HTTPNodeConfig{
			Timeout:          getEnvDuration("HTTP_NODE_TIMEOUT", 30*time.Second),
			MaxResponseBytes: int64(getEnvInt("HTTP_NODE_MAX_RESPONSE_BYTES", 4<<20)),
			AllowPrivate:     getEnvBool("HTTP_NODE_ALLOW_PRIVATE", false),
			AllowedSchemes:   getEnvSlice("HTTP_NODE_ALLOWED_SCHEMES", []string{"http", "https"}),
		},
		Agents: AgentsConfig{
			ClaudeCommand: getEnvCommand("AGENT_CLAUDE_CMD"),
			CodexCommand:  getEnvCommand("AGENT_CODEX_CMD"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Store.Backend {
	case "fs":
		if c.Store.DataDir == "" {
			return fmt.Errorf("data dir is required for the fs store")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for the postgres store")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	if c.Engine.IdlePollInterval <= 0 {
		return fmt.Errorf("idle poll interval must be positive")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvCommand(key string) []string {
	return strings.Fields(os.Getenv(key))
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
