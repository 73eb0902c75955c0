package common

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Auth provider names accepted in [auth].
const (
	AuthProviderNone     = "none"
	AuthProviderKeycloak = "keycloak"
)

// Context store provider names accepted in [context].
const (
	ContextProviderNone     = "none"
	ContextProviderBadger   = "badger"
	ContextProviderPostgres = "postgres"
)

// Audit store provider names accepted in [audit].
const (
	AuditProviderNone   = "none"
	AuditProviderBadger = "badger"
	AuditProviderValkey = "valkey"
)

// KeycloakFlowDirectGrant is the only Keycloak flow currently supported.
const KeycloakFlowDirectGrant = "direct-grant"

// Secret is a string that renders masked when dumped as JSON, so the debug
// config endpoint never leaks credentials.
type Secret string

// MarshalJSON masks the secret value.
func (Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"**********"`), nil
}

// UnmarshalJSON reads a secret from its plain string form.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	*s = Secret(plain)
	return nil
}

// Value returns the unmasked secret.
func (s Secret) Value() string { return string(s) }

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment" json:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server" json:"server"`
	Logging     LoggingConfig  `toml:"logging" json:"logging"`
	Pipeline    PipelineConfig `toml:"pipeline" json:"pipeline"`
	Auth        AuthConfig     `toml:"auth" json:"auth"`
	Context     ContextConfig  `toml:"context" json:"context"`
	Audit       AuditConfig    `toml:"audit" json:"audit"`
	Services    ServicesConfig `toml:"services" json:"services"`
}

type ServerConfig struct {
	Port      int     `toml:"port" json:"port"`
	Host      string  `toml:"host" json:"host"`
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"` // Requests per second across the API surface (0 = unlimited)
	RateBurst int     `toml:"rate_burst" json:"rate_burst"` // Burst allowance for the rate limiter
}

type LoggingConfig struct {
	Level  string   `toml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string   `toml:"format" json:"format"` // "json" or "text"
	Output []string `toml:"output" json:"output"` // "stdout", "file"
}

// PipelineConfig locates the declarative pipeline description. An empty file
// name selects the built-in echo pipeline.
type PipelineConfig struct {
	File string `toml:"file" json:"file"`
}

// ConnectionConfig tunes the retry envelope of one outbound client.
type ConnectionConfig struct {
	Timeout  int `toml:"timeout" json:"timeout"`   // Seconds between attempts
	Attempts int `toml:"attempts" json:"attempts"` // Attempts before giving up
}

type AuthConfig struct {
	Provider   string           `toml:"provider" json:"provider"` // "none" or "keycloak"
	Keycloak   KeycloakConfig   `toml:"keycloak" json:"keycloak"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

type KeycloakConfig struct {
	Flow         string           `toml:"flow" json:"flow"` // Only "direct-grant" is supported
	URL          string           `toml:"url" json:"url"`
	Realm        string           `toml:"realm" json:"realm"`
	ClientID     string           `toml:"client_id" json:"client_id"`
	ClientSecret Secret           `toml:"client_secret" json:"client_secret"`
	Connection   ConnectionConfig `toml:"connection" json:"connection"`
}

type ContextConfig struct {
	Provider string              `toml:"provider" json:"provider"` // "none", "badger" or "postgres"
	Badger   BadgerConfig        `toml:"badger" json:"badger"`
	Postgres PostgresStoreConfig `toml:"postgres" json:"postgres"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path string `toml:"path" json:"path"` // Database directory path
}

type PostgresStoreConfig struct {
	DSN   string `toml:"dsn" json:"dsn"`
	Table string `toml:"table" json:"table"`
}

type AuditConfig struct {
	Provider   string           `toml:"provider" json:"provider"` // "none", "badger" or "valkey"
	Badger     BadgerConfig     `toml:"badger" json:"badger"`
	Valkey     ValkeyConfig     `toml:"valkey" json:"valkey"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

type ValkeyConfig struct {
	DSN string `toml:"dsn" json:"dsn"`
	SSL bool   `toml:"ssl" json:"ssl"`
}

// ServicesConfig collects the outbound service endpoints. A service with an
// empty URL (or host, for MQTT) is not configured; the jobs that need it
// fail with a job-level error instead of failing startup.
type ServicesConfig struct {
	ARXlet  ARXletConfig  `toml:"arxlet" json:"arxlet"`
	FlaskDP FlaskDPConfig `toml:"flaskdp" json:"flaskdp"`
	MISP    MISPConfig    `toml:"misp" json:"misp"`
	Audit   TMBConfig     `toml:"audit" json:"audit"`
	MQTT    MQTTConfig    `toml:"mqtt" json:"mqtt"`
}

type ARXletConfig struct {
	URL        string           `toml:"url" json:"url"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

// Configured reports whether an endpoint was supplied.
func (c ARXletConfig) Configured() bool { return c.URL != "" }

type FlaskDPConfig struct {
	URL        string           `toml:"url" json:"url"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

func (c FlaskDPConfig) Configured() bool { return c.URL != "" }

type MISPConfig struct {
	URL        string           `toml:"url" json:"url"`
	Key        Secret           `toml:"key" json:"key"`
	SSL        bool             `toml:"ssl" json:"ssl"`
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

func (c MISPConfig) Configured() bool { return c.URL != "" }

// TMBConfig points at the DLT audit publication service.
type TMBConfig struct {
	URL        string           `toml:"url" json:"url"`
	Interval   int              `toml:"interval" json:"interval"` // Seconds between audit publications
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

func (c TMBConfig) Configured() bool { return c.URL != "" }

type MQTTConfig struct {
	Host       string           `toml:"host" json:"host"`
	Port       int              `toml:"port" json:"port"`
	Username   string           `toml:"username" json:"username"`
	Password   Secret           `toml:"password" json:"password"`
	SSL        bool             `toml:"ssl" json:"ssl"`
	Topic      string           `toml:"topic" json:"topic"`
	ClientID   string           `toml:"client_id" json:"client_id"` // Generated per connection when empty
	Connection ConnectionConfig `toml:"connection" json:"connection"`
}

func (c MQTTConfig) Configured() bool { return c.Host != "" }

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in tego.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:      8087,
			Host:      "0.0.0.0",
			RateLimit: 0, // Unlimited unless configured
			RateBurst: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Pipeline: PipelineConfig{
			File: "", // Built-in echo pipeline unless configured
		},
		Auth: AuthConfig{
			Provider: AuthProviderNone,
			Keycloak: KeycloakConfig{
				Flow:       KeycloakFlowDirectGrant,
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
			Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
		},
		Context: ContextConfig{
			Provider: ContextProviderNone,
			Badger: BadgerConfig{
				Path: "./data/context",
			},
			Postgres: PostgresStoreConfig{
				Table: "Context",
			},
		},
		Audit: AuditConfig{
			Provider: AuditProviderBadger,
			Badger: BadgerConfig{
				Path: "./data/audit",
			},
			Valkey: ValkeyConfig{
				DSN: "redis://valkey:6379/0",
				SSL: true,
			},
			Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
		},
		Services: ServicesConfig{
			ARXlet: ARXletConfig{
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
			FlaskDP: FlaskDPConfig{
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
			MISP: MISPConfig{
				SSL:        true,
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
			Audit: TMBConfig{
				Interval:   86400, // Publish audits daily unless configured
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
			MQTT: MQTTConfig{
				Port:       1883,
				SSL:        true,
				Connection: ConnectionConfig{Timeout: 5, Attempts: 5},
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
// Priority system: Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: TEGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("TEGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("TEGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TEGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rateLimit := os.Getenv("TEGO_SERVER_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			config.Server.RateLimit = rl
		}
	}
	if rateBurst := os.Getenv("TEGO_SERVER_RATE_BURST"); rateBurst != "" {
		if rb, err := strconv.Atoi(rateBurst); err == nil {
			config.Server.RateBurst = rb
		}
	}

	// Logging configuration
	if level := os.Getenv("TEGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("TEGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("TEGO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Pipeline configuration
	if file := os.Getenv("TEGO_PIPELINE_FILE"); file != "" {
		config.Pipeline.File = file
	}

	// Auth configuration
	if provider := os.Getenv("TEGO_AUTH_PROVIDER"); provider != "" {
		config.Auth.Provider = provider
	}
	if url := os.Getenv("TEGO_KEYCLOAK_URL"); url != "" {
		config.Auth.Keycloak.URL = url
	}
	if realm := os.Getenv("TEGO_KEYCLOAK_REALM"); realm != "" {
		config.Auth.Keycloak.Realm = realm
	}
	if clientID := os.Getenv("TEGO_KEYCLOAK_CLIENT_ID"); clientID != "" {
		config.Auth.Keycloak.ClientID = clientID
	}
	if clientSecret := os.Getenv("TEGO_KEYCLOAK_CLIENT_SECRET"); clientSecret != "" {
		config.Auth.Keycloak.ClientSecret = Secret(clientSecret)
	}

	// Context store configuration
	if provider := os.Getenv("TEGO_CONTEXT_PROVIDER"); provider != "" {
		config.Context.Provider = provider
	}
	if path := os.Getenv("TEGO_CONTEXT_BADGER_PATH"); path != "" {
		config.Context.Badger.Path = path
	}
	if dsn := os.Getenv("TEGO_CONTEXT_POSTGRES_DSN"); dsn != "" {
		config.Context.Postgres.DSN = dsn
	}
	if table := os.Getenv("TEGO_CONTEXT_POSTGRES_TABLE"); table != "" {
		config.Context.Postgres.Table = table
	}

	// Audit store configuration
	if provider := os.Getenv("TEGO_AUDIT_PROVIDER"); provider != "" {
		config.Audit.Provider = provider
	}
	if path := os.Getenv("TEGO_AUDIT_BADGER_PATH"); path != "" {
		config.Audit.Badger.Path = path
	}
	if dsn := os.Getenv("TEGO_AUDIT_VALKEY_DSN"); dsn != "" {
		config.Audit.Valkey.DSN = dsn
	}
	if ssl := os.Getenv("TEGO_AUDIT_VALKEY_SSL"); ssl != "" {
		if s, err := strconv.ParseBool(ssl); err == nil {
			config.Audit.Valkey.SSL = s
		}
	}

	// ARXlet service configuration
	if url := os.Getenv("TEGO_ARXLET_URL"); url != "" {
		config.Services.ARXlet.URL = url
	}

	// FlaskDP service configuration
	if url := os.Getenv("TEGO_FLASKDP_URL"); url != "" {
		config.Services.FlaskDP.URL = url
	}

	// MISP service configuration
	if url := os.Getenv("TEGO_MISP_URL"); url != "" {
		config.Services.MISP.URL = url
	}
	if key := os.Getenv("TEGO_MISP_KEY"); key != "" {
		config.Services.MISP.Key = Secret(key)
	}
	if ssl := os.Getenv("TEGO_MISP_SSL"); ssl != "" {
		if s, err := strconv.ParseBool(ssl); err == nil {
			config.Services.MISP.SSL = s
		}
	}

	// Audit publication service configuration
	if url := os.Getenv("TEGO_TMB_URL"); url != "" {
		config.Services.Audit.URL = url
	}
	if interval := os.Getenv("TEGO_TMB_INTERVAL"); interval != "" {
		if i, err := strconv.Atoi(interval); err == nil {
			config.Services.Audit.Interval = i
		}
	}

	// MQTT service configuration
	if host := os.Getenv("TEGO_MQTT_HOST"); host != "" {
		config.Services.MQTT.Host = host
	}
	if port := os.Getenv("TEGO_MQTT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Services.MQTT.Port = p
		}
	}
	if username := os.Getenv("TEGO_MQTT_USERNAME"); username != "" {
		config.Services.MQTT.Username = username
	}
	if password := os.Getenv("TEGO_MQTT_PASSWORD"); password != "" {
		config.Services.MQTT.Password = Secret(password)
	}
	if ssl := os.Getenv("TEGO_MQTT_SSL"); ssl != "" {
		if s, err := strconv.ParseBool(ssl); err == nil {
			config.Services.MQTT.SSL = s
		}
	}
	if topic := os.Getenv("TEGO_MQTT_TOPIC"); topic != "" {
		config.Services.MQTT.Topic = topic
	}
	if clientID := os.Getenv("TEGO_MQTT_CLIENT_ID"); clientID != "" {
		config.Services.MQTT.ClientID = clientID
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct so runtime
// overrides never mutate the loaded configuration.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	// Clone the config struct (shallow copy first)
	clone := *c

	// Deep clone slice fields to prevent shared memory
	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	return &clone
}
