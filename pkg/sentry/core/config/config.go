package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "America/New_York").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// CatalogConfig holds settings for the external batch catalog service.
type CatalogConfig struct {
	// BaseURL is the catalog service endpoint (definitions are fetched from {base_url}/def?name=...).
	BaseURL string `yaml:"base_url"`
	// TTLSeconds is the cache lifetime for a fetched batch definition.
	TTLSeconds int `yaml:"ttl_seconds"`
	// TimeoutSeconds bounds a single catalog fetch.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Aliases maps user-facing batch names to canonical catalog names.
	// Lookup is case-insensitive and whitespace/hyphen-normalized.
	Aliases map[string]string `yaml:"aliases"`
	// DisplayNames maps canonical catalog names to UI display names.
	DisplayNames map[string]string `yaml:"display_names"`
}

// SessionConfig holds conversation session settings.
type SessionConfig struct {
	// IdleTimeoutMinutes is the inactivity window after which a session is evicted.
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
	// JanitorIntervalMinutes is how often idle sessions are swept.
	JanitorIntervalMinutes int `yaml:"janitor_interval_minutes"`
}

// QueryConfig holds the safety limits enforced on every Tier 1 operation.
type QueryConfig struct {
	// RowLimit is the mandatory result cap for a single query.
	RowLimit int `yaml:"row_limit"`
	// TimeoutSeconds is the mandatory execution timeout for a single query.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// HistoryMaxDates caps the look-back window of historical queries.
	HistoryMaxDates int `yaml:"history_max_dates"`
	// RCAMaxDrilldowns caps how many failed runs are followed into task details.
	RCAMaxDrilldowns int `yaml:"rca_max_drilldowns"`
}

// GuardConfig holds the Tier 2 guard settings.
type GuardConfig struct {
	// TableWhitelist lists the only tables an ad-hoc query may reference.
	TableWhitelist []string `yaml:"table_whitelist"`
	// RowLimit is injected into candidates that carry no LIMIT, and caps ones that do.
	RowLimit int `yaml:"row_limit"`
	// TimeoutSeconds is the hard statement timeout for guarded execution.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LLMConfig holds settings for the response-generation collaborator.
type LLMConfig struct {
	// Endpoint is the OpenAI-compatible base URL (empty means the provider default).
	Endpoint string `yaml:"endpoint"`
	// APIKey authenticates against the endpoint.
	APIKey string `yaml:"api_key"`
	// Model is the chat completion model name.
	Model string `yaml:"model"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the listen port.
	Port int `yaml:"port"`
}

// SentryConfig holds all configuration under the "sentry" top-level key.
type SentryConfig struct {
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Catalog contains batch catalog client configurations.
	Catalog CatalogConfig `yaml:"catalog"`
	// Session contains conversation session configurations.
	Session SessionConfig `yaml:"session"`
	// Query contains Tier 1 query safety limits.
	Query QueryConfig `yaml:"query"`
	// Guard contains Tier 2 guard configurations.
	Guard GuardConfig `yaml:"guard"`
	// LLM contains response-generation collaborator configurations.
	LLM LLMConfig `yaml:"llm"`
	// Server contains HTTP server configurations.
	Server ServerConfig `yaml:"server"`
	// StoreConfigs holds configurations for the named operational stores
	// ("workflow" and "task"), typically database connections.
	StoreConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Sentry contains the top-level configuration for the SENTRY service.
	Sentry SentryConfig `yaml:"sentry"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// defaultAliases is the static alias table seeded into every configuration.
// This is the ONLY static input to batch resolution; dataset membership,
// sequencing, and slices all come from the catalog service at runtime.
func defaultAliases() map[string]string {
	return map[string]string{
		"6G":                "6G-FR2052a-E2E",
		"FR2052A":           "6G-FR2052a-E2E",
		"PBSYNTHETICS":      "PBSynthetics",
		"SNU":               "SNU",
		"SNU STRATEGIC":     "SNU-Strategic",
		"SNU REG STRATEGIC": "SNU-REG-STRATEGIC",
		"COLLATERAL":        "TB-Collateral",
		"DERIVATIVES":       "TB-Derivatives",
		"DERIV":             "TB-Derivatives",
		"SECURITIES":        "TB-Securities",
		"SECFIN":            "TB-SecFIn",
		"CFG":               "TB-CFG",
		"SMAA":              "TB-SMAA",
		"UPC":               "UPC",
	}
}

// defaultDisplayNames maps canonical catalog names to UI display names.
func defaultDisplayNames() map[string]string {
	return map[string]string{
		"6G-FR2052a-E2E":    "FR2052A (6G)",
		"PBSynthetics":      "PBSynthetics",
		"SNU":               "SNU",
		"SNU-Strategic":     "SNU Strategic",
		"SNU-REG-STRATEGIC": "SNU REG Strategic",
		"TB-Collateral":     "COLLATERAL",
		"TB-Derivatives":    "DERIVATIVES",
		"TB-Securities":     "SECURITIES",
		"TB-SecFIn":         "SECFIN",
		"TB-CFG":            "CFG",
		"TB-SMAA":           "SMAA",
		"UPC":               "UPC",
	}
}

// NewConfig returns a new instance of Config with default values.
//
// Returns:
//
//	A pointer to a new Config instance initialized with default settings.
func NewConfig() *Config {
	cfg := &Config{
		Sentry: SentryConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Catalog: CatalogConfig{
				TTLSeconds:     300, // Definitions change rarely; 5 minutes keeps sync requests cheap.
				TimeoutSeconds: 10,
				Aliases:        defaultAliases(),
				DisplayNames:   defaultDisplayNames(),
			},
			Session: SessionConfig{
				IdleTimeoutMinutes:     30,
				JanitorIntervalMinutes: 5,
			},
			Query: QueryConfig{
				RowLimit:         500,
				TimeoutSeconds:   10,
				HistoryMaxDates:  30,
				RCAMaxDrilldowns: 10,
			},
			Guard: GuardConfig{
				TableWhitelist: []string{"WORKFLOW_RUN_INSTANCE", "task_instance"},
				RowLimit:       500,
				TimeoutSeconds: 10,
			},
			LLM: LLMConfig{
				Model: "gpt-4o-mini",
			},
			Server: ServerConfig{
				Host: "0.0.0.0",
				Port: 8080,
			},
		},
	}

	// Initialize StoreConfigs as an empty map, to be populated by YAML or by mergeConfig.
	cfg.Sentry.StoreConfigs = map[string]interface{}{}
	return cfg
}
