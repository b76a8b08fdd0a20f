package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/sentry/pkg/sentry/support/util/exception"
	"github.com/tigerroll/sentry/pkg/sentry/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from the embedded YAML and environment variables.
// This function is intended to be called only once during application startup.
//
// Parameters:
//
//	envFilePath: The path to the .env file.
//	embeddedConfig: The embedded configuration bytes.
//
// Returns:
//
//	A pointer to the loaded Config and an error if loading fails.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Load defaults.
	cfg := NewConfig()

	// 2. Expand ${ENV_VAR} placeholders, then unmarshal the YAML into a
	// temporary Config so values parse into their proper types.
	expanded, err := NewOsEnvironmentExpander().Expand(embeddedConfig)
	if err != nil {
		return nil, exception.New(moduleName, "failed to expand environment variables in embedded config", exception.KindInternal, err)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.New(moduleName, "failed to unmarshal embedded config", exception.KindInternal, err)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Direct environment overrides for deploy-time secrets.
	if v := os.Getenv("SENTRY_LLM_API_KEY"); v != "" {
		cfg.Sentry.LLM.APIKey = v
	}
	if v := os.Getenv("SENTRY_CATALOG_BASE_URL"); v != "" {
		cfg.Sentry.Catalog.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Sentry.System.Logging.Level = v
	}

	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults, merging
// from embedded YAML, and overriding with environment variables, then sets
// the global logger level.
//
// Parameters:
//
//	params: ConfigParams containing dependencies like embedded config and env file path.
//
// Returns:
//
//	A pointer to the initialized Config and an error if configuration loading fails.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Sentry.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Sentry.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from the embedded bytes and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeSentryConfig(&destConfig.Sentry, &sourceConfig.Sentry)
}

// mergeSentryConfig merges source into dest.
func mergeSentryConfig(dest, source *SentryConfig) {
	// System
	if source.System.Timezone != "" {
		dest.System.Timezone = source.System.Timezone
	}
	if source.System.Logging.Level != "" {
		dest.System.Logging.Level = source.System.Logging.Level
	}

	// Catalog
	if source.Catalog.BaseURL != "" {
		dest.Catalog.BaseURL = source.Catalog.BaseURL
	}
	if source.Catalog.TTLSeconds != 0 {
		dest.Catalog.TTLSeconds = source.Catalog.TTLSeconds
	}
	if source.Catalog.TimeoutSeconds != 0 {
		dest.Catalog.TimeoutSeconds = source.Catalog.TimeoutSeconds
	}
	if source.Catalog.Aliases != nil {
		dest.Catalog.Aliases = source.Catalog.Aliases
	}
	if source.Catalog.DisplayNames != nil {
		dest.Catalog.DisplayNames = source.Catalog.DisplayNames
	}

	// Session
	if source.Session.IdleTimeoutMinutes != 0 {
		dest.Session.IdleTimeoutMinutes = source.Session.IdleTimeoutMinutes
	}
	if source.Session.JanitorIntervalMinutes != 0 {
		dest.Session.JanitorIntervalMinutes = source.Session.JanitorIntervalMinutes
	}

	// Query
	if source.Query.RowLimit != 0 {
		dest.Query.RowLimit = source.Query.RowLimit
	}
	if source.Query.TimeoutSeconds != 0 {
		dest.Query.TimeoutSeconds = source.Query.TimeoutSeconds
	}
	if source.Query.HistoryMaxDates != 0 {
		dest.Query.HistoryMaxDates = source.Query.HistoryMaxDates
	}
	if source.Query.RCAMaxDrilldowns != 0 {
		dest.Query.RCAMaxDrilldowns = source.Query.RCAMaxDrilldowns
	}

	// Guard
	if source.Guard.TableWhitelist != nil {
		dest.Guard.TableWhitelist = source.Guard.TableWhitelist
	}
	if source.Guard.RowLimit != 0 {
		dest.Guard.RowLimit = source.Guard.RowLimit
	}
	if source.Guard.TimeoutSeconds != 0 {
		dest.Guard.TimeoutSeconds = source.Guard.TimeoutSeconds
	}

	// LLM
	if source.LLM.Endpoint != "" {
		dest.LLM.Endpoint = source.LLM.Endpoint
	}
	if source.LLM.APIKey != "" {
		dest.LLM.APIKey = source.LLM.APIKey
	}
	if source.LLM.Model != "" {
		dest.LLM.Model = source.LLM.Model
	}

	// Server
	if source.Server.Host != "" {
		dest.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		dest.Server.Port = source.Server.Port
	}

	// StoreConfigs (this is the critical part for database configs)
	if source.StoreConfigs != nil {
		if dest.StoreConfigs == nil {
			dest.StoreConfigs = make(map[string]interface{})
		}
		for key, value := range source.StoreConfigs {
			dest.StoreConfigs[key] = value
		}
	}
}
