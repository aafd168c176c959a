package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Providers ProvidersConfig `json:"providers"`
	RAG       RAGConfig       `json:"rag"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// DatabaseConfig represents the target database configuration
type DatabaseConfig struct {
	Path            string `json:"path"               env:"DB_PATH"               envDefault:"~/.config/askdb/database.db"`
	MaxConnections  int    `json:"max_connections"    env:"DB_MAX_CONNECTIONS"    envDefault:"10"`
	MaxIdleConns    int    `json:"max_idle_conns"     env:"DB_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxLifetime string `json:"conn_max_lifetime"  env:"DB_CONN_MAX_LIFETIME"  envDefault:"30m"`
	QueryTimeout    string `json:"query_timeout"      env:"DB_QUERY_TIMEOUT"      envDefault:"30s"`
}

// ProvidersConfig represents language-model and embedding provider configuration
type ProvidersConfig struct {
	OpenAIAPIKey   string `json:"-"                      env:"OPENAI_API_KEY"`
	OpenAIEndpoint string `json:"openai_endpoint"        env:"OPENAI_ENDPOINT"`
	OpenAIModel    string `json:"openai_model"           env:"OPENAI_MODEL"           envDefault:"gpt-4o-mini"`
	OpenAIEmbModel string `json:"openai_embedding_model" env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	OllamaEndpoint string `json:"ollama_endpoint"        env:"OLLAMA_ENDPOINT"`
	OllamaModel    string `json:"ollama_model"           env:"OLLAMA_MODEL"           envDefault:"llama3"`
	OllamaEmbModel string `json:"ollama_embedding_model" env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`

	CustomEndpoint string            `json:"custom_endpoint"        env:"CUSTOM_ENDPOINT"`
	CustomModel    string            `json:"custom_model"           env:"CUSTOM_MODEL"           envDefault:"custom-model"`
	CustomEmbModel string            `json:"custom_embedding_model" env:"CUSTOM_EMBEDDING_MODEL" envDefault:"custom-embedding"`
	CustomAPIKey   string            `json:"-"                      env:"CUSTOM_API_KEY"`
	CustomHeaders  map[string]string `json:"custom_headers"         env:"CUSTOM_HEADERS"`

	// PreferenceOrder is consulted by the manager when no provider is
	// active or when a fallback hop is needed.
	PreferenceOrder []string `json:"preference_order" env:"PROVIDER_PREFERENCE" envDefault:"openai,ollama,custom"`
	CallTimeout     string   `json:"call_timeout"     env:"PROVIDER_TIMEOUT"    envDefault:"30s"`
}

// RAGConfig represents retrieval and index store configuration
type RAGConfig struct {
	StorePath        string `json:"store_path"         env:"STORE_PATH"         envDefault:"~/.config/askdb/index"`
	SimilarityTopK   int    `json:"similarity_top_k"   env:"SIMILARITY_TOP_K"   envDefault:"4"`
	TableSampleLimit int    `json:"table_sample_limit" env:"TABLE_SAMPLE_LIMIT" envDefault:"100"`
	ForceRebuild     bool   `json:"-"                  env:"FORCE_REBUILD"      envDefault:"false"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr, file
	File   string `json:"file"   env:"LOG_FILE"   envDefault:"~/.config/askdb/logs/askdb.log"`
}

// MetricsConfig represents the Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"METRICS_ENABLED" envDefault:"false"`
	Port    int  `json:"port"    env:"METRICS_PORT"    envDefault:"9095"`
}

const maxSimilarityTopK = 100

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Environment variable overrides also set the defaults
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "ASKDB_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	if _, err := time.ParseDuration(config.Database.QueryTimeout); err != nil {
		return fmt.Errorf("invalid database query timeout: %s", config.Database.QueryTimeout)
	}

	if _, err := time.ParseDuration(config.Providers.CallTimeout); err != nil {
		return fmt.Errorf("invalid provider call timeout: %s", config.Providers.CallTimeout)
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if config.RAG.SimilarityTopK <= 0 || config.RAG.SimilarityTopK > maxSimilarityTopK {
		return fmt.Errorf(
			"similarity top-k must be between 1 and %d: %d",
			maxSimilarityTopK, config.RAG.SimilarityTopK,
		)
	}

	if config.RAG.TableSampleLimit <= 0 {
		return fmt.Errorf("table sample limit must be positive: %d", config.RAG.TableSampleLimit)
	}

	return nil
}

// ProviderCallTimeout returns the parsed per-call provider timeout.
func (c *Config) ProviderCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Providers.CallTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// DatabaseQueryTimeout returns the parsed per-query database timeout.
func (c *Config) DatabaseQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return d
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv("ASKDB_CONFIG"); configPath != "" {
		return expandPath(configPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}

	return filepath.Join(homeDir, ".config", "askdb", "config.json")
}

// expandPath expands ~ to home directory in file paths
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = expandPath(c.Database.Path)
	c.RAG.StorePath = expandPath(c.RAG.StorePath)
	c.Logging.File = expandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for the configuration
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		filepath.Dir(c.RAG.StorePath),
		filepath.Dir(c.Logging.File),
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	return nil
}
