package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for prompt-forge.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3470"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL metadata store)
	Database DatabaseConfig `yaml:"database"`

	// Classifier endpoint used by the context analyzer
	Classifier ClassifierConfig `yaml:"classifier"`

	// Pipeline budgets and thresholds
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Cache TTLs
	Cache CacheConfig `yaml:"cache"`

	// Path to the static template corpus seed file
	TemplateCorpusPath string `yaml:"template_corpus_path" env:"TEMPLATE_CORPUS_PATH" env-default:"templates.yaml"`

	// Path to the SQL migration files applied at startup
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL metadata store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"forge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"prompt_forge"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// URL builds a postgres connection URL from the config.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ClassifierConfig holds the text-classification endpoint settings.
// Provider selects between "openai" (any OpenAI-compatible endpoint) and
// "anthropic".
type ClassifierConfig struct {
	Provider       string  `yaml:"provider" env:"CLASSIFIER_PROVIDER" env-default:"openai"`
	BaseURL        string  `yaml:"base_url" env:"CLASSIFIER_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string  `yaml:"model" env:"CLASSIFIER_MODEL" env-default:"gpt-4o-mini"`
	APIKey         string  `yaml:"-" env:"CLASSIFIER_API_KEY"` // Secret - not in YAML
	EmbeddingModel string  `yaml:"embedding_model" env:"CLASSIFIER_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Temperature    float64 `yaml:"temperature" env:"CLASSIFIER_TEMPERATURE" env-default:"0.0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"CLASSIFIER_TIMEOUT_SECONDS" env-default:"10"`
}

// PipelineConfig holds token budgets, selection limits and scoring thresholds.
type PipelineConfig struct {
	// MaxPromptTokens is the default generation-model input allowance.
	MaxPromptTokens int `yaml:"max_prompt_tokens" env:"MAX_PROMPT_TOKENS" env-default:"4096"`
	// ReservedResponseTokens is held back for the model's answer.
	ReservedResponseTokens int `yaml:"reserved_response_tokens" env:"RESERVED_RESPONSE_TOKENS" env-default:"1024"`
	// TemplateOverheadTokens is the allowance held back for the template's
	// fixed text and the question slot.
	TemplateOverheadTokens int `yaml:"template_overhead_tokens" env:"TEMPLATE_OVERHEAD_TOKENS" env-default:"200"`
	// MaxTables is the default top-K for table discovery.
	MaxTables int `yaml:"max_tables" env:"MAX_TABLES" env-default:"5"`
	// MaxColumnsPerTable bounds column selection per table.
	MaxColumnsPerTable int `yaml:"max_columns_per_table" env:"MAX_COLUMNS_PER_TABLE" env-default:"12"`
	// MaxExamples bounds how many worked examples the assembler appends.
	MaxExamples int `yaml:"max_examples" env:"MAX_EXAMPLES" env-default:"3"`
	// DPBudgetLimit is the largest budget solved with exact dynamic
	// programming; larger budgets fall back to greedy selection.
	DPBudgetLimit int `yaml:"dp_budget_limit" env:"DP_BUDGET_LIMIT" env-default:"8192"`
	// TemplateQualityThreshold is the minimum corpus-template score before
	// falling back to dynamic synthesis.
	TemplateQualityThreshold float64 `yaml:"template_quality_threshold" env:"TEMPLATE_QUALITY_THRESHOLD" env-default:"0.8"`
	// RequestTimeoutSeconds bounds one whole construction request.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS" env-default:"30"`
}

// CacheConfig holds TTLs for the shared caches.
type CacheConfig struct {
	RetrievalTTLSeconds int `yaml:"retrieval_ttl_seconds" env:"RETRIEVAL_CACHE_TTL_SECONDS" env-default:"3600"`
	TraceTTLSeconds     int `yaml:"trace_ttl_seconds" env:"TRACE_CACHE_TTL_SECONDS" env-default:"900"`
	TemplateTTLSeconds  int `yaml:"template_ttl_seconds" env:"TEMPLATE_CACHE_TTL_SECONDS" env-default:"3600"`
}

// Load reads configuration from config.yaml (if present) and environment
// variables, then validates it.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the budget math
// meaningless before any request runs.
func (c *Config) Validate() error {
	if c.Pipeline.MaxPromptTokens <= 0 {
		return fmt.Errorf("max_prompt_tokens must be positive, got %d", c.Pipeline.MaxPromptTokens)
	}
	if c.Pipeline.ReservedResponseTokens < 0 {
		return fmt.Errorf("reserved_response_tokens must not be negative, got %d", c.Pipeline.ReservedResponseTokens)
	}
	if c.Pipeline.ReservedResponseTokens >= c.Pipeline.MaxPromptTokens {
		return fmt.Errorf("reserved_response_tokens (%d) must be less than max_prompt_tokens (%d)",
			c.Pipeline.ReservedResponseTokens, c.Pipeline.MaxPromptTokens)
	}
	if c.Pipeline.TemplateOverheadTokens < 0 {
		return fmt.Errorf("template_overhead_tokens must not be negative, got %d", c.Pipeline.TemplateOverheadTokens)
	}
	if c.Pipeline.MaxTables <= 0 {
		return fmt.Errorf("max_tables must be positive, got %d", c.Pipeline.MaxTables)
	}
	if c.Pipeline.TemplateQualityThreshold < 0 || c.Pipeline.TemplateQualityThreshold > 1 {
		return fmt.Errorf("template_quality_threshold must be in [0,1], got %f", c.Pipeline.TemplateQualityThreshold)
	}
	return nil
}
