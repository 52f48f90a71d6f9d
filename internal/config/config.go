package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Classify ClassifyConfig `mapstructure:"classify" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int    `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	LogFormat       string `mapstructure:"log_format"       validate:"required,oneof=json text"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig configures the optional listing/stats cache. An empty URL
// disables caching entirely.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LLMConfig contains the arbitration provider settings. Provider "none"
// disables AI arbitration; the decision engine then runs on rules alone.
type LLMConfig struct {
	Provider          string  `mapstructure:"provider"            validate:"omitempty,oneof=none openai anthropic gemini"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"            validate:"omitempty,url"`
	ExtraHeadersJSON  string  `mapstructure:"extra_headers_json"`
	Temperature       float64 `mapstructure:"temperature"         validate:"gte=0,lte=2"`
	MaxTokens         int     `mapstructure:"max_tokens"          validate:"gt=0"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"     validate:"gt=0"`
	MaxRetries        int     `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"gte=1"`
}

// ClassifyConfig contains the rule/decision engine and run settings.
type ClassifyConfig struct {
	Mode               string  `mapstructure:"mode"                validate:"required,oneof=rules_only ai_only rules_then_ai"`
	DirectThreshold    float64 `mapstructure:"direct_threshold"    validate:"gte=0,lte=1"`
	AIBandThreshold    float64 `mapstructure:"ai_band_threshold"   validate:"gte=0,lte=1"`
	DefaultBatchSize   int     `mapstructure:"default_batch_size"  validate:"gt=0"`
	MaxBatchSize       int     `mapstructure:"max_batch_size"      validate:"gt=0"`
	DefaultConcurrency int     `mapstructure:"default_concurrency" validate:"gt=0"`
	MaxConcurrency     int     `mapstructure:"max_concurrency"     validate:"gt=0,lte=64"`
	FailCountCap       int     `mapstructure:"fail_count_cap"      validate:"gt=0"`
	TaxonomyPath       string  `mapstructure:"taxonomy_path"       validate:"required"`
	RulesPath          string  `mapstructure:"rules_path"`
	RulesJSON          string  `mapstructure:"rules_json"`
	StaleTaskMinutes   int     `mapstructure:"stale_task_minutes"  validate:"gt=0"`
}
