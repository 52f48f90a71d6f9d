package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file (config.yaml in the working directory). Environment
// variables use the STARSORTY_ prefix with underscores for nesting, e.g.
// STARSORTY_LLM_PROVIDER, and take precedence over file values.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("STARSORTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 10)

	// Keys without a real default still need registering so AutomaticEnv
	// picks them up during Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.extra_headers_json", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay_seconds", 1)

	v.SetDefault("classify.mode", "rules_then_ai")
	v.SetDefault("classify.direct_threshold", 0.88)
	v.SetDefault("classify.ai_band_threshold", 0.45)
	v.SetDefault("classify.default_batch_size", 50)
	v.SetDefault("classify.max_batch_size", 200)
	v.SetDefault("classify.default_concurrency", 3)
	v.SetDefault("classify.max_concurrency", 10)
	v.SetDefault("classify.fail_count_cap", 3)
	v.SetDefault("classify.taxonomy_path", "config/taxonomy.yaml")
	v.SetDefault("classify.rules_path", "config/rules.json")
	v.SetDefault("classify.rules_json", "")
	v.SetDefault("classify.stale_task_minutes", 60)
}
