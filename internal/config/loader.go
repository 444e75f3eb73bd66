package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentstack/agentstack/internal/logging"
	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultServerPort  = 3000
	DefaultRunTimeout  = 180 * time.Second
	DefaultConfigFile  = "agentstack.yaml"
	DefaultEnvFile     = ".env"
	DefaultStoreDriver = StoreDriverMemory

	DefaultAgentModel   = "claude-sonnet-4-5"
	DefaultSummaryModel = "claude-haiku-4-5-20251001"

	DefaultAgentTimeout      = 55 * time.Second
	DefaultSummaryTimeout    = 20 * time.Second
	DefaultJudgeTimeout      = 55 * time.Second
	DefaultRevertTimeout     = 10 * time.Second
	DefaultAgentMaxTokens    = 2048
	DefaultSummaryMaxTokens  = 100
	DefaultJudgeMaxTokens    = 1024
	DefaultJudgeExcerptChars = 2000
	DefaultFallbackScore     = 70

	DefaultMinReward = 0.1
)

// Environment variables that override file values.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvPort            = "AGENTSTACK_PORT"
	EnvLogLevel        = "AGENTSTACK_LOG_LEVEL"
)

// DefaultRateLimitConfig returns the default per-IP limits for run and reset.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: 5,
		Window:      time.Minute,
		BlockAfter:  10,
		BlockTime:   5 * time.Minute,
	}
}

// DefaultEngineConfig returns the engine timeouts and limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AgentTimeout:      DefaultAgentTimeout,
		SummaryTimeout:    DefaultSummaryTimeout,
		JudgeTimeout:      DefaultJudgeTimeout,
		RevertTimeout:     DefaultRevertTimeout,
		AgentMaxTokens:    DefaultAgentMaxTokens,
		SummaryMaxTokens:  DefaultSummaryMaxTokens,
		JudgeMaxTokens:    DefaultJudgeMaxTokens,
		JudgeExcerptChars: DefaultJudgeExcerptChars,
		FallbackScore:     DefaultFallbackScore,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:       DefaultServerPort,
			RunTimeout: DefaultRunTimeout,
			RateLimit:  DefaultRateLimitConfig(),
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
		},
		LLM: LLMConfig{
			Provider:     ProviderAnthropic,
			AgentModel:   DefaultAgentModel,
			SummaryModel: DefaultSummaryModel,
			JudgeModel:   DefaultAgentModel,
		},
		Engine: DefaultEngineConfig(),
		Market: MarketConfig{
			MinReward: DefaultMinReward,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig reads and parses the YAML config at path. A missing file yields
// the defaults. Values from a .env file next to the config and from the
// process environment are applied on top before validation.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	env, err := LoadEnvFile(filepath.Join(filepath.Dir(path), DefaultEnvFile))
	if err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv overlays .env values and then process environment values, so the
// process environment wins.
func applyEnv(cfg *Config, fileEnv map[string]string) error {
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok && v != ""
	}

	if v, ok := lookup(EnvAnthropicAPIKey); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok {
		cfg.Store.DSN = v
		if cfg.Store.Driver == StoreDriverMemory {
			cfg.Store.Driver = StoreDriverPostgres
		}
	}
	if v, ok := lookup(EnvOllamaHost); ok && cfg.LLM.Provider == ProviderOllama {
		cfg.LLM.BaseURL = v
	}
	if v, ok := lookup(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ValidationError{Field: EnvPort, Message: "must be an integer"}
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	return nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if cfg.Server.RunTimeout <= 0 {
		return ValidationError{Field: "server.run_timeout", Message: "must be positive"}
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if cfg.Store.DSN == "" {
			return ValidationError{Field: "store.dsn", Message: "required for the postgres driver"}
		}
	default:
		return ValidationError{Field: "store.driver", Message: fmt.Sprintf("unknown driver %q", cfg.Store.Driver)}
	}

	switch cfg.LLM.Provider {
	case ProviderAnthropic, ProviderOllama:
	default:
		return ValidationError{Field: "llm.provider", Message: fmt.Sprintf("unknown provider %q", cfg.LLM.Provider)}
	}

	if err := ValidateEngineConfig(&cfg.Engine); err != nil {
		return err
	}
	// The run deadline must leave room for an agent call and the judge call.
	if cfg.Engine.AgentTimeout+cfg.Engine.JudgeTimeout > cfg.Server.RunTimeout {
		return ValidationError{Field: "server.run_timeout", Message: "must exceed engine.agent_timeout + engine.judge_timeout"}
	}

	if cfg.Market.MinReward < 0 {
		return ValidationError{Field: "market.min_reward", Message: "must not be negative"}
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return ValidationError{Field: "log.level", Message: err.Error()}
	}

	return nil
}

// ValidateEngineConfig checks engine timeouts and limits.
func ValidateEngineConfig(cfg *EngineConfig) error {
	durations := []struct {
		field string
		value time.Duration
	}{
		{"engine.agent_timeout", cfg.AgentTimeout},
		{"engine.summary_timeout", cfg.SummaryTimeout},
		{"engine.judge_timeout", cfg.JudgeTimeout},
		{"engine.revert_timeout", cfg.RevertTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return ValidationError{Field: d.field, Message: "must be positive"}
		}
	}
	if cfg.SummaryTimeout > cfg.AgentTimeout {
		return ValidationError{Field: "engine.summary_timeout", Message: "must not exceed engine.agent_timeout"}
	}
	if cfg.AgentMaxTokens <= 0 || cfg.SummaryMaxTokens <= 0 || cfg.JudgeMaxTokens <= 0 {
		return ValidationError{Field: "engine.max_tokens", Message: "must be positive"}
	}
	if cfg.JudgeExcerptChars <= 0 {
		return ValidationError{Field: "engine.judge_excerpt_chars", Message: "must be positive"}
	}
	if cfg.FallbackScore < 0 || cfg.FallbackScore > 100 {
		return ValidationError{Field: "engine.fallback_score", Message: "must be between 0 and 100"}
	}
	if cfg.StaleAfter < 0 {
		return ValidationError{Field: "engine.stale_after", Message: "must not be negative"}
	}
	return nil
}

// LoadEnvFile parses a .env file into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored. A missing file yields an empty map.
func LoadEnvFile(envPath string) (map[string]string, error) {
	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
