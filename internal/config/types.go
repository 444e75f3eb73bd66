package config

import "time"

// Config represents the agentstack.yaml file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	LLM    LLMConfig    `yaml:"llm"`
	Engine EngineConfig `yaml:"engine"`
	Market MarketConfig `yaml:"market"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int             `yaml:"port"`
	RunTimeout time.Duration   `yaml:"run_timeout"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits run and reset requests per client IP.
type RateLimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
	BlockAfter  int           `yaml:"block_after"`
	BlockTime   time.Duration `yaml:"block_time"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or postgres
	DSN    string `yaml:"dsn"`
}

// LLMConfig selects the LLM provider and models.
type LLMConfig struct {
	Provider     string `yaml:"provider"` // anthropic or ollama
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	AgentModel   string `yaml:"agent_model"`
	SummaryModel string `yaml:"summary_model"`
	JudgeModel   string `yaml:"judge_model"`
}

// EngineConfig holds the completion engine's timeouts and limits.
type EngineConfig struct {
	AgentTimeout      time.Duration `yaml:"agent_timeout"`
	SummaryTimeout    time.Duration `yaml:"summary_timeout"`
	JudgeTimeout      time.Duration `yaml:"judge_timeout"`
	RevertTimeout     time.Duration `yaml:"revert_timeout"`
	AgentMaxTokens    int           `yaml:"agent_max_tokens"`
	SummaryMaxTokens  int           `yaml:"summary_max_tokens"`
	JudgeMaxTokens    int           `yaml:"judge_max_tokens"`
	JudgeExcerptChars int           `yaml:"judge_excerpt_chars"`
	FallbackScore     int           `yaml:"fallback_score"`
	StaleAfter        time.Duration `yaml:"stale_after"` // 0 disables the reaper
}

// MarketConfig holds task creation rules.
type MarketConfig struct {
	MinReward     float64 `yaml:"min_reward"`
	RequireTxHash bool    `yaml:"require_tx_hash"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Store driver values.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// LLM provider values.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)
