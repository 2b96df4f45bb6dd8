package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Bedrock    BedrockConfig    `yaml:"bedrock" mapstructure:"bedrock"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	AWS        AWSConfig        `yaml:"aws" mapstructure:"aws"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Metadata   MetadataConfig   `yaml:"metadata" mapstructure:"metadata"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Cascade    CascadeConfig    `yaml:"cascade" mapstructure:"cascade"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	QA         QAConfig         `yaml:"qa" mapstructure:"qa"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects the model provider and guards every invocation.
type LLMConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	FailureThreshold  int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BedrockConfig holds Amazon Bedrock runtime settings.
type BedrockConfig struct {
	ModelID string `yaml:"model_id" mapstructure:"model_id"`
	Region  string `yaml:"region" mapstructure:"region"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds settings for OpenAI or any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AWSConfig holds shared AWS client settings. Static credentials are optional;
// the default credential chain is used when they are empty.
type AWSConfig struct {
	Region          string `yaml:"region" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
}

// BlobConfig configures the blob store holding datasets and reports.
type BlobConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	LocalPath string `yaml:"local_path" mapstructure:"local_path"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
}

// MetadataConfig configures the key-value metadata store.
type MetadataConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	AnalysisTable string `yaml:"analysis_table" mapstructure:"analysis_table"`
	RequestTable  string `yaml:"request_table" mapstructure:"request_table"`
	KeyAttribute  string `yaml:"key_attribute" mapstructure:"key_attribute"`
}

// StoreConfig bounds store calls. Reads are retried; writes are not.
type StoreConfig struct {
	ReadTimeoutSecs  int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
	ReadRetries      int `yaml:"read_retries" mapstructure:"read_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ScoringConfig holds the risk formula weights and both threshold tables.
// LevelThresholds gate the full weighted score; SentimentThresholds gate the
// cheap sentiment-only pre-filter. The two tables are independent.
type ScoringConfig struct {
	SentimentWeight   float64 `yaml:"sentiment_weight" mapstructure:"sentiment_weight"`
	CapsWeight        float64 `yaml:"caps_weight" mapstructure:"caps_weight"`
	CapsCap           float64 `yaml:"caps_cap" mapstructure:"caps_cap"`
	ExclaimWeight     float64 `yaml:"exclaim_weight" mapstructure:"exclaim_weight"`
	ExclaimCap        float64 `yaml:"exclaim_cap" mapstructure:"exclaim_cap"`
	PatternWeight     float64 `yaml:"pattern_weight" mapstructure:"pattern_weight"`
	UrgencyWeight     float64 `yaml:"urgency_weight" mapstructure:"urgency_weight"`
	PronounWeight     float64 `yaml:"pronoun_weight" mapstructure:"pronoun_weight"`
	PatternsFile      string  `yaml:"patterns_file" mapstructure:"patterns_file"`

	LevelThresholds     LevelThresholds     `yaml:"level_thresholds" mapstructure:"level_thresholds"`
	SentimentThresholds SentimentThresholds `yaml:"sentiment_thresholds" mapstructure:"sentiment_thresholds"`
}

// LevelThresholds are lower bounds on the full score (score >= bound).
type LevelThresholds struct {
	Critical float64 `yaml:"critical" mapstructure:"critical"`
	High     float64 `yaml:"high" mapstructure:"high"`
	Medium   float64 `yaml:"medium" mapstructure:"medium"`
}

// SentimentThresholds are upper bounds on sentiment (sentiment <= bound).
type SentimentThresholds struct {
	Critical float64 `yaml:"critical" mapstructure:"critical"`
	High     float64 `yaml:"high" mapstructure:"high"`
	Medium   float64 `yaml:"medium" mapstructure:"medium"`
	Low      float64 `yaml:"low" mapstructure:"low"`
}

// CascadeConfig bounds the candidate set.
type CascadeConfig struct {
	MinCandidates    int `yaml:"min_candidates" mapstructure:"min_candidates"`
	MaxCandidates    int `yaml:"max_candidates" mapstructure:"max_candidates"`
	FallbackCount    int `yaml:"fallback_count" mapstructure:"fallback_count"`
	LongCommentChars int `yaml:"long_comment_chars" mapstructure:"long_comment_chars"`
}

// AnalysisConfig configures the threat analysis prompt and invocation.
type AnalysisConfig struct {
	MaxOutputTokens int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP            float64 `yaml:"top_p" mapstructure:"top_p"`
	ExcerptChars    int     `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	RawTextChars    int     `yaml:"raw_text_chars" mapstructure:"raw_text_chars"`
}

// QAConfig configures the interactive question flow.
type QAConfig struct {
	MaxOutputTokens int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP            float64 `yaml:"top_p" mapstructure:"top_p"`
	TopK            int     `yaml:"top_k" mapstructure:"top_k"`
	SampleSize      int     `yaml:"sample_size" mapstructure:"sample_size"`
	ExcerptChars    int     `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// BatchConfig configures multi-dataset runs.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("THREATSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "bedrock")
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.failure_threshold", 5)
	v.SetDefault("llm.reset_timeout_secs", 30)
	v.SetDefault("bedrock.model_id", "us.meta.llama4-scout-17b-instruct-v1:0")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("aws.region", "us-east-1")

	// Empty defaults register the keys so AutomaticEnv can bind them.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("gemini.key", "")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("bedrock.region", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("metadata.database_url", "")
	v.SetDefault("scoring.patterns_file", "")

	v.SetDefault("blob.driver", "s3")
	v.SetDefault("blob.local_path", "./data")
	v.SetDefault("blob.prefix", "analysis/")
	v.SetDefault("metadata.driver", "dynamodb")
	v.SetDefault("metadata.analysis_table", "threat_analysis")
	v.SetDefault("metadata.request_table", "osintube_requests")
	v.SetDefault("metadata.key_attribute", "id")
	v.SetDefault("store.read_timeout_secs", 10)
	v.SetDefault("store.write_timeout_secs", 15)
	v.SetDefault("store.read_retries", 3)
	v.SetDefault("store.initial_backoff_ms", 200)

	v.SetDefault("scoring.sentiment_weight", 0.4)
	v.SetDefault("scoring.caps_weight", 2.0)
	v.SetDefault("scoring.caps_cap", 1.5)
	v.SetDefault("scoring.exclaim_weight", 0.1)
	v.SetDefault("scoring.exclaim_cap", 0.5)
	v.SetDefault("scoring.pattern_weight", 0.2)
	v.SetDefault("scoring.urgency_weight", 0.1)
	v.SetDefault("scoring.pronoun_weight", 0.05)
	v.SetDefault("scoring.level_thresholds.critical", 0.8)
	v.SetDefault("scoring.level_thresholds.high", 0.6)
	v.SetDefault("scoring.level_thresholds.medium", 0.4)
	v.SetDefault("scoring.sentiment_thresholds.critical", 0.2)
	v.SetDefault("scoring.sentiment_thresholds.high", 0.35)
	v.SetDefault("scoring.sentiment_thresholds.medium", 0.5)
	v.SetDefault("scoring.sentiment_thresholds.low", 0.65)

	v.SetDefault("cascade.min_candidates", 5)
	v.SetDefault("cascade.max_candidates", 25)
	v.SetDefault("cascade.fallback_count", 15)
	v.SetDefault("cascade.long_comment_chars", 400)

	v.SetDefault("analysis.max_output_tokens", 1000)
	v.SetDefault("analysis.temperature", 0.1)
	v.SetDefault("analysis.top_p", 0.9)
	v.SetDefault("analysis.excerpt_chars", 180)
	v.SetDefault("analysis.raw_text_chars", 4000)

	v.SetDefault("qa.max_output_tokens", 800)
	v.SetDefault("qa.temperature", 0.3)
	v.SetDefault("qa.top_p", 0.9)
	v.SetDefault("qa.top_k", 10)
	v.SetDefault("qa.sample_size", 8)
	v.SetDefault("qa.excerpt_chars", 200)

	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the settings required by mode are present. Modes are
// "analyze" (CLI analyze/ask/batch) and "serve".
func (c *Config) Validate(mode string) error {
	var missing []string

	switch c.LLM.Provider {
	case "bedrock":
		if c.Bedrock.ModelID == "" {
			missing = append(missing, "bedrock.model_id")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			missing = append(missing, "gemini.key")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			missing = append(missing, "openai.key")
		}
	default:
		missing = append(missing, fmt.Sprintf("llm.provider (unknown %q)", c.LLM.Provider))
	}

	switch c.Blob.Driver {
	case "s3":
		if c.Blob.Bucket == "" {
			missing = append(missing, "blob.bucket")
		}
	case "local":
		if c.Blob.LocalPath == "" {
			missing = append(missing, "blob.local_path")
		}
	case "memory":
	default:
		missing = append(missing, fmt.Sprintf("blob.driver (unknown %q)", c.Blob.Driver))
	}

	switch c.Metadata.Driver {
	case "sqlite", "postgres", "mysql", "redis":
		if c.Metadata.DatabaseURL == "" {
			missing = append(missing, "metadata.database_url")
		}
	case "dynamodb", "memory":
	default:
		missing = append(missing, fmt.Sprintf("metadata.driver (unknown %q)", c.Metadata.Driver))
	}
	if c.Metadata.AnalysisTable == "" {
		missing = append(missing, "metadata.analysis_table")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		missing = append(missing, "server.port")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing or invalid for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
