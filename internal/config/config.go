package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Fields    FieldsConfig    `yaml:"fields" mapstructure:"fields"`
	Prompts   PromptsConfig   `yaml:"prompts" mapstructure:"prompts"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Compare   CompareConfig   `yaml:"compare" mapstructure:"compare"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates inputs and outputs on disk.
type PathsConfig struct {
	Documents string `yaml:"documents" mapstructure:"documents" validate:"required"`
	Outputs   string `yaml:"outputs" mapstructure:"outputs" validate:"required"`
	Logs      string `yaml:"logs" mapstructure:"logs" validate:"required"`
	Reports   string `yaml:"reports" mapstructure:"reports" validate:"required"`
}

// FieldsConfig points at the field schema (.yaml, .md or .xlsx).
type FieldsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PromptsConfig optionally overrides the built-in system prompts.
type PromptsConfig struct {
	ContextPath string `yaml:"context_path" mapstructure:"context_path"`
	MappingPath string `yaml:"mapping_path" mapstructure:"mapping_path"`
}

// LLMConfig selects the provider and request shape.
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic openai"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
	MaxInputChars     int     `yaml:"max_input_chars" mapstructure:"max_input_chars" validate:"gte=0"`
	CacheSystemPrompt bool    `yaml:"cache_system_prompt" mapstructure:"cache_system_prompt"`
	RequestTimeoutSec int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs" validate:"gte=0"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RetryConfig configures the retry controller around LLM calls.
type RetryConfig struct {
	MaxAttempts      int            `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs int            `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int            `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
	Multiplier       float64        `yaml:"multiplier" mapstructure:"multiplier" validate:"gte=0"`
	JitterFraction   float64        `yaml:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
	ClassBackoffMs   map[string]int `yaml:"class_backoff_ms" mapstructure:"class_backoff_ms"`
}

// PipelineConfig configures batch extraction.
type PipelineConfig struct {
	Flow             string   `yaml:"flow" mapstructure:"flow" validate:"oneof=old new"`
	Concurrency      int      `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1"`
	Limit            int      `yaml:"limit" mapstructure:"limit" validate:"gte=0"`
	TargetTotal      int      `yaml:"target_total" mapstructure:"target_total" validate:"gte=0"`
	ProgressEvery    int      `yaml:"progress_every" mapstructure:"progress_every" validate:"gte=0"`
	PauseBetweenMs   int      `yaml:"pause_between_ms" mapstructure:"pause_between_ms" validate:"gte=0"`
	DrainTimeoutSecs int      `yaml:"drain_timeout_secs" mapstructure:"drain_timeout_secs" validate:"gte=0"`
	DebugContext     bool     `yaml:"debug_context" mapstructure:"debug_context"`
	SkipFailed       bool     `yaml:"skip_failed" mapstructure:"skip_failed"`
	Categories       []string `yaml:"categories" mapstructure:"categories"`
}

// MonitorConfig configures the performance monitor and its alerts.
type MonitorConfig struct {
	Driver                 string  `yaml:"driver" mapstructure:"driver" validate:"oneof=jsonl sqlite"`
	LogFile                string  `yaml:"log_file" mapstructure:"log_file"`
	SummaryFile            string  `yaml:"summary_file" mapstructure:"summary_file"`
	WindowMinutes          int     `yaml:"window_minutes" mapstructure:"window_minutes" validate:"gte=1"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	ExhaustedRateThreshold float64 `yaml:"exhausted_rate_threshold" mapstructure:"exhausted_rate_threshold" validate:"gte=0,lte=1"`
	CostThresholdUSD       float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd" validate:"gte=0"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// PricingConfig overrides per-model token pricing (USD per million tokens).
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// CompareConfig configures ground-truth comparison.
type CompareConfig struct {
	GroundTruth string `yaml:"ground_truth" mapstructure:"ground_truth"`
	DateOrder   string `yaml:"date_order" mapstructure:"date_order" validate:"oneof=dmy mdy"`
	IDColumn    string `yaml:"id_column" mapstructure:"id_column"`
}

// OCRConfig configures the PDF text fallback.
type OCRConfig struct {
	PdfToTextPath string  `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MinPDFBytes   int64   `yaml:"min_pdf_bytes" mapstructure:"min_pdf_bytes" validate:"gte=0"`
	MaxPDFMB      float64 `yaml:"max_pdf_mb" mapstructure:"max_pdf_mb" validate:"gte=0"`
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
	v.SetEnvPrefix("CAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.key", "CAO_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.key", "CAO_OPENAI_KEY", "OPENAI_API_KEY")

	// Defaults
	v.SetDefault("paths.documents", "data/documents")
	v.SetDefault("paths.outputs", "data/outputs")
	v.SetDefault("paths.logs", "data/logs")
	v.SetDefault("paths.reports", "data/reports")
	v.SetDefault("fields.path", "fields.yaml")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_tokens", 16000)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.requests_per_minute", 50)
	v.SetDefault("llm.max_input_chars", 120000)
	v.SetDefault("llm.cache_system_prompt", true)
	v.SetDefault("llm.request_timeout_secs", 600)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 30000)
	v.SetDefault("retry.max_backoff_ms", 600000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.1)
	v.SetDefault("retry.class_backoff_ms", map[string]int{
		"timeout":    120000,
		"rate_limit": 60000,
		"transient":  60000,
	})
	v.SetDefault("pipeline.flow", "new")
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.progress_every", 10)
	v.SetDefault("pipeline.drain_timeout_secs", 300)
	v.SetDefault("monitor.driver", "jsonl")
	v.SetDefault("monitor.window_minutes", 60)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.failure_rate_threshold", 0.2)
	v.SetDefault("monitor.exhausted_rate_threshold", 0.1)
	v.SetDefault("compare.date_order", "dmy")
	v.SetDefault("compare.id_column", "cao_number")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.min_pdf_bytes", 1024)
	v.SetDefault("ocr.max_pdf_mb", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Model returns the model of the selected provider, preferring llm.model.
func (c *Config) Model() string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	if c.LLM.Provider == "openai" {
		return c.OpenAI.Model
	}
	return c.Anthropic.Model
}

// APIKey returns the key of the selected provider.
func (c *Config) APIKey() string {
	if c.LLM.Provider == "openai" {
		return c.OpenAI.Key
	}
	return c.Anthropic.Key
}

// BaseURL returns the base URL override of the selected provider.
func (c *Config) BaseURL() string {
	if c.LLM.Provider == "openai" {
		return c.OpenAI.BaseURL
	}
	return c.Anthropic.BaseURL
}

// EventLogPath returns the performance log path, defaulting by driver.
func (c *Config) EventLogPath() string {
	if c.Monitor.LogFile != "" {
		return c.Monitor.LogFile
	}
	if c.Monitor.Driver == "sqlite" {
		return filepath.Join(c.Paths.Logs, "extraction_performance.db")
	}
	return filepath.Join(c.Paths.Logs, "extraction_performance.jsonl")
}

// SummaryPath returns the summary cache path.
func (c *Config) SummaryPath() string {
	if c.Monitor.SummaryFile != "" {
		return c.Monitor.SummaryFile
	}
	return filepath.Join(c.Paths.Logs, "extraction_summary.json")
}

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the configuration for the given command mode
// ("extract", "compare", "perf" or "fields").
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fieldProblem(fe))
			}
		} else {
			return eris.Wrap(err, "config: validate")
		}
	}

	switch mode {
	case "extract":
		if c.APIKey() == "" {
			problems = append(problems, c.LLM.Provider+".key is required")
		}
		if c.Model() == "" {
			problems = append(problems, "llm.model is required")
		}
		if c.Fields.Path == "" {
			problems = append(problems, "fields.path is required")
		}
		for _, p := range []string{c.Prompts.ContextPath, c.Prompts.MappingPath} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				problems = append(problems, "prompt file "+p+" is not readable")
			}
		}
	case "compare":
		if c.Compare.GroundTruth == "" {
			problems = append(problems, "compare.ground_truth is required")
		}
		if c.Fields.Path == "" {
			problems = append(problems, "fields.path is required")
		}
	case "fields", "export":
		if c.Fields.Path == "" {
			problems = append(problems, "fields.path is required")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func fieldProblem(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	key := ns
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return key + " must be one of [" + fe.Param() + "]"
	default:
		return key + " failed " + fe.Tag() + " " + fe.Param()
	}
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
