// Package config holds the explicit run configuration for charstates.
//
// A Config value is built once by Load and passed to constructors; nothing
// in the repository reads configuration from globals. Sections map
// one-to-one to the YAML file and to CHARSTATES_ environment variables:
//
//	workers:         parallel tasks (0 selects min(32, NumCPU+4))
//	indexing:        zero_indexed
//	retry:           content and rate-limit budgets, backoff, accept threshold
//	models:          extraction and evaluation models plus the catalogue
//	provider:        Gemini endpoint, key, timeout, context cache
//	rate_limit:      local token bucket and global Redis window
//	circuit_breaker: per-model failure breaker
//	prompts:         template overrides
//	context:         how the source document reaches the models
//	observability:   logging and metrics
//	temporal:        worker connection
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-charstates/internal/domain"
	"github.com/ahrav/go-charstates/internal/llm"
	"github.com/ahrav/go-charstates/internal/llm/circuitbreaker"
	llmerrors "github.com/ahrav/go-charstates/internal/llm/errors"
	"github.com/ahrav/go-charstates/internal/llm/providers"
	"github.com/ahrav/go-charstates/internal/llm/ratelimit"
	"github.com/ahrav/go-charstates/internal/orchestrator"
	"github.com/ahrav/go-charstates/internal/prompt"
	"github.com/ahrav/go-charstates/internal/retry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var errContextFileRequired = errors.New("context.file is required when context.mode is not none")

// Config is the complete run configuration.
type Config struct {
	Workers        int                   `koanf:"workers"         json:"workers"         validate:"min=0,max=1024"`
	Indexing       IndexingConfig        `koanf:"indexing"        json:"indexing"`
	Retry          retry.Config          `koanf:"retry"           json:"retry"`
	Models         ModelsConfig          `koanf:"models"          json:"models"`
	Provider       ProviderConfig        `koanf:"provider"        json:"provider"`
	RateLimit      ratelimit.Config      `koanf:"rate_limit"      json:"rate_limit"`
	CircuitBreaker circuitbreaker.Config `koanf:"circuit_breaker" json:"circuit_breaker"`
	Prompts        prompt.Options        `koanf:"prompts"         json:"prompts"`
	Context        ContextConfig         `koanf:"context"         json:"context"`
	Observability  ObservabilityConfig   `koanf:"observability"   json:"observability"`
	Temporal       TemporalConfig        `koanf:"temporal"        json:"temporal"`
}

// IndexingConfig selects whether character indices start at 0 or 1.
type IndexingConfig struct {
	ZeroIndexed bool `koanf:"zero_indexed" json:"zero_indexed"`
}

// ModelsConfig names the extraction and evaluation models. Either a
// catalogue name ("Gemini 2.5 Flash") or a model id is accepted.
type ModelsConfig struct {
	Extraction string            `koanf:"extraction" json:"extraction" validate:"required"`
	Evaluation string            `koanf:"evaluation" json:"evaluation" validate:"required"`
	Catalogue  map[string]string `koanf:"catalogue"  json:"catalogue"  validate:"required,min=1"`
}

// ProviderConfig configures the Gemini API.
type ProviderConfig struct {
	Name            string        `koanf:"name"              json:"name"              validate:"oneof=google"`
	Endpoint        string        `koanf:"endpoint"          json:"endpoint"          validate:"omitempty,url"`
	APIKey          string        `koanf:"api_key"           json:"-"`
	Timeout         time.Duration `koanf:"timeout"           json:"timeout"           validate:"gt=0"`
	Temperature     float64       `koanf:"temperature"       json:"temperature"       validate:"min=0,max=2"`
	UseContextCache bool          `koanf:"use_context_cache" json:"use_context_cache"`
	CacheTTL        time.Duration `koanf:"cache_ttl"         json:"cache_ttl"         validate:"min=0"`
}

// ContextConfig selects how the source document is supplied.
type ContextConfig struct {
	Mode     string `koanf:"mode"      json:"mode"      validate:"oneof=none inline_text text uploaded_file file"`
	File     string `koanf:"file"      json:"file"`
	MIMEType string `koanf:"mime_type" json:"mime_type"`
}

// ObservabilityConfig controls logging and the metrics endpoint.
type ObservabilityConfig struct {
	LogLevel      string `koanf:"log_level"      json:"log_level"      validate:"oneof=debug info warn error"`
	LogFormat     string `koanf:"log_format"     json:"log_format"     validate:"oneof=json text"`
	MetricsAddr   string `koanf:"metrics_addr"   json:"metrics_addr"`
	RedactPrompts bool   `koanf:"redact_prompts" json:"redact_prompts"`
}

// TemporalConfig is used by the worker command.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"  json:"host_port"  validate:"required"`
	Namespace string `koanf:"namespace"  json:"namespace"  validate:"required"`
	TaskQueue string `koanf:"task_queue" json:"task_queue" validate:"required"`
}

// Validate checks field bounds, the nested retry and rate limit sections,
// and that both default models resolve through the catalogue.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, name := range []string{c.Models.Extraction, c.Models.Evaluation} {
		if _, err := c.ResolveModel(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	mode, err := llm.ParseContextMode(c.Context.Mode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if mode != llm.ContextNone && c.Context.File == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errContextFileRequired)
	}
	return nil
}

// ResolveModel maps a catalogue name or a model id to a model id.
func (c *Config) ResolveModel(name string) (string, error) {
	if id, ok := c.Models.Catalogue[name]; ok {
		return id, nil
	}
	for _, id := range c.Models.Catalogue {
		if id == name {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", llmerrors.ErrUnknownModel, name)
}

// IndexingMode returns the domain indexing mode.
func (c *Config) IndexingMode() domain.IndexingMode {
	return domain.ModeFor(c.Indexing.ZeroIndexed)
}

// OrchestratorConfig returns the orchestration section.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{Workers: c.Workers, Retry: c.Retry}
}

// ProviderSettings returns the provider adapter configuration.
func (c *Config) ProviderSettings() providers.Config {
	return providers.Config{
		APIKey:   c.Provider.APIKey,
		Endpoint: c.Provider.Endpoint,
		Timeout:  c.Provider.Timeout,
	}
}

// ClientConfig returns the LLM client configuration with resolved model ids.
// The context source is filled in by the caller once the document is read.
func (c *Config) ClientConfig(systemPrompt string) (llm.Config, error) {
	extraction, err := c.ResolveModel(c.Models.Extraction)
	if err != nil {
		return llm.Config{}, err
	}
	evaluation, err := c.ResolveModel(c.Models.Evaluation)
	if err != nil {
		return llm.Config{}, err
	}
	mode, err := llm.ParseContextMode(c.Context.Mode)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		Provider:        c.Provider.Name,
		ExtractionModel: extraction,
		EvaluationModel: evaluation,
		SystemPrompt:    systemPrompt,
		Temperature:     c.Provider.Temperature,
		Timeout:         c.Provider.Timeout,
		Context:         llm.ContextSource{Mode: mode},
		UseCache:        c.Provider.UseContextCache,
		CacheTTL:        c.Provider.CacheTTL,
		RedactPrompts:   c.Observability.RedactPrompts,
	}, nil
}
