package config

import (
	"github.com/ahrav/go-charstates/internal/llm"
	"github.com/ahrav/go-charstates/internal/llm/circuitbreaker"
	"github.com/ahrav/go-charstates/internal/llm/providers"
	"github.com/ahrav/go-charstates/internal/llm/ratelimit"
	"github.com/ahrav/go-charstates/internal/retry"
)

// Model ids.
const (
	// ModelGemini25Pro is the default evaluation model.
	ModelGemini25Pro = "gemini-2.5-pro"

	// ModelGemini25Flash is the default extraction model.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini20Flash is the older, cheaper flash model.
	ModelGemini20Flash = "gemini-2.0-flash"
)

// Defaults.
const (
	// DefaultExtractionModel is the catalogue name of the extraction model.
	DefaultExtractionModel = "Gemini 2.5 Flash"

	// DefaultEvaluationModel is the catalogue name of the evaluation model.
	DefaultEvaluationModel = "Gemini 2.5 Pro"

	// DefaultLogLevel is the slog level used when none is configured.
	DefaultLogLevel = "info"

	// DefaultLogFormat selects the text handler; "json" selects the JSON handler.
	DefaultLogFormat = "text"

	// DefaultMetricsAddr is where /metrics is served. Empty disables it.
	DefaultMetricsAddr = ":9090"

	// DefaultTemporalHost is the Temporal frontend address.
	DefaultTemporalHost = "localhost:7233"

	// DefaultNamespace is the Temporal namespace.
	DefaultNamespace = "default"

	// DefaultTaskQueue is shared by the worker and workflow submission.
	DefaultTaskQueue = "charstates"
)

// DefaultCatalogue returns the friendly name to model id map.
func DefaultCatalogue() map[string]string {
	return map[string]string{
		"Gemini 2.5 Pro":   ModelGemini25Pro,
		"Gemini 2.5 Flash": ModelGemini25Flash,
		"Gemini 2.0 Flash": ModelGemini20Flash,
	}
}

// Default returns the reference configuration. Workers is left at zero so
// the orchestrator derives it from the CPU count.
func Default() Config {
	return Config{
		Retry: retry.DefaultConfig(),
		Models: ModelsConfig{
			Extraction: DefaultExtractionModel,
			Evaluation: DefaultEvaluationModel,
			Catalogue:  DefaultCatalogue(),
		},
		Provider: ProviderConfig{
			Name:     providers.ProviderGoogle,
			Endpoint: providers.DefaultGoogleEndpoint,
			Timeout:  llm.DefaultTimeout,
			CacheTTL: llm.DefaultCacheTTL,
		},
		RateLimit:      ratelimit.DefaultConfig(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Context:        ContextConfig{Mode: "none"},
		Observability: ObservabilityConfig{
			LogLevel:    DefaultLogLevel,
			LogFormat:   DefaultLogFormat,
			MetricsAddr: DefaultMetricsAddr,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHost,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}
