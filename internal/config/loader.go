package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "CHARSTATES_"

// APIKeyEnv is read when provider.api_key is not set.
const APIKeyEnv = "GEMINI_API_KEY"

const maxConfigFileSize = 1024 * 1024 // 1MB

var errConfigTooLarge = errors.New("config file too large")

// envSections lists the nested sections, longest first, so that
// RATE_LIMIT_LOCAL_BURST_SIZE resolves to rate_limit.local.burst_size
// rather than rate.limit_local_burst_size.
var envSections = []string{
	"circuit_breaker",
	"rate_limit_global",
	"rate_limit_local",
	"observability",
	"rate_limit",
	"indexing",
	"temporal",
	"provider",
	"context",
	"prompts",
	"models",
	"retry",
}

// Sources selects where Load reads configuration from. Precedence, highest
// first: Overrides, CHARSTATES_ environment variables, the YAML document,
// Default().
type Sources struct {
	// Path is an optional YAML file. A missing file is an error.
	Path string
	// YAML is an inline YAML document, used instead of Path when set.
	YAML []byte
	// Overrides are dotted keys set last, typically from CLI flags.
	Overrides map[string]any
}

// Load builds and validates a Config.
//
// Environment variables map to keys by stripping CHARSTATES_, lowercasing,
// and splitting the known section from the field name:
//
//	CHARSTATES_WORKERS                    -> workers
//	CHARSTATES_RETRY_MAX_RETRIES          -> retry.max_retries
//	CHARSTATES_RATE_LIMIT_LOCAL_ENABLED   -> rate_limit.local.enabled
//	CHARSTATES_OBSERVABILITY_LOG_LEVEL    -> observability.log_level
func Load(src Sources) (*Config, error) {
	k := koanf.New(".")

	data := src.YAML
	if data == nil && src.Path != "" {
		var err error
		if data, err = readConfigFile(src.Path); err != nil {
			return nil, err
		}
	}
	if data != nil {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", src.Path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, val := range src.Overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv(APIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", errConfigTooLarge, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps CHARSTATES_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return strings.ReplaceAll(section, "rate_limit_", "rate_limit.") + "." + rest
		}
	}
	return key
}
