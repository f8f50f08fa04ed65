// Package config loads the runtime's configuration from a YAML file with
// environment-variable overrides, following the pack's env/YAML loading
// idiom: .env files loaded via godotenv, structured config unmarshaled via
// gopkg.in/yaml.v3, with ${VAR:-default} expansion applied to the raw file
// text before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete process configuration: which LLM provider and
// model to drive the Step Executor with, how Steps are persisted, and the
// process-wide limits the runtime enforces.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Store   StoreConfig   `yaml:"store"`
	Wire    WireConfig    `yaml:"wire"`
	Limits  LimitsConfig  `yaml:"limits"`
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig controls the OTel SDK tracer provider installed at process
// start (§2's per-turn span).
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LLMConfig selects and configures the active provider adapter.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" | "openai" | "bedrock"
	Model       string  `yaml:"model"`
	MaxTokens   int64   `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// StoreConfig selects the Session Store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" | "mongo"
	MongoURI    string `yaml:"mongo_uri"`
	MongoDB     string `yaml:"mongo_database"`
}

// WireConfig tunes the per-subscriber event bus buffer.
type WireConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LimitsConfig carries the runtime's §5/§4.10 safety valves.
type LimitsConfig struct {
	MaxSteps int `yaml:"max_steps"`
	MaxDepth int `yaml:"max_depth"`
}

// Load reads .env then .env.local into the process environment (godotenv
// never overrides a variable that is already set, so the process
// environment wins over both files and .env wins over .env.local), expands ${VAR:-default}/${VAR}/$VAR
// references in path's raw bytes, and unmarshals the result as YAML.
func Load(path string) (Config, error) {
	for _, envFile := range []string{".env", ".env.local"} {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Wire.BufferSize <= 0 {
		cfg.Wire.BufferSize = 256
	}
	if cfg.Limits.MaxSteps <= 0 {
		cfg.Limits.MaxSteps = 25
	}
	if cfg.Limits.MaxDepth <= 0 {
		cfg.Limits.MaxDepth = 5
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentrund"
	}
	if cfg.Tracing.SamplingRate <= 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

var (
	withDefaultPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	bracedPattern      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	simplePattern      = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// expandEnvVars substitutes ${VAR:-default}, ${VAR}, and $VAR references in
// s from the process environment, in that precedence order.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = withDefaultPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := withDefaultPattern.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	s = bracedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := bracedPattern.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})

	s = simplePattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := simplePattern.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})

	return s
}
