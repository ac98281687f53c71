// Package config loads and validates the merged runtime configuration
// described in spec.md §6: a YAML file with a handful of environment
// variable overrides, validated as a batch rather than fail-fast.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExecutionMode selects how aggressively the router favors speed over
// quality by default.
type ExecutionMode string

const (
	ModeFast    ExecutionMode = "fast"
	ModeAuto    ExecutionMode = "auto"
	ModeQuality ExecutionMode = "quality"
)

// ProviderConfig names one backend endpoint the router can dispatch to.
type ProviderConfig struct {
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
}

// PerformanceThresholds bounds the router's default behavior.
type PerformanceThresholds struct {
	FastModeMaxTokens     int `yaml:"fastModeMaxTokens"`
	TimeoutMs             int `yaml:"timeoutMs"`
	MaxConcurrentRequests int `yaml:"maxConcurrentRequests"`
}

// SecurityConfig bounds input size and sandboxed tool execution.
type SecurityConfig struct {
	EnableSandbox   bool     `yaml:"enableSandbox"`
	MaxInputLength  int      `yaml:"maxInputLength"`
	AllowedCommands []string `yaml:"allowedCommands"`
}

// StreamingConfig bounds the streaming response path.
type StreamingConfig struct {
	ChunkSize          int    `yaml:"chunkSize"`
	BufferSize         int    `yaml:"bufferSize"`
	EnableBackpressure bool   `yaml:"enableBackpressure"`
	TimeoutMs          int    `yaml:"timeout"`
	Encoding           string `yaml:"encoding"`
}

// Config is the merged configuration spec.md §6 describes.
type Config struct {
	Providers             []ProviderConfig      `yaml:"providers"`
	ExecutionMode         ExecutionMode         `yaml:"executionMode"`
	FallbackChain         []string              `yaml:"fallbackChain"`
	PerformanceThresholds PerformanceThresholds `yaml:"performanceThresholds"`
	Security              SecurityConfig        `yaml:"security"`
	Streaming             StreamingConfig       `yaml:"streaming"`
}

// defaults mirrors the bounds spec.md §6 names, used for any field the
// YAML source does not set; a field the YAML sets explicitly, even to
// zero, keeps that value and is validated as given.
func defaults() Config {
	return Config{
		ExecutionMode: ModeAuto,
		PerformanceThresholds: PerformanceThresholds{
			FastModeMaxTokens:     2048,
			TimeoutMs:             180_000,
			MaxConcurrentRequests: 3,
		},
		Security: SecurityConfig{
			MaxInputLength: 100_000,
		},
		Streaming: StreamingConfig{
			ChunkSize: 64,
			TimeoutMs: 30_000,
			Encoding:  "utf-8",
		},
	}
}

// Load reads path as YAML, applies environment overrides, and
// validates the result. A non-nil error is always a *ValidationErrors
// unless the file itself could not be read or parsed.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, &ValidationErrors{Errors: errs}
	}
	return cfg, nil
}

// applyEnvOverrides folds the three recognized environment variables
// over whatever the YAML file and defaults already set, per spec.md
// §6's "Environment overrides" list.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AI_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.PerformanceThresholds.TimeoutMs = ms
		}
	}
	if v := os.Getenv("AI_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PerformanceThresholds.MaxConcurrentRequests = n
		}
	}
	if v := os.Getenv("AI_EXECUTION_MODE"); v != "" {
		cfg.ExecutionMode = ExecutionMode(strings.ToLower(v))
	}
}

// ValidationErrors collects every validation failure found in one
// pass, rather than returning only the first (spec.md §6: "Invalid
// configs are rejected with a list of errors").
type ValidationErrors struct {
	Errors []error
}

func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("config: %d validation error(s): %s", len(v.Errors), strings.Join(msgs, "; "))
}

// Validate checks every bound spec.md §6 names and returns the full
// list of violations, or nil if the configuration is valid.
func (c Config) Validate() []error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("providers must not be empty"))
	}
	for _, p := range c.Providers {
		if !strings.HasPrefix(p.Endpoint, "http://") && !strings.HasPrefix(p.Endpoint, "https://") {
			errs = append(errs, fmt.Errorf("provider %q has an invalid endpoint %q: must be http(s)", p.Type, p.Endpoint))
		}
	}

	switch c.ExecutionMode {
	case ModeFast, ModeAuto, ModeQuality:
	default:
		errs = append(errs, fmt.Errorf("executionMode %q is not one of fast|auto|quality", c.ExecutionMode))
	}

	t := c.PerformanceThresholds.TimeoutMs
	if t < 5_000 || t > 600_000 {
		errs = append(errs, fmt.Errorf("performanceThresholds.timeoutMs %d is outside [5000, 600000]", t))
	}
	mc := c.PerformanceThresholds.MaxConcurrentRequests
	if mc < 1 || mc > 10 {
		errs = append(errs, fmt.Errorf("performanceThresholds.maxConcurrentRequests %d is outside [1, 10]", mc))
	}

	if c.Security.MaxInputLength > 100_000 {
		errs = append(errs, fmt.Errorf("security.maxInputLength %d exceeds 100000", c.Security.MaxInputLength))
	}
	for _, cmd := range c.Security.AllowedCommands {
		if cmd == "rm" {
			errs = append(errs, fmt.Errorf("security.allowedCommands must not include %q", "rm"))
		}
	}

	cs := c.Streaming.ChunkSize
	if cs < 1 || cs > 1000 {
		errs = append(errs, fmt.Errorf("streaming.chunkSize %d is outside [1, 1000]", cs))
	}
	if c.Streaming.TimeoutMs < 1_000 {
		errs = append(errs, fmt.Errorf("streaming.timeout %d must be at least 1000", c.Streaming.TimeoutMs))
	}

	return errs
}
