package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all toolsmith configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Generative model client
	LLM LLMConfig `yaml:"llm"`

	// Container sandbox
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Test/coverage pipeline
	Validation ValidationConfig `yaml:"validation"`

	// Repair loop
	Repair RepairConfig `yaml:"repair"`

	// Strategy tables
	Strategy StrategyConfig `yaml:"strategy"`

	// Batch orchestration
	Designer DesignerConfig `yaml:"designer"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ValidationConfig configures the validation pipeline.
type ValidationConfig struct {
	ArtifactsRoot     string  `yaml:"artifacts_root"`
	Timeout           string  `yaml:"timeout"`
	CoverageThreshold float64 `yaml:"coverage_threshold"`
	Image             string  `yaml:"image"` // overrides sandbox.image for test runs
}

// RepairConfig configures the bounded repair loop.
type RepairConfig struct {
	MaxAttempts  int  `yaml:"max_attempts"`
	TemplateOnly bool `yaml:"template_only"` // never call the model
}

// DesignerConfig configures batch orchestration.
type DesignerConfig struct {
	Concurrency int    `yaml:"concurrency"`
	MetricsFile string `yaml:"metrics_file"`
}

// StrategyConfig carries the static external API catalog.
type StrategyConfig struct {
	Catalog []CatalogEntry `yaml:"catalog"`
}

// CatalogEntry describes one known external HTTP endpoint.
type CatalogEntry struct {
	Name        string   `yaml:"name"`
	BaseURL     string   `yaml:"base_url"`
	Path        string   `yaml:"path"`
	Method      string   `yaml:"method"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "toolsmith",
		Version: "0.3.0",

		LLM: DefaultLLMConfig(),

		Sandbox: DefaultSandboxConfig(),

		Validation: ValidationConfig{
			ArtifactsRoot:     filepath.Join(".toolsmith", "artifacts"),
			Timeout:           "30s",
			CoverageThreshold: 0.9,
		},

		Repair: RepairConfig{
			MaxAttempts: 3,
		},

		Designer: DesignerConfig{
			Concurrency: 2,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		data = nil
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys, lowest priority first
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("TOOLSMITH_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if v := os.Getenv("TOOLSMITH_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("TOOLSMITH_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("TOOLSMITH_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TOOLSMITH_SANDBOX_BACKEND"); v != "" {
		c.Sandbox.Backend = v
	}
	if v := os.Getenv("TOOLSMITH_SANDBOX_IMAGE"); v != "" {
		c.Sandbox.Image = v
	}
	if v := os.Getenv("TOOLSMITH_ARTIFACTS"); v != "" {
		c.Validation.ArtifactsRoot = v
	}
	if v := os.Getenv("TOOLSMITH_TEMPLATE_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Repair.TemplateOnly = b
		}
	}
	if v := os.Getenv("TOOLSMITH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetValidationTimeout returns the test run timeout as a duration.
func (c *Config) GetValidationTimeout() time.Duration {
	return parseDuration(c.Validation.Timeout, 30*time.Second)
}

// GetCoverageThreshold returns the coverage threshold, falling back to 0.9
// for out-of-range values.
func (c *Config) GetCoverageThreshold() float64 {
	if c.Validation.CoverageThreshold <= 0 || c.Validation.CoverageThreshold > 1 {
		return 0.9
	}
	return c.Validation.CoverageThreshold
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration. A missing API key is only an error
// when the model is actually going to be called.
func (c *Config) Validate() error {
	if err := c.LLM.validate(c.Repair.TemplateOnly); err != nil {
		return err
	}
	if err := c.Sandbox.validate(); err != nil {
		return err
	}
	if c.Validation.CoverageThreshold < 0 || c.Validation.CoverageThreshold > 1 {
		return fmt.Errorf("validation.coverage_threshold must be within [0,1], got %v", c.Validation.CoverageThreshold)
	}
	if c.Repair.MaxAttempts < 0 {
		return fmt.Errorf("repair.max_attempts must not be negative")
	}
	for i, e := range c.Strategy.Catalog {
		if e.Name == "" || e.BaseURL == "" {
			return fmt.Errorf("strategy.catalog[%d]: name and base_url are required", i)
		}
	}
	return nil
}
