package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sundaygraph configuration. It is constructed once at
// startup and read-only afterwards; components receive it as a dependency.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Version store
	Store StoreConfig `yaml:"store"`

	// Warehouse connection
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Async runner
	Runner RunnerConfig `yaml:"runner"`

	// Per-stage deadlines
	Timeouts TimeoutConfig `yaml:"timeouts"`

	// Ontology drafter (out-of-core LLM collaborator)
	Drafter DrafterConfig `yaml:"drafter"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the sqlite version store.
type StoreConfig struct {
	DatabasePath          string `yaml:"database_path"`
	AllowDuplicateContent bool   `yaml:"allow_duplicate_content"`
}

// WarehouseConfig configures the warehouse adapter connection.
type WarehouseConfig struct {
	AccountURL     string `yaml:"account_url"`
	Database       string `yaml:"database"`
	Schema         string `yaml:"schema"`
	Warehouse      string `yaml:"warehouse"`
	Role           string `yaml:"role"`
	APIKey         string `yaml:"api_key"`
	MaxConnections int    `yaml:"max_connections"`
}

// RunnerConfig configures the async task runner.
type RunnerConfig struct {
	WorkerCount     int    `yaml:"worker_count"`
	MaxQueueSize    int    `yaml:"max_queue_size"`
	DefaultTimeout  string `yaml:"default_timeout"`
	DrainTimeout    string `yaml:"drain_timeout"`
	RetainCompleted int    `yaml:"retain_completed"`
}

// TimeoutConfig configures per-stage deadlines. Values are duration strings
// ("30s", "2m").
type TimeoutConfig struct {
	Verify      string `yaml:"verify"`
	Deploy      string `yaml:"deploy"`
	PerQuestion string `yaml:"per_question"`
}

// DrafterConfig configures the LLM-backed ontology drafter.
type DrafterConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Name:    "sundaygraph",
		Version: "0.1.0",
		Store: StoreConfig{
			DatabasePath: filepath.Join(".sundaygraph", "sundaygraph.db"),
		},
		Warehouse: WarehouseConfig{
			MaxConnections: 4,
		},
		Runner: RunnerConfig{
			WorkerCount:     2,
			MaxQueueSize:    100,
			DefaultTimeout:  "5m",
			DrainTimeout:    "30s",
			RetainCompleted: 200,
		},
		Timeouts: TimeoutConfig{
			Verify:      "30s",
			Deploy:      "2m",
			PerQuestion: "60s",
		},
		Drafter: DrafterConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from the given YAML file, applying defaults for unset
// fields and environment overrides for secrets. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyDefaults fills zero values left by a partial YAML file.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = def.Store.DatabasePath
	}
	if cfg.Warehouse.MaxConnections <= 0 {
		cfg.Warehouse.MaxConnections = def.Warehouse.MaxConnections
	}
	if cfg.Runner.WorkerCount <= 0 {
		cfg.Runner.WorkerCount = def.Runner.WorkerCount
	}
	if cfg.Runner.MaxQueueSize <= 0 {
		cfg.Runner.MaxQueueSize = def.Runner.MaxQueueSize
	}
	if cfg.Runner.DefaultTimeout == "" {
		cfg.Runner.DefaultTimeout = def.Runner.DefaultTimeout
	}
	if cfg.Runner.DrainTimeout == "" {
		cfg.Runner.DrainTimeout = def.Runner.DrainTimeout
	}
	if cfg.Runner.RetainCompleted <= 0 {
		cfg.Runner.RetainCompleted = def.Runner.RetainCompleted
	}
	if cfg.Timeouts.Verify == "" {
		cfg.Timeouts.Verify = def.Timeouts.Verify
	}
	if cfg.Timeouts.Deploy == "" {
		cfg.Timeouts.Deploy = def.Timeouts.Deploy
	}
	if cfg.Timeouts.PerQuestion == "" {
		cfg.Timeouts.PerQuestion = def.Timeouts.PerQuestion
	}
	if cfg.Drafter.Provider == "" {
		cfg.Drafter.Provider = def.Drafter.Provider
	}
	if cfg.Drafter.Model == "" {
		cfg.Drafter.Model = def.Drafter.Model
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides lets secrets come from the environment instead of disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUNDAYGRAPH_WAREHOUSE_API_KEY"); v != "" {
		cfg.Warehouse.APIKey = v
	}
	if v := os.Getenv("SUNDAYGRAPH_WAREHOUSE_ACCOUNT_URL"); v != "" {
		cfg.Warehouse.AccountURL = v
	}
	if v := os.Getenv("SUNDAYGRAPH_DRAFTER_API_KEY"); v != "" {
		cfg.Drafter.APIKey = v
	}
	if v := os.Getenv("SUNDAYGRAPH_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
}

// parseDuration falls back to the supplied default so a typo in config.yaml
// cannot take down the runner.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// VerifyTimeout returns the verify-stage deadline.
func (c *Config) VerifyTimeout() time.Duration {
	return parseDuration(c.Timeouts.Verify, 30*time.Second)
}

// DeployTimeout returns the deploy-stage deadline.
func (c *Config) DeployTimeout() time.Duration {
	return parseDuration(c.Timeouts.Deploy, 2*time.Minute)
}

// PerQuestionTimeout returns the per-question regression deadline.
func (c *Config) PerQuestionTimeout() time.Duration {
	return parseDuration(c.Timeouts.PerQuestion, 60*time.Second)
}

// RunnerDefaultTimeout returns the default task timeout.
func (c *Config) RunnerDefaultTimeout() time.Duration {
	return parseDuration(c.Runner.DefaultTimeout, 5*time.Minute)
}

// RunnerDrainTimeout returns the shutdown drain timeout.
func (c *Config) RunnerDrainTimeout() time.Duration {
	return parseDuration(c.Runner.DrainTimeout, 30*time.Second)
}
