package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"defectintel/internal/logging"
	"defectintel/internal/types"

	"gopkg.in/yaml.v3"
)

// Config holds all defectintel configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Generative model
	LLM LLMConfig `yaml:"llm"`

	// Record source
	Store StoreConfig `yaml:"store"`

	// Document rendering
	Render RenderConfig `yaml:"render"`

	// HTTP surface
	Server ServerConfig `yaml:"server"`

	// Report pipeline
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generative model client.
type LLMConfig struct {
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	Temperature   float32 `yaml:"temperature"`
	Timeout       string  `yaml:"timeout"`
	MaxAttempts   int     `yaml:"max_attempts"`   // generation attempts per stage on invalid output
	MaxConcurrent int64   `yaml:"max_concurrent"` // in-flight model calls across requests
}

// StoreConfig configures the SQLite record source.
type StoreConfig struct {
	Driver        string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path          string `yaml:"path"`
	FindingsLimit int    `yaml:"findings_limit"`
	TraceModel    bool   `yaml:"trace_model"` // persist model traces
}

// RenderConfig configures the document renderer.
type RenderConfig struct {
	ReportsDir  string  `yaml:"reports_dir"`
	UnicodeFont string  `yaml:"unicode_font"` // TTF/OTF used for rasterized scripts
	FontSize    float64 `yaml:"font_size"`
	Compress    bool    `yaml:"compress"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxConnections int    `yaml:"max_connections"`
	RequestTimeout string `yaml:"request_timeout"`
	UploadsDir     string `yaml:"uploads_dir"` // root for imagePath in vision requests; empty disables paths
}

// PipelineConfig configures the report orchestrator.
type PipelineConfig struct {
	Predictions bool `yaml:"predictions"` // run the prediction stage for role reports
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "defectintel",
		Version: "1.0.0",

		LLM: LLMConfig{
			Model:         "gemini-2.5-flash",
			Temperature:   0.3,
			Timeout:       "120s",
			MaxAttempts:   2,
			MaxConcurrent: 4,
		},

		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          "data/defectintel.db",
			FindingsLimit: 20,
			TraceModel:    true,
		},

		Render: RenderConfig{
			ReportsDir: "reports",
			FontSize:   12,
			Compress:   true,
		},

		Server: ServerConfig{
			Addr:           ":3000",
			MaxConnections: 64,
			RequestTimeout: "5m",
			UploadsDir:     "uploads",
		},

		Pipeline: PipelineConfig{
			Predictions: false,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
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
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("DEFECTINTEL_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("DEFECTINTEL_REPORTS_DIR"); dir != "" {
		c.Render.ReportsDir = dir
	}
	if font := os.Getenv("DEFECTINTEL_FONT"); font != "" {
		c.Render.UnicodeFont = font
	}
	if dir := os.Getenv("DEFECTINTEL_UPLOADS_DIR"); dir != "" {
		c.Server.UploadsDir = dir
	}
	if addr := os.Getenv("DEFECTINTEL_ADDR"); addr != "" {
		c.Server.Addr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			c.Server.Addr = ":" + port
		}
	}
}

// GetLLMTimeout returns the model call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRequestTimeout returns the HTTP request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// LoggingOptions converts the logging section for the logging package.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		Categories: c.Logging.Categories,
	}
}

// ValidDrivers lists the supported SQLite drivers.
var ValidDrivers = []string{"sqlite", "sqlite3"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return &types.ConfigurationError{Setting: "llm.api_key", Msg: "GEMINI_API_KEY missing"}
	}
	return c.ValidateOffline()
}

// ValidateOffline validates everything except the model credential, for
// commands that never call the model.
func (c *Config) ValidateOffline() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return &types.ConfigurationError{
			Setting: "store.driver",
			Msg:     fmt.Sprintf("invalid driver %q (valid: %v)", c.Store.Driver, ValidDrivers),
		}
	}
	if c.LLM.MaxAttempts < 1 {
		return &types.ConfigurationError{Setting: "llm.max_attempts", Msg: "must be at least 1"}
	}
	if c.Store.FindingsLimit < 1 {
		return &types.ConfigurationError{Setting: "store.findings_limit", Msg: "must be at least 1"}
	}
	return nil
}
