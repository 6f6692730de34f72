// Package config loads replica configuration from a YAML file, with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level replica configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	LLM     LLMConfig     `yaml:"llm"`
	Assets  AssetsConfig  `yaml:"assets"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// BasicAuthUser/BasicAuthHash enable basic auth when both are set.
	// The hash is bcrypt.
	BasicAuthUser string `yaml:"basic_auth_user"`
	BasicAuthHash string `yaml:"basic_auth_hash"`
}

// BrowserConfig controls the headless Chrome lifecycle.
type BrowserConfig struct {
	Remote      string        `yaml:"remote"` // optional remote debugging URL
	NavTimeout  time.Duration `yaml:"nav_timeout"`
	Stealth     bool          `yaml:"stealth"`
	MaxElements int           `yaml:"max_elements"`
	MaxDepth    int           `yaml:"max_depth"`
}

// LLMConfig controls generation.
type LLMConfig struct {
	APIKey          string        `yaml:"api_key"` // GEMINI_API_KEY overrides
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	TokenCeiling    int           `yaml:"token_ceiling"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
}

// AssetsConfig controls asset localization.
type AssetsConfig struct {
	Dir     string        `yaml:"dir"`
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
	MaxSize int64         `yaml:"max_size"`
}

// StorageConfig locates the databases.
type StorageConfig struct {
	SessionsPath      string `yaml:"sessions_path"`
	ObservabilityPath string `yaml:"observability_path"` // empty disables event logging
}

// LoadFile reads a YAML configuration file and applies defaults. A missing
// path returns the defaults alone, so the binary runs with zero config.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Browser.MaxElements <= 0 {
		c.Browser.MaxElements = 1500
	}
	if c.Browser.MaxDepth <= 0 {
		c.Browser.MaxDepth = 6
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.5-flash"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.TokenCeiling <= 0 {
		c.LLM.TokenCeiling = 180_000
	}
	if c.LLM.MaxOutputTokens <= 0 {
		c.LLM.MaxOutputTokens = 16_384
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.RetryBase <= 0 {
		c.LLM.RetryBase = 500 * time.Millisecond
	}
	if c.LLM.RetryMaxDelay <= 0 {
		c.LLM.RetryMaxDelay = 8 * time.Second
	}
	if c.Assets.Dir == "" {
		c.Assets.Dir = "data/assets"
	}
	if c.Assets.Workers <= 0 {
		c.Assets.Workers = 4
	}
	if c.Assets.Timeout <= 0 {
		c.Assets.Timeout = 15 * time.Second
	}
	if c.Assets.MaxSize <= 0 {
		c.Assets.MaxSize = 10 << 20
	}
	if c.Storage.SessionsPath == "" {
		c.Storage.SessionsPath = "data/replica.db"
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("REPLICA_ADDR"); v != "" {
		c.Server.Addr = v
	}
}
