package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Source   SourceConfig   `json:"source" yaml:"source"`
	Cropper  CropperConfig  `json:"cropper" yaml:"cropper"`
	Fallback FallbackConfig `json:"fallback" yaml:"fallback"`
	Output   OutputConfig   `json:"output" yaml:"output"`
}

// SourceConfig holds configuration for the source-image folder
type SourceConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// CropperConfig holds configuration for the smart-crop engine
type CropperConfig struct {
	CascadePath string `json:"cascade_path" yaml:"cascade_path"`
	OllamaURL   string `json:"ollama_url" yaml:"ollama_url"`
	VisionModel string `json:"vision_model" yaml:"vision_model"`
}

// FallbackConfig holds configuration for fallback-image generation
type FallbackConfig struct {
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Quality string `json:"quality" yaml:"quality"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Dir: "./images",
		},
		Cropper: CropperConfig{
			CascadePath: "haarcascade_frontalface_default.xml",
			OllamaURL:   "http://localhost:11434",
			VisionModel: "",
		},
		Fallback: FallbackConfig{
			CacheDir: "./cache",
		},
		Output: OutputConfig{
			Dir:     "./output",
			Quality: "high",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Source.Dir == "" {
		return fmt.Errorf("source.dir cannot be empty")
	}

	if c.Cropper.CascadePath == "" {
		return fmt.Errorf("cropper.cascade_path cannot be empty")
	}

	if c.Fallback.CacheDir == "" {
		return fmt.Errorf("fallback.cache_dir cannot be empty")
	}

	switch c.Output.Quality {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("output.quality must be one of high, medium, low")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "placekitten", "config.json")
}
