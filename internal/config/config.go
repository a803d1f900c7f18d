// Package config loads agentdeck configuration from layered sources: global
// config, project config, an explicit AGENTDECK_CONFIG file and environment
// variables, later sources overriding earlier ones.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the full agentdeck configuration.
type Config struct {
	// Port the HTTP API listens on.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// Directory is the workspace root served to the UI and handed to the
	// engine as its working directory.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	// EngineURL is the base URL of the agent engine.
	EngineURL string `json:"engineURL,omitempty" yaml:"engineURL,omitempty"`
	// Model is the default model id for turns that name none.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Effort is the default reasoning effort.
	Effort string `json:"effort,omitempty" yaml:"effort,omitempty"`
	// AttachDir is where uploaded attachments are stored.
	AttachDir string `json:"attachDir,omitempty" yaml:"attachDir,omitempty"`
	// Ignore is the workspace ignore pattern list (doublestar globs).
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	// ShellTimeout bounds terminal commands, in seconds.
	ShellTimeout int `json:"shellTimeout,omitempty" yaml:"shellTimeout,omitempty"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	// LogPretty enables human-readable console logging.
	LogPretty bool `json:"logPretty,omitempty" yaml:"logPretty,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         8080,
		EngineURL:    "http://127.0.0.1:4096",
		ShellTimeout: 30,
		LogLevel:     "info",
	}
}

// ShellTimeoutDuration returns the shell timeout as a duration.
func (c *Config) ShellTimeoutDuration() time.Duration {
	return time.Duration(c.ShellTimeout) * time.Second
}

// Load builds the configuration for a workspace directory. Priority order:
//
//  1. built-in defaults
//  2. global config (~/.config/agentdeck/agentdeck.{json,jsonc,yaml})
//  3. project config (agentdeck.{json,jsonc,yaml}, .agentdeck/ variants)
//  4. AGENTDECK_CONFIG file
//  5. environment variables
func Load(directory string) (*Config, error) {
	cfg := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			return
		}
		if loadFile(path, cfg) == nil {
			loaded[abs] = true
		}
	}

	global := GetPaths().Config
	for _, name := range configNames {
		loadOnce(filepath.Join(global, name))
	}

	if directory != "" {
		for _, name := range configNames {
			loadOnce(filepath.Join(directory, name))
			loadOnce(filepath.Join(directory, ".agentdeck", name))
		}
	}

	if path := os.Getenv("AGENTDECK_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Directory == "" {
		cfg.Directory = directory
	}
	if cfg.AttachDir == "" {
		cfg.AttachDir = filepath.Join(GetPaths().Data, "attachments")
	}
	return cfg, nil
}

var configNames = []string{
	"agentdeck.json",
	"agentdeck.jsonc",
	"agentdeck.yaml",
	"agentdeck.yml",
}

// loadFile merges one config file into cfg. JSON/JSONC files support
// {env:VAR} interpolation; YAML files are taken literally.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	default:
		data = jsonc.ToJSON(data)
		data = interpolateEnv(data)
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("invalid JSON in %s: %w", path, err)
		}
	}

	merge(cfg, &file)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolateEnv expands {env:VAR} placeholders.
func interpolateEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *Config) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Directory != "" {
		dst.Directory = src.Directory
	}
	if src.EngineURL != "" {
		dst.EngineURL = src.EngineURL
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Effort != "" {
		dst.Effort = src.Effort
	}
	if src.AttachDir != "" {
		dst.AttachDir = src.AttachDir
	}
	if len(src.Ignore) > 0 {
		dst.Ignore = append([]string(nil), src.Ignore...)
	}
	if src.ShellTimeout != 0 {
		dst.ShellTimeout = src.ShellTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogPretty {
		dst.LogPretty = true
	}
}

// applyEnvOverrides applies AGENTDECK_* environment variables, the highest
// priority source.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTDECK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("AGENTDECK_ENGINE_URL"); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv("AGENTDECK_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENTDECK_EFFORT"); v != "" {
		cfg.Effort = v
	}
	if v := os.Getenv("AGENTDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes the configuration as indented JSON, creating the directory if
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
