// Package agent – config.go handles loading configuration from YAML files
// with credential resolution via environment variables and .env files.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root Squid configuration.
type Config struct {
	// Name is a label for this agent instance, used in logs.
	Name string `yaml:"name"`

	API         APIConfig         `yaml:"api"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Database    DatabaseConfig    `yaml:"database"`
	WebUI       WebUIConfig       `yaml:"webui"`
	Retention   RetentionConfig   `yaml:"retention"`
}

// APIConfig selects the model provider endpoint.
type APIConfig struct {
	BaseURL string `yaml:"base_url"` // OpenAI-compatible endpoint, e.g. https://api.openai.com/v1
	Model   string `yaml:"model"`
	// APIKey is resolved at load time: keyring, then SQUID_API_KEY, then
	// this field. Prefer leaving it empty in the file.
	APIKey string `yaml:"api_key"`
}

// WorkspaceConfig bounds the agent's filesystem access.
type WorkspaceConfig struct {
	// Root is the directory tree the agent may touch. Defaults to the
	// current working directory.
	Root string `yaml:"root"`
}

// PermissionsConfig seeds the per-session permission store. Scopes are
// "tool" or "tool:qualifier" (e.g. "bash:git").
type PermissionsConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file, default ~/.squid/squid.db
}

type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// Token, when set, is required as a Bearer token on every request.
	Token string `yaml:"token"`
}

// RetentionConfig controls the scheduled history pruning job.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled"`
	// Days keeps messages and audit entries newer than this many days.
	Days int `yaml:"days"`
	// Schedule is a cron expression; default runs daily at 03:30.
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Name: "squid",
		API: APIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Workspace: WorkspaceConfig{Root: "."},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".squid", "squid.db"),
		},
		WebUI: WebUIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Days:     90,
			Schedule: "30 3 * * *",
		},
	}
}

// LoadConfigFromFile reads and parses a YAML configuration file.
// .env files are loaded first (without overwriting existing env vars) and
// ${VAR} references in the YAML are expanded before parsing.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, path)
	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config, starting from defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML with restricted permissions.
// The API key is replaced with an env reference so secrets never land on
// disk in plain text.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	if sanitized.API.APIKey != "" {
		sanitized.API.APIKey = "${SQUID_API_KEY}"
	}
	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// DefaultConfigPath returns ~/.squid/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".squid", "config.yaml")
}

// loadEnvFiles loads .env from the config directory and the current
// directory. godotenv.Load does NOT overwrite existing env vars.
func loadEnvFiles(configDir string) {
	for _, f := range []string{filepath.Join(configDir, ".env"), ".env"} {
		_ = godotenv.Load(f)
	}
}

// resolveRelativePaths anchors relative file paths to the config location so
// running squid from another directory still finds the same database.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	if cfg.Database.Path != "" && !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(base, cfg.Database.Path)
	}
	if cfg.Workspace.Root != "" && cfg.Workspace.Root != "." && !filepath.IsAbs(cfg.Workspace.Root) {
		cfg.Workspace.Root = filepath.Join(base, cfg.Workspace.Root)
	}
	if strings.HasPrefix(cfg.Workspace.Root, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Workspace.Root = filepath.Join(home, cfg.Workspace.Root[2:])
		}
	}
}
