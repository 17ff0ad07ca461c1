package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appName        = "agerus"
	configFileName = "config.toml"
	envPrefix      = "AGERUS"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path means the default
// location under the user config directory.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file and AGERUS_* environment overrides on top of
// the defaults. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every key known to viper so env overrides apply even
	// without a file.
	for key, value := range flatten("", settings(DefaultConfig())) {
		v.SetDefault(key, value)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePaths fills the directories derived from data_dir.
func resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		cfg.DataDir = filepath.Join(base, appName)
	}
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Tools.AuditLog == "" {
		cfg.Tools.AuditLog = filepath.Join(cfg.DataDir, "audit.log")
	}
	if cfg.Logging.File == "" && !cfg.Logging.Console {
		cfg.Logging.File = filepath.Join(cfg.DataDir, appName+".log")
	}
	return nil
}

// Save writes cfg as TOML, creating the directory.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.path()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	return DefaultPath()
}

// DefaultPath is <user config dir>/agerus/config.toml.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(base, appName, configFileName), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// settings renders cfg as the nested key tree written to disk. Durations are
// written as strings ("30s") so the file stays editable.
func settings(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"provider":       cfg.Provider,
		"model":          cfg.Model,
		"endpoint":       cfg.Endpoint,
		"api_key":        cfg.APIKey,
		"max_tokens":     cfg.MaxTokens,
		"system_prompt":  cfg.SystemPrompt,
		"workspace_path": cfg.WorkspacePath,
		"data_dir":       cfg.DataDir,
		"sessions_dir":   cfg.SessionsDir,
		"agent": map[string]interface{}{
			"max_turns":       cfg.Agent.MaxTurns,
			"reasoning_open":  cfg.Agent.ReasoningOpen,
			"reasoning_close": cfg.Agent.ReasoningClose,
			"request_timeout": cfg.Agent.RequestTimeout.String(),
		},
		"sandbox": map[string]interface{}{
			"mode":          cfg.Sandbox.Mode,
			"container":     cfg.Sandbox.Container,
			"image":         cfg.Sandbox.Image,
			"shell":         cfg.Sandbox.Shell,
			"mount_point":   cfg.Sandbox.MountPoint,
			"sentinel":      cfg.Sandbox.Sentinel,
			"network":       cfg.Sandbox.Network,
			"max_memory_mb": cfg.Sandbox.MaxMemoryMB,
		},
		"tools": map[string]interface{}{
			"shell_output_cap":   cfg.Tools.ShellOutputCap,
			"read_line_cap":      cfg.Tools.ReadLineCap,
			"fetch_byte_cap":     cfg.Tools.FetchByteCap,
			"docs_byte_cap":      cfg.Tools.DocsByteCap,
			"search_max_results": cfg.Tools.SearchMaxResults,
			"search_url":         cfg.Tools.SearchURL,
			"docs_url":           cfg.Tools.DocsURL,
			"user_agent":         cfg.Tools.UserAgent,
			"timeout":            cfg.Tools.Timeout.String(),
			"browser_fetch":      cfg.Tools.BrowserFetch,
			"browser_bin":        cfg.Tools.BrowserBin,
			"audit_log":          cfg.Tools.AuditLog,
		},
		"logging": map[string]interface{}{
			"level":       cfg.Logging.Level,
			"file":        cfg.Logging.File,
			"console":     cfg.Logging.Console,
			"pretty":      cfg.Logging.Pretty,
			"redaction":   cfg.Logging.Redaction,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
		},
		"events": map[string]interface{}{
			"enabled":       cfg.Events.Enabled,
			"addr":          cfg.Events.Addr,
			"shared_secret": cfg.Events.SharedSecret,
			"tick_interval": cfg.Events.TickInterval.String(),
		},
	}
}

func flatten(prefix string, tree map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}
